// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command engined runs an engine with the echo binding and the stream
// metric group, attaching the namespaces declared in a YAML file.
//
//	engined -config engine.yaml -namespaces namespaces.yaml
//
// SIGINT or SIGTERM closes the engine. With syntheticAbort set, a
// resource leak found on close makes the process exit with status 1.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"code.hybscloud.com/engine"
	"code.hybscloud.com/engine/binding/echo"
	"code.hybscloud.com/engine/metric/stream"
	"code.hybscloud.com/engine/namespace"
)

func main() {
	configPath := flag.String("config", "", "engine settings (YAML)")
	namespacesPath := flag.String("namespaces", "", "namespaces to attach (YAML)")
	flag.Parse()

	if err := run(*configPath, *namespacesPath); err != nil {
		slog.Error("engined failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, namespacesPath string) error {
	cfg := engine.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = engine.LoadConfig(configPath); err != nil {
			return err
		}
	}
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var namespaces []*namespace.Config
	if namespacesPath != "" {
		if namespaces, err = namespace.Load(namespacesPath); err != nil {
			return err
		}
	}

	e, err := engine.New(cfg,
		engine.WithLogger(logger),
		engine.WithBinding(echo.New()),
		engine.WithMetricGroup(stream.New()),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		return errors.Join(err, e.Close())
	}
	for _, ns := range namespaces {
		if err := e.Attach(ctx, ns); err != nil {
			return errors.Join(err, e.Close())
		}
	}
	logger.Info("engined running", "engine", e.ID().String(), "workers", cfg.Workers, "namespaces", len(namespaces))

	<-ctx.Done()
	logger.Info("engined stopping")
	var leak *engine.LeakError
	err = e.Close()
	if errors.As(err, &leak) {
		logger.Error("resources leaked", "worker", leak.Worker)
	}
	return err
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("engined: log level %q: %w", s, err)
	}
	return level, nil
}
