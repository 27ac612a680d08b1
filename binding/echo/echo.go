// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package echo implements the "echo" binding: every initial stream
// routed to it is answered by a reply carrying the same frames.
//
// Flow control is mirrored. A Window received on the reply is forwarded
// as a Window on the initial stream, so the client never sends more than
// it is willing to receive back. End and Abort on the initial stream end
// the reply the same way, and a Reset of the reply resets the initial
// stream.
//
// Binding options:
//
//	buffered: true    stage each payload in a buffer pool slot held by the stream
//	timeout:  "30s"   abort streams idle for longer than the timeout
package echo

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"code.hybscloud.com/engine"
	"code.hybscloud.com/engine/namespace"
)

// Name is the binding type name used in namespace configs.
const Name = "echo"

// ErrKind is returned when attaching a binding of a kind other than "server".
var ErrKind = errors.New("echo: unsupported binding kind")

// Binding is the echo binding type.
type Binding struct{}

// New returns the echo binding type for engine.WithBinding.
func New() *Binding { return &Binding{} }

func (*Binding) Name() string { return Name }

func (*Binding) Supply(ctx engine.Context) engine.BindingContext {
	return &bindingContext{
		ctx:      ctx,
		logger:   ctx.Logger().With("binding", Name),
		handlers: make(map[uint64]*handler),
	}
}

type bindingContext struct {
	ctx      engine.Context
	logger   *slog.Logger
	handlers map[uint64]*handler
}

func (c *bindingContext) Attach(config *namespace.BindingConfig) (engine.BindingHandler, error) {
	if config.Kind != "server" {
		return nil, fmt.Errorf("%w: %s %q", ErrKind, config.Name, config.Kind)
	}
	opts, err := parseOptions(config.Options)
	if err != nil {
		return nil, fmt.Errorf("echo: %s: %w", config.Name, err)
	}
	h := &handler{
		ctx:     c.ctx,
		config:  config,
		options: opts,
		logger:  c.logger.With("name", config.Name),
	}
	c.handlers[config.ID] = h
	h.logger.Debug("attached", "buffered", opts.buffered, "timeout", opts.timeout)
	return h, nil
}

func (c *bindingContext) Detach(bindingID uint64) {
	if h := c.handlers[bindingID]; h != nil {
		h.logger.Debug("detached", "streams", h.streams)
		delete(c.handlers, bindingID)
	}
}

type options struct {
	buffered bool
	timeout  time.Duration
}

func parseOptions(raw map[string]any) (options, error) {
	var opts options
	if v, ok := raw["buffered"]; ok {
		b, ok := v.(bool)
		if !ok {
			return opts, fmt.Errorf("buffered: want bool, got %T", v)
		}
		opts.buffered = b
	}
	if v, ok := raw["timeout"]; ok {
		s, ok := v.(string)
		if !ok {
			return opts, fmt.Errorf("timeout: want duration string, got %T", v)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return opts, fmt.Errorf("timeout: %w", err)
		}
		if d <= 0 {
			return opts, fmt.Errorf("timeout: must be positive, got %s", d)
		}
		opts.timeout = d
	}
	return opts, nil
}
