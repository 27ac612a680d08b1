// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrResourcesNotReleased is wrapped by *LeakError when a worker closes
	// with buffers, credits or debits still acquired.
	ErrResourcesNotReleased = errors.New("engine: some resources not released")
	// ErrStreamsBufferFull is raised when a frame cannot be written to a
	// target ring.
	ErrStreamsBufferFull = errors.New("engine: unable to write to streams buffer")
	// ErrUnknownType is returned when a namespace references a component
	// type with no registered extension.
	ErrUnknownType = errors.New("engine: unknown component type")
	// ErrUnknownNamespace is returned when detaching a namespace that is
	// not attached.
	ErrUnknownNamespace = errors.New("engine: unknown namespace")
	// ErrAffinity is returned when a binding resolves to an empty affinity mask.
	ErrAffinity = errors.New("engine: affinity mask must specify at least one bit")
	// ErrClosed is returned by operations on a closed worker or engine.
	ErrClosed = errors.New("engine: closed")
)

// LeakError reports resources still acquired when a worker closed.
type LeakError struct {
	Worker    string
	Buffers   int
	Creditors int
	Debitors  int
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("engine: %s: some resources not released: %d buffers, %d creditors, %d debitors",
		e.Worker, e.Buffers, e.Creditors, e.Debitors)
}

// Unwrap returns ErrResourcesNotReleased.
func (e *LeakError) Unwrap() error {
	return ErrResourcesNotReleased
}
