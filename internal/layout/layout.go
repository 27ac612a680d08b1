// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package layout maps the per-shard files shared between workers:
//
//	data<N>     many-to-one ring buffer of frames read by shard N
//	budgets<N>  budget entries credited by shard N
//	buffers<N>  buffer pool slots owned by shard N
//
// Each file starts with a 64-byte header followed by the body:
//
//	 0 magic    [8]byte "ENGLYT\x00\x00"
//	 8 version  u32
//	12 kind     u32
//	16 length   u64, body length
//	24 param1   u64, kind specific
//	32 param2   u64, kind specific
package layout

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Kind identifies the content of a layout file.
type Kind uint32

const (
	KindStreams Kind = 1 + iota
	KindBudgets
	KindBuffers
)

func (k Kind) String() string {
	switch k {
	case KindStreams:
		return "streams"
	case KindBudgets:
		return "budgets"
	case KindBuffers:
		return "buffers"
	}
	return fmt.Sprintf("Kind(%d)", uint32(k))
}

const (
	// HeaderSize is the length of the layout header preceding the body.
	HeaderSize = 64
	// Version of the layout header format.
	Version = 1
)

var magic = [8]byte{'E', 'N', 'G', 'L', 'Y', 'T', 0, 0}

var (
	ErrMagic   = errors.New("layout: bad magic")
	ErrVersion = errors.New("layout: unsupported version")
	ErrKind    = errors.New("layout: unexpected kind")
	ErrLength  = errors.New("layout: file shorter than header")
)

// Mapping is one memory-mapped layout file.
type Mapping struct {
	path string
	file *os.File
	mem  []byte
}

// Path returns the mapped file path.
func (m *Mapping) Path() string { return m.path }

// Body returns the mapped region after the header.
func (m *Mapping) Body() []byte { return m.mem[HeaderSize:] }

// Kind returns the kind recorded in the header.
func (m *Mapping) Kind() Kind { return Kind(binary.LittleEndian.Uint32(m.mem[12:])) }

// Params returns the kind specific header parameters.
func (m *Mapping) Params() (uint64, uint64) {
	return binary.LittleEndian.Uint64(m.mem[24:]), binary.LittleEndian.Uint64(m.mem[32:])
}

// Close unmaps the region and closes the file. The file itself is kept
// so that other mappings remain valid until they close.
func (m *Mapping) Close() error {
	if m.mem == nil {
		return nil
	}
	err := unmap(m.mem)
	m.mem = nil
	return errors.Join(err, m.file.Close())
}

// Create makes a new layout file at path with a zeroed body of length bytes,
// replacing any stale file left by a previous run.
func Create(path string, kind Kind, length int, param1, param2 uint64) (*Mapping, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("layout: create directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("layout: remove stale %s: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("layout: create %s: %w", path, err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}
	size := HeaderSize + length
	if err := file.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, fmt.Errorf("layout: resize %s: %w", path, err)
	}
	mem, err := mapFile(file, size)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("layout: map %s: %w", path, err)
	}

	copy(mem[0:8], magic[:])
	binary.LittleEndian.PutUint32(mem[8:], Version)
	binary.LittleEndian.PutUint32(mem[12:], uint32(kind))
	binary.LittleEndian.PutUint64(mem[16:], uint64(length))
	binary.LittleEndian.PutUint64(mem[24:], param1)
	binary.LittleEndian.PutUint64(mem[32:], param2)

	return &Mapping{path: path, file: file, mem: mem}, nil
}

// Open maps an existing layout file and checks that it holds kind.
func Open(path string, kind Kind) (*Mapping, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("layout: open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("layout: stat %s: %w", path, err)
	}
	if info.Size() < HeaderSize {
		file.Close()
		return nil, fmt.Errorf("%w: %s", ErrLength, path)
	}
	mem, err := mapFile(file, int(info.Size()))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("layout: map %s: %w", path, err)
	}
	m := &Mapping{path: path, file: file, mem: mem}
	if err := m.validate(kind); err != nil {
		m.Close()
		return nil, fmt.Errorf("%w: %s", err, path)
	}
	return m, nil
}

func (m *Mapping) validate(kind Kind) error {
	if [8]byte(m.mem[0:8]) != magic {
		return ErrMagic
	}
	if v := binary.LittleEndian.Uint32(m.mem[8:]); v != Version {
		return fmt.Errorf("%w: %d", ErrVersion, v)
	}
	if k := m.Kind(); k != kind {
		return fmt.Errorf("%w: %v, want %v", ErrKind, k, kind)
	}
	return nil
}

// StreamsPath returns the path of the frame ring read by shard index.
func StreamsPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("data%d", index))
}

// BudgetsPath returns the path of the budgets credited by shard index.
func BudgetsPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("budgets%d", index))
}

// BuffersPath returns the path of the buffer pool owned by shard index.
func BuffersPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("buffers%d", index))
}
