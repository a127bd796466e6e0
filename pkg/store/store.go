// Package store provides the byte-addressable non-volatile memory that holds
// sensor calibration across power cycles.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrOutOfBounds is returned for accesses beyond the end of the store.
	ErrOutOfBounds = errors.New("store: address out of bounds")
	// ErrSize is returned when opening a store with a non-positive size.
	ErrSize = errors.New("store: size must be positive")
)

// NVS is an EEPROM-like store: writes are staged and become durable on Commit.
type NVS interface {
	Read(addr, n int) ([]byte, error)
	Write(addr int, data []byte) error
	Commit() error
}

// Ensure implementations satisfy NVS.
var (
	_ NVS = (*Memory)(nil)
	_ NVS = (*File)(nil)
)

// Memory is a volatile NVS used in tests and with the simulated device.
type Memory struct {
	mu      sync.Mutex
	data    []byte
	commits int
}

// NewMemory creates an erased (0xFF-filled) store of size bytes. A negative
// size yields an empty store on which every access is out of bounds.
func NewMemory(size int) *Memory {
	return &Memory{data: erased(max(size, 0))}
}

// Read returns a copy of n bytes starting at addr.
func (m *Memory) Read(addr, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return readAt(m.data, addr, n)
}

// Write stages data at addr.
func (m *Memory) Write(addr int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return writeAt(m.data, addr, data)
}

// Commit counts the commit; memory contents are already live.
func (m *Memory) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	return nil
}

// Commits returns how many times Commit was called.
func (m *Memory) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// File is an NVS backed by a fixed-size image file. Writes go to an in-memory
// copy; Commit replaces the file atomically.
type File struct {
	mu    sync.Mutex
	path  string
	data  []byte
	dirty bool
}

// OpenFile opens (or creates on first commit) an image of size bytes at path.
// An existing image shorter than size is padded with erased bytes.
func OpenFile(path string, size int) (*File, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrSize, size)
	}
	data := erased(size)

	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		copy(data, existing)
	case os.IsNotExist(err):
		// Fresh image, nothing persisted yet
	default:
		return nil, fmt.Errorf("failed to read store image %s: %w", path, err)
	}

	return &File{path: path, data: data}, nil
}

// Read returns a copy of n bytes starting at addr.
func (f *File) Read(addr, n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return readAt(f.data, addr, n)
}

// Write stages data at addr.
func (f *File) Write(addr int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := writeAt(f.data, addr, data); err != nil {
		return err
	}
	f.dirty = true
	return nil
}

// Commit flushes staged writes to disk.
func (f *File) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.dirty {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".nvs-*")
	if err != nil {
		return fmt.Errorf("failed to create store temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(f.data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync store image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close store image: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace store image %s: %w", f.path, err)
	}

	f.dirty = false
	return nil
}

func erased(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return data
}

func readAt(data []byte, addr, n int) ([]byte, error) {
	if addr < 0 || n < 0 || addr+n > len(data) {
		return nil, fmt.Errorf("%w: read %d bytes at %d (size %d)", ErrOutOfBounds, n, addr, len(data))
	}
	out := make([]byte, n)
	copy(out, data[addr:addr+n])
	return out, nil
}

func writeAt(data []byte, addr int, b []byte) error {
	if addr < 0 || addr+len(b) > len(data) {
		return fmt.Errorf("%w: write %d bytes at %d (size %d)", ErrOutOfBounds, len(b), addr, len(data))
	}
	copy(data[addr:], b)
	return nil
}
