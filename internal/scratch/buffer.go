// Package scratch manages the per-worker byte sink that holds raw discovery
// tool output between a run and the archive record built from it.
package scratch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ErrReleased is returned when a released buffer is used again.
var ErrReleased = errors.New("scratch buffer released")

// Buffer is a random-access, reusable temporary file. It is owned by a single
// worker and is not safe for concurrent use.
type Buffer struct {
	fs       afero.Fs
	dir      string
	prefix   string
	file     afero.File
	path     string
	released bool
}

// New returns a Buffer that creates its backing file lazily in dir on fs.
// An empty dir uses the OS temp directory.
func New(fs afero.Fs, dir, prefix string) *Buffer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if prefix == "" {
		prefix = "ydl-json-"
	}
	return &Buffer{fs: fs, dir: dir, prefix: prefix}
}

// Reset truncates the buffer to empty and positions it at offset 0, reopening
// the backing file if it was closed since the last run.
func (b *Buffer) Reset() error {
	if b.released {
		return ErrReleased
	}
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if err := b.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate scratch: %w", err)
	}
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind scratch: %w", err)
	}
	return nil
}

// Write appends p at the current position.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	n, err := b.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("write scratch: %w", err)
	}
	return n, nil
}

// Size returns the number of bytes currently held.
func (b *Buffer) Size() (int64, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	info, err := b.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat scratch: %w", err)
	}
	return info.Size(), nil
}

// Payload rewinds the buffer and returns it as a stream positioned at offset
// 0. Closing the stream closes the backing file; the next Reset reopens it.
func (b *Buffer) Payload() (io.ReadCloser, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind scratch: %w", err)
	}
	return b.file, nil
}

// Close closes the backing file without releasing the buffer.
func (b *Buffer) Close() error {
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	if err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, afero.ErrFileClosed) {
		return fmt.Errorf("close scratch: %w", err)
	}
	return nil
}

// Open reports whether the backing file is currently usable.
func (b *Buffer) Open() bool {
	return b.usable()
}

// Release closes the backing file and removes it. The buffer can be reused
// after Release; a later Reset creates a fresh file.
func (b *Buffer) Release() error {
	closeErr := b.Close()
	if b.path != "" {
		if err := b.fs.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove scratch: %w", err)
		}
		b.path = ""
	}
	return closeErr
}

// Destroy releases the buffer for good.
func (b *Buffer) Destroy() error {
	err := b.Release()
	b.released = true
	return err
}

func (b *Buffer) usable() bool {
	if b.file == nil {
		return false
	}
	_, err := b.file.Seek(0, io.SeekCurrent)
	return err == nil
}

func (b *Buffer) ensureOpen() error {
	if b.released {
		return ErrReleased
	}
	if b.usable() {
		return nil
	}
	if b.path != "" {
		f, err := b.fs.OpenFile(b.path, os.O_RDWR|os.O_CREATE, 0o600)
		if err != nil {
			return fmt.Errorf("reopen scratch: %w", err)
		}
		b.file = f
		return nil
	}
	if err := b.fs.MkdirAll(b.dir, 0o700); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	f, err := afero.TempFile(b.fs, b.dir, b.prefix+"*.json")
	if err != nil {
		return fmt.Errorf("create scratch: %w", err)
	}
	b.file = f
	b.path = filepath.Clean(f.Name())
	return nil
}
