package bridge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultEventFile is the shared file the detector writes.
const DefaultEventFile = "live_event.json"

// FileFetcher reads the record from a shared JSON file.
type FileFetcher struct {
	Path string
}

// NewFileFetcher returns a FileFetcher, using DefaultEventFile when path is empty.
func NewFileFetcher(path string) *FileFetcher {
	if path == "" {
		path = DefaultEventFile
	}
	return &FileFetcher{Path: path}
}

// Fetch reads the record. Anything other than a regular file (a FIFO, a
// device, a directory) is reported as unavailable, since opening it can block.
func (f *FileFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fi, err := os.Stat(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, f.Path)
		}
		return nil, fmt.Errorf("stat event file: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file (%s)", ErrSourceUnavailable, f.Path, fi.Mode().Type())
	}
	file, err := os.Open(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, f.Path)
		}
		return nil, fmt.Errorf("open event file: %w", err)
	}
	defer file.Close()
	return readCapped(file)
}

// WriteEventFile atomically replaces the record at path.
func WriteEventFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".event-*.json")
	if err != nil {
		return fmt.Errorf("create temp event file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write event file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close event file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
