// Package staging provides the page-aligned buffer region shared between the
// transport and the worker.
//
// Buffer handles carried in descriptors are byte offsets into this region.
// The transport copies request payloads into and out of it; the worker reads
// and writes backing volumes through it. A region is either an anonymous
// mapping (worker in the same process) or a MAP_SHARED file mapping that a
// worker in another process maps at the same path.
package staging

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultSize is the default region size, equal to the default max transfer.
const DefaultSize = 2 << 20

// ErrOutOfRange is returned when a handle and length do not fit the region.
var ErrOutOfRange = errors.New("staging: buffer handle out of range")

// Region is a memory-mapped staging area.
type Region struct {
	mu     sync.Mutex
	data   []byte
	file   *os.File
	path   string
	closed bool
}

// New maps an anonymous, page-aligned region of size bytes.
func New(size int) (*Region, error) {
	size, err := pageRound(size)
	if err != nil {
		return nil, err
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("staging: mmap anonymous: %w", err)
	}
	return &Region{data: data}, nil
}

// Open maps the file at path as a shared region of size bytes, creating and
// extending the file as needed. Two processes opening the same path see the
// same bytes.
func Open(path string, size int) (*Region, error) {
	size, err := pageRound(size)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("staging: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("staging: stat %s: %w", path, err)
	}
	if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("staging: truncate %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("staging: mmap %s: %w", path, err)
	}
	return &Region{data: data, file: f, path: path}, nil
}

func pageRound(size int) (int, error) {
	if size == 0 {
		size = DefaultSize
	}
	if size < 0 {
		return 0, fmt.Errorf("staging: invalid size %d", size)
	}
	page := unix.Getpagesize()
	return (size + page - 1) / page * page, nil
}

// Bytes returns the whole mapped region.
func (r *Region) Bytes() []byte { return r.data }

// Size returns the mapped size in bytes.
func (r *Region) Size() int { return len(r.data) }

// Path returns the backing file path, or "" for an anonymous region.
func (r *Region) Path() string { return r.path }

// Slice returns the window [handle, handle+length) of the region.
func (r *Region) Slice(handle uint64, length uint32) ([]byte, error) {
	return Window(r.data, handle, length)
}

// Window bounds-checks [handle, handle+length) against buf and returns it.
func Window(buf []byte, handle uint64, length uint32) ([]byte, error) {
	end := handle + uint64(length)
	if end < handle || end > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfRange, handle, end, len(buf))
	}
	return buf[handle:end], nil
}

// Close unmaps the region and closes the backing file, if any.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if err := unix.Munmap(r.data); err != nil {
		errs = append(errs, fmt.Errorf("staging: munmap: %w", err))
	}
	r.data = nil
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
