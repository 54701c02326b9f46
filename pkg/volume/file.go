package volume

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// File is a volume backed by a regular file or a raw block device.
type File struct {
	mu     sync.RWMutex
	f      *os.File
	fd     int
	path   string
	size   int64
	closed bool
}

var _ Volume = (*File)(nil)

// OpenFile opens path read-write, creating it if missing. If size is
// positive and the file is shorter, it is extended. With direct set the
// file is opened with O_DIRECT where the platform has it; callers must then
// pass page-aligned buffers.
func OpenFile(path string, size int64, direct bool) (*File, error) {
	flags := os.O_RDWR | os.O_CREATE
	if direct {
		flags |= directFlag
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("open volume %s: %w", path, err)
	}

	if size > 0 {
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("stat volume %s: %w", path, err)
		}
		if info.Mode().IsRegular() && info.Size() < size {
			if err := f.Truncate(size); err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("extend volume %s: %w", path, err)
			}
		}
	}

	return &File{f: f, fd: int(f.Fd()), path: path, size: size}, nil
}

func (v *File) ReadAt(_ context.Context, p []byte, off int64) error {
	if err := v.check(p, off); err != nil {
		return err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return ErrClosed
	}

	for done := 0; done < len(p); {
		n, err := unix.Pread(v.fd, p[done:], off+int64(done))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("pread %s at %d: %w", v.path, off+int64(done), err)
		}
		if n == 0 {
			// Past end of file: the rest reads as zeros.
			clear(p[done:])
			return nil
		}
		done += n
	}
	return nil
}

func (v *File) WriteAt(_ context.Context, p []byte, off int64) error {
	if err := v.check(p, off); err != nil {
		return err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return ErrClosed
	}

	for done := 0; done < len(p); {
		n, err := unix.Pwrite(v.fd, p[done:], off+int64(done))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("pwrite %s at %d: %w", v.path, off+int64(done), err)
		}
		done += n
	}
	return nil
}

func (v *File) check(p []byte, off int64) error {
	if off < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrOutOfRange, off)
	}
	if v.size > 0 && off+int64(len(p)) > v.size {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfRange, off, off+int64(len(p)), v.size)
	}
	return nil
}

func (v *File) Sync(context.Context) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return ErrClosed
	}
	if err := fdatasync(v.fd); err != nil {
		return fmt.Errorf("sync %s: %w", v.path, err)
	}
	return nil
}

func (v *File) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	return v.f.Close()
}

func (v *File) String() string { return "file:" + v.path }
