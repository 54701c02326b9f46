package volume

import (
	"context"
	"fmt"
	"sync"
)

// Memory is a sparse in-memory volume. Granules are allocated on first
// write.
type Memory struct {
	mu       sync.RWMutex
	granules map[int64][]byte
	size     int64
	closed   bool
}

var _ Volume = (*Memory)(nil)

// NewMemory returns an empty memory volume bounded by size bytes (0 for
// unbounded).
func NewMemory(size int64) *Memory {
	return &Memory{granules: make(map[int64][]byte), size: size}
}

func (m *Memory) ReadAt(_ context.Context, p []byte, off int64) error {
	first, n, err := checkGranule(p, off, m.size)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for i := 0; i < n; i++ {
		dst := p[i*GranuleSize : (i+1)*GranuleSize]
		if g, ok := m.granules[first+int64(i)]; ok {
			copy(dst, g)
		} else {
			clear(dst)
		}
	}
	return nil
}

func (m *Memory) WriteAt(_ context.Context, p []byte, off int64) error {
	first, n, err := checkGranule(p, off, m.size)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for i := 0; i < n; i++ {
		g, ok := m.granules[first+int64(i)]
		if !ok {
			g = make([]byte, GranuleSize)
			m.granules[first+int64(i)] = g
		}
		copy(g, p[i*GranuleSize:(i+1)*GranuleSize])
	}
	return nil
}

func (m *Memory) Sync(context.Context) error { return nil }

// Allocated returns the number of granules written so far.
func (m *Memory) Allocated() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.granules)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.granules = nil
	return nil
}

func (m *Memory) String() string {
	return fmt.Sprintf("memory(%p)", m)
}
