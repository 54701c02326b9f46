// Package bufpool provides a tiered pool of I/O buffers.
//
// Three size classes cover the data paths of the device:
//   - Granule buffers (4 KiB): one position unit, as staged per key by the
//     key-value volumes
//   - Medium buffers (64 KiB): stripe-sized runs and small transfers
//   - Transfer buffers (2 MiB): a full max-sized request payload
//
// Requests larger than the transfer class are allocated directly and never
// pooled.
//
// Usage:
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sync"
)

// Default size classes.
const (
	DefaultGranuleSize  = 4 << 10
	DefaultMediumSize   = 64 << 10
	DefaultTransferSize = 2 << 20
)

// Pool manages one sync.Pool per size class.
type Pool struct {
	classes [3]class
}

type class struct {
	size int
	pool sync.Pool
}

// Config holds the size classes of a custom pool. Zero fields take the
// defaults.
type Config struct {
	GranuleSize  int
	MediumSize   int
	TransferSize int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		GranuleSize:  DefaultGranuleSize,
		MediumSize:   DefaultMediumSize,
		TransferSize: DefaultTransferSize,
	}
}

// NewPool creates a buffer pool. A nil cfg uses DefaultConfig.
func NewPool(cfg *Config) *Pool {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.GranuleSize > 0 {
			c.GranuleSize = cfg.GranuleSize
		}
		if cfg.MediumSize > 0 {
			c.MediumSize = cfg.MediumSize
		}
		if cfg.TransferSize > 0 {
			c.TransferSize = cfg.TransferSize
		}
	}

	p := &Pool{}
	for i, size := range []int{c.GranuleSize, c.MediumSize, c.TransferSize} {
		p.classes[i].size = size
		p.classes[i].pool.New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return p
}

// Get returns a slice of length size backed by the smallest class that fits.
// The caller must Put it back when done.
func (p *Pool) Get(size int) []byte {
	for i := range p.classes {
		c := &p.classes[i]
		if size <= c.size {
			buf := *c.pool.Get().(*[]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to its class. Buffers whose capacity matches no class are
// left to the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	for i := range p.classes {
		c := &p.classes[i]
		if cap(buf) == c.size {
			full := buf[:c.size]
			c.pool.Put(&full)
			return
		}
	}
}

// Sizes returns the class sizes in ascending order.
func (p *Pool) Sizes() []int {
	return []int{p.classes[0].size, p.classes[1].size, p.classes[2].size}
}

var globalPool = NewPool(nil)

// Get returns a buffer of length size from the global pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}

// GetGranule returns a DefaultGranuleSize buffer from the global pool.
func GetGranule() []byte {
	return globalPool.Get(DefaultGranuleSize)
}
