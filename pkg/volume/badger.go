package volume

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittoblk/pkg/bufpool"
)

// Badger stores granules as values in a badger database keyed by granule
// index. Missing keys read as zeros.
type Badger struct {
	db   *badger.DB
	path string
	size int64
}

var _ Volume = (*Badger)(nil)

// OpenBadger opens (or creates) a badger-backed volume in dir. An empty
// dir opens an in-memory database.
func OpenBadger(dir string, size int64) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger volume %s: %w", dir, err)
	}
	return &Badger{db: db, path: dir, size: size}, nil
}

func granuleKey(idx int64) []byte {
	key := make([]byte, 9)
	key[0] = 'g'
	binary.BigEndian.PutUint64(key[1:], uint64(idx))
	return key
}

func (v *Badger) ReadAt(_ context.Context, p []byte, off int64) error {
	first, n, err := checkGranule(p, off, v.size)
	if err != nil {
		return err
	}

	err = v.db.View(func(txn *badger.Txn) error {
		for i := 0; i < n; i++ {
			dst := p[i*GranuleSize : (i+1)*GranuleSize]
			item, err := txn.Get(granuleKey(first + int64(i)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				clear(dst)
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				copy(dst, val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return v.wrap("read", off, err)
	}
	return nil
}

func (v *Badger) WriteAt(_ context.Context, p []byte, off int64) error {
	first, n, err := checkGranule(p, off, v.size)
	if err != nil {
		return err
	}

	// Values stay referenced by the batch until Flush returns.
	vals := make([][]byte, 0, n)
	defer func() {
		for _, val := range vals {
			bufpool.Put(val)
		}
	}()

	wb := v.db.NewWriteBatch()
	defer wb.Cancel()
	for i := 0; i < n; i++ {
		val := bufpool.GetGranule()
		vals = append(vals, val)
		copy(val, p[i*GranuleSize:(i+1)*GranuleSize])
		if err := wb.Set(granuleKey(first+int64(i)), val); err != nil {
			return v.wrap("write", off, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return v.wrap("write", off, err)
	}
	return nil
}

func (v *Badger) wrap(op string, off int64, err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return fmt.Errorf("badger %s %s at %d: %w", op, v.path, off, err)
}

func (v *Badger) Sync(context.Context) error {
	if err := v.db.Sync(); err != nil {
		return v.wrap("sync", 0, err)
	}
	return nil
}

// Healthcheck verifies the database is open and readable.
func (v *Badger) Healthcheck(context.Context) error {
	if v.db.IsClosed() {
		return ErrClosed
	}
	return v.db.View(func(*badger.Txn) error { return nil })
}

func (v *Badger) Close() error {
	if v.db.IsClosed() {
		return nil
	}
	return v.db.Close()
}

func (v *Badger) String() string {
	if v.path == "" {
		return "badger:memory"
	}
	return "badger:" + v.path
}
