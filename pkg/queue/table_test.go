package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTable(t *testing.T, depth int) *Table {
	t.Helper()
	tbl, err := New(depth)
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	return tbl
}

// roundTrip drives one slot through checkout and completion from the worker side.
func roundTrip(t *testing.T, tbl *Table, status Status) *Slot {
	t.Helper()
	s, err := tbl.Checkout(context.Background())
	require.NoError(t, err)
	require.NoError(t, tbl.Complete(s.ID, status))
	return s
}

func TestNew(t *testing.T) {
	t.Run("DefaultDepth", func(t *testing.T) {
		tbl := newTable(t, 0)
		assert.Equal(t, DefaultDepth, tbl.Depth())
		st := tbl.Stats()
		assert.Equal(t, DefaultDepth, st.Free)
		assert.Zero(t, st.InFlight())
	})

	t.Run("NegativeDepth", func(t *testing.T) {
		_, err := New(-1)
		assert.Error(t, err)
	})
}

func TestSlotLifecycle(t *testing.T) {
	tbl := newTable(t, 4)
	ctx := context.Background()

	s, err := tbl.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(0), s.ID)
	assertState(t, tbl, s.ID, StateReserved)

	s.Op = OpWrite
	s.Position = 3
	s.Length = GranuleSize
	require.NoError(t, tbl.Submit(s))
	assertState(t, tbl, s.ID, StateQueued)
	assert.Equal(t, Stats{Depth: 4, Free: 3, Queued: 1}, tbl.Stats())

	got, err := tbl.Checkout(ctx)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, OpWrite, got.Op)
	assert.Equal(t, int64(3*GranuleSize), got.Offset())
	assertState(t, tbl, s.ID, StateCheckedOut)

	_, err = tbl.CheckedOut(s.ID)
	require.NoError(t, err)

	require.NoError(t, tbl.Complete(s.ID, StatusIOError))
	assert.Equal(t, StatusIOError, tbl.Wait(s))

	require.NoError(t, tbl.Release(s))
	assertState(t, tbl, s.ID, StateFree)
	assert.Equal(t, 4, tbl.Stats().Free)
}

func assertState(t *testing.T, tbl *Table, id int32, want State) {
	t.Helper()
	got, err := tbl.State(id)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInvalidTransitions(t *testing.T) {
	tbl := newTable(t, 2)
	ctx := context.Background()

	s, err := tbl.Acquire(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, tbl.Complete(s.ID, StatusOK), ErrInvalidState, "complete while reserved")
	assert.ErrorIs(t, tbl.Release(s), ErrInvalidState, "release while reserved")

	require.NoError(t, tbl.Submit(s))
	assert.ErrorIs(t, tbl.Submit(s), ErrInvalidState, "double submit")
	assert.ErrorIs(t, tbl.Complete(s.ID, StatusOK), ErrInvalidState, "complete while queued")

	_, err = tbl.Checkout(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, tbl.Release(s), ErrInvalidState, "release before completion")

	require.NoError(t, tbl.Complete(s.ID, StatusOK))
	assert.ErrorIs(t, tbl.Complete(s.ID, StatusIOError), ErrInvalidState, "double complete")
	_, err = tbl.CheckedOut(s.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StatusOK, tbl.Wait(s), "second completion must not overwrite status")

	require.NoError(t, tbl.Release(s))
	assert.ErrorIs(t, tbl.Release(s), ErrInvalidState, "double release")
}

func TestLookupBounds(t *testing.T) {
	tbl := newTable(t, 4)

	for _, id := range []int32{-1, 4, 1 << 20} {
		_, err := tbl.Lookup(id)
		assert.ErrorIs(t, err, ErrInvalidSlot, "id %d", id)
		assert.ErrorIs(t, tbl.Complete(id, StatusOK), ErrInvalidSlot)
	}
}

func TestCheckoutIsFIFO(t *testing.T) {
	tbl := newTable(t, 8)
	ctx := context.Background()

	var submitted []int32
	for i := 0; i < 8; i++ {
		s, err := tbl.Acquire(ctx)
		require.NoError(t, err)
		s.Position = uint32(i)
		require.NoError(t, tbl.Submit(s))
		submitted = append(submitted, s.ID)
	}

	for i := 0; i < 8; i++ {
		s, err := tbl.Checkout(ctx)
		require.NoError(t, err)
		assert.Equal(t, submitted[i], s.ID)
		assert.Equal(t, uint32(i), s.Position)
	}
}

func TestReleasedSlotsGoToTail(t *testing.T) {
	tbl := newTable(t, 3)
	ctx := context.Background()

	slots := make([]*Slot, 3)
	for i := range slots {
		s, err := tbl.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, tbl.Submit(s))
		slots[i] = s
	}
	for range slots {
		roundTrip(t, tbl, StatusOK)
	}

	require.NoError(t, tbl.Release(slots[1]))
	require.NoError(t, tbl.Release(slots[0]))

	a, err := tbl.Acquire(ctx)
	require.NoError(t, err)
	b, err := tbl.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), a.ID)
	assert.Equal(t, int32(0), b.ID)
}

func TestAcquireBlocksAtDepth(t *testing.T) {
	tbl := newTable(t, 2)
	ctx := context.Background()

	first, err := tbl.Acquire(ctx)
	require.NoError(t, err)
	_, err = tbl.Acquire(ctx)
	require.NoError(t, err)

	t.Run("InterruptedWithoutSideEffects", func(t *testing.T) {
		before := tbl.Stats()
		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err := tbl.Acquire(tctx)
		assert.ErrorIs(t, err, ErrInterrupted)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, before, tbl.Stats())
	})

	t.Run("WakesOnRelease", func(t *testing.T) {
		got := make(chan *Slot, 1)
		go func() {
			s, err := tbl.Acquire(ctx)
			if err == nil {
				got <- s
			}
		}()

		select {
		case <-got:
			t.Fatal("acquire succeeded past depth")
		case <-time.After(20 * time.Millisecond):
		}

		require.NoError(t, tbl.Submit(first))
		roundTrip(t, tbl, StatusOK)
		require.NoError(t, tbl.Release(first))

		select {
		case s := <-got:
			assert.Equal(t, first.ID, s.ID)
		case <-time.After(time.Second):
			t.Fatal("waiter not woken by release")
		}
	})
}

func TestCheckoutInterrupted(t *testing.T) {
	tbl := newTable(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tbl.Checkout(ctx)
	assert.ErrorIs(t, err, ErrInterrupted)

	s, err := tbl.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, tbl.Submit(s))

	got, err := tbl.Checkout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestCloseWakesCheckout(t *testing.T) {
	tbl := newTable(t, 2)

	errCh := make(chan error, 1)
	go func() {
		_, err := tbl.Checkout(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	tbl.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("checkout not woken by close")
	}

	_, err := tbl.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDoneSignalFiresOnce(t *testing.T) {
	tbl := newTable(t, 1)
	ctx := context.Background()

	s, err := tbl.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, tbl.Submit(s))

	select {
	case <-s.Done():
		t.Fatal("done before completion")
	default:
	}

	roundTrip(t, tbl, StatusOK)
	<-s.Done()
	<-s.Done()
}

func TestConcurrentSubmitters(t *testing.T) {
	const (
		depth      = 8
		submitters = 32
		perWorker  = 100
	)
	tbl := newTable(t, depth)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inFlight, maxInFlight atomic.Int64
	var completed atomic.Int64

	// Single sequential worker, as in the worker loop.
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for {
			s, err := tbl.Checkout(ctx)
			if err != nil {
				return
			}
			status := StatusOK
			if s.Position%7 == 0 {
				status = StatusIOError
			}
			if err := tbl.Complete(s.ID, status); err != nil {
				t.Errorf("complete %d: %v", s.ID, err)
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < submitters; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s, err := tbl.Acquire(ctx)
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}

				pos := uint32(w*perWorker + i)
				s.Op = OpRead
				s.Position = pos
				if err := tbl.Submit(s); err != nil {
					t.Errorf("submit: %v", err)
					return
				}

				status := tbl.Wait(s)
				if (pos%7 == 0) != (status == StatusIOError) {
					t.Errorf("position %d got status %v", pos, status)
				}
				inFlight.Add(-1)
				completed.Add(1)
				if err := tbl.Release(s); err != nil {
					t.Errorf("release: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()
	cancel()
	<-workerDone

	assert.Equal(t, int64(submitters*perWorker), completed.Load())
	assert.LessOrEqual(t, maxInFlight.Load(), int64(depth))
	assert.Equal(t, Stats{Depth: depth, Free: depth}, tbl.Stats())
}

func TestOpAndStatusStrings(t *testing.T) {
	assert.Equal(t, "WRITE_ZEROES", OpWriteZeroes.String())
	assert.Equal(t, "UNSUPPORTED(7)", Op(7).String())
	assert.True(t, OpDiscard.Known())
	assert.False(t, Op(4).Known())
	assert.True(t, StatusOK.OK())
	assert.False(t, StatusIOError.OK())
	assert.Equal(t, "checked_out", StateCheckedOut.String())
}

func TestCloseWakesAcquire(t *testing.T) {
	tbl := newTable(t, 1)
	_, err := tbl.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := tbl.Acquire(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	tbl.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
		assert.NotErrorIs(t, err, ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("acquire not woken by close")
	}
}
