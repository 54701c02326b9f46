package queue

// ring is a fixed-capacity FIFO of slot ids. Callers hold Table.mu.
type ring struct {
	buf  []int32
	head int
	n    int
}

func newRing(capacity int) ring {
	return ring{buf: make([]int32, capacity)}
}

func (r *ring) push(id int32) bool {
	if r.n == len(r.buf) {
		return false
	}
	r.buf[(r.head+r.n)%len(r.buf)] = id
	r.n++
	return true
}

func (r *ring) pop() (int32, bool) {
	if r.n == 0 {
		return -1, false
	}
	id := r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return id, true
}

func (r *ring) len() int { return r.n }
