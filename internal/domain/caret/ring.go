package caret

// RingCapacity is the number of snapshots retained between drains.
const RingCapacity = 128

// ring is a fixed-capacity circular history. Once full, each push
// overwrites the oldest entry.
type ring struct {
	buf  [RingCapacity]Snapshot
	head int // next write slot
	n    int // logical length
}

func (r *ring) push(s Snapshot) {
	r.buf[r.head] = s
	r.head = (r.head + 1) % RingCapacity
	if r.n < RingCapacity {
		r.n++
	}
}

func (r *ring) start() int {
	return (r.head + RingCapacity - r.n) % RingCapacity
}

// appendAll appends the retained entries oldest first and empties the ring.
func (r *ring) appendAll(dst []Snapshot) []Snapshot {
	start := r.start()
	for i := 0; i < r.n; i++ {
		dst = append(dst, r.buf[(start+i)%RingCapacity])
	}
	r.n = 0
	return dst
}

// take copies up to len(dst) of the oldest entries into dst and removes
// only those. The write cursor is untouched.
func (r *ring) take(dst []Snapshot) int {
	k := min(len(dst), r.n)
	start := r.start()
	for i := 0; i < k; i++ {
		dst[i] = r.buf[(start+i)%RingCapacity]
	}
	r.n -= k
	return k
}
