package quota

import "time"

// window is a rolling count of request timestamps over a fixed duration,
// stored in a ring buffer sized to the limit. Not safe for concurrent use;
// the owning Tracker serializes access.
type window struct {
	limit    int
	duration time.Duration
	stamps   []time.Time
	head     int
	count    int
}

func newWindow(limit int, duration time.Duration) *window {
	return &window{
		limit:    limit,
		duration: duration,
		stamps:   make([]time.Time, limit),
	}
}

// prune evicts timestamps that have aged out of the window.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.duration)
	for w.count > 0 && !w.stamps[w.head].After(cutoff) {
		w.head = (w.head + 1) % w.limit
		w.count--
	}
}

func (w *window) full() bool {
	return w.count >= w.limit
}

// record appends a timestamp. Callers must check full() first; a record on a
// full window is dropped to preserve the occupancy bound.
func (w *window) record(t time.Time) {
	if w.full() {
		return
	}
	w.stamps[(w.head+w.count)%w.limit] = t
	w.count++
}

// oldest returns the earliest timestamp still in the window.
func (w *window) oldest() time.Time {
	if w.count == 0 {
		return time.Time{}
	}
	return w.stamps[w.head]
}

// saturate fills the remaining slots with synthetic entries at now, making
// the window appear exhausted until they age out.
func (w *window) saturate(now time.Time) {
	for !w.full() {
		w.record(now)
	}
}
