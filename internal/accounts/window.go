package accounts

import "time"

// requestWindow is a fixed-capacity ring of request timestamps in arrival
// order. When full, pushing drops the oldest entry.
type requestWindow struct {
	times []time.Time
	head  int // index of the oldest entry
	size  int
}

func newRequestWindow(capacity int) *requestWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &requestWindow{times: make([]time.Time, capacity)}
}

func (w *requestWindow) push(t time.Time) {
	capacity := len(w.times)
	if w.size == capacity {
		w.times[w.head] = t
		w.head = (w.head + 1) % capacity
		return
	}
	w.times[(w.head+w.size)%capacity] = t
	w.size++
}

// evictBefore drops entries older than cutoff from the front. Only the
// evicted entries are visited.
func (w *requestWindow) evictBefore(cutoff time.Time) int {
	evicted := 0
	for w.size > 0 && !w.times[w.head].After(cutoff) {
		w.times[w.head] = time.Time{}
		w.head = (w.head + 1) % len(w.times)
		w.size--
		evicted++
	}
	return evicted
}

func (w *requestWindow) len() int { return w.size }

func (w *requestWindow) oldest() (time.Time, bool) {
	if w.size == 0 {
		return time.Time{}, false
	}
	return w.times[w.head], true
}
