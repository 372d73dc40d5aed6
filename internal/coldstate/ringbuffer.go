package coldstate

import "sync"

// ringEntry is one composite key's bounded deque of recent samples, oldest
// first. It carries its own mutex so the cold ring-buffer map gets the same
// per-entry locking as Hot State: the append path acquires the log mutex
// and the ring-entry mutex in that order.
type ringEntry struct {
	mu       sync.Mutex
	samples  []Sample
	capacity int
}

func (e *ringEntry) push(s Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = append(e.samples, s)
	if len(e.samples) > e.capacity {
		e.samples = e.samples[len(e.samples)-e.capacity:]
	}
}

// queryDescending returns every sample in [startMicros, endMicros], newest
// first.
func (e *ringEntry) queryDescending(startMicros, endMicros int64) []Sample {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Sample, 0, len(e.samples))
	for i := len(e.samples) - 1; i >= 0; i-- {
		s := e.samples[i]
		if s.TimestampMicros >= startMicros && s.TimestampMicros <= endMicros {
			out = append(out, s)
		}
	}
	return out
}

// ringBuffers is the concurrent map from composite key to ringEntry.
type ringBuffers struct {
	capacity int
	entries  sync.Map // string -> *ringEntry
}

func newRingBuffers(capacity int) *ringBuffers {
	if capacity <= 0 {
		capacity = 100
	}
	return &ringBuffers{capacity: capacity}
}

func (r *ringBuffers) entryFor(key string) *ringEntry {
	actual, _ := r.entries.LoadOrStore(key, &ringEntry{capacity: r.capacity})
	return actual.(*ringEntry)
}

func (r *ringBuffers) push(key string, s Sample) {
	r.entryFor(key).push(s)
}

func (r *ringBuffers) queryDescending(key string, startMicros, endMicros int64) []Sample {
	actual, ok := r.entries.Load(key)
	if !ok {
		return nil
	}
	return actual.(*ringEntry).queryDescending(startMicros, endMicros)
}
