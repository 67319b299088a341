package testsupport

import "sync"

// Recorder collects the keys a cache listener was notified with.
type Recorder struct {
	mu   sync.Mutex
	keys []string
}

// Listen is a cache.Listener compatible callback.
func (r *Recorder) Listen(key string) {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
}

// Keys returns a copy of the recorded keys in notification order.
func (r *Recorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

// Len returns the number of recorded notifications.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// Reset drops recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.keys = nil
	r.mu.Unlock()
}
