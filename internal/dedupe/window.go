// Package dedupe remembers recently applied identifiers so replays can be detected.
package dedupe

import "sync"

// Window is a bounded set of recently seen ids. The oldest id is evicted once capacity is reached.
type Window struct {
	mu    sync.Mutex
	size  int
	ring  []string
	next  int
	index map[string]struct{}
}

// NewWindow creates a window holding up to size ids.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1024
	}
	return &Window{size: size, ring: make([]string, 0, size), index: make(map[string]struct{}, size)}
}

// Seen reports whether id is in the window.
func (w *Window) Seen(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.index[id]
	return ok
}

// Add records id, returning false if it was already present.
func (w *Window) Add(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.index[id]; ok {
		return false
	}
	if len(w.ring) < w.size {
		w.ring = append(w.ring, id)
	} else {
		delete(w.index, w.ring[w.next])
		w.ring[w.next] = id
		w.next = (w.next + 1) % w.size
	}
	w.index[id] = struct{}{}
	return true
}

// IDs returns the window contents oldest first.
func (w *Window) IDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.ring))
	out = append(out, w.ring[w.next:]...)
	out = append(out, w.ring[:w.next]...)
	return out
}

// Len returns the number of ids held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ring)
}
