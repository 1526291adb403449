package store

import (
	"reflect"
	"slices"

	"example.com/fitstate/internal/domain"
)

// Subscribe calls cb with the selector output after each commit whose output differs by value from
// the previous one. The initial value is computed at subscription time without invoking cb.
// Callbacks run synchronously in commit order and must not call Dispatch.
func Subscribe[T any](s *Store, sel func(domain.State) T, cb func(T)) (unsubscribe func()) {
	s.notifyMu.Lock()
	last := sel(s.State())
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = func(st domain.State) {
		value := sel(st)
		if reflect.DeepEqual(value, last) {
			return
		}
		last = value
		cb(value)
	}
	s.subsMu.Unlock()
	s.notifyMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// notify runs with notifyMu held.
func (s *Store) notify(st domain.State) {
	s.subsMu.Lock()
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	s.subsMu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		s.subsMu.Lock()
		fn, ok := s.subs[id]
		s.subsMu.Unlock()
		if ok {
			fn(st)
		}
	}
}
