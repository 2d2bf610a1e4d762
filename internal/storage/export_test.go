package storage

import "time"

// SetClock replaces the wall clock used for directory stamps.
func (r *Root) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}
