package session

import (
	"sync"
	"time"
)

// timerTable is a keyed table of cancellable delayed callbacks. Arming a key
// that already holds a timer first cancels the existing one, so at most one
// timer is in flight per key (self typing debounce, each remote user's
// typing TTL).
type timerTable struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerTable() *timerTable {
	return &timerTable{timers: make(map[string]*time.Timer)}
}

// arm schedules fn to run after d, cancelling any timer already armed under
// the key.
func (t *timerTable) arm(key string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.timers[key]; ok {
		existing.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.timers[key] == timer {
			delete(t.timers, key)
		}
		t.mu.Unlock()
		fn()
	})
	t.timers[key] = timer
}

// cancel stops and forgets the timer under the key, if any.
func (t *timerTable) cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
}

// cancelAll stops every armed timer. Used when tearing down a room.
func (t *timerTable) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}
