package game

import (
	"sync"
	"time"
)

// timerFunc receives the chat id and the started-at timestamp of the round
// the timer was armed for, so a fire racing a restart can be detected.
type timerFunc func(chatID int64, startedAt time.Time)

// Timers keeps at most one outstanding discussion countdown per chat.
// Starting a timer supersedes the previous one for that chat; cancelling
// after expiry is a no-op. A timer that fires concurrently with its
// cancellation is tolerated by the engine's staleness check.
type Timers struct {
	mu     sync.Mutex
	fire   timerFunc
	active map[int64]*time.Timer
}

// NewTimers creates a timer registry delivering expiries to fire.
func NewTimers(fire timerFunc) *Timers {
	return &Timers{
		fire:   fire,
		active: make(map[int64]*time.Timer),
	}
}

// Start arms the countdown for the chat, replacing any previous one.
// A deadline already in the past fires immediately.
func (t *Timers) Start(chatID int64, startedAt, deadline time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.active[chatID]; ok {
		old.Stop()
	}

	var tm *time.Timer
	tm = time.AfterFunc(time.Until(deadline), func() {
		t.mu.Lock()
		// Only forget the timer if it has not been superseded meanwhile.
		if t.active[chatID] == tm {
			delete(t.active, chatID)
		}
		t.mu.Unlock()
		t.fire(chatID, startedAt)
	})
	t.active[chatID] = tm
}

// Cancel stops the chat's countdown if one is outstanding.
func (t *Timers) Cancel(chatID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tm, ok := t.active[chatID]; ok {
		tm.Stop()
		delete(t.active, chatID)
	}
}
