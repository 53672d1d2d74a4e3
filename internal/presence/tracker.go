package presence

import "sync"

// Tracker counts authenticated connections per user. A user is online while
// the count is positive.
//
// In legacy mode every connect reports "came online" and every disconnect
// reports "went offline", regardless of other devices still connected.
type Tracker struct {
	mu     sync.RWMutex
	counts map[string]int
	legacy bool
}

func NewTracker(legacy bool) *Tracker {
	return &Tracker{
		counts: make(map[string]int),
		legacy: legacy,
	}
}

// Connect records a new connection and reports whether the user should be
// announced online.
func (t *Tracker) Connect(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts[userID]++
	return t.legacy || t.counts[userID] == 1
}

// Disconnect records a closed connection and reports whether the user should
// be announced offline.
func (t *Tracker) Disconnect(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.counts[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(t.counts, userID)
		return true
	}
	t.counts[userID] = n - 1
	return t.legacy
}

func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[userID] > 0
}

func (t *Tracker) Connections(userID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[userID]
}
