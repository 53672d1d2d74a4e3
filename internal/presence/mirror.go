package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrTransientDirectory wraps directory write failures. They are logged and
// never fail the connection lifecycle.
var ErrTransientDirectory = errors.New("directory write failed")

// Directory is the durable home of a user's online flag and last-seen time.
type Directory interface {
	SetOnline(ctx context.Context, userID string, online bool, lastSeen time.Time) error
}

type state struct {
	online   bool
	lastSeen time.Time
}

// Mirror copies presence transitions into a Directory from its own
// goroutine, so slow directory writes never stall the hub. Pending writes for
// the same user coalesce: only the latest state is written.
type Mirror struct {
	dir     Directory
	log     zerolog.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]state
	order   []string

	wake chan struct{}
	done chan struct{}
}

func NewMirror(dir Directory, log zerolog.Logger, timeout time.Duration) *Mirror {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Mirror{
		dir:     dir,
		log:     log.With().Str("component", "presence-mirror").Logger(),
		timeout: timeout,
		pending: make(map[string]state),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Set queues a write. It never blocks.
func (m *Mirror) Set(userID string, online bool, lastSeen time.Time) {
	if m == nil || m.dir == nil {
		return
	}

	m.mu.Lock()
	if _, queued := m.pending[userID]; !queued {
		m.order = append(m.order, userID)
	}
	m.pending[userID] = state{online: online, lastSeen: lastSeen}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run drains queued writes until ctx is cancelled, then flushes whatever is
// still pending and closes Done.
func (m *Mirror) Run(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case <-m.wake:
			m.flush()
		case <-ctx.Done():
			m.flush()
			return
		}
	}
}

func (m *Mirror) Done() <-chan struct{} {
	return m.done
}

func (m *Mirror) flush() {
	for {
		m.mu.Lock()
		if len(m.order) == 0 {
			m.mu.Unlock()
			return
		}
		userID := m.order[0]
		m.order = m.order[1:]
		s := m.pending[userID]
		delete(m.pending, userID)
		m.mu.Unlock()

		if err := m.write(userID, s); err != nil {
			m.log.Warn().Err(err).Str("user_id", userID).Bool("online", s.online).Msg("presence not mirrored")
		}
	}
}

// Writes use their own deadline so the final flush still runs after the
// hub's context is cancelled.
func (m *Mirror) write(userID string, s state) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := m.dir.SetOnline(ctx, userID, s.online, s.lastSeen); err != nil {
		return fmt.Errorf("%w: %v", ErrTransientDirectory, err)
	}
	return nil
}
