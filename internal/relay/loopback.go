package relay

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("relay closed")

// Bus is an in-process stand-in for the Redis channel. Each Subscribe call
// returns an independent Relay that sees every published Delivery.
type Bus struct {
	mu   sync.RWMutex
	subs []*Loopback
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe() *Loopback {
	l := &Loopback{
		bus:  b,
		out:  make(chan Delivery),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	go l.pump()

	b.mu.Lock()
	b.subs = append(b.subs, l)
	b.mu.Unlock()
	return l
}

func (b *Bus) publish(d Delivery) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.subs {
		l.enqueue(d)
	}
}

func (b *Bus) remove(l *Loopback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == l {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Loopback queues without bound so a hub that publishes and consumes on the
// same goroutine can never deadlock on itself.
type Loopback struct {
	bus *Bus

	mu     sync.Mutex
	queue  []Delivery
	closed bool

	out  chan Delivery
	wake chan struct{}
	quit chan struct{}
	once sync.Once
}

func (l *Loopback) Publish(_ context.Context, d Delivery) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}

	l.bus.publish(d)
	return nil
}

func (l *Loopback) Deliveries() <-chan Delivery {
	return l.out
}

func (l *Loopback) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		l.bus.remove(l)
		close(l.quit)
	})
	return nil
}

func (l *Loopback) enqueue(d Delivery) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, d)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loopback) pump() {
	defer close(l.out)

	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			select {
			case <-l.wake:
				continue
			case <-l.quit:
				return
			}
		}
		d := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		select {
		case l.out <- d:
		case <-l.quit:
			return
		}
	}
}
