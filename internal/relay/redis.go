package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultChannel = "friendchat:deliveries"

// Redis fans deliveries out through a single pub/sub channel. Publishing is
// done from one goroutine so deliveries keep the order the hub routed them.
type Redis struct {
	client  *redis.Client
	channel string
	pubsub  *redis.PubSub
	log     zerolog.Logger

	outbox chan Delivery
	out    chan Delivery

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewRedis(ctx context.Context, client *redis.Client, channel string, log zerolog.Logger) (*Redis, error) {
	if channel == "" {
		channel = DefaultChannel
	}

	pubsub := client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so nothing we publish next
	// is missed by our own subscriber.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	r := newRedis(client, channel, pubsub, log)
	r.wg.Add(2)
	go r.publishLoop()
	go r.subscribeLoop()
	go r.closeWhenIdle()
	return r, nil
}

func newRedis(client *redis.Client, channel string, pubsub *redis.PubSub, log zerolog.Logger) *Redis {
	ctx, cancel := context.WithCancel(context.Background())
	return &Redis{
		client:  client,
		channel: channel,
		pubsub:  pubsub,
		log:     log.With().Str("component", "relay").Str("channel", channel).Logger(),
		outbox:  make(chan Delivery, 1024),
		out:     make(chan Delivery, 256),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (r *Redis) Publish(ctx context.Context, d Delivery) error {
	if r.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case r.outbox <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrClosed
	}
}

func (r *Redis) Deliveries() <-chan Delivery {
	return r.out
}

func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		r.cancel()
		if r.pubsub != nil {
			err = r.pubsub.Close()
		}
		r.wg.Wait()
	})
	return err
}

func (r *Redis) publishLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case d := <-r.outbox:
			data, err := json.Marshal(d)
			if err != nil {
				r.log.Error().Err(err).Msg("encode delivery")
				continue
			}
			if err := r.client.Publish(r.ctx, r.channel, data).Err(); err != nil {
				if r.ctx.Err() != nil {
					return
				}
				// Local members still get it; other instances miss it.
				r.log.Error().Err(err).Str("group", d.Group.String()).Msg("redis publish failed, delivering locally")
				select {
				case r.out <- d:
				case <-r.ctx.Done():
					return
				}
			}
		}
	}
}

// closeWhenIdle closes Deliveries once both loops are gone, since either may
// write to it.
func (r *Redis) closeWhenIdle() {
	r.wg.Wait()
	close(r.out)
}

// subscribeLoop stops the relay when the subscription ends, so Publish starts
// failing and the hub falls back to local delivery.
func (r *Redis) subscribeLoop() {
	defer r.wg.Done()
	defer r.cancel()

	ch := r.pubsub.Channel()
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var d Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				r.log.Warn().Err(err).Msg("dropping undecodable delivery")
				continue
			}
			select {
			case r.out <- d:
			case <-r.ctx.Done():
				return
			}
		}
	}
}
