package chat

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"go-friendchat/internal/presence"
	"go-friendchat/internal/relay"
)

// FriendLister loads the accepted friends of a user at handshake time.
type FriendLister interface {
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}

type Options struct {
	Logger zerolog.Logger
	// Mirror receives presence transitions. Nil disables directory writes.
	Mirror *presence.Mirror
	// Relay, when set, carries every delivery through a shared channel so
	// other instances can reach their local members.
	Relay relay.Relay
	// LegacyPresence flips presence on every connect and disconnect instead
	// of counting connections per user.
	LegacyPresence bool
	// TypingTimeout clears an indicator nobody stopped. Zero disables expiry.
	TypingTimeout time.Duration
}

type inbound struct {
	client *Client
	name   EventName
	event  Event
	err    error
}

type typingKey struct {
	conn         string
	conversation string
}

type typingTimer struct {
	key typingKey
	gen uint64
}

type typingState struct {
	gen   uint64
	timer *time.Timer
}

// Hub owns every authenticated connection. All mutation happens on the Run
// goroutine; the registry and tracker may be read from anywhere.
type Hub struct {
	log           zerolog.Logger
	registry      *presence.Registry
	tracker       *presence.Tracker
	mirror        *presence.Mirror
	relay         relay.Relay
	typingTimeout time.Duration
	now           func() time.Time

	clients   map[string]*Client
	typing    map[typingKey]*typingState
	typingGen uint64

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	expired    chan typingTimer
	done       chan struct{}
}

func NewHub(opts Options) *Hub {
	return &Hub{
		log:           opts.Logger.With().Str("component", "hub").Logger(),
		registry:      presence.NewRegistry(),
		tracker:       presence.NewTracker(opts.LegacyPresence),
		mirror:        opts.Mirror,
		relay:         opts.Relay,
		typingTimeout: opts.TypingTimeout,
		now:           time.Now,
		clients:       make(map[string]*Client),
		typing:        make(map[typingKey]*typingState),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		inbound:       make(chan inbound),
		expired:       make(chan typingTimer),
		done:          make(chan struct{}),
	}
}

// Run serializes registration, routing and delivery until ctx is cancelled,
// then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	var deliveries <-chan relay.Delivery
	if h.relay != nil {
		deliveries = h.relay.Deliveries()
	}

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case c := <-h.register:
			h.attach(c)

		case c := <-h.unregister:
			if _, ok := h.clients[c.ID]; ok {
				h.teardown(c)
			}

		case in := <-h.inbound:
			h.handle(in)

		case t := <-h.expired:
			h.expire(t)

		case d, ok := <-deliveries:
			if !ok {
				h.log.Warn().Msg("relay closed, delivering locally")
				deliveries = nil
				h.relay = nil
				continue
			}
			h.deliverLocal(d)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Register hands an authenticated client to the hub. It reports false when
// the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(in inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) MembersOf(g presence.Group) []string {
	return h.registry.MembersOf(g)
}

func (h *Hub) GroupsOf(connID string) []presence.Group {
	return h.registry.GroupsOf(connID)
}

func (h *Hub) IsOnline(userID string) bool {
	return h.tracker.IsOnline(userID)
}

func (h *Hub) Connections(userID string) int {
	return h.tracker.Connections(userID)
}

func (h *Hub) attach(c *Client) {
	h.clients[c.ID] = c
	h.registry.Join(c.ID, presence.UserGroup(c.UserID))
	first := h.tracker.Connect(c.UserID)
	h.mirror.Set(c.UserID, true, h.now())

	h.log.Info().
		Str("conn", c.ID).
		Str("user", c.UserID).
		Stringer("state", c.State()).
		Bool("first", first).
		Msg("client connected")
}

func (h *Hub) teardown(c *Client) {
	h.clearTyping(c)

	delete(h.clients, c.ID)
	h.registry.LeaveAll(c.ID)
	close(c.send)
	c.setState(StateClosed)

	last := h.tracker.Disconnect(c.UserID)
	if last {
		h.mirror.Set(c.UserID, false, h.now())
		h.broadcastStatus(c, false)
	}

	h.log.Info().
		Str("conn", c.ID).
		Str("user", c.UserID).
		Bool("offline", last).
		Msg("client disconnected")
}

func (h *Hub) shutdown() {
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if c, ok := h.clients[id]; ok {
			h.teardown(c)
		}
	}
	h.log.Info().Int("connections", len(ids)).Msg("hub stopped")
}

func (h *Hub) handle(in inbound) {
	c := in.client
	if _, ok := h.clients[c.ID]; !ok {
		return
	}

	err := in.err
	if err == nil {
		err = h.route(c, in.event)
	}
	if err != nil {
		h.reject(c, in.name, err)
	}
}

// reject tells the sender, and only the sender, that its event was dropped.
func (h *Hub) reject(c *Client, name EventName, err error) {
	reason := err.Error()
	switch {
	case errors.Is(err, ErrMalformedEvent), errors.Is(err, ErrAuthorization), errors.Is(err, ErrRateLimited):
		h.log.Debug().Err(err).Str("conn", c.ID).Str("event", string(name)).Msg("event dropped")
	default:
		h.log.Error().Err(err).Str("conn", c.ID).Str("event", string(name)).Msg("event failed")
		reason = "internal error"
	}

	payload, encErr := Encode(EventError, EventFailure{Event: name, Error: reason})
	if encErr != nil {
		h.log.Error().Err(encErr).Msg("encode error event")
		return
	}
	h.queue(c, payload)
}

// deliver sends d through the relay when there is one, so that every
// instance (this one included) fans it out to its own members.
func (h *Hub) deliver(d relay.Delivery) {
	if h.relay != nil {
		err := h.relay.Publish(context.Background(), d)
		if err == nil {
			return
		}
		h.log.Warn().Err(err).Str("group", d.Group.String()).Msg("relay publish failed, delivering locally")
	}
	h.deliverLocal(d)
}

func (h *Hub) deliverLocal(d relay.Delivery) {
	for _, id := range h.registry.MembersOf(d.Group) {
		if id == d.Except {
			continue
		}
		c, ok := h.clients[id]
		if !ok {
			continue
		}
		if d.AddFriend != "" && c.friends != nil {
			c.friends[d.AddFriend] = struct{}{}
		}
		if len(d.Payload) > 0 {
			h.queue(c, d.Payload)
		}
	}
}

// queue never blocks the loop. A client that cannot keep up is closed; its
// read pump then unregisters it.
func (h *Hub) queue(c *Client, payload []byte) {
	if c.dropped {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.dropped = true
		h.log.Warn().Str("conn", c.ID).Str("user", c.UserID).Msg("send buffer full, closing slow client")
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// broadcastStatus addresses the user's friends. Without a friend list every
// local personal group except the user's own is addressed.
func (h *Hub) broadcastStatus(c *Client, online bool) {
	payload, err := Encode(EventFriendStatusChange, FriendStatusChange{
		UserID:   c.UserID,
		Username: c.Username,
		IsOnline: online,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("encode status change")
		return
	}

	var targets []string
	if c.friends != nil {
		for id := range c.friends {
			targets = append(targets, id)
		}
		sort.Strings(targets)
	} else {
		for _, g := range h.registry.Groups(presence.KindUser) {
			if g.ID != c.UserID {
				targets = append(targets, g.ID)
			}
		}
	}

	for _, id := range targets {
		h.deliver(relay.Delivery{Group: presence.UserGroup(id), Payload: payload})
	}
}

func (h *Hub) startTyping(c *Client, conversationID string) {
	key := typingKey{conn: c.ID, conversation: conversationID}
	if st, ok := h.typing[key]; ok && st.timer != nil {
		st.timer.Stop()
	}

	h.typingGen++
	st := &typingState{gen: h.typingGen}
	if h.typingTimeout > 0 {
		t := typingTimer{key: key, gen: st.gen}
		st.timer = time.AfterFunc(h.typingTimeout, func() {
			select {
			case h.expired <- t:
			case <-h.done:
			}
		})
	}
	h.typing[key] = st
}

// stopTyping clears the indicator and reports whether one was set.
func (h *Hub) stopTyping(c *Client, conversationID string) bool {
	key := typingKey{conn: c.ID, conversation: conversationID}
	st, ok := h.typing[key]
	if !ok {
		return false
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(h.typing, key)
	return true
}

func (h *Hub) clearTyping(c *Client) {
	var conversations []string
	for key := range h.typing {
		if key.conn == c.ID {
			conversations = append(conversations, key.conversation)
		}
	}
	sort.Strings(conversations)

	for _, id := range conversations {
		h.stopTyping(c, id)
		h.announceStopTyping(c, id)
	}
}

func (h *Hub) expire(t typingTimer) {
	st, ok := h.typing[t.key]
	if !ok || st.gen != t.gen {
		return
	}
	c, ok := h.clients[t.key.conn]
	if !ok {
		delete(h.typing, t.key)
		return
	}
	h.stopTyping(c, t.key.conversation)
	h.announceStopTyping(c, t.key.conversation)
}

func (h *Hub) announceStopTyping(c *Client, conversationID string) {
	payload, err := Encode(EventUserStopTyping, UserStopTyping{UserID: c.UserID})
	if err != nil {
		h.log.Error().Err(err).Msg("encode stop typing")
		return
	}
	h.deliver(relay.Delivery{
		Group:   presence.ConversationGroup(conversationID),
		Except:  c.ID,
		Payload: payload,
	})
}
