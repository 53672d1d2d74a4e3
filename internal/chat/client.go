package chat

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"go-friendchat/internal/auth"
)

const (
	writeWait  = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait   = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.

	DefaultMaxMessageSize = 8192
	DefaultSendBuffer     = 256

	guardTimeout = 5 * time.Second
)

// Client is a middleman between one authenticated websocket connection and
// the hub.
type Client struct {
	ID       string
	UserID   string
	Username string

	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	state atomic.Int32

	limiter        *rate.Limiter
	guard          Guard
	maxMessageSize int64

	// Owned by the hub loop. A nil set means friends are unknown.
	friends map[string]struct{}
	// Set by the hub loop once the send buffer overflowed.
	dropped bool
}

type clientConfig struct {
	sendBuffer     int
	maxMessageSize int64
	limiter        *rate.Limiter
	guard          Guard
	friends        []string
	knownFriends   bool
}

func newClient(hub *Hub, conn *websocket.Conn, id auth.Identity, cfg clientConfig) *Client {
	if cfg.sendBuffer <= 0 {
		cfg.sendBuffer = DefaultSendBuffer
	}
	if cfg.maxMessageSize <= 0 {
		cfg.maxMessageSize = DefaultMaxMessageSize
	}

	c := &Client{
		ID:             uuid.NewString(),
		UserID:         id.UserID,
		Username:       id.Username,
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, cfg.sendBuffer),
		limiter:        cfg.limiter,
		guard:          cfg.guard,
		maxMessageSize: cfg.maxMessageSize,
	}
	if cfg.knownFriends {
		c.friends = make(map[string]struct{}, len(cfg.friends))
		for _, f := range cfg.friends {
			c.friends[f] = struct{}{}
		}
	}
	c.setState(StateAuthenticated)
	return c
}

func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) setState(s ConnState) {
	c.state.Store(int32(s))
}

func (c *Client) identity() auth.Identity {
	return auth.Identity{UserID: c.UserID, Username: c.Username}
}

// readPump decodes and vets frames, then hands them to the hub in read order.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Str("conn", c.ID).Msg("read failed")
			}
			return
		}

		if !c.hub.submit(c.inspect(frame)) {
			return
		}
	}
}

func (c *Client) inspect(frame []byte) inbound {
	if c.limiter != nil && !c.limiter.Allow() {
		name, _, _ := DecodeEvent(frame)
		return inbound{client: c, name: name, err: ErrRateLimited}
	}

	name, ev, err := DecodeEvent(frame)
	if err != nil {
		return inbound{client: c, name: name, err: err}
	}

	if c.guard != nil {
		ctx, cancel := context.WithTimeout(context.Background(), guardTimeout)
		ev, err = c.guard.Authorize(ctx, c.identity(), ev)
		cancel()
		if err != nil {
			return inbound{client: c, name: name, err: err}
		}
	}
	return inbound{client: c, name: name, event: ev}
}

// writePump pumps messages from the hub to the websocket connection. One
// envelope per frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.hub.log.Debug().Err(err).Str("conn", c.ID).Msg("write failed")
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
