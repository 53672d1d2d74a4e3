// Package relay carries hub deliveries between server instances. Every
// instance publishes what it routes and delivers what it receives to its own
// local group members.
package relay

import (
	"context"

	"go-friendchat/internal/presence"
)

// Delivery is one outbound event addressed to a group.
type Delivery struct {
	Group presence.Group `json:"group"`
	// Except is the connection id that must not receive the event.
	Except string `json:"except,omitempty"`
	// Payload is the encoded wire envelope.
	Payload []byte `json:"payload"`
	// AddFriend, when set, is added to the friend set of every receiving
	// connection before the payload is queued.
	AddFriend string `json:"addFriend,omitempty"`
}

// Relay publishes deliveries to every subscribed instance, the publisher
// included.
type Relay interface {
	Publish(ctx context.Context, d Delivery) error
	Deliveries() <-chan Delivery
	Close() error
}
