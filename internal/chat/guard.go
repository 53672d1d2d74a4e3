package chat

import (
	"context"
	"errors"
	"fmt"

	"go-friendchat/internal/auth"
	"go-friendchat/internal/friend"
)

// Guard vets an inbound event before it is routed. It may rewrite the event,
// for instance to drop targets the sender is not related to.
type Guard interface {
	Authorize(ctx context.Context, src auth.Identity, ev Event) (Event, error)
}

// MessageLookup is the part of the message store the guard reads.
type MessageLookup interface {
	GetMessageByID(ctx context.Context, id string) (*Message, error)
}

// FriendRecords is the part of the friend store the guard reads.
type FriendRecords interface {
	GetByID(ctx context.Context, id string) (*friend.Request, error)
	GetBetween(ctx context.Context, a, b string) (*friend.Request, error)
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// RecordGuard checks client-supplied ids against persisted messages, friend
// requests and friendships. It runs on the sending connection's read
// goroutine.
type RecordGuard struct {
	messages MessageLookup
	friends  FriendRecords
}

func NewRecordGuard(messages MessageLookup, friends FriendRecords) *RecordGuard {
	return &RecordGuard{messages: messages, friends: friends}
}

func (g *RecordGuard) Authorize(ctx context.Context, src auth.Identity, ev Event) (Event, error) {
	switch e := ev.(type) {
	case JoinConversation:
		other, ok := Counterpart(e.ConversationID, src.UserID)
		if !ok {
			return nil, denied("not a participant of %s", e.ConversationID)
		}
		if err := g.requireFriends(ctx, src.UserID, other); err != nil {
			return nil, err
		}
		return e, nil

	case SendMessage:
		msg, err := g.messages.GetMessageByID(ctx, e.MessageID)
		if errors.Is(err, ErrMessageNotFound) {
			return nil, denied("unknown message %s", e.MessageID)
		}
		if err != nil {
			return nil, err
		}
		if msg.SenderID != src.UserID || msg.RecipientID != e.RecipientID || msg.ConversationID != e.ConversationID {
			return nil, denied("message %s does not match sender or target", e.MessageID)
		}
		return e, nil

	case FriendRequestSent:
		req, err := g.request(ctx, e.RequestID)
		if err != nil {
			return nil, err
		}
		if req.RequesterID != src.UserID || req.RecipientID != e.RecipientID || req.Status != friend.StatusPending {
			return nil, denied("request %s is not a pending request to %s", e.RequestID, e.RecipientID)
		}
		return e, nil

	case FriendRequestAccepted:
		req, err := g.friends.GetBetween(ctx, src.UserID, e.RequesterID)
		if errors.Is(err, friend.ErrRequestNotFound) {
			return nil, denied("no request from %s", e.RequesterID)
		}
		if err != nil {
			return nil, err
		}
		if req.RequesterID != e.RequesterID || req.RecipientID != src.UserID || req.Status != friend.StatusAccepted {
			return nil, denied("no accepted request from %s", e.RequesterID)
		}
		return e, nil

	case FriendRequestRejected:
		req, err := g.request(ctx, e.RequestID)
		if err != nil {
			return nil, err
		}
		if req.RequesterID != e.RequesterID || req.RecipientID != src.UserID || req.Status != friend.StatusRejected {
			return nil, denied("request %s was not rejected by sender", e.RequestID)
		}
		return e, nil

	case UpdateFriendStatus:
		kept := make([]string, 0, len(e.FriendIDs))
		for _, id := range e.FriendIDs {
			ok, err := g.friends.AreFriends(ctx, src.UserID, id)
			if err != nil {
				return nil, err
			}
			if ok {
				kept = append(kept, id)
			}
		}
		return UpdateFriendStatus{FriendIDs: kept}, nil
	}

	// Typing indicators and leave need no records; the hub checks membership.
	return ev, nil
}

func (g *RecordGuard) request(ctx context.Context, id string) (*friend.Request, error) {
	req, err := g.friends.GetByID(ctx, id)
	if errors.Is(err, friend.ErrRequestNotFound) {
		return nil, denied("unknown request %s", id)
	}
	return req, err
}

func (g *RecordGuard) requireFriends(ctx context.Context, a, b string) error {
	ok, err := g.friends.AreFriends(ctx, a, b)
	if err != nil {
		return err
	}
	if !ok {
		return denied("%s is not a friend", b)
	}
	return nil
}

func denied(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}
