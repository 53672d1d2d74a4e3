package chat

import (
	"fmt"

	"go-friendchat/internal/presence"
	"go-friendchat/internal/relay"
)

// route applies one validated event. Nothing is persisted here; messages
// and friend requests were stored through the REST handlers first.
func (h *Hub) route(c *Client, ev Event) error {
	switch e := ev.(type) {
	case JoinConversation:
		if _, ok := Counterpart(e.ConversationID, c.UserID); !ok {
			return fmt.Errorf("%w: not a participant of %s", ErrAuthorization, e.ConversationID)
		}
		h.registry.Join(c.ID, presence.ConversationGroup(e.ConversationID))
		return nil

	case LeaveConversation:
		if h.stopTyping(c, e.ConversationID) {
			h.announceStopTyping(c, e.ConversationID)
		}
		h.registry.Leave(c.ID, presence.ConversationGroup(e.ConversationID))
		return nil

	case SendMessage:
		if other, ok := Counterpart(e.ConversationID, c.UserID); !ok || other != e.RecipientID {
			return fmt.Errorf("%w: %s is not the other participant of %s", ErrAuthorization, e.RecipientID, e.ConversationID)
		}
		if err := h.emit(presence.ConversationGroup(e.ConversationID), c.ID, EventNewMessage, e.Message); err != nil {
			return err
		}
		return h.emit(presence.UserGroup(e.RecipientID), c.ID, EventMessageNotification, MessageNotification{
			SenderID:       c.UserID,
			SenderUsername: c.Username,
			ConversationID: e.ConversationID,
			Message:        e.Message,
		})

	case Typing:
		g := presence.ConversationGroup(e.ConversationID)
		if !h.canType(c, g) {
			return fmt.Errorf("%w: not a participant of %s", ErrAuthorization, e.ConversationID)
		}
		h.startTyping(c, e.ConversationID)
		return h.emit(g, c.ID, EventUserTyping, UserTyping{UserID: c.UserID, Username: c.Username})

	case StopTyping:
		g := presence.ConversationGroup(e.ConversationID)
		if !h.canType(c, g) {
			return fmt.Errorf("%w: not in %s", ErrAuthorization, e.ConversationID)
		}
		h.stopTyping(c, e.ConversationID)
		return h.emit(g, c.ID, EventUserStopTyping, UserStopTyping{UserID: c.UserID})

	case FriendRequestSent:
		return h.emit(presence.UserGroup(e.RecipientID), c.ID, EventFriendRequestReceived, FriendRequestReceived{
			RequestID: e.RequestID,
			Requester: e.Requester,
		})

	case FriendRequestAccepted:
		payload, err := Encode(EventFriendRequestResponse, FriendRequestResponse{Type: "accepted", Friend: e.Friend})
		if err != nil {
			return err
		}
		h.deliver(relay.Delivery{
			Group:     presence.UserGroup(e.RequesterID),
			Except:    c.ID,
			Payload:   payload,
			AddFriend: c.UserID,
		})
		// The accepting side learns its new friend too.
		h.deliver(relay.Delivery{Group: presence.UserGroup(c.UserID), AddFriend: e.RequesterID})
		return nil

	case FriendRequestRejected:
		return h.emit(presence.UserGroup(e.RequesterID), c.ID, EventFriendRequestResponse, FriendRequestResponse{
			Type:      "rejected",
			RequestID: e.RequestID,
		})

	case UpdateFriendStatus:
		payload, err := Encode(EventFriendStatusChange, FriendStatusChange{
			UserID:   c.UserID,
			Username: c.Username,
			IsOnline: true,
		})
		if err != nil {
			return err
		}
		for _, id := range e.FriendIDs {
			h.deliver(relay.Delivery{Group: presence.UserGroup(id), Except: c.ID, Payload: payload})
		}
		return nil
	}

	return fmt.Errorf("%w: no route for %T", ErrMalformedEvent, ev)
}

// canType admits members of the group and participants who have not joined.
func (h *Hub) canType(c *Client, g presence.Group) bool {
	if h.registry.IsMember(c.ID, g) {
		return true
	}
	_, ok := Counterpart(g.ID, c.UserID)
	return ok
}

func (h *Hub) emit(g presence.Group, except string, name EventName, data interface{}) error {
	payload, err := Encode(name, data)
	if err != nil {
		return err
	}
	h.deliver(relay.Delivery{Group: g, Except: except, Payload: payload})
	return nil
}
