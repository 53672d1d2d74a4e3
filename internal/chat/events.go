package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventName is part of the wire contract. Renaming one is a breaking change.
type EventName string

// Client -> server
const (
	EventJoinConversation      EventName = "join-conversation"
	EventLeaveConversation     EventName = "leave-conversation"
	EventSendMessage           EventName = "send-message"
	EventTyping                EventName = "typing"
	EventStopTyping            EventName = "stop-typing"
	EventFriendRequestSent     EventName = "friend-request-sent"
	EventFriendRequestAccepted EventName = "friend-request-accepted"
	EventFriendRequestRejected EventName = "friend-request-rejected"
	EventUpdateFriendStatus    EventName = "update-friend-status"
)

// Server -> client
const (
	EventNewMessage            EventName = "new-message"
	EventMessageNotification   EventName = "message-notification"
	EventUserTyping            EventName = "user-typing"
	EventUserStopTyping        EventName = "user-stop-typing"
	EventFriendRequestReceived EventName = "friend-request-received"
	EventFriendRequestResponse EventName = "friend-request-response"
	EventFriendStatusChange    EventName = "friend-status-change"
	EventError                 EventName = "error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is one validated inbound event. The set of implementations is closed.
type Event interface {
	Name() EventName
}

type JoinConversation struct {
	ConversationID string
}

type LeaveConversation struct {
	ConversationID string
}

type SendMessage struct {
	ConversationID string          `json:"conversationId"`
	RecipientID    string          `json:"recipientId"`
	Message        json.RawMessage `json:"message"`
	// MessageID is read from Message.id.
	MessageID string `json:"-"`
}

type Typing struct {
	ConversationID string `json:"conversationId"`
}

type StopTyping struct {
	ConversationID string `json:"conversationId"`
}

type FriendRequestSent struct {
	RecipientID string          `json:"recipientId"`
	RequestID   string          `json:"requestId"`
	Requester   json.RawMessage `json:"requester"`
}

type FriendRequestAccepted struct {
	RequesterID string          `json:"requesterId"`
	Friend      json.RawMessage `json:"friend"`
}

type FriendRequestRejected struct {
	RequesterID string `json:"requesterId"`
	RequestID   string `json:"requestId"`
}

type UpdateFriendStatus struct {
	FriendIDs []string
}

func (JoinConversation) Name() EventName      { return EventJoinConversation }
func (LeaveConversation) Name() EventName     { return EventLeaveConversation }
func (SendMessage) Name() EventName           { return EventSendMessage }
func (Typing) Name() EventName                { return EventTyping }
func (StopTyping) Name() EventName            { return EventStopTyping }
func (FriendRequestSent) Name() EventName     { return EventFriendRequestSent }
func (FriendRequestAccepted) Name() EventName { return EventFriendRequestAccepted }
func (FriendRequestRejected) Name() EventName { return EventFriendRequestRejected }
func (UpdateFriendStatus) Name() EventName    { return EventUpdateFriendStatus }

// DecodeEvent parses one frame into its typed event. Every error wraps
// ErrMalformedEvent. The envelope's event name is returned even on failure
// so the sender can be told which event was dropped.
func DecodeEvent(frame []byte) (EventName, Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	ev, err := decodeData(env.Event, env.Data)
	return env.Event, ev, err
}

func decodeData(name EventName, data json.RawMessage) (Event, error) {
	switch name {
	case EventJoinConversation:
		id, err := decodeConversationRef(data)
		if err != nil {
			return nil, err
		}
		return JoinConversation{ConversationID: id}, nil

	case EventLeaveConversation:
		id, err := decodeConversationRef(data)
		if err != nil {
			return nil, err
		}
		return LeaveConversation{ConversationID: id}, nil

	case EventSendMessage:
		var e SendMessage
		if err := strictDecode(data, &e); err != nil {
			return nil, err
		}
		if e.ConversationID == "" || e.RecipientID == "" {
			return nil, missing(name, "conversationId", "recipientId")
		}
		if !isObject(e.Message) {
			return nil, missing(name, "message")
		}
		var ref struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(e.Message, &ref); err != nil || ref.ID == "" {
			return nil, missing(name, "message.id")
		}
		e.MessageID = ref.ID
		return e, nil

	case EventTyping:
		var e Typing
		if err := strictDecode(data, &e); err != nil {
			return nil, err
		}
		if e.ConversationID == "" {
			return nil, missing(name, "conversationId")
		}
		return e, nil

	case EventStopTyping:
		var e StopTyping
		if err := strictDecode(data, &e); err != nil {
			return nil, err
		}
		if e.ConversationID == "" {
			return nil, missing(name, "conversationId")
		}
		return e, nil

	case EventFriendRequestSent:
		var e FriendRequestSent
		if err := strictDecode(data, &e); err != nil {
			return nil, err
		}
		if e.RecipientID == "" || e.RequestID == "" || !isObject(e.Requester) {
			return nil, missing(name, "recipientId", "requestId", "requester")
		}
		return e, nil

	case EventFriendRequestAccepted:
		var e FriendRequestAccepted
		if err := strictDecode(data, &e); err != nil {
			return nil, err
		}
		if e.RequesterID == "" || !isObject(e.Friend) {
			return nil, missing(name, "requesterId", "friend")
		}
		return e, nil

	case EventFriendRequestRejected:
		var e FriendRequestRejected
		if err := strictDecode(data, &e); err != nil {
			return nil, err
		}
		if e.RequesterID == "" || e.RequestID == "" {
			return nil, missing(name, "requesterId", "requestId")
		}
		return e, nil

	case EventUpdateFriendStatus:
		var ids []string
		if err := strictDecode(data, &ids); err != nil {
			return nil, err
		}
		for _, id := range ids {
			if id == "" {
				return nil, fmt.Errorf("%w: %s: empty friend id", ErrMalformedEvent, name)
			}
		}
		return UpdateFriendStatus{FriendIDs: ids}, nil

	case "":
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrMalformedEvent, name)
	}
}

// Conversation refs are a bare JSON string.
func decodeConversationRef(data json.RawMessage) (string, error) {
	var id string
	if err := strictDecode(data, &id); err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%w: empty conversation id", ErrMalformedEvent)
	}
	return id, nil
}

func strictDecode(data json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 1 && trimmed[0] == '{'
}

func missing(name EventName, fields ...string) error {
	return fmt.Errorf("%w: %s requires %v", ErrMalformedEvent, name, fields)
}

// Outbound payloads.

type MessageNotification struct {
	SenderID       string          `json:"senderId"`
	SenderUsername string          `json:"senderUsername"`
	ConversationID string          `json:"conversationId"`
	Message        json.RawMessage `json:"message"`
}

type UserTyping struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type UserStopTyping struct {
	UserID string `json:"userId"`
}

type FriendRequestReceived struct {
	RequestID string          `json:"requestId"`
	Requester json.RawMessage `json:"requester"`
}

type FriendRequestResponse struct {
	Type      string          `json:"type"`
	Friend    json.RawMessage `json:"friend,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

type FriendStatusChange struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsOnline bool   `json:"isOnline"`
}

type EventFailure struct {
	Event EventName `json:"event,omitempty"`
	Error string    `json:"error"`
}

// Encode builds a wire envelope.
func Encode(name EventName, data interface{}) ([]byte, error) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
	}
	return json.Marshal(Envelope{Event: name, Data: raw})
}
