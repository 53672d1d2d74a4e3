package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"go-friendchat/internal/auth"
)

type MessageStore interface {
	SaveMessage(ctx context.Context, m *Message) error
	GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	MarkRead(ctx context.Context, conversationID, recipientID string) error
	GetMessageByID(ctx context.Context, id string) (*Message, error)
}

type FriendChecker interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// Service is the request/response side of messaging. It persists messages;
// clients then announce them over the hub with send-message.
type Service struct {
	store   MessageStore
	friends FriendChecker
}

func NewService(store MessageStore, friends FriendChecker) *Service {
	return &Service{store: store, friends: friends}
}

func (s *Service) Send(ctx context.Context, sender auth.Identity, req *SendMessageRequest) (*Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" || req.RecipientID == "" {
		return nil, ErrContentRequired
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, ErrContentTooLong
	}

	if err := s.requireFriends(ctx, sender.UserID, req.RecipientID); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: ConversationID(sender.UserID, req.RecipientID),
		SenderID:       sender.UserID,
		SenderUsername: sender.Username,
		RecipientID:    req.RecipientID,
		Content:        content,
		Type:           MessageTypeText,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return msg, nil
}

// History returns the conversation with recipientID and marks what userID
// received as read.
func (s *Service) History(ctx context.Context, userID, recipientID string) ([]*Message, error) {
	if recipientID == "" {
		return nil, ErrRecipientRequired
	}
	if err := s.requireFriends(ctx, userID, recipientID); err != nil {
		return nil, err
	}

	conversationID := ConversationID(userID, recipientID)
	msgs, err := s.store.GetConversationMessages(ctx, conversationID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if err := s.store.MarkRead(ctx, conversationID, userID); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return msgs, nil
}

func (s *Service) requireFriends(ctx context.Context, a, b string) error {
	ok, err := s.friends.AreFriends(ctx, a, b)
	if err != nil {
		return fmt.Errorf("check friendship: %w", err)
	}
	if !ok {
		return ErrNotFriends
	}
	return nil
}
