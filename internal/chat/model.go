package chat

import "time"

const (
	MaxContentLength = 1000
	HistoryLimit     = 100

	MessageTypeText = "text"
)

// Message is a persisted direct message. Usernames are denormalized for the
// UI and filled by the repository.
type Message struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversationId"`
	SenderID          string    `json:"senderId"`
	SenderUsername    string    `json:"senderUsername"`
	RecipientID       string    `json:"recipientId"`
	RecipientUsername string    `json:"recipientUsername"`
	Content           string    `json:"content"`
	Type              string    `json:"type"`
	IsRead            bool      `json:"isRead"`
	CreatedAt         time.Time `json:"createdAt"`
}

type SendMessageRequest struct {
	Content     string `json:"content"`
	RecipientID string `json:"recipientId"`
}
