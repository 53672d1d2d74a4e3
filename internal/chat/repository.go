package chat

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) SaveMessage(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, is_read, (SELECT username FROM users WHERE id = $4)
	`
	return r.db.QueryRowContext(ctx, query,
		m.ID, m.ConversationID, m.SenderID, m.RecipientID, m.Content, m.Type,
	).Scan(&m.CreatedAt, &m.IsRead, &m.RecipientUsername)
}

// GetConversationMessages returns the newest limit messages, oldest first.
func (r *Repository) GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	query := `
		SELECT * FROM (
			SELECT m.id, m.conversation_id, m.sender_id, s.username, m.recipient_id, rc.username,
			       m.content, m.type, m.is_read, m.created_at
			FROM messages m
			JOIN users s ON m.sender_id = s.id
			JOIN users rc ON m.recipient_id = rc.id
			WHERE m.conversation_id = $1
			ORDER BY m.created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderUsername,
			&msg.RecipientID, &msg.RecipientUsername, &msg.Content, &msg.Type, &msg.IsRead, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *Repository) MarkRead(ctx context.Context, conversationID, recipientID string) error {
	query := "UPDATE messages SET is_read = TRUE WHERE conversation_id = $1 AND recipient_id = $2 AND is_read = FALSE"
	_, err := r.db.ExecContext(ctx, query, conversationID, recipientID)
	return err
}

func (r *Repository) GetMessageByID(ctx context.Context, id string) (*Message, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrMessageNotFound
	}
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, s.username, m.recipient_id, rc.username,
		       m.content, m.type, m.is_read, m.created_at
		FROM messages m
		JOIN users s ON m.sender_id = s.id
		JOIN users rc ON m.recipient_id = rc.id
		WHERE m.id = $1
	`
	msg := &Message{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderUsername,
		&msg.RecipientID, &msg.RecipientUsername, &msg.Content, &msg.Type, &msg.IsRead, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}
