package friend

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

const requestColumns = "id, requester_id, recipient_id, status, created_at, updated_at"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, req *Request) error {
	query := `
		INSERT INTO friends (id, requester_id, recipient_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query, req.ID, req.RequesterID, req.RecipientID, req.Status).
		Scan(&req.CreatedAt, &req.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Request, error) {
	if !validIDs(id) {
		return nil, ErrRequestNotFound
	}
	return r.getOne(ctx, "SELECT "+requestColumns+" FROM friends WHERE id = $1", id)
}

// GetBetween finds the row for a pair in either direction.
func (r *Repository) GetBetween(ctx context.Context, a, b string) (*Request, error) {
	if !validIDs(a, b) {
		return nil, ErrRequestNotFound
	}
	query := "SELECT " + requestColumns + ` FROM friends
		WHERE (requester_id = $1 AND recipient_id = $2) OR (requester_id = $2 AND recipient_id = $1)
		LIMIT 1`
	return r.getOne(ctx, query, a, b)
}

func (r *Repository) getOne(ctx context.Context, query string, args ...interface{}) (*Request, error) {
	req := &Request{}
	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&req.ID, &req.RequesterID, &req.RecipientID, &req.Status, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status) error {
	res, err := r.db.ExecContext(ctx, "UPDATE friends SET status = $2, updated_at = NOW() WHERE id = $1", id, status)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM friends WHERE id = $1", id)
	return err
}

func (r *Repository) ListFriends(ctx context.Context, userID string) ([]Friend, error) {
	query := `
		SELECT u.id, u.username, u.email, u.avatar, u.is_online, u.last_seen, f.id
		FROM friends f
		JOIN users u ON u.id = CASE WHEN f.requester_id = $1 THEN f.recipient_id ELSE f.requester_id END
		WHERE (f.requester_id = $1 OR f.recipient_id = $1) AND f.status = 'accepted'
		ORDER BY u.username
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	friends := []Friend{}
	for rows.Next() {
		var f Friend
		if err := rows.Scan(&f.ID, &f.Username, &f.Email, &f.Avatar, &f.IsOnline, &f.LastSeen, &f.FriendshipID); err != nil {
			return nil, err
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

func (r *Repository) ListPending(ctx context.Context, userID string) ([]PendingRequest, error) {
	query := `
		SELECT f.id, u.id, u.username, u.email, u.avatar, f.created_at
		FROM friends f
		JOIN users u ON u.id = f.requester_id
		WHERE f.recipient_id = $1 AND f.status = 'pending'
		ORDER BY f.created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pending := []PendingRequest{}
	for rows.Next() {
		var p PendingRequest
		if err := rows.Scan(&p.ID, &p.Requester.ID, &p.Requester.Username, &p.Requester.Email, &p.Requester.Avatar, &p.CreatedAt); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func (r *Repository) ListSent(ctx context.Context, userID string) ([]SentRequest, error) {
	query := `
		SELECT f.id, u.id, u.username, u.email, u.avatar, f.created_at
		FROM friends f
		JOIN users u ON u.id = f.recipient_id
		WHERE f.requester_id = $1 AND f.status = 'pending'
		ORDER BY f.created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sent := []SentRequest{}
	for rows.Next() {
		var s SentRequest
		if err := rows.Scan(&s.ID, &s.Recipient.ID, &s.Recipient.Username, &s.Recipient.Email, &s.Recipient.Avatar, &s.CreatedAt); err != nil {
			return nil, err
		}
		sent = append(sent, s)
	}
	return sent, rows.Err()
}

// FriendIDs lists the user ids with an accepted friendship to userID.
func (r *Repository) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT CASE WHEN requester_id = $1 THEN recipient_id ELSE requester_id END
		FROM friends
		WHERE (requester_id = $1 OR recipient_id = $1) AND status = 'accepted'
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) AreFriends(ctx context.Context, a, b string) (bool, error) {
	if !validIDs(a, b) {
		return false, nil
	}
	var ok bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM friends
			WHERE ((requester_id = $1 AND recipient_id = $2) OR (requester_id = $2 AND recipient_id = $1))
			  AND status = 'accepted'
		)
	`
	err := r.db.QueryRowContext(ctx, query, a, b).Scan(&ok)
	return ok, err
}

// Ids are UUID columns; anything else cannot match a row.
func validIDs(ids ...string) bool {
	for _, id := range ids {
		if uuid.Validate(id) != nil {
			return false
		}
	}
	return true
}
