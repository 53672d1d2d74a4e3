package friend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"go-friendchat/internal/user"
)

var (
	ErrRecipientRequired = errors.New("recipient username is required")
	ErrUserNotFound      = errors.New("user not found")
	ErrSelfRequest       = errors.New("cannot send friend request to yourself")
	ErrAlreadyFriends    = errors.New("already friends")
	ErrAlreadyPending    = errors.New("friend request already sent")
	ErrRequestNotFound   = errors.New("friend request not found")
	ErrForbidden         = errors.New("unauthorized")
	ErrInvalidAction     = errors.New("invalid action")
	ErrRequestNotPending = errors.New("friend request is no longer pending")
)

const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

type Store interface {
	Create(ctx context.Context, req *Request) error
	GetByID(ctx context.Context, id string) (*Request, error)
	GetBetween(ctx context.Context, a, b string) (*Request, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error
	ListFriends(ctx context.Context, userID string) ([]Friend, error)
	ListPending(ctx context.Context, userID string) ([]PendingRequest, error)
	ListSent(ctx context.Context, userID string) ([]SentRequest, error)
}

type UserFinder interface {
	GetUserByUsername(ctx context.Context, username string) (*user.User, error)
	GetUserByID(ctx context.Context, id string) (*user.User, error)
}

type Service struct {
	store Store
	users UserFinder
}

func NewService(store Store, users UserFinder) *Service {
	return &Service{store: store, users: users}
}

func (s *Service) Overview(ctx context.Context, userID string) (*Overview, error) {
	friends, err := s.store.ListFriends(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	pending, err := s.store.ListPending(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	sent, err := s.store.ListSent(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sent: %w", err)
	}
	return &Overview{Friends: friends, PendingRequests: pending, SentRequests: sent}, nil
}

// SendRequest creates a pending request from requesterID to the named user.
// A pair whose last request was rejected may try again.
func (s *Service) SendRequest(ctx context.Context, requesterID, recipientUsername string) (*SendResponse, error) {
	recipientUsername = strings.TrimSpace(recipientUsername)
	if recipientUsername == "" {
		return nil, ErrRecipientRequired
	}

	recipient, err := s.users.GetUserByUsername(ctx, recipientUsername)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if recipient.ID == requesterID {
		return nil, ErrSelfRequest
	}

	existing, err := s.store.GetBetween(ctx, requesterID, recipient.ID)
	switch {
	case errors.Is(err, ErrRequestNotFound):
	case err != nil:
		return nil, err
	case existing.Status == StatusAccepted:
		return nil, ErrAlreadyFriends
	case existing.Status == StatusPending:
		return nil, ErrAlreadyPending
	case existing.Status == StatusBlocked:
		return nil, ErrForbidden
	default:
		if err := s.store.Delete(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("clear rejected request: %w", err)
		}
	}

	req := &Request{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		RecipientID: recipient.ID,
		Status:      StatusPending,
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	res := &SendResponse{Message: "Friend request sent successfully"}
	res.FriendRequest.ID = req.ID
	res.FriendRequest.Recipient = summary(recipient)
	return res, nil
}

// Respond lets the recipient of request id accept or reject it.
func (s *Service) Respond(ctx context.Context, userID, id, action string) (*RespondResponse, error) {
	if action != ActionAccept && action != ActionReject {
		return nil, ErrInvalidAction
	}

	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RecipientID != userID {
		return nil, ErrForbidden
	}
	if req.Status != StatusPending {
		return nil, ErrRequestNotPending
	}

	if action == ActionReject {
		if err := s.store.UpdateStatus(ctx, id, StatusRejected); err != nil {
			return nil, err
		}
		return &RespondResponse{Message: "Friend request rejected"}, nil
	}

	if err := s.store.UpdateStatus(ctx, id, StatusAccepted); err != nil {
		return nil, err
	}
	requester, err := s.users.GetUserByID(ctx, req.RequesterID)
	if err != nil {
		return nil, fmt.Errorf("load requester: %w", err)
	}
	return &RespondResponse{
		Message: "Friend request accepted",
		Friend: &Friend{
			UserSummary:  summary(requester),
			IsOnline:     requester.IsOnline,
			LastSeen:     requester.LastSeen,
			FriendshipID: req.ID,
		},
	}, nil
}

func summary(u *user.User) UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Email: u.Email, Avatar: u.Avatar}
}
