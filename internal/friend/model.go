package friend

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusBlocked  Status = "blocked"
)

// Request is one row of the friends table. A pair of users has at most one.
type Request struct {
	ID          string    `json:"id"`
	RequesterID string    `json:"requesterId"`
	RecipientID string    `json:"recipientId"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

type Friend struct {
	UserSummary
	IsOnline     bool      `json:"isOnline"`
	LastSeen     time.Time `json:"lastSeen"`
	FriendshipID string    `json:"friendshipId"`
}

type PendingRequest struct {
	ID        string      `json:"id"`
	Requester UserSummary `json:"requester"`
	CreatedAt time.Time   `json:"createdAt"`
}

type SentRequest struct {
	ID        string      `json:"id"`
	Recipient UserSummary `json:"recipient"`
	CreatedAt time.Time   `json:"createdAt"`
}

type Overview struct {
	Friends         []Friend         `json:"friends"`
	PendingRequests []PendingRequest `json:"pendingRequests"`
	SentRequests    []SentRequest    `json:"sentRequests"`
}

type SendRequest struct {
	RecipientUsername string `json:"recipientUsername"`
}

type RespondRequest struct {
	Action string `json:"action"`
}

type SendResponse struct {
	Message       string `json:"message"`
	FriendRequest struct {
		ID        string      `json:"id"`
		Recipient UserSummary `json:"recipient"`
	} `json:"friendRequest"`
}

type RespondResponse struct {
	Message string  `json:"message"`
	Friend  *Friend `json:"friend,omitempty"`
}
