package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go-friendchat/internal/auth"
	myMiddleware "go-friendchat/internal/middleware"
)

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
	StateRejected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

const DefaultHandshakeTimeout = 5 * time.Second

// Authenticator verifies the credential carried by a websocket upgrade
// request before the upgrade completes.
type Authenticator struct {
	verifier auth.Verifier
	timeout  time.Duration
}

func NewAuthenticator(v auth.Verifier, timeout time.Duration) *Authenticator {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	return &Authenticator{verifier: v, timeout: timeout}
}

// Credential looks in the auth.token query param first, then token, then a
// bearer header.
func Credential(r *http.Request) string {
	q := r.URL.Query()
	if token := q.Get("auth.token"); token != "" {
		return token
	}
	if token := q.Get("token"); token != "" {
		return token
	}
	return myMiddleware.BearerToken(r)
}

// Authenticate returns the identity bound to the request's credential. Every
// failure is an *AuthError.
func (a *Authenticator) Authenticate(r *http.Request) (auth.Identity, error) {
	credential := Credential(r)
	if credential == "" {
		return auth.Identity{}, &AuthError{Reason: ReasonNoToken}
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()

	type result struct {
		id  auth.Identity
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := a.verifier.Verify(ctx, credential)
		done <- result{id: id, err: err}
	}()

	select {
	case res := <-done:
		switch {
		case errors.Is(res.err, auth.ErrInvalidToken):
			return auth.Identity{}, &AuthError{Reason: ReasonInvalidToken, Err: res.err}
		case res.err != nil:
			return auth.Identity{}, &AuthError{Reason: ReasonAuthError, Err: res.err}
		case res.id.UserID == "":
			return auth.Identity{}, &AuthError{Reason: ReasonInvalidToken, Err: auth.ErrInvalidToken}
		}
		return res.id, nil
	case <-ctx.Done():
		return auth.Identity{}, &AuthError{Reason: ReasonAuthError, Err: ctx.Err()}
	}
}
