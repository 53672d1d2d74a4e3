package myMiddleware

import (
	"context"
	"net/http"
	"strings"

	"go-friendchat/internal/auth"
	"go-friendchat/internal/respond"
)

type contextKey string

const identityKey contextKey = "identity"

type AuthMiddleware struct {
	verifier auth.Verifier
}

func NewAuthMiddleware(v auth.Verifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: v}
}

// Handle accepts a bearer token, falling back to the token query param.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := BearerToken(r)
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			respond.Error(w, http.StatusUnauthorized, "No token provided")
			return
		}

		id, err := am.verifier.Verify(r.Context(), tokenString)
		if err != nil {
			respond.Error(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// BearerToken returns the credential of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}
