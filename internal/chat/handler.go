package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	myMiddleware "go-friendchat/internal/middleware"
	"go-friendchat/internal/respond"
)

type HandlerOptions struct {
	Logger zerolog.Logger
	// Guard vets inbound events. Nil trusts client-supplied ids.
	Guard Guard
	// Friends seeds each connection's friend set. Nil leaves it unknown.
	Friends        FriendLister
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
	// RateBurst events are allowed per RateInterval. Zero disables limiting.
	RateBurst    int
	RateInterval time.Duration
}

type Handler struct {
	hub      *Hub
	service  *Service
	auth     *Authenticator
	upgrader websocket.Upgrader
	opts     HandlerOptions
	log      zerolog.Logger
}

func NewHandler(hub *Hub, service *Service, authn *Authenticator, opts HandlerOptions) *Handler {
	origins := opts.AllowedOrigins
	if origins == nil {
		origins = []string{"*"}
	}
	policy := NewOriginPolicy(origins, opts.Logger)

	return &Handler{
		hub:     hub,
		service: service,
		auth:    authn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.Check,
		},
		opts: opts,
		log:  opts.Logger.With().Str("component", "ws").Logger(),
	}
}

// ServeWs authenticates the upgrade request, then hands the connection to the
// hub. Rejected handshakes never reach the hub.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	log := h.log.With().Str("remote", r.RemoteAddr).Logger()
	log.Debug().Stringer("state", StateConnecting).Msg("handshake started")

	log.Debug().Stringer("state", StateAuthenticating).Msg("verifying credential")
	id, err := h.auth.Authenticate(r)
	if err != nil {
		reason := ReasonAuthError
		var authErr *AuthError
		if errors.As(err, &authErr) {
			reason = authErr.Reason
		}
		log.Info().Err(err).Stringer("state", StateRejected).Msg("handshake rejected")
		respond.Error(w, http.StatusUnauthorized, reason)
		return
	}

	cfg := clientConfig{
		sendBuffer:     h.opts.SendBuffer,
		maxMessageSize: h.opts.MaxMessageSize,
		guard:          h.opts.Guard,
		limiter:        h.newLimiter(),
	}
	if h.opts.Friends != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.auth.timeout)
		friends, err := h.opts.Friends.FriendIDs(ctx, id.UserID)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("user", id.UserID).Msg("could not load friends")
		} else {
			cfg.friends, cfg.knownFriends = friends, true
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	client := newClient(h.hub, conn, id, cfg)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Handler) newLimiter() *rate.Limiter {
	if h.opts.RateBurst <= 0 {
		return nil
	}
	interval := h.opts.RateInterval
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Every(interval/time.Duration(h.opts.RateBurst)), h.opts.RateBurst)
}

// GetMessages handles GET /api/messages?recipientId=.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	id, _ := myMiddleware.IdentityFrom(r.Context())

	msgs, err := h.service.History(r.Context(), id.UserID, r.URL.Query().Get("recipientId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	id, _ := myMiddleware.IdentityFrom(r.Context())

	var req SendMessageRequest
	if !respond.Decode(w, r, &req) {
		return
	}

	msg, err := h.service.Send(r.Context(), id, &req)
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"message": msg})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrContentRequired), errors.Is(err, ErrRecipientRequired), errors.Is(err, ErrContentTooLong):
		respond.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFriends):
		respond.Error(w, http.StatusForbidden, err.Error())
	default:
		h.log.Error().Err(err).Msg("message request failed")
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
