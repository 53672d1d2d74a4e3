package friend

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	myMiddleware "go-friendchat/internal/middleware"
	"go-friendchat/internal/respond"
)

type Handler struct {
	Service *Service
	log     zerolog.Logger
}

func NewHandler(s *Service, log zerolog.Logger) *Handler {
	return &Handler{Service: s, log: log}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, _ := myMiddleware.IdentityFrom(r.Context())

	overview, err := h.Service.Overview(r.Context(), id.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, overview)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	id, _ := myMiddleware.IdentityFrom(r.Context())

	var req SendRequest
	if !respond.Decode(w, r, &req) {
		return
	}

	res, err := h.Service.SendRequest(r.Context(), id.UserID, req.RecipientUsername)
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

// Respond handles PATCH /api/friends/{id}.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	id, _ := myMiddleware.IdentityFrom(r.Context())

	var req RespondRequest
	if !respond.Decode(w, r, &req) {
		return
	}

	res, err := h.Service.Respond(r.Context(), id.UserID, chi.URLParam(r, "id"), req.Action)
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrRequestNotFound):
		respond.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		respond.Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrRecipientRequired), errors.Is(err, ErrSelfRequest), errors.Is(err, ErrAlreadyFriends),
		errors.Is(err, ErrAlreadyPending), errors.Is(err, ErrInvalidAction), errors.Is(err, ErrRequestNotPending):
		respond.Error(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Msg("friend request failed")
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
