package user

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"go-friendchat/internal/respond"
)

type Handler struct {
	Service *Service
	log     zerolog.Logger
}

func NewHandler(s *Service, log zerolog.Logger) *Handler {
	return &Handler{Service: s, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !respond.Decode(w, r, &req) {
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	switch {
	case errors.Is(err, ErrFieldsRequired), errors.Is(err, ErrPasswordTooShort), errors.Is(err, ErrUserExists):
		respond.Error(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.log.Error().Err(err).Msg("registration failed")
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	default:
		respond.JSON(w, http.StatusCreated, res)
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !respond.Decode(w, r, &req) {
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	switch {
	case errors.Is(err, ErrCredentialsRequired):
		respond.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		respond.Error(w, http.StatusUnauthorized, err.Error())
	case err != nil:
		h.log.Error().Err(err).Msg("login failed")
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	default:
		respond.JSON(w, http.StatusOK, res)
	}
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		respond.JSON(w, http.StatusOK, []User{})
		return
	}

	users, err := h.Service.SearchUsers(r.Context(), q)
	if err != nil {
		h.log.Error().Err(err).Msg("user search failed")
		respond.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respond.JSON(w, http.StatusOK, users)
}
