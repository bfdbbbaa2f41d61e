package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/snippet-manager/internal/model"
)

// UserService lists share targets (service.UserService).
type UserService interface {
	List(ctx context.Context, requester string, page, size int, name string) ([]model.User, error)
}

type UserHandler struct {
	users  UserService
	logger *slog.Logger
}

func NewUserHandler(users UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// HandleList returns other users, optionally filtered by nickname.
//
// HTTP: GET /user/get?page=0&size=10&name=bo
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	page, err := queryInt(r, "page", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := queryInt(r, "size", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	users, err := h.users.List(r.Context(), email, page, size, r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}
