package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sakif/snippet-manager/internal/correlation"
	"github.com/sakif/snippet-manager/internal/model"
)

// UserLister is the identity-provider directory (auth.Directory).
type UserLister interface {
	ListUsers(ctx context.Context, page, perPage int, name string) ([]model.User, error)
}

// UserService lists the other users a snippet can be shared with.
type UserService struct {
	users  UserLister
	logger *slog.Logger
}

func NewUserService(users UserLister, logger *slog.Logger) *UserService {
	return &UserService{users: users, logger: logger}
}

// List returns a page of users excluding requester. page is 0-based.
func (s *UserService) List(ctx context.Context, requester string, page, size int, name string) ([]model.User, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	users, err := s.users.ListUsers(ctx, page, size, name)
	if err != nil {
		s.logger.Error("listing users failed", slog.String("error", err.Error()), correlation.Attr(ctx))
		return nil, err
	}

	out := make([]model.User, 0, len(users))
	for _, u := range users {
		if strings.EqualFold(u.Email, requester) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}
