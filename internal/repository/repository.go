package repository

import (
	"context"

	"github.com/sakif/snippet-manager/internal/model"
)

// SnippetRepository stores snippet metadata.
//
// Create inserts the snippet together with the author's PENDING status row
// in one transaction. Delete removes the snippet with all of its grants and
// status rows.
type SnippetRepository interface {
	Create(ctx context.Context, snippet *model.Snippet) error
	GetByID(ctx context.Context, id int64) (*model.Snippet, error)
	ListByAuthor(ctx context.Context, author string) ([]model.Snippet, error)
	Delete(ctx context.Context, id int64) error
}

// StatusRepository stores the per-(snippet, user) compliance status.
type StatusRepository interface {
	GetStatus(ctx context.Context, snippetID int64, email string) (*model.SnippetStatus, error)
	SetStatus(ctx context.Context, snippetID int64, email string, status model.Status) error
	ResetStatusesForUser(ctx context.Context, email string, status model.Status) (int64, error)
}

// ShareRepository stores read grants.
//
// Share inserts the grant and a PENDING status row for the grantee; Revoke
// removes both. Each runs in one transaction.
type ShareRepository interface {
	Share(ctx context.Context, grant *model.SharedSnippet) error
	IsSharedWith(ctx context.Context, snippetID int64, email string) (bool, error)
	Revoke(ctx context.Context, snippetID int64, email string) error
}

// SearchRepository runs the read-only filtered search.
type SearchRepository interface {
	Search(ctx context.Context, q model.SearchQuery) (model.Page[model.SnippetSummary], error)
}

// Store is everything the snippet service needs from persistence.
type Store interface {
	SnippetRepository
	StatusRepository
	ShareRepository
	SearchRepository
}
