// Package model defines the data structures used throughout the application.
//
// WHERE DOES THE CODE LIVE?
// A Snippet row holds only metadata (name, language, author). The source text
// itself lives in the content store under the snippet's numeric ID, so none of
// the database types below carry a Code field. Only the view types that are
// assembled for a response do.
package model

import "time"

// Snippet is the metadata record of a stored code snippet.
// Author is the creator's email and never changes after creation.
type Snippet struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Language  string    `json:"language"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SharedSnippet is a read grant: UserEmail may view SnippetID.
// At most one grant exists per (snippet, user).
type SharedSnippet struct {
	ID        int64     `json:"id"`
	SnippetID int64     `json:"snippetId"`
	UserEmail string    `json:"userEmail"`
	CreatedAt time.Time `json:"createdAt"`
}

// SnippetInput carries the fields a caller supplies on create.
type SnippetInput struct {
	Name      string `json:"name"`
	Language  string `json:"language"`
	Code      string `json:"code"`
	Extension string `json:"extension"`
}

// SnippetView is the detail view returned by get/create/edit: metadata,
// content and the author's compliance status.
type SnippetView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Language  string `json:"language"`
	Code      string `json:"code"`
	Author    string `json:"author"`
	Status    string `json:"status"`
	Extension string `json:"extension"`
}

// SnippetSummary is one row of a search result. Content is not included.
type SnippetSummary struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Author   string `json:"author"`
	Status   string `json:"status"`
}

// Page is one page of a paginated result. Page numbers are 0-based.
type Page[T any] struct {
	Content       []T   `json:"content"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
}

// NewPage fills in TotalPages from total and size.
func NewPage[T any](content []T, page, size int, total int64) Page[T] {
	if content == nil {
		content = []T{}
	}
	pages := 0
	if size > 0 {
		pages = int((total + int64(size) - 1) / int64(size))
	}
	return Page[T]{
		Content:       content,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    pages,
	}
}
