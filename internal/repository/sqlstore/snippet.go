package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/sakif/snippet-manager/internal/apperror"
	"github.com/sakif/snippet-manager/internal/model"
	"github.com/sakif/snippet-manager/internal/repository"
)

var _ repository.SnippetRepository = (*DB)(nil)

var snippetColumns = []string{"id", "name", "language", "author", "created_at", "updated_at"}

// Create inserts a snippet and the author's PENDING status row.
//
// Both rows are written in one transaction, so a snippet can never exist
// without the author's status row. On success the snippet's ID and
// timestamps are filled in.
func (db *DB) Create(ctx context.Context, snippet *model.Snippet) error {
	now := time.Now().UTC()
	snippet.CreatedAt = now
	snippet.UpdatedAt = now

	return db.withTx(ctx, func(tx *sql.Tx) error {
		row, err := queryRow(ctx, tx, db.qb().
			Insert("snippets").
			Columns("name", "language", "author", "created_at", "updated_at").
			Values(snippet.Name, snippet.Language, snippet.Author, now, now).
			Suffix("RETURNING id"))
		if err != nil {
			return fmt.Errorf("sqlstore: creating snippet: %w", err)
		}
		if err := row.Scan(&snippet.ID); err != nil {
			return fmt.Errorf("sqlstore: creating snippet: %w", err)
		}

		status := &model.SnippetStatus{
			SnippetID: snippet.ID,
			UserEmail: snippet.Author,
			Status:    model.StatusPending,
		}
		if err := db.insertStatus(ctx, tx, status); err != nil {
			return fmt.Errorf("sqlstore: creating author status: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a snippet's metadata.
func (db *DB) GetByID(ctx context.Context, id int64) (*model.Snippet, error) {
	row, err := queryRow(ctx, db.conn, db.qb().
		Select(snippetColumns...).
		From("snippets").
		Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: getting snippet %d: %w", id, err)
	}

	var s model.Snippet
	if err := row.Scan(&s.ID, &s.Name, &s.Language, &s.Author, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("snippet", id)
		}
		return nil, fmt.Errorf("sqlstore: getting snippet %d: %w", id, err)
	}
	return &s, nil
}

// ListByAuthor returns every snippet created by author, oldest first.
// Bulk job dispatch relies on this order.
func (db *DB) ListByAuthor(ctx context.Context, author string) ([]model.Snippet, error) {
	query, args, err := db.qb().
		Select(snippetColumns...).
		From("snippets").
		Where(sq.Eq{"author": author}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building author listing: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing snippets of %s: %w", author, err)
	}
	defer rows.Close()

	snippets := make([]model.Snippet, 0)
	for rows.Next() {
		var s model.Snippet
		if err := rows.Scan(&s.ID, &s.Name, &s.Language, &s.Author, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scanning snippet row: %w", err)
		}
		snippets = append(snippets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterating snippets: %w", err)
	}

	return snippets, nil
}

// Delete removes a snippet with all its grants and status rows.
//
// The child rows are deleted explicitly rather than through ON DELETE
// CASCADE: SQLite only honours foreign keys on connections where the pragma
// was set.
func (db *DB) Delete(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := exec(ctx, tx, db.qb().Delete("snippet_statuses").Where(sq.Eq{"snippet_id": id})); err != nil {
			return fmt.Errorf("sqlstore: deleting statuses of snippet %d: %w", id, err)
		}
		if _, err := exec(ctx, tx, db.qb().Delete("shared_snippets").Where(sq.Eq{"snippet_id": id})); err != nil {
			return fmt.Errorf("sqlstore: deleting grants of snippet %d: %w", id, err)
		}

		n, err := exec(ctx, tx, db.qb().Delete("snippets").Where(sq.Eq{"id": id}))
		if err != nil {
			return fmt.Errorf("sqlstore: deleting snippet %d: %w", id, err)
		}
		if n == 0 {
			return apperror.NotFound("snippet", id)
		}
		return nil
	})
}
