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

var _ repository.StatusRepository = (*DB)(nil)

func (db *DB) insertStatus(ctx context.Context, r runner, status *model.SnippetStatus) error {
	now := time.Now().UTC()
	status.CreatedAt = now
	status.UpdatedAt = now

	row, err := queryRow(ctx, r, db.qb().
		Insert("snippet_statuses").
		Columns("snippet_id", "user_email", "status", "created_at", "updated_at").
		Values(status.SnippetID, status.UserEmail, string(status.Status), now, now).
		Suffix("RETURNING id"))
	if err != nil {
		return err
	}
	return row.Scan(&status.ID)
}

// GetStatus returns the status row of (snippetID, email).
func (db *DB) GetStatus(ctx context.Context, snippetID int64, email string) (*model.SnippetStatus, error) {
	row, err := queryRow(ctx, db.conn, db.qb().
		Select("id", "snippet_id", "user_email", "status", "created_at", "updated_at").
		From("snippet_statuses").
		Where(sq.Eq{"snippet_id": snippetID, "user_email": email}))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: getting status: %w", err)
	}

	var (
		st  model.SnippetStatus
		raw string
	)
	if err := row.Scan(&st.ID, &st.SnippetID, &st.UserEmail, &raw, &st.CreatedAt, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("status", fmt.Sprintf("%d/%s", snippetID, email))
		}
		return nil, fmt.Errorf("sqlstore: getting status: %w", err)
	}
	st.Status = model.Status(raw)
	return &st, nil
}

// SetStatus overwrites the status of an existing row. It never creates one:
// a missing row is NotFound.
func (db *DB) SetStatus(ctx context.Context, snippetID int64, email string, status model.Status) error {
	n, err := exec(ctx, db.conn, db.qb().
		Update("snippet_statuses").
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"snippet_id": snippetID, "user_email": email}))
	if err != nil {
		return fmt.Errorf("sqlstore: setting status of snippet %d: %w", snippetID, err)
	}
	if n == 0 {
		return apperror.NotFound("status", fmt.Sprintf("%d/%s", snippetID, email))
	}
	return nil
}

// ResetStatusesForUser sets every status row owned by email to status and
// returns how many rows changed. Zero rows is not an error.
func (db *DB) ResetStatusesForUser(ctx context.Context, email string, status model.Status) (int64, error) {
	n, err := exec(ctx, db.conn, db.qb().
		Update("snippet_statuses").
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"user_email": email}))
	if err != nil {
		return 0, fmt.Errorf("sqlstore: resetting statuses of %s: %w", email, err)
	}
	return n, nil
}
