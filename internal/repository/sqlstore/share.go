package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/sakif/snippet-manager/internal/apperror"
	"github.com/sakif/snippet-manager/internal/model"
	"github.com/sakif/snippet-manager/internal/repository"
)

var _ repository.ShareRepository = (*DB)(nil)

// Share grants grant.UserEmail read access and creates their PENDING status
// row. A duplicate grant is a Conflict.
func (db *DB) Share(ctx context.Context, grant *model.SharedSnippet) error {
	grant.CreatedAt = time.Now().UTC()

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		row, err := queryRow(ctx, tx, db.qb().
			Insert("shared_snippets").
			Columns("snippet_id", "user_email", "created_at").
			Values(grant.SnippetID, grant.UserEmail, grant.CreatedAt).
			Suffix("RETURNING id"))
		if err != nil {
			return err
		}
		if err := row.Scan(&grant.ID); err != nil {
			return err
		}

		// The grantee may already hold a status row from an earlier grant
		// that was revoked without cleanup; keep it and reset it.
		n, err := exec(ctx, tx, db.qb().
			Update("snippet_statuses").
			Set("status", string(model.StatusPending)).
			Set("updated_at", grant.CreatedAt).
			Where(sq.Eq{"snippet_id": grant.SnippetID, "user_email": grant.UserEmail}))
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		return db.insertStatus(ctx, tx, &model.SnippetStatus{
			SnippetID: grant.SnippetID,
			UserEmail: grant.UserEmail,
			Status:    model.StatusPending,
		})
	})
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("already shared")
		}
		return fmt.Errorf("sqlstore: sharing snippet %d: %w", grant.SnippetID, err)
	}
	return nil
}

// IsSharedWith reports whether email holds a grant on snippetID.
func (db *DB) IsSharedWith(ctx context.Context, snippetID int64, email string) (bool, error) {
	row, err := queryRow(ctx, db.conn, db.qb().
		Select("COUNT(*)").
		From("shared_snippets").
		Where(sq.Eq{"snippet_id": snippetID, "user_email": email}))
	if err != nil {
		return false, fmt.Errorf("sqlstore: checking grant: %w", err)
	}

	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("sqlstore: checking grant: %w", err)
	}
	return count > 0, nil
}

// Revoke removes email's grant on snippetID together with their status row.
func (db *DB) Revoke(ctx context.Context, snippetID int64, email string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		n, err := exec(ctx, tx, db.qb().
			Delete("shared_snippets").
			Where(sq.Eq{"snippet_id": snippetID, "user_email": email}))
		if err != nil {
			return fmt.Errorf("sqlstore: revoking grant: %w", err)
		}
		if n == 0 {
			return apperror.NotFound("grant", fmt.Sprintf("%d/%s", snippetID, email))
		}

		if _, err := exec(ctx, tx, db.qb().
			Delete("snippet_statuses").
			Where(sq.Eq{"snippet_id": snippetID, "user_email": email})); err != nil {
			return fmt.Errorf("sqlstore: deleting grantee status: %w", err)
		}
		return nil
	})
}
