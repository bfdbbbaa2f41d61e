package sqlstore

import (
	"context"
	"fmt"
	"math"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/sakif/snippet-manager/internal/model"
	"github.com/sakif/snippet-manager/internal/repository"
)

var _ repository.SearchRepository = (*DB)(nil)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxOffset       = math.MaxInt32
)

// statusProjection maps the author's stored status to a display value.
// Snippets without a resolvable row show UNKNOWN.
const statusProjection = `CASE st.status
	WHEN 'PENDING' THEN 'PENDING'
	WHEN 'COMPLIANT' THEN 'COMPLIANT'
	WHEN 'NOT_COMPLIANT' THEN 'NOT_COMPLIANT'
	ELSE 'UNKNOWN' END`

// Search returns one page of snippets visible to q.Requester.
//
// QUERY SHAPE:
//
//	snippets s
//	LEFT JOIN shared_snippets sh   ON sh.snippet_id = s.id AND sh.user_email = :requester
//	LEFT JOIN snippet_statuses st  ON st.snippet_id = s.id AND st.user_email = s.author
//
// Both joins match at most one row per snippet (UNIQUE (snippet_id,
// user_email)), so a snippet shared with many users still appears once.
// The status shown is the author's, the same one a get returns.
//
// The predicate is assembled from optional parts: a language substring
// match and the permission switch. The count query reuses it, so
// TotalElements always describes the same set the page is cut from.
func (db *DB) Search(ctx context.Context, q model.SearchQuery) (model.Page[model.SnippetSummary], error) {
	page, size := q.Page, q.Size
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	where := sq.And{visibility(q.Permission, q.Requester)}
	if lang := strings.TrimSpace(q.Language); lang != "" {
		where = append(where, sq.Expr(`LOWER(s.language) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(lang))+"%"))
	}

	base := func(columns ...string) sq.SelectBuilder {
		return db.qb().
			Select(columns...).
			From("snippets s").
			LeftJoin("shared_snippets sh ON sh.snippet_id = s.id AND sh.user_email = ?", q.Requester).
			LeftJoin("snippet_statuses st ON st.snippet_id = s.id AND st.user_email = s.author").
			Where(where)
	}

	row, err := queryRow(ctx, db.conn, base("COUNT(*)"))
	if err != nil {
		return model.Page[model.SnippetSummary]{}, fmt.Errorf("sqlstore: building search count: %w", err)
	}
	var total int64
	if err := row.Scan(&total); err != nil {
		return model.Page[model.SnippetSummary]{}, fmt.Errorf("sqlstore: counting search results: %w", err)
	}

	// No row lives past maxOffset; answer without an offset that could overflow.
	if page > maxOffset/size {
		return model.NewPage([]model.SnippetSummary{}, page, size, total), nil
	}

	query, args, err := base("s.id", "s.name", "s.language", "s.author", statusProjection+" AS status").
		OrderBy("s.id DESC").
		Limit(uint64(size)).
		Offset(uint64(page * size)).
		ToSql()
	if err != nil {
		return model.Page[model.SnippetSummary]{}, fmt.Errorf("sqlstore: building search: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return model.Page[model.SnippetSummary]{}, fmt.Errorf("sqlstore: searching snippets: %w", err)
	}
	defer rows.Close()

	results := make([]model.SnippetSummary, 0, size)
	for rows.Next() {
		var s model.SnippetSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Language, &s.Author, &s.Status); err != nil {
			return model.Page[model.SnippetSummary]{}, fmt.Errorf("sqlstore: scanning search row: %w", err)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return model.Page[model.SnippetSummary]{}, fmt.Errorf("sqlstore: iterating search rows: %w", err)
	}

	return model.NewPage(results, page, size, total), nil
}

// visibility is the permission predicate. Any means own OR shared; the
// shared variant excludes snippets the requester authored.
func visibility(p model.Permission, requester string) sq.Sqlizer {
	switch p {
	case model.PermissionOwner:
		return sq.Eq{"s.author": requester}
	case model.PermissionShared:
		return sq.And{
			sq.NotEq{"s.author": requester},
			sq.Eq{"sh.user_email": requester},
		}
	default:
		return sq.Or{
			sq.Eq{"s.author": requester},
			sq.Eq{"sh.user_email": requester},
		}
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input match literally inside a LIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
