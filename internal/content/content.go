// Package content defines the store that holds snippet source text.
//
// Snippet rows in the database only carry metadata. The code itself is
// keyed by the snippet's numeric ID in an external store. Two backends
// implement the contract: the asset service over HTTP (package asset) and an
// S3-compatible bucket (package objectstore).
//
// Errors follow one convention across backends:
//   - a missing object is apperror.ErrNotFound
//   - any other failure is apperror.ErrUpstream, marked retryable when it
//     was a timeout or a transport error
package content

import "context"

// Store persists snippet content by snippet ID. Put on an existing ID
// overwrites it.
type Store interface {
	Put(ctx context.Context, id int64, code string) error
	Get(ctx context.Context, id int64) (string, error)
	Delete(ctx context.Context, id int64) error
}
