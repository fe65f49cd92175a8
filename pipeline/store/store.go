// Package store holds the append-only document version history. It is the
// only mutable shared resource in the pipeline: commits are conflict-checked
// by version number (optimistic concurrency), never long-held locks.
package store

import (
	"context"
	"errors"
	"iter"

	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionNotFound = errors.New("version not found")
	ErrConflict        = errors.New("concurrent modification")
)

type Store interface {
	// GetCurrent returns the latest committed version for a document.
	GetCurrent(ctx context.Context, docID string) (*documentx.Version, error)

	// Commit appends candidate as the next version. It fails with
	// ErrConflict when the candidate was built against a stale current
	// version.
	Commit(ctx context.Context, candidate *documentx.Version) (int64, error)

	// Rollback makes a prior committed version current again by appending a
	// structural copy tagged rolled-back. History is never rewritten.
	Rollback(ctx context.Context, docID string, toVersion int64) (*documentx.Version, error)

	// ListVersions yields the full history oldest to newest. The sequence is
	// restartable; each range re-reads the history.
	ListVersions(ctx context.Context, docID string) iter.Seq2[*documentx.Version, error]
}
