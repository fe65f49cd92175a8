package store

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
)

// MemoryStore is the in-process Store for tests and single-node use.
// Committed versions are cloned on the way in and out so no caller can
// mutate history.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string][]*documentx.Version
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string][]*documentx.Version),
		now:      time.Now,
	}
}

func (s *MemoryStore) GetCurrent(_ context.Context, docID string) (*documentx.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vs := s.versions[docID]
	if len(vs) == 0 {
		return nil, fmt.Errorf("%w: doc=%s", ErrNotFound, docID)
	}
	return vs[len(vs)-1].Clone(), nil
}

func (s *MemoryStore) Commit(_ context.Context, candidate *documentx.Version) (int64, error) {
	if err := candidate.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vs := s.versions[candidate.DocID]
	want := int64(len(vs)) + 1
	if candidate.VersionNo != want {
		return 0, fmt.Errorf("%w: doc=%s candidate=%d current=%d",
			ErrConflict, candidate.DocID, candidate.VersionNo, len(vs))
	}

	committed := candidate.Clone()
	if committed.CreatedAt.IsZero() {
		committed.CreatedAt = s.now().UTC()
	}
	s.versions[candidate.DocID] = append(vs, committed)
	return committed.VersionNo, nil
}

func (s *MemoryStore) Rollback(_ context.Context, docID string, toVersion int64) (*documentx.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vs := s.versions[docID]
	if len(vs) == 0 {
		return nil, fmt.Errorf("%w: doc=%s", ErrNotFound, docID)
	}

	var target *documentx.Version
	for _, v := range vs {
		if v.VersionNo == toVersion {
			target = v
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: doc=%s version=%d", ErrVersionNotFound, docID, toVersion)
	}

	rolled := target.Clone()
	rolled.VersionNo = int64(len(vs)) + 1
	rolled.State = documentx.StateRolledBack
	rolled.RolledBackTo = toVersion
	rolled.FailedStage = ""
	rolled.FailureReason = ""
	rolled.ProducingStage = documentx.StageRollback
	rolled.CreatedAt = s.now().UTC()

	s.versions[docID] = append(vs, rolled)
	return rolled.Clone(), nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, docID string) iter.Seq2[*documentx.Version, error] {
	return func(yield func(*documentx.Version, error) bool) {
		s.mu.RLock()
		vs := append([]*documentx.Version(nil), s.versions[docID]...)
		s.mu.RUnlock()

		if len(vs) == 0 {
			yield(nil, fmt.Errorf("%w: doc=%s", ErrNotFound, docID))
			return
		}
		for _, v := range vs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(v.Clone(), nil) {
				return
			}
		}
	}
}
