package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
)

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

type versionRecord struct {
	bun.BaseModel `bun:"table:document_versions,alias:dv"`

	DocID          string          `bun:"doc_id,pk"`
	VersionNo      int64           `bun:"version_no,pk"`
	State          string          `bun:"state,notnull"`
	ProducingStage string          `bun:"producing_stage,notnull"`
	Snapshot       json.RawMessage `bun:"snapshot,type:jsonb,notnull"`
	CreatedAt      time.Time       `bun:"created_at,notnull"`
}

// PostgresStore persists each version as a self-contained snapshot row keyed
// by (doc_id, version_no). The primary key doubles as the optimistic
// concurrency check: the losing writer of a commit race hits an integrity
// violation, surfaced as ErrConflict.
type PostgresStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	return &PostgresStore{
		db:  bun.NewDB(sqldb, pgdialect.New()),
		now: time.Now,
	}, nil
}

// Init creates the versions table when missing.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*versionRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create document_versions table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) GetCurrent(ctx context.Context, docID string) (*documentx.Version, error) {
	var rec versionRecord
	err := s.db.NewSelect().
		Model(&rec).
		Where("doc_id = ?", docID).
		Order("version_no DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: doc=%s", ErrNotFound, docID)
		}
		return nil, fmt.Errorf("read current version: %w", err)
	}
	return decodeSnapshot(&rec)
}

func (s *PostgresStore) Commit(ctx context.Context, candidate *documentx.Version) (int64, error) {
	if err := candidate.Validate(); err != nil {
		return 0, err
	}

	currentNo, err := s.currentNo(ctx, candidate.DocID)
	if err != nil {
		return 0, err
	}
	if candidate.VersionNo != currentNo+1 {
		return 0, fmt.Errorf("%w: doc=%s candidate=%d current=%d",
			ErrConflict, candidate.DocID, candidate.VersionNo, currentNo)
	}

	committed := candidate.Clone()
	if committed.CreatedAt.IsZero() {
		committed.CreatedAt = s.now().UTC()
	}
	rec, err := encodeSnapshot(committed)
	if err != nil {
		return 0, err
	}

	if _, err := s.db.NewInsert().Model(rec).Exec(ctx); err != nil {
		var pgErr pgdriver.Error
		if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
			return 0, fmt.Errorf("%w: doc=%s version=%d lost commit race",
				ErrConflict, candidate.DocID, candidate.VersionNo)
		}
		return 0, fmt.Errorf("insert version: %w", err)
	}

	log.Debug().
		Str("doc_id", committed.DocID).
		Int64("version_no", committed.VersionNo).
		Str("stage", string(committed.ProducingStage)).
		Msg("version committed")
	return committed.VersionNo, nil
}

func (s *PostgresStore) Rollback(ctx context.Context, docID string, toVersion int64) (*documentx.Version, error) {
	var rec versionRecord
	err := s.db.NewSelect().
		Model(&rec).
		Where("doc_id = ?", docID).
		Where("version_no = ?", toVersion).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: doc=%s version=%d", ErrVersionNotFound, docID, toVersion)
		}
		return nil, fmt.Errorf("read rollback target: %w", err)
	}

	target, err := decodeSnapshot(&rec)
	if err != nil {
		return nil, err
	}

	currentNo, err := s.currentNo(ctx, docID)
	if err != nil {
		return nil, err
	}

	rolled := target.Clone()
	rolled.VersionNo = currentNo + 1
	rolled.State = documentx.StateRolledBack
	rolled.RolledBackTo = toVersion
	rolled.FailedStage = ""
	rolled.FailureReason = ""
	rolled.ProducingStage = documentx.StageRollback
	rolled.CreatedAt = s.now().UTC()

	if _, err := s.Commit(ctx, rolled); err != nil {
		return nil, err
	}
	return rolled, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, docID string) iter.Seq2[*documentx.Version, error] {
	return func(yield func(*documentx.Version, error) bool) {
		rows, err := s.db.NewSelect().
			Model((*versionRecord)(nil)).
			Where("doc_id = ?", docID).
			Order("version_no ASC").
			Rows(ctx)
		if err != nil {
			yield(nil, fmt.Errorf("list versions: %w", err))
			return
		}
		defer rows.Close()

		seen := false
		for rows.Next() {
			var rec versionRecord
			if err := s.db.ScanRow(ctx, rows, &rec); err != nil {
				yield(nil, fmt.Errorf("scan version row: %w", err))
				return
			}
			seen = true
			v, err := decodeSnapshot(&rec)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("iterate versions: %w", err))
			return
		}
		if !seen {
			yield(nil, fmt.Errorf("%w: doc=%s", ErrNotFound, docID))
		}
	}
}

func (s *PostgresStore) currentNo(ctx context.Context, docID string) (int64, error) {
	var no int64
	err := s.db.NewSelect().
		Model((*versionRecord)(nil)).
		ColumnExpr("COALESCE(MAX(version_no), 0)").
		Where("doc_id = ?", docID).
		Scan(ctx, &no)
	if err != nil {
		return 0, fmt.Errorf("read max version: %w", err)
	}
	return no, nil
}

func encodeSnapshot(v *documentx.Version) (*versionRecord, error) {
	snapshot, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal version snapshot: %w", err)
	}
	return &versionRecord{
		DocID:          v.DocID,
		VersionNo:      v.VersionNo,
		State:          string(v.State),
		ProducingStage: string(v.ProducingStage),
		Snapshot:       snapshot,
		CreatedAt:      v.CreatedAt,
	}, nil
}

func decodeSnapshot(rec *versionRecord) (*documentx.Version, error) {
	var v documentx.Version
	if err := json.Unmarshal(rec.Snapshot, &v); err != nil {
		return nil, fmt.Errorf("unmarshal version snapshot doc=%s version=%d: %w",
			rec.DocID, rec.VersionNo, err)
	}
	return &v, nil
}
