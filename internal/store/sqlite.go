package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"database/sql"

	"github.com/cuemby/casper-sidecar/internal/events"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaDDL string

// Tuning maps the `storage.sqlite_config` configuration block (spec.md
// §6) onto concrete database/sql and SQLite pragma knobs.
type Tuning struct {
	BusyTimeoutMS int
	WALMode       bool
}

// DefaultTuning mirrors the values a single-writer embedded sidecar
// store should use by default: WAL so the REST collaborator's readers
// never block on the ingest writers, and a busy timeout so transient
// lock contention retries instead of failing immediately.
func DefaultTuning() Tuning {
	return Tuning{BusyTimeoutMS: 5000, WALMode: true}
}

// SQLiteStore implements Store over database/sql with the modernc.org
// pure-Go SQLite driver (no cgo, matching the teacher's preference for a
// single statically-linked binary).
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database under dataDir
// and ensures its schema exists.
func Open(dataDir string, tuning Tuning) (*SQLiteStore, error) {
	dbPath := filepath.Join(dataDir, "sidecar.db")

	dsn := dbPath
	var opts []string
	if tuning.WALMode {
		opts = append(opts, "_pragma=journal_mode(WAL)")
	}
	if tuning.BusyTimeoutMS > 0 {
		opts = append(opts, fmt.Sprintf("_pragma=busy_timeout(%d)", tuning.BusyTimeoutMS))
	}
	if len(opts) > 0 {
		dsn = dbPath + "?" + strings.Join(opts, "&")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// A single connection avoids SQLITE_BUSY thrash between concurrent
	// processors. The pool holds only this one connection, so the REST
	// collaborator's reads also go through it and wait behind any write
	// in progress; reads do not run concurrently with writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

var inMemoryCounter int64

// NewInMemory opens an ephemeral in-memory store, used by tests. Each
// call gets its own uniquely named shared-cache database so independent
// tests in the same process never see each other's rows.
func NewInMemory() (*SQLiteStore, error) {
	name := fmt.Sprintf("sidecar-test-%d", atomic.AddInt64(&inMemoryCounter, 1))
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation translates the driver's constraint error into the
// dedup control-flow signal described in spec.md §4.1 and §9. SQLite
// reports constraint violations with a stable, driver-independent
// message ("UNIQUE constraint failed: ..."), which survives database/sql's
// error wrapping more reliably than a driver-specific error type.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) witness(ctx context.Context, tx *sql.Tx, source string, id *string, kind events.Kind) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO event_log (source, arrival_id, kind) VALUES (?, ?, ?)`,
		source, id, string(kind))
	return err
}

// save runs the witness insert and the variant-specific insert in one
// transaction, so a crash between the two never leaves the witness
// table out of sync with the typed table. The witness insert always
// succeeds (event_log has no uniqueness constraint); only the typed
// insert can return ErrDuplicate.
func (s *SQLiteStore) save(ctx context.Context, source string, id *string, kind events.Kind, insert func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.witness(ctx, tx, source, id, kind); err != nil {
		return fmt.Errorf("store: witness: %w", err)
	}

	if err := insert(tx); err != nil {
		if isUniqueViolation(err) {
			// Still commit: the witness row records that we saw this
			// arrival, even though the typed row was a duplicate.
			if cErr := tx.Commit(); cErr != nil {
				return fmt.Errorf("store: commit after duplicate: %w", cErr)
			}
			return ErrDuplicate
		}
		return fmt.Errorf("store: insert %s: %w", kind, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveBlockAdded(ctx context.Context, e events.BlockAdded, id *string, source string) error {
	return s.save(ctx, source, id, events.KindBlockAdded, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO block_added (block_hash, source, block) VALUES (?, ?, ?)`,
			e.BlockHash, source, []byte(e.Block))
		return err
	})
}

func (s *SQLiteStore) SaveDeployAccepted(ctx context.Context, e events.DeployAccepted, id *string, source string) error {
	hash := deployHash(e.Deploy)
	return s.save(ctx, source, id, events.KindDeployAccepted, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO deploy_accepted (deploy_hash, source, deploy) VALUES (?, ?, ?)`,
			hash, source, []byte(e.Deploy))
		return err
	})
}

func (s *SQLiteStore) SaveDeployProcessed(ctx context.Context, e events.DeployProcessed, id *string, source string) error {
	deps, _ := json.Marshal(e.Dependencies)
	return s.save(ctx, source, id, events.KindDeployProcessed, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO deploy_processed
				(deploy_hash, source, account, timestamp, ttl, dependencies, block_hash, execution_result)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.DeployHash, source, e.Account, e.Timestamp, e.TTL, string(deps), e.BlockHash, []byte(e.ExecutionResult))
		return err
	})
}

func (s *SQLiteStore) SaveDeployExpired(ctx context.Context, e events.DeployExpired, id *string, source string) error {
	return s.save(ctx, source, id, events.KindDeployExpired, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO deploy_expired (deploy_hash, source) VALUES (?, ?)`,
			e.DeployHash, source)
		return err
	})
}

func (s *SQLiteStore) SaveFault(ctx context.Context, e events.Fault, id *string, source string) error {
	return s.save(ctx, source, id, events.KindFault, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO fault (era_id, public_key, source, timestamp) VALUES (?, ?, ?, ?)`,
			e.EraID, e.PublicKey, source, e.Timestamp)
		return err
	})
}

func (s *SQLiteStore) SaveFinalitySignature(ctx context.Context, e events.FinalitySignature, id *string, source string) error {
	return s.save(ctx, source, id, events.KindFinalitySignature, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO finality_signature (block_hash, signature, source) VALUES (?, ?, ?)`,
			e.BlockHash, e.Signature, source)
		return err
	})
}

func (s *SQLiteStore) SaveStep(ctx context.Context, e events.Step, id *string, source string) error {
	return s.save(ctx, source, id, events.KindStep, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO step (era_id, source, execution_effect) VALUES (?, ?, ?)`,
			e.EraID, source, []byte(e.ExecutionEffect))
		return err
	})
}

func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]WitnessRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, arrival_id, kind, recorded FROM event_log ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent events: %w", err)
	}
	defer rows.Close()

	var out []WitnessRow
	for rows.Next() {
		var w WitnessRow
		var kind string
		var arrivalID sql.NullString
		if err := rows.Scan(&w.Source, &arrivalID, &kind, &w.Recorded); err != nil {
			return nil, fmt.Errorf("store: scan witness row: %w", err)
		}
		w.Kind = events.Kind(kind)
		if arrivalID.Valid {
			w.ArrivalID = &arrivalID.String
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// deployHash derives a stable identifier for a deploy/transaction blob
// when the caller doesn't carry a pre-computed hash; real upstreams
// embed their own hash field inside the deploy payload, which the typed
// event library (out of scope here per spec.md §1) would extract. We
// fall back to the raw bytes as the identity when no structured hash is
// available so DeployAccepted still has a stable uniqueness key.
func deployHash(raw json.RawMessage) string {
	var withHash struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(raw, &withHash); err == nil && withHash.Hash != "" {
		return withHash.Hash
	}
	return fmt.Sprintf("%x", raw)
}
