// Package store archives acquired trace batches in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/itohio/gotdr/pkg/acquire"
	"github.com/itohio/gotdr/pkg/protocol"
	"github.com/itohio/gotdr/pkg/settings"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrNotFound is returned when a batch does not exist.
var ErrNotFound = errors.New("batch not found")

// timeLayout is fixed width so created_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps SQLite access for trace batches.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// BatchInfo summarises a stored batch.
type BatchInfo struct {
	ID        int64
	UID       string
	CreatedAt time.Time
	IDN       string
	NPoints   int
	Count     int // number of traces
}

// Batch is a stored acquisition batch.
type Batch struct {
	BatchInfo
	Header protocol.Header
	Traces []acquire.Trace
}

// Open opens or creates the database and applies migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases alive and serializes
	// writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS batches (
			id INTEGER PRIMARY KEY,
			uid TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL,
			idn TEXT NOT NULL,
			npoints INTEGER NOT NULL,
			header TEXT NOT NULL,
			settings TEXT NOT NULL,
			rxdac TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS traces (
			batch_id INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (batch_id, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_batches_created_at ON batches(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveBatch stores the header and traces of one batch and returns its id.
// All traces must share the settings and calibration of the first one.
func (s *Store) SaveBatch(ctx context.Context, header protocol.Header, traces []acquire.Trace) (id int64, err error) {
	if len(traces) == 0 {
		return 0, fmt.Errorf("no traces to save")
	}
	first := traces[0]

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return 0, err
	}
	settingsJSON, err := json.Marshal(first.Settings)
	if err != nil {
		return 0, err
	}
	rxdacJSON, err := json.Marshal(first.RXDAC)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO batches (uid, created_at, idn, npoints, header, settings, rxdac)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		s.now().UTC().Format(timeLayout),
		header.IDN(),
		first.Settings.NPoints,
		string(headerJSON),
		string(settingsJSON),
		string(rxdacJSON),
	)
	if err != nil {
		return 0, err
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO traces (batch_id, idx, data) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i, tr := range traces {
		data, err := json.Marshal(tr.Data)
		if err != nil {
			return 0, err
		}
		if _, err = stmt.ExecContext(ctx, id, i, string(data)); err != nil {
			return 0, fmt.Errorf("failed to insert trace %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// LoadBatch returns a stored batch.
func (s *Store) LoadBatch(ctx context.Context, id int64) (Batch, error) {
	var (
		b                                Batch
		created, headerJSON, settingsStr string
		rxdacJSON                        string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT b.id, b.uid, b.created_at, b.idn, b.npoints, b.header, b.settings, b.rxdac,
			(SELECT COUNT(*) FROM traces t WHERE t.batch_id = b.id)
		 FROM batches b WHERE b.id = ?`, id).
		Scan(&b.ID, &b.UID, &created, &b.IDN, &b.NPoints, &headerJSON, &settingsStr, &rxdacJSON, &b.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return Batch{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return Batch{}, err
	}
	if b.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return Batch{}, err
	}

	var ts settings.TraceSettings
	if err := json.Unmarshal([]byte(settingsStr), &ts); err != nil {
		return Batch{}, fmt.Errorf("batch %d settings: %w", id, err)
	}
	if err := json.Unmarshal([]byte(headerJSON), &b.Header); err != nil {
		return Batch{}, fmt.Errorf("batch %d header: %w", id, err)
	}
	var rxdac []int
	if err := json.Unmarshal([]byte(rxdacJSON), &rxdac); err != nil {
		return Batch{}, fmt.Errorf("batch %d rxdac: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM traces WHERE batch_id = ? ORDER BY idx`, id)
	if err != nil {
		return Batch{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return Batch{}, err
		}
		var data []int
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return Batch{}, fmt.Errorf("batch %d trace %d: %w", id, len(b.Traces), err)
		}
		b.Traces = append(b.Traces, acquire.Trace{Settings: ts, RXDAC: rxdac, Data: data})
	}
	if err := rows.Err(); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// ListBatches returns the most recent batches first. limit <= 0 returns all.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]BatchInfo, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.id, b.uid, b.created_at, b.idn, b.npoints,
			(SELECT COUNT(*) FROM traces t WHERE t.batch_id = b.id)
		 FROM batches b ORDER BY b.created_at DESC, b.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BatchInfo
	for rows.Next() {
		var (
			info    BatchInfo
			created string
		)
		if err := rows.Scan(&info.ID, &info.UID, &created, &info.IDN, &info.NPoints, &info.Count); err != nil {
			return nil, err
		}
		if info.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, err
		}
		result = append(result, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteBatch removes a batch and its traces.
func (s *Store) DeleteBatch(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM traces WHERE batch_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}
