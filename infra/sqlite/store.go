// Package sqlite stores entity records in a single SQLite database, one row
// per identity and slot.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/containerd/errdefs"
	_ "modernc.org/sqlite"

	"virtops"
)

const schema = `
CREATE TABLE IF NOT EXISTS entity_states (
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	slot TEXT NOT NULL CHECK (slot IN ('current', 'desired')),
	doc_json TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (kind, name, slot)
)`

// Store implements convergence.Store backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Pragmas apply per connection; one connection keeps them in force and
	// serializes writers from parallel convergence.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetStates reads both slots in one transaction and returns (nil, nil) when
// they already match.
func (s *Store) GetStates(ctx context.Context, id virtops.Identity) (*virtops.Record, *virtops.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()

	current, _, err := loadSlot(ctx, tx, id, virtops.SlotCurrent)
	if err != nil {
		return nil, nil, err
	}
	desired, _, err := loadSlot(ctx, tx, id, virtops.SlotDesired)
	if err != nil {
		return nil, nil, err
	}
	if virtops.MatchStates(current, desired) {
		return nil, nil, nil
	}
	return current, desired, nil
}

func (s *Store) SetCurrent(ctx context.Context, id virtops.Identity, rec *virtops.Record) error {
	return s.put(ctx, id, virtops.SlotCurrent, rec)
}

func (s *Store) SetDesired(ctx context.Context, id virtops.Identity, rec *virtops.Record) error {
	return s.put(ctx, id, virtops.SlotDesired, rec)
}

// Load returns one slot of id, or an errdefs.ErrNotFound error.
func (s *Store) Load(ctx context.Context, id virtops.Identity, slot virtops.Slot) (*virtops.Record, error) {
	rec, _, err := loadSlot(ctx, s.db, id, slot)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s %s: %w", slot, id, errdefs.ErrNotFound)
	}
	return rec, nil
}

// List returns every identity of kind, or of all kinds when kind is empty,
// sorted by identity.
func (s *Store) List(ctx context.Context, kind string) ([]virtops.Entry, error) {
	query := `SELECT kind, name, slot, doc_json, updated_at FROM entity_states`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entity states: %w", err)
	}
	defer rows.Close()

	byID := make(map[virtops.Identity]*virtops.Entry)
	for rows.Next() {
		var id virtops.Identity
		var slot, doc, updated string
		if err := rows.Scan(&id.Kind, &id.Name, &slot, &doc, &updated); err != nil {
			return nil, fmt.Errorf("scan entity state: %w", err)
		}
		rec, err := decode(id, doc)
		if err != nil {
			return nil, err
		}
		e, ok := byID[id]
		if !ok {
			e = &virtops.Entry{Identity: id}
			byID[id] = e
		}
		if virtops.Slot(slot) == virtops.SlotCurrent {
			e.Current = rec
		} else {
			e.Desired = rec
		}
		if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil && ts.After(e.UpdatedAt) {
			e.UpdatedAt = ts
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entity states: %w", err)
	}

	out := make([]virtops.Entry, 0, len(byID))
	for _, e := range byID {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.String() < out[j].Identity.String() })
	return out, nil
}

// Forget drops both slots of id.
func (s *Store) Forget(ctx context.Context, id virtops.Identity) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entity_states WHERE kind = ? AND name = ?`, id.Kind, id.Name); err != nil {
		return fmt.Errorf("forget %s: %w", id, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, id virtops.Identity, slot virtops.Slot, rec *virtops.Record) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%s: %w", err, errdefs.ErrInvalidArgument)
	}
	if rec == nil {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM entity_states WHERE kind = ? AND name = ? AND slot = ?`,
			id.Kind, id.Name, string(slot),
		); err != nil {
			return fmt.Errorf("clear %s of %s: %w", slot, id, err)
		}
		return nil
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s of %s: %w", slot, id, err)
	}
	const upsert = `
INSERT INTO entity_states (kind, name, slot, doc_json, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(kind, name, slot) DO UPDATE SET
	doc_json = excluded.doc_json,
	updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, upsert,
		id.Kind, id.Name, string(slot), string(doc), s.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("write %s of %s: %w", slot, id, err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadSlot(ctx context.Context, q querier, id virtops.Identity, slot virtops.Slot) (*virtops.Record, time.Time, error) {
	var doc, updated string
	err := q.QueryRowContext(ctx,
		`SELECT doc_json, updated_at FROM entity_states WHERE kind = ? AND name = ? AND slot = ?`,
		id.Kind, id.Name, string(slot),
	).Scan(&doc, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read %s of %s: %w", slot, id, err)
	}
	rec, err := decode(id, doc)
	if err != nil {
		return nil, time.Time{}, err
	}
	ts, _ := time.Parse(time.RFC3339Nano, updated)
	return rec, ts, nil
}

func decode(id virtops.Identity, doc string) (*virtops.Record, error) {
	var rec virtops.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("decode record of %s: %w", id, err)
	}
	return &rec, nil
}
