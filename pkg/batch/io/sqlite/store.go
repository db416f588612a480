// Package sqlite stores a bulk record collection in a SQLite database, one row per slot.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/palantir/batch-record-editor/pkg/batch/core"
	"github.com/palantir/batch-record-editor/pkg/record"
)

var _ core.Store[*record.Record] = (*Store)(nil)

// Store is a bulk store backed by the slots table. Slot numbers read by Load are
// kept and reused by the next Store, so sparse slots stay where they are.
type Store struct {
	conn *sql.DB

	mu    sync.Mutex
	slots []int64
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	_, err := s.conn.Exec(`CREATE TABLE IF NOT EXISTS slots (
		slot INTEGER PRIMARY KEY,
		schema TEXT NOT NULL,
		data BLOB NOT NULL
	)`)
	return err
}

// Load returns the records ordered by slot.
func (s *Store) Load(ctx context.Context) ([]*record.Record, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT slot, schema, data FROM slots ORDER BY slot`)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	var (
		out   []*record.Record
		slots []int64
	)
	for rows.Next() {
		var (
			slot   int64
			schema string
			data   []byte
		)
		if err := rows.Scan(&slot, &schema, &data); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		l, ok := record.LayoutByName(schema)
		if !ok {
			return nil, fmt.Errorf("slot %d: unknown schema %q", slot, schema)
		}
		rec, err := record.DecodeAs(l, data)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", slot, err)
		}
		out = append(out, rec)
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.slots = slots
	s.mu.Unlock()
	return out, nil
}

// Store replaces every slot in one transaction. Record i goes to the i-th slot read
// by the last Load; records past that get numbers after the highest known slot.
func (s *Store) Store(ctx context.Context, recs []*record.Record) error {
	s.mu.Lock()
	slots := assignSlots(s.slots, len(recs))
	s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM slots`); err != nil {
		return fmt.Errorf("clear slots: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO slots (slot, schema, data) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range recs {
		if _, err := stmt.ExecContext(ctx, slots[i], rec.Layout().Name, rec.Bytes()); err != nil {
			return fmt.Errorf("insert slot %d: %w", slots[i], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.mu.Lock()
	s.slots = slots
	s.mu.Unlock()
	return nil
}

func assignSlots(known []int64, n int) []int64 {
	out := make([]int64, n)
	next := int64(0)
	for i := range out {
		if i < len(known) {
			out[i] = known[i]
		} else {
			out[i] = next
		}
		next = out[i] + 1
	}
	return out
}
