// Package store manages the on-disk artifacts of one mining run: one
// REZI-encoded .trace file per seed, a SQLite run ledger (runs.db)
// recording each seed's outcome, and the atomically-replaced final
// grammar file. database/sql plus modernc.org/sqlite back the ledger;
// github.com/dekarrin/rezi handles binary round-tripping of traces.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dekarrin/rezi"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dekarrin/gdbminer/internal/grammar"
	"github.com/dekarrin/gdbminer/internal/mmerr"
	"github.com/dekarrin/gdbminer/internal/types"
)

// Run is one row of the run ledger: the outcome of tracing a single seed.
type Run struct {
	ID         uuid.UUID
	SeedName   string
	Success    bool
	ErrorKind  string
	ErrorText  string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store owns the output directory for one mining session: the trace
// directory, the run ledger database, and the eventual grammar file.
type Store struct {
	dir string
	db  *sql.DB
}

// Open creates outputDirectory if needed and opens (creating if absent)
// the run ledger at <outputDirectory>/runs.db.
func Open(outputDirectory string) (*Store, error) {
	if err := os.MkdirAll(outputDirectory, 0o755); err != nil {
		return nil, mmerr.ConfigInvalid("output_directory", fmt.Sprintf("cannot create: %s", err))
	}

	dbFile := filepath.Join(outputDirectory, "runs.db")
	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}

	st := &Store{dir: outputDirectory, db: db}
	if err := st.init(); err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) init() error {
	stmt := `CREATE TABLE IF NOT EXISTS runs (
		id TEXT NOT NULL PRIMARY KEY,
		seed_name TEXT NOT NULL,
		success INTEGER NOT NULL,
		error_kind TEXT NOT NULL,
		error_text TEXT NOT NULL,
		started INTEGER NOT NULL,
		finished INTEGER NOT NULL
	);`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

// Close releases the run ledger's database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun appends one row to the run ledger. The run's ID is generated
// here if the caller left it as the zero value.
func (s *Store) RecordRun(r Run) error {
	if r.ID == uuid.Nil {
		newID, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("generate run id: %w", err)
		}
		r.ID = newID
	}

	stmt, err := s.db.Prepare(`INSERT INTO runs (id, seed_name, success, error_kind, error_text, started, finished) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare run insert: %w", err)
	}
	defer stmt.Close()

	success := 0
	if r.Success {
		success = 1
	}
	_, err = stmt.Exec(r.ID.String(), r.SeedName, success, r.ErrorKind, r.ErrorText, r.StartedAt.Unix(), r.FinishedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Runs returns every recorded run, in insertion order.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT id, seed_name, success, error_kind, error_text, started, finished FROM runs ORDER BY rowid ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			idStr             string
			success           int
			started, finished int64
			r                 Run
		)
		if err := rows.Scan(&idStr, &r.SeedName, &success, &r.ErrorKind, &r.ErrorText, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		r.ID = id
		r.Success = success != 0
		r.StartedAt = time.Unix(started, 0)
		r.FinishedAt = time.Unix(finished, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// tracePath returns the on-disk path for a seed's .trace file.
func (s *Store) tracePath(seedName string) string {
	return filepath.Join(s.dir, seedName+".trace")
}

// SaveTrace REZI-encodes t and writes it to <outputDirectory>/<seed>.trace,
// a binary blob rather than a textual format, since per-run state like
// this is never hand-edited.
func (s *Store) SaveTrace(t *types.Trace) error {
	if t == nil {
		return errors.New("store: nil trace")
	}
	data := rezi.EncBinary(t)
	return os.WriteFile(s.tracePath(t.SeedName), data, 0o644)
}

// LoadTrace decodes a previously-saved .trace file for seedName.
func (s *Store) LoadTrace(seedName string) (*types.Trace, error) {
	data, err := os.ReadFile(s.tracePath(seedName))
	if err != nil {
		return nil, err
	}
	t := &types.Trace{}
	n, err := rezi.DecBinary(data, t)
	if err != nil {
		return nil, fmt.Errorf("REZI decode trace %q: %w", seedName, err)
	}
	if n != len(data) {
		return nil, fmt.Errorf("REZI decode trace %q: consumed %d/%d bytes", seedName, n, len(data))
	}
	return t, nil
}

// SaveGrammar writes g as JSON to <outputDirectory>/<name> by writing to a
// temporary file in the same directory and renaming it into place, so a
// reader never observes a partially-written grammar file (the grammar
// file is atomically replaced on each call).
func (s *Store) SaveGrammar(g *grammar.Grammar, name string) error {
	data, err := g.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal grammar: %w", err)
	}

	dest := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, ".grammar-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp grammar file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp grammar file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp grammar file: %w", err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp grammar file: %w", err)
	}
	return nil
}
