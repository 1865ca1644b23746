package flowctx

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

// Store persists and retrieves checkpoints for a run. FileStore (the spec's
// baseline "${logsRoot}/checkpoint.json" layout) is the default; SQLiteStore
// is an optional durable backend for long-running pipelines that accumulate
// many restart checkpoints and want them queryable without holding the
// entire run in memory.
type Store interface {
	Save(runID string, cp *Checkpoint) error
	Load(runID string) (*Checkpoint, error)
}

// FileStore implements the baseline layout: one checkpoint.json per run
// directory, written atomically.
type FileStore struct {
	Root string
}

func NewFileStore(root string) *FileStore { return &FileStore{Root: root} }

func (s *FileStore) pathFor(runID string) string {
	return filepath.Join(s.Root, runID, "checkpoint.json")
}

func (s *FileStore) Save(runID string, cp *Checkpoint) error {
	return cp.WriteAtomic(s.pathFor(runID))
}

func (s *FileStore) Load(runID string) (*Checkpoint, error) {
	return LoadCheckpoint(s.pathFor(runID))
}

// Digest returns a blake3 content hash of a checkpoint's encoded bytes,
// suitable as an idempotency key when comparing two checkpoints or
// deciding whether a resume target actually changed.
func Digest(cp *Checkpoint) (string, error) {
	data, err := cp.Encode()
	if err != nil {
		return "", err
	}
	h := blake3.Sum256(data)
	return fmt.Sprintf("blake3:%x", h[:]), nil
}

// SQLiteStore is a durable, queryable checkpoint backend backed by a
// pure-Go (no cgo) sqlite driver. Every Save appends a row keyed by
// (run_id, saved_at) so the full restart history of a run stays inspectable,
// while Load returns only the most recent row.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("checkpoint store: opening sqlite: %w", err)
	}
	schema := `
CREATE TABLE IF NOT EXISTS checkpoints (
	run_id TEXT NOT NULL,
	saved_at TEXT NOT NULL,
	digest TEXT NOT NULL,
	payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON checkpoints(run_id, saved_at);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint store: migrating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Save(runID string, cp *Checkpoint) error {
	payload, err := cp.Encode()
	if err != nil {
		return err
	}
	digest, err := Digest(cp)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO checkpoints (run_id, saved_at, digest, payload) VALUES (?, ?, ?, ?)`,
		runID, time.Now().UTC().Format(time.RFC3339Nano), digest, payload,
	)
	if err != nil {
		return fmt.Errorf("checkpoint store: saving: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(runID string) (*Checkpoint, error) {
	row := s.db.QueryRow(
		`SELECT payload FROM checkpoints WHERE run_id = ? ORDER BY saved_at DESC LIMIT 1`, runID,
	)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		return nil, fmt.Errorf("checkpoint store: loading %s: %w", runID, err)
	}
	return DecodeCheckpoint(payload)
}

// History returns every saved checkpoint digest for a run, oldest first, for
// diagnostics and tests.
func (s *SQLiteStore) History(runID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT digest FROM checkpoints WHERE run_id = ? ORDER BY saved_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
