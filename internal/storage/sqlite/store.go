package sqlite

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/reveriehq/reverie/internal/storage"
)

// Store bundles the SQLite-backed collection stores over one database handle.
type Store struct {
	db *sql.DB

	memories *MemoryStore
	jobs     *JobStore
	edges    *EdgeStore
	entities *EntityStore
	clusters *ClusterStore
}

// Compile-time interface checks.
var _ storage.Store = (*Store)(nil)

// Open opens a SQLite database, configures WAL mode, and creates the schema.
// Use ":memory:" as the dsn for an ephemeral store in tests.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: dsn is required", storage.ErrInvalidInput)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors under
	// concurrent pipeline jobs. WAL mode lets readers proceed regardless.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing with SQLITE_BUSY when the connection is held
	// by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &Store{db: db}
	s.memories = &MemoryStore{db: db}
	s.jobs = &JobStore{db: db}
	s.edges = &EdgeStore{db: db}
	s.entities = &EntityStore{db: db}
	s.clusters = &ClusterStore{db: db}
	return s, nil
}

// MemoryStore returns the memory collection store.
func (s *Store) MemoryStore() storage.MemoryStore { return s.memories }

// JobStore returns the pipeline job collection store.
func (s *Store) JobStore() storage.JobStore { return s.jobs }

// EdgeStore returns the pending-edge staging store.
func (s *Store) EdgeStore() storage.EdgeStore { return s.edges }

// EntityStore returns the entity collection store.
func (s *Store) EntityStore() storage.EntityStore { return s.entities }

// ClusterStore returns the cluster collection store.
func (s *Store) ClusterStore() storage.ClusterStore { return s.clusters }

// Close checkpoints the WAL into the main database file and releases
// resources, so the next process to open the file does not see stale WAL
// state.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return s.db.Close()
}

// encodeVector serialises an embedding to little-endian float32 bytes.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector deserialises little-endian float32 bytes back to an embedding.
func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob size %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// marshalJSON encodes a value to its JSON column representation, mapping nil
// and empty collections to the SQL NULL sentinel.
func marshalJSON(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	str := string(data)
	if str == "null" || str == "[]" || str == "{}" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: str, Valid: true}, nil
}

// unmarshalJSON decodes a JSON column into out, treating NULL and empty
// strings as absent.
func unmarshalJSON(col sql.NullString, out interface{}) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), out)
}
