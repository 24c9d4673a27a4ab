// Package registry is the durable store of known remote peers and their
// cached health state. Cached status/model/timestamps are hints only and are
// re-validated by health checks before anything live depends on them.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"typrd/internal/common/fsutil"
)

// DefaultDBFileName is the SQLite filename under the app data dir.
const DefaultDBFileName = "connections.db"

// ErrNotFound is returned when a connection id does not exist.
var ErrNotFound = errors.New("connection not found")

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS connections (
  id              TEXT PRIMARY KEY,
  host            TEXT NOT NULL,
  port            INTEGER NOT NULL,
  password        TEXT NOT NULL DEFAULT '',
  display_name    TEXT NOT NULL DEFAULT '',
  created_at      INTEGER NOT NULL,
  cached_model    TEXT NOT NULL DEFAULT '',
  cached_status   TEXT NOT NULL DEFAULT 'unknown'
    CHECK(cached_status IN ('unknown','online','offline','auth_failed','self_connection')),
  last_checked_at INTEGER,
  UNIQUE(host, port)
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_connections_host_port
ON connections (host, port);
`,
}

// Store wraps the SQLite database holding saved connections.
type Store struct {
	db *sql.DB
}

// Open creates/opens the registry database under dataDir and applies
// migrations.
func Open(dataDir string) (*Store, error) {
	if err := fsutil.EnsureDir(dataDir); err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, DefaultDBFileName)
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply migration %d: %w", i, err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
