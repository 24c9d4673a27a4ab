package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"typrd/pkg/types"
)

// Add inserts a connection, or updates the existing row when the (host,
// port) pair is already known. Re-adding preserves the original id and
// created_at. Returns the stored row.
func (s *Store) Add(host string, port int, password, displayName string) (*types.SavedConnection, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errors.New("host is required")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("port out of range: %d", port)
	}

	_, err := s.db.Exec(
		`INSERT INTO connections (
			id, host, port, password, display_name, created_at, cached_status
		) VALUES (?, ?, ?, ?, ?, ?, 'unknown')
		ON CONFLICT(host, port) DO UPDATE SET
			password     = excluded.password,
			display_name = excluded.display_name`,
		uuid.NewString(),
		host,
		port,
		password,
		displayName,
		nowUnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("add connection %s:%d: %w", host, port, err)
	}
	return s.getByAddress(host, port)
}

// Get fetches a connection by id.
func (s *Store) Get(id string) (*types.SavedConnection, error) {
	row := s.db.QueryRow(selectColumns+` WHERE id = ?`, id)
	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get connection %q: %w", id, err)
	}
	return conn, nil
}

// List returns all saved connections ordered by display name then address.
func (s *Store) List() ([]types.SavedConnection, error) {
	rows, err := s.db.Query(selectColumns + ` ORDER BY display_name, host, port`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	conns := make([]types.SavedConnection, 0)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		conns = append(conns, *conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection rows: %w", err)
	}
	return conns, nil
}

// Selectable returns the connections eligible as a transcription source.
// Self-connections are excluded; reachability never is.
func (s *Store) Selectable() ([]types.SavedConnection, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.CachedStatus.Selectable() {
			out = append(out, c)
		}
	}
	return out, nil
}

// Remove deletes a connection by id.
func (s *Store) Remove(id string) error {
	res, err := s.db.Exec(`DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove connection %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for remove %q: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateHealth records the outcome of one health check: status, the model
// the peer advertised (kept when empty), and the check timestamp.
func (s *Store) UpdateHealth(id string, status types.ConnectionStatus, model string, checkedAt int64) error {
	if checkedAt <= 0 {
		checkedAt = nowUnixMilli()
	}
	res, err := s.db.Exec(
		`UPDATE connections
		SET cached_status   = ?,
		    cached_model    = CASE WHEN ? != '' THEN ? ELSE cached_model END,
		    last_checked_at = ?
		WHERE id = ?`,
		string(status),
		model,
		model,
		checkedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("update health %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for health update %q: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `SELECT
	id, host, port, password, display_name, created_at,
	cached_model, cached_status, last_checked_at
FROM connections`

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(row scanner) (*types.SavedConnection, error) {
	var (
		conn        types.SavedConnection
		status      string
		lastChecked sql.NullInt64
	)
	if err := row.Scan(
		&conn.ID,
		&conn.Host,
		&conn.Port,
		&conn.Password,
		&conn.DisplayName,
		&conn.CreatedAt,
		&conn.CachedModel,
		&status,
		&lastChecked,
	); err != nil {
		return nil, err
	}
	conn.CachedStatus = types.ConnectionStatus(status)
	if lastChecked.Valid {
		conn.LastCheckedAt = lastChecked.Int64
	}
	return &conn, nil
}

func (s *Store) getByAddress(host string, port int) (*types.SavedConnection, error) {
	row := s.db.QueryRow(selectColumns+` WHERE host = ? AND port = ?`, host, port)
	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get connection %s:%d: %w", host, port, err)
	}
	return conn, nil
}
