package types

import "fmt"

// ConnectionStatus classifies the last known health of a saved connection.
type ConnectionStatus string

const (
	StatusUnknown        ConnectionStatus = "unknown"
	StatusOnline         ConnectionStatus = "online"
	StatusOffline        ConnectionStatus = "offline"
	StatusAuthFailed     ConnectionStatus = "auth_failed"
	StatusSelfConnection ConnectionStatus = "self_connection"
)

// Selectable reports whether a connection in this status may be chosen as
// the transcription source. Reachability is informational; only a connection
// that points back at the local instance is excluded.
func (s ConnectionStatus) Selectable() bool {
	return s != StatusSelfConnection
}

// SavedConnection is one persisted remote peer plus cached health state.
// Cached fields are hints and are re-validated by health checks before any
// live decision relies on them.
type SavedConnection struct {
	ID          string `json:"id"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Password    string `json:"password,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	// CreatedAt is a unix timestamp in milliseconds.
	CreatedAt int64 `json:"created_at"`

	CachedModel  string           `json:"cached_model,omitempty"`
	CachedStatus ConnectionStatus `json:"cached_status"`
	// LastCheckedAt is a unix timestamp in milliseconds; zero means never.
	LastCheckedAt int64 `json:"last_checked_at,omitempty"`
}

// Address returns the host:port pair for this connection.
func (c SavedConnection) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Label returns a human-readable name, falling back to the address.
func (c SavedConnection) Label() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Address()
}

// BindingResult is the outcome of one listen attempt on one local address.
type BindingResult struct {
	Address string `json:"address"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SharingSession describes the local sharing endpoint. Exactly one exists
// per process; the Enabled=false zero value is the "never started" state.
type SharingSession struct {
	Enabled           bool            `json:"enabled"`
	Port              int             `json:"port,omitempty"`
	Password          string          `json:"password,omitempty"`
	DisplayName       string          `json:"display_name,omitempty"`
	ModelName         string          `json:"model_name,omitempty"`
	ActiveConnections int             `json:"active_connections"`
	BindingResults    []BindingResult `json:"binding_results,omitempty"`
	// LastError carries a restart failure from the reconcile loop so a
	// stopped session is never silently stale.
	LastError string `json:"last_error,omitempty"`
}

// TranscriptionSource distinguishes audio origins for timeout calculation.
type TranscriptionSource string

const (
	SourceLiveRecording TranscriptionSource = "live"
	SourceUpload        TranscriptionSource = "upload"
)
