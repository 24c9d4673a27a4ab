// Package settings persists local user configuration: the selected model,
// the sharing endpoint parameters, and the active remote selection. It also
// notifies subscribers about changes so the reconcile loop can react.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"typrd/internal/common/fsutil"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "typrd"
	// settingsFileName is the persisted settings file.
	settingsFileName = "settings.json"
	// DefaultSharePort is the sharing endpoint port when no override exists.
	DefaultSharePort = 47842
)

// Settings contains the persistent local configuration.
type Settings struct {
	CurrentModel       string `json:"current_model"`
	DisplayName        string `json:"display_name"`
	SharingEnabled     bool   `json:"sharing_enabled"`
	SharingPort        int    `json:"sharing_port"`
	SharingPassword    string `json:"sharing_password,omitempty"`
	ActiveConnectionID string `json:"active_connection_id,omitempty"`
	// SharingWasActive remembers that sharing was stopped only because a
	// remote source was selected, so it can be restored afterwards.
	SharingWasActive bool `json:"sharing_was_active,omitempty"`
}

// ChangeKind identifies what part of the settings changed.
type ChangeKind string

const (
	ChangeModel     ChangeKind = "model"
	ChangeSharing   ChangeKind = "sharing"
	ChangeSelection ChangeKind = "selection"
)

// Change is delivered to subscribers after a mutation is persisted.
type Change struct {
	Kind ChangeKind
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If TYPRD_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("TYPRD_DATA_DIR"); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// Store is the concurrency-safe settings service. All mutators persist to
// disk before notifying subscribers.
type Store struct {
	mu   sync.Mutex
	path string
	s    Settings
	subs []chan Change
}

// Open loads (or initializes) the settings file under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := fsutil.EnsureDir(dataDir); err != nil {
		return nil, err
	}
	st := &Store{path: filepath.Join(dataDir, settingsFileName)}
	b, err := os.ReadFile(st.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(b, &st.s); err != nil {
			return nil, fmt.Errorf("parse %s: %w", st.path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		st.s = Settings{SharingPort: DefaultSharePort}
	default:
		return nil, fmt.Errorf("read %s: %w", st.path, err)
	}
	if st.s.SharingPort == 0 {
		st.s.SharingPort = DefaultSharePort
	}
	return st, nil
}

// Snapshot returns a copy of the current settings.
func (st *Store) Snapshot() Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

// CurrentModel returns the locally selected model name.
func (st *Store) CurrentModel() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.CurrentModel
}

// SetCurrentModel selects a local model. Selecting a local model clears any
// active remote selection; the two are mutually exclusive.
func (st *Store) SetCurrentModel(name string) error {
	st.mu.Lock()
	st.s.CurrentModel = name
	clearedRemote := st.s.ActiveConnectionID != ""
	st.s.ActiveConnectionID = ""
	err := st.saveLocked()
	st.mu.Unlock()
	if err != nil {
		return err
	}
	st.notify(Change{Kind: ChangeModel})
	if clearedRemote {
		st.notify(Change{Kind: ChangeSelection})
	}
	return nil
}

// ActiveRemote returns the active remote connection id ("" = local model).
func (st *Store) ActiveRemote() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.ActiveConnectionID
}

// SetActiveRemote designates a saved connection as the transcription source,
// or clears the selection with "".
func (st *Store) SetActiveRemote(id string) error {
	st.mu.Lock()
	st.s.ActiveConnectionID = id
	err := st.saveLocked()
	st.mu.Unlock()
	if err != nil {
		return err
	}
	st.notify(Change{Kind: ChangeSelection})
	return nil
}

// SetSharing persists the sharing endpoint state.
func (st *Store) SetSharing(enabled bool, port int, password string) error {
	st.mu.Lock()
	st.s.SharingEnabled = enabled
	if port > 0 {
		st.s.SharingPort = port
	}
	st.s.SharingPassword = password
	err := st.saveLocked()
	st.mu.Unlock()
	if err != nil {
		return err
	}
	st.notify(Change{Kind: ChangeSharing})
	return nil
}

// SetSharingWasActive records whether sharing should be restored after the
// remote selection is cleared.
func (st *Store) SetSharingWasActive(v bool) error {
	st.mu.Lock()
	st.s.SharingWasActive = v
	err := st.saveLocked()
	st.mu.Unlock()
	return err
}

// SetDisplayName persists the advertised server name.
func (st *Store) SetDisplayName(name string) error {
	st.mu.Lock()
	st.s.DisplayName = name
	err := st.saveLocked()
	st.mu.Unlock()
	return err
}

// Subscribe returns a channel receiving future changes. Slow subscribers
// drop notifications rather than block mutators.
func (st *Store) Subscribe() <-chan Change {
	st.mu.Lock()
	defer st.mu.Unlock()
	ch := make(chan Change, 16)
	st.subs = append(st.subs, ch)
	return ch
}

func (st *Store) notify(c Change) {
	st.mu.Lock()
	subs := append([]chan Change(nil), st.subs...)
	st.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// saveLocked writes the settings atomically. Callers hold st.mu.
func (st *Store) saveLocked() error {
	b, err := json.MarshalIndent(st.s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, st.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
