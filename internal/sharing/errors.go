package sharing

import (
	"errors"
	"fmt"
	"strings"

	"typrd/pkg/types"
)

// ErrAlreadyRunning is returned when Start is called on a live session.
var ErrAlreadyRunning = errors.New("sharing server already running")

// ErrNoModelAvailable is returned when Start finds no downloaded model to
// serve. A server with nothing to transcribe with must not come up.
var ErrNoModelAvailable = errors.New("no transcription model downloaded")

// BindError reports that every bind attempt failed, with the per-address
// outcomes so the user can see which interface rejected us and why.
type BindError struct {
	Port    int
	Results []types.BindingResult
}

func (e *BindError) Error() string {
	var parts []string
	for _, r := range e.Results {
		if !r.Success {
			parts = append(parts, fmt.Sprintf("%s: %s", r.Address, r.Error))
		}
	}
	return fmt.Sprintf("could not bind port %d on any interface (%s)", e.Port, strings.Join(parts, "; "))
}

// IsBindError reports whether err is a failed-bind error.
func IsBindError(err error) bool {
	var be *BindError
	return errors.As(err, &be)
}

// RestartError reports that an automatic restart after a model change could
// not bring the server back up. The session stays stopped.
type RestartError struct {
	Err error
}

func (e *RestartError) Error() string {
	return fmt.Sprintf("restart after model change failed: %v", e.Err)
}

func (e *RestartError) Unwrap() error { return e.Err }

// IsRestartError reports whether err came from a failed automatic restart.
func IsRestartError(err error) bool {
	var re *RestartError
	return errors.As(err, &re)
}
