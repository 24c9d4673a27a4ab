package remote

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnauthorized reports a 401 from the peer: the password is wrong or
// missing. Reported distinctly from unreachability so the user knows whether
// to fix credentials or the network.
var ErrUnauthorized = errors.New("unauthorized")

// UnreachableError covers connection refused, DNS failure and probe
// timeouts: the peer could not be reached at all.
type UnreachableError struct {
	Addr string
	Err  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("peer %s unreachable: %v", e.Addr, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// IsUnreachable reports whether err indicates an unreachable peer.
func IsUnreachable(err error) bool {
	var ue *UnreachableError
	return errors.As(err, &ue)
}

// TimeoutError reports that a transcription round-trip exceeded its
// duration-derived deadline. Distinct from UnreachableError: the peer was
// reached but did not answer in time.
type TimeoutError struct {
	Addr  string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transcription via %s timed out after %s", e.Addr, e.Limit)
}

// IsTimeout reports whether err indicates an elapsed transcription deadline.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
