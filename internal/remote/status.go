package remote

import (
	"errors"

	"typrd/pkg/types"
)

// ProbeOutcome is the classified result of one status probe.
type ProbeOutcome int

const (
	// ProbeOnline means the peer answered and is not this machine.
	ProbeOnline ProbeOutcome = iota
	// ProbeUnreachable means the peer could not be reached.
	ProbeUnreachable
	// ProbeAuthFailed means the peer rejected our password.
	ProbeAuthFailed
	// ProbeSelf means the peer reported our own machine identity.
	ProbeSelf
)

// ClassifyOutcome maps a probe error (or nil on success) plus the machine
// identities to a ProbeOutcome. An auth failure still proves the peer is
// running, which is why it gets its own state instead of folding into
// offline.
func ClassifyOutcome(err error, peerMachineID, localMachineID string) ProbeOutcome {
	switch {
	case err == nil && peerMachineID != "" && peerMachineID == localMachineID:
		return ProbeSelf
	case err == nil:
		return ProbeOnline
	case IsUnauthorized(err):
		return ProbeAuthFailed
	default:
		return ProbeUnreachable
	}
}

// IsUnauthorized reports whether err is the unauthorized sentinel.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// NextStatus advances a connection's status from its previous value and a
// fresh probe outcome. Self-connection is sticky: once a peer has proven to
// be this machine it stays marked, even when later probes fail, so it can
// never sneak back into the selectable set.
func NextStatus(prev types.ConnectionStatus, outcome ProbeOutcome) types.ConnectionStatus {
	if prev == types.StatusSelfConnection {
		return types.StatusSelfConnection
	}
	switch outcome {
	case ProbeOnline:
		return types.StatusOnline
	case ProbeAuthFailed:
		return types.StatusAuthFailed
	case ProbeSelf:
		return types.StatusSelfConnection
	default:
		return types.StatusOffline
	}
}
