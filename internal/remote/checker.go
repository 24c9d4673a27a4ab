package remote

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"typrd/internal/registry"
	"typrd/pkg/types"
)

// Checker runs health checks against saved connections and persists the
// classified result. Checks never fail toward the caller: every probe
// outcome, including errors, maps to a status.
type Checker struct {
	client         *Client
	reg            *registry.Store
	localMachineID string
	log            zerolog.Logger

	mu  sync.Mutex
	gen map[string]uint64
}

// NewChecker builds a checker. localMachineID is this machine's stable
// identity, used to detect connections that loop back to ourselves.
func NewChecker(client *Client, reg *registry.Store, localMachineID string, log zerolog.Logger) *Checker {
	return &Checker{
		client:         client,
		reg:            reg,
		localMachineID: localMachineID,
		log:            log.With().Str("component", "health-checker").Logger(),
		gen:            make(map[string]uint64),
	}
}

// CheckStatus probes one connection, advances its status, and persists the
// result. When a newer check for the same id starts while this one is still
// in flight, this one's result is discarded instead of overwriting fresher
// state. Returns the computed status; unknown when the id does not exist.
func (c *Checker) CheckStatus(ctx context.Context, id string) types.ConnectionStatus {
	conn, err := c.reg.Get(id)
	if err != nil {
		c.log.Warn().Str("id", id).Err(err).Msg("health check for unknown connection")
		return types.StatusUnknown
	}

	c.mu.Lock()
	c.gen[id]++
	myGen := c.gen[id]
	c.mu.Unlock()

	status, probeErr := c.client.TestConnection(ctx, conn.Host, conn.Port, conn.Password)

	var peerMachineID, peerModel string
	if status != nil {
		peerMachineID = status.MachineID
		peerModel = status.Model
	}
	outcome := ClassifyOutcome(probeErr, peerMachineID, c.localMachineID)
	next := NextStatus(conn.CachedStatus, outcome)

	// Check and write under one lock: a stale probe that passed the check
	// must not be able to persist after a newer probe's write.
	c.mu.Lock()
	if c.gen[id] != myGen {
		c.mu.Unlock()
		c.log.Debug().Str("id", id).Msg("health check superseded by a newer probe")
		return next
	}
	err = c.reg.UpdateHealth(id, next, peerModel, time.Now().UnixMilli())
	c.mu.Unlock()
	if err != nil {
		c.log.Warn().Str("id", id).Err(err).Msg("persist health check result")
	}

	ev := c.log.Debug().
		Str("id", id).
		Str("addr", conn.Address()).
		Str("status", string(next))
	if probeErr != nil {
		ev = ev.Err(probeErr)
	}
	ev.Msg("health check complete")
	return next
}
