package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"typrd/internal/registry"
	"typrd/internal/settings"
	"typrd/pkg/types"
)

// ErrNoActiveRemote is returned when a remote transcription is requested
// but no saved connection is selected as the source.
var ErrNoActiveRemote = errors.New("no active remote connection selected")

// ErrSelfConnection is returned when a connection that points back at this
// machine is used or selected as the transcription source.
var ErrSelfConnection = errors.New("connection points back at this machine")

// Router sends transcription work to saved connections. It enforces the one
// rule the registry itself does not: a self-connection is never a valid
// source, selected or otherwise.
type Router struct {
	client *Client
	reg    *registry.Store
	st     *settings.Store
	log    zerolog.Logger
}

// NewRouter builds a router over the saved-connection registry.
func NewRouter(client *Client, reg *registry.Store, st *settings.Store, log zerolog.Logger) *Router {
	return &Router{
		client: client,
		reg:    reg,
		st:     st,
		log:    log.With().Str("component", "remote-router").Logger(),
	}
}

// Select designates a saved connection as the transcription source.
// Selecting "" clears the selection back to the local model.
func (r *Router) Select(id string) error {
	if id == "" {
		return r.st.SetActiveRemote("")
	}
	conn, err := r.reg.Get(id)
	if err != nil {
		return err
	}
	if conn.CachedStatus == types.StatusSelfConnection {
		return ErrSelfConnection
	}
	return r.st.SetActiveRemote(id)
}

// Transcribe sends audio to one saved connection by id.
func (r *Router) Transcribe(ctx context.Context, id string, audio []byte, opts TranscribeOptions) (*types.TranscribeResponse, error) {
	conn, err := r.reg.Get(id)
	if err != nil {
		return nil, err
	}
	if conn.CachedStatus == types.StatusSelfConnection {
		return nil, ErrSelfConnection
	}
	out, err := r.client.Transcribe(ctx, *conn, audio, opts)
	if err != nil {
		return nil, fmt.Errorf("transcribe via %s: %w", conn.Label(), err)
	}
	return out, nil
}

// TranscribeActive sends audio to the currently selected remote source.
func (r *Router) TranscribeActive(ctx context.Context, audio []byte, opts TranscribeOptions) (*types.TranscribeResponse, error) {
	id := r.st.ActiveRemote()
	if id == "" {
		return nil, ErrNoActiveRemote
	}
	return r.Transcribe(ctx, id, audio, opts)
}
