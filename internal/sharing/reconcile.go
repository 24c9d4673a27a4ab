package sharing

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"typrd/internal/settings"
)

// Reconciler keeps a running sharing session consistent with the selected
// model: when the model changes mid-session, the server restarts with the
// same port and password so peers never receive transcripts from a model
// other than the advertised one. There is no retry: a failed restart leaves
// sharing stopped with the error recorded on the session.
//
// It also pauses sharing while a remote source is selected and restores it
// once the selection clears.
type Reconciler struct {
	ctrl *Controller
	st   *settings.Store
	log  zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler builds a reconcile loop around the controller.
func NewReconciler(ctrl *Controller, st *settings.Store, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		ctrl: ctrl,
		st:   st,
		log:  log.With().Str("component", "reconcile").Logger(),
	}
}

// Start subscribes to settings changes and reacts to model switches.
// Starting a running reconciler is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	ch := r.st.Subscribe()
	go r.run(ctx, ch, r.done)
}

// Stop halts the loop. Stopping a stopped reconciler is a no-op.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// handleSelection pauses sharing while a remote source is selected and
// restores it once the selection clears. Serving peers and consuming a peer
// at the same time would contend for the same exclusive engine.
func (r *Reconciler) handleSelection() {
	snap := r.st.Snapshot()
	switch {
	case snap.ActiveConnectionID != "" && r.ctrl.Session().Enabled:
		r.log.Info().Str("connection", snap.ActiveConnectionID).Msg("remote source selected, pausing sharing")
		if err := r.ctrl.Stop(); err != nil {
			r.log.Warn().Err(err).Msg("stop sharing for remote selection")
			return
		}
		if err := r.st.SetSharingWasActive(true); err != nil {
			r.log.Warn().Err(err).Msg("persist sharing restore flag")
		}
	case snap.ActiveConnectionID == "" && snap.SharingWasActive:
		if err := r.st.SetSharingWasActive(false); err != nil {
			r.log.Warn().Err(err).Msg("persist sharing restore flag")
		}
		r.log.Info().Msg("remote selection cleared, restoring sharing")
		if err := r.ctrl.Start(snap.SharingPort, snap.SharingPassword); err != nil {
			r.log.Error().Err(err).Msg("sharing not restored after remote selection cleared")
		}
	}
}

func (r *Reconciler) run(ctx context.Context, ch <-chan settings.Change, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-ch:
			switch c.Kind {
			case settings.ChangeModel:
				if !r.ctrl.Session().Enabled {
					continue
				}
				r.log.Info().Str("model", r.st.CurrentModel()).Msg("model changed while sharing, restarting server")
				if err := r.ctrl.RestartForModelChange(); err != nil {
					r.log.Error().Err(err).Msg("sharing left stopped after model change")
				}
			case settings.ChangeSelection:
				r.handleSelection()
			}
		}
	}
}
