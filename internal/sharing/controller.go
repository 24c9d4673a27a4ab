// Package sharing owns the local sharing server lifecycle: binding the
// configured port across interfaces, serving the transcription API, and
// keeping the session consistent with settings changes.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"typrd/internal/engine"
	"typrd/internal/httpapi"
	"typrd/internal/netbind"
	"typrd/internal/platform"
	"typrd/internal/settings"
	"typrd/pkg/types"
)

const shutdownTimeout = 5 * time.Second

// Config wires the controller's collaborators.
type Config struct {
	Version     string
	MachineID   string
	Inventory   *engine.Inventory
	Transcriber engine.Transcriber
	Resolver    *netbind.Resolver
	Settings    *settings.Store
	Logger      zerolog.Logger
}

// Controller runs at most one sharing session per process. Inference is
// exclusive: concurrent transcription requests queue on a single mutex so
// the engine never runs two jobs at once.
type Controller struct {
	version     string
	machineID   string
	inventory   *engine.Inventory
	transcriber engine.Transcriber
	resolver    *netbind.Resolver
	settings    *settings.Store
	log         zerolog.Logger

	mu      sync.Mutex
	session types.SharingSession
	servers []*http.Server
	// starting guards the window between the Enabled check and session
	// installation so a concurrent Start cannot bind a second set of
	// listeners.
	starting bool

	// inferMu serializes inference across all listeners. Waiters are
	// released in whatever order the runtime picks, not strictly FIFO.
	inferMu sync.Mutex
}

// New builds a stopped controller.
func New(cfg Config) *Controller {
	return &Controller{
		version:     cfg.Version,
		machineID:   cfg.MachineID,
		inventory:   cfg.Inventory,
		transcriber: cfg.Transcriber,
		resolver:    cfg.Resolver,
		settings:    cfg.Settings,
		log:         cfg.Logger.With().Str("component", "sharing").Logger(),
	}
}

// Start brings the sharing server up on port with the given password.
// Interface addresses are re-enumerated on every start; each address binds
// independently and the session is up as long as at least one bind
// succeeded. Returns ErrAlreadyRunning, ErrNoModelAvailable or *BindError.
func (c *Controller) Start(port int, password string) error {
	c.mu.Lock()
	if c.session.Enabled || c.starting {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.starting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	model := c.inventory.CurrentModelDisplayName(c.settings.CurrentModel())
	if model == "" {
		return ErrNoModelAvailable
	}

	bindings := c.resolver.ResolveAndBind(port)
	results := make([]types.BindingResult, 0, len(bindings))
	var live []*netbind.Binding
	for i := range bindings {
		results = append(results, bindings[i].Result)
		if bindings[i].Listener != nil {
			live = append(live, &bindings[i])
		}
	}
	if len(live) == 0 {
		return &BindError{Port: port, Results: results}
	}

	handler := httpapi.NewMux(c)
	servers := make([]*http.Server, 0, len(live))
	for _, b := range live {
		srv := &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)
		go func(srv *http.Server, b *netbind.Binding) {
			if err := srv.Serve(b.Listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Error().Str("addr", b.Result.Address).Err(err).Msg("sharing listener exited")
			}
		}(srv, b)
	}

	c.mu.Lock()
	c.session = types.SharingSession{
		Enabled:           true,
		Port:              port,
		Password:          password,
		DisplayName:       c.displayName(),
		ModelName:         model,
		BindingResults:    results,
		ActiveConnections: 0,
	}
	c.servers = servers
	c.mu.Unlock()

	if err := c.settings.SetSharing(true, port, password); err != nil {
		c.log.Warn().Err(err).Msg("persist sharing state")
	}

	c.log.Info().
		Int("port", port).
		Str("model", model).
		Int("bound", len(live)).
		Int("attempted", len(results)).
		Msg("sharing server started")

	// Advisory only. A firewall can still block peers even though our
	// binds succeeded.
	go func() {
		if fw := platform.ProbeFirewall(); fw.MayBeBlocked {
			c.log.Warn().
				Bool("firewall_enabled", fw.FirewallEnabled).
				Bool("app_allowed", fw.AppAllowed).
				Msg("firewall may block incoming peers")
		}
	}()
	return nil
}

// Stop shuts the session down and waits briefly for in-flight requests.
// Stopping a stopped controller is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.session.Enabled {
		c.mu.Unlock()
		return nil
	}
	port, password := c.session.Port, c.session.Password
	servers := c.servers
	c.servers = nil
	c.session = types.SharingSession{}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			c.log.Warn().Err(err).Msg("listener shutdown")
		}
	}

	if err := c.settings.SetSharing(false, port, password); err != nil {
		c.log.Warn().Err(err).Msg("persist sharing state")
	}
	c.log.Info().Int("port", port).Msg("sharing server stopped")
	return nil
}

// RestartForModelChange tears the session down and brings it back up with
// the same port and password so peers see the newly selected model. On
// failure the session stays stopped and the error is kept on the session.
func (c *Controller) RestartForModelChange() error {
	c.mu.Lock()
	enabled := c.session.Enabled
	port, password := c.session.Port, c.session.Password
	c.mu.Unlock()
	if !enabled {
		return nil
	}

	if err := c.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("stop during restart")
	}
	if err := c.Start(port, password); err != nil {
		rerr := &RestartError{Err: err}
		c.mu.Lock()
		c.session.LastError = rerr.Error()
		c.mu.Unlock()
		return rerr
	}
	return nil
}

// Session returns a copy of the current session state.
func (c *Controller) Session() types.SharingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	s.BindingResults = append([]types.BindingResult(nil), c.session.BindingResults...)
	return s
}

// Status implements httpapi.Service.
func (c *Controller) Status() types.StatusResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.StatusResponse{
		Status:    "ok",
		Version:   c.version,
		Model:     c.session.ModelName,
		Name:      c.session.DisplayName,
		MachineID: c.machineID,
	}
}

// Password implements httpapi.Service.
func (c *Controller) Password() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Password
}

// Transcribe implements httpapi.Service. Requests queue on the inference
// mutex; the active connection count covers exactly the time the engine is
// held. A request whose client has gone away still runs to completion once
// started.
func (c *Controller) Transcribe(ctx context.Context, audio []byte, contentType string) (*types.TranscribeResponse, error) {
	c.mu.Lock()
	model := c.session.ModelName
	c.mu.Unlock()
	if model == "" {
		return nil, ErrNoModelAvailable
	}
	modelPath, err := c.inventory.ModelPath(model)
	if err != nil {
		return nil, err
	}

	audioPath, err := spoolAudio(audio, contentType)
	if err != nil {
		return nil, err
	}
	defer os.Remove(audioPath)

	c.inferMu.Lock()
	c.addActive(1)
	defer func() {
		c.addActive(-1)
		c.inferMu.Unlock()
	}()

	start := time.Now()
	text, err := c.transcriber.Transcribe(ctx, engine.Request{
		AudioPath: audioPath,
		ModelPath: modelPath,
	})
	if err != nil {
		return nil, err
	}
	return &types.TranscribeResponse{
		Text:       text,
		DurationMS: time.Since(start).Milliseconds(),
		Model:      model,
	}, nil
}

func (c *Controller) addActive(delta int) {
	c.mu.Lock()
	c.session.ActiveConnections += delta
	n := c.session.ActiveConnections
	c.mu.Unlock()
	httpapi.SetActiveTranscriptions(n)
}

func (c *Controller) displayName() string {
	if name := c.settings.Snapshot().DisplayName; name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil {
		return "typrd"
	}
	return host
}

// spoolAudio writes the request body to a temp file for the engine, which
// reads audio from disk.
func spoolAudio(audio []byte, contentType string) (string, error) {
	f, err := os.CreateTemp("", "typrd-audio-*"+extForContentType(contentType))
	if err != nil {
		return "", fmt.Errorf("spool audio: %w", err)
	}
	if _, err := f.Write(audio); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("spool audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("spool audio: %w", err)
	}
	return f.Name(), nil
}

func extForContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch strings.ToLower(strings.TrimSpace(ct)) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/ogg":
		return ".ogg"
	case "audio/flac":
		return ".flac"
	default:
		return ".wav"
	}
}
