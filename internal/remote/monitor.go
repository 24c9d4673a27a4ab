package remote

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"typrd/internal/registry"
)

// DefaultMonitorInterval is the period between background health sweeps.
const DefaultMonitorInterval = 30 * time.Second

// Monitor periodically health-checks every saved connection. All peers in a
// sweep are probed concurrently so one slow peer cannot delay the rest.
type Monitor struct {
	checker  *Checker
	reg      *registry.Store
	interval time.Duration
	log      zerolog.Logger

	refresh chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor builds a monitor. interval <= 0 selects
// DefaultMonitorInterval.
func NewMonitor(checker *Checker, reg *registry.Store, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{
		checker:  checker,
		reg:      reg,
		interval: interval,
		log:      log.With().Str("component", "health-monitor").Logger(),
		refresh:  make(chan struct{}, 1),
	}
}

// Start launches the sweep loop. The first sweep runs immediately. Starting
// a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
	m.log.Info().Dur("interval", m.interval).Msg("health monitor started")
}

// Stop halts the loop and waits for in-flight probes to finish. Stopping a
// stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.log.Info().Msg("health monitor stopped")
}

// Refresh requests an immediate sweep outside the regular cadence, e.g.
// after the user edits the connection list. Coalesces when a request is
// already pending.
func (m *Monitor) Refresh() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		case <-m.refresh:
			m.sweep(ctx)
		}
	}
}

// sweep probes every saved connection concurrently and waits for all of
// them before returning.
func (m *Monitor) sweep(ctx context.Context) {
	conns, err := m.reg.List()
	if err != nil {
		m.log.Warn().Err(err).Msg("list connections for health sweep")
		return
	}
	if len(conns) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.checker.CheckStatus(ctx, id)
		}(conn.ID)
	}
	wg.Wait()
	m.log.Debug().Int("peers", len(conns)).Msg("health sweep complete")
}
