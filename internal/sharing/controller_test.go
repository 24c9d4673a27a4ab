package sharing

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"typrd/internal/engine"
	"typrd/internal/httpapi"
	"typrd/internal/netbind"
	"typrd/internal/settings"
	"typrd/pkg/types"
)

// fakeTranscriber counts overlap so tests can prove inference stays
// exclusive.
type fakeTranscriber struct {
	mu         sync.Mutex
	running    int
	maxRunning int
	calls      int

	delay   time.Duration
	started chan struct{}
	release chan struct{}
	text    string
	err     error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req engine.Request) (string, error) {
	f.mu.Lock()
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.running--
	f.calls++
	f.mu.Unlock()
	return f.text, f.err
}

type harness struct {
	ctrl *Controller
	st   *settings.Store
	dir  string
}

func newHarness(t *testing.T, tr engine.Transcriber, models ...string) *harness {
	t.Helper()
	st, err := settings.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open settings: %v", err)
	}
	modelsDir := t.TempDir()
	for _, m := range models {
		fn := filepath.Join(modelsDir, "ggml-"+m+".bin")
		if err := os.WriteFile(fn, []byte("ggml"), 0o644); err != nil {
			t.Fatalf("write model file: %v", err)
		}
	}
	inv, err := engine.NewInventory(modelsDir)
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	ctrl := New(Config{
		Version:     "test",
		MachineID:   "machine-local",
		Inventory:   inv,
		Transcriber: tr,
		Resolver:    netbind.NewWithInterfaces(func() ([]net.Interface, error) { return nil, nil }),
		Settings:    st,
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(func() { _ = ctrl.Stop() })
	return &harness{ctrl: ctrl, st: st, dir: modelsDir}
}

func (h *harness) addr(t *testing.T) string {
	t.Helper()
	for _, r := range h.ctrl.Session().BindingResults {
		if r.Success {
			return r.Address
		}
	}
	t.Fatal("no successful binding")
	return ""
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStartRequiresModel(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{})
	if err := h.ctrl.Start(0, ""); err != ErrNoModelAvailable {
		t.Fatalf("start without models: %v", err)
	}
	if h.ctrl.Session().Enabled {
		t.Fatal("session must stay down")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{text: "hi"}, "base.en")

	if err := h.ctrl.Start(0, "pw"); err != nil {
		t.Fatalf("start: %v", err)
	}
	s := h.ctrl.Session()
	if !s.Enabled || s.ModelName != "base.en" || s.Password != "pw" {
		t.Fatalf("session = %+v", s)
	}
	if !h.st.Snapshot().SharingEnabled {
		t.Fatal("sharing state not persisted")
	}

	if err := h.ctrl.Start(0, "pw"); err != ErrAlreadyRunning {
		t.Fatalf("second start: %v", err)
	}

	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.ctrl.Session().Enabled {
		t.Fatal("session still enabled after stop")
	}
	if h.st.Snapshot().SharingEnabled {
		t.Fatal("sharing flag not cleared")
	}
	// Idempotent.
	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestConcurrentStartsAllowExactlyOneSession(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{}, "base.en")

	start := make(chan struct{})
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			errs <- h.ctrl.Start(0, "")
		}()
	}
	close(start)

	var started, refused int
	for i := 0; i < 2; i++ {
		switch err := <-errs; err {
		case nil:
			started++
		case ErrAlreadyRunning:
			refused++
		default:
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	if started != 1 || refused != 1 {
		t.Fatalf("concurrent starts: started=%d refused=%d, want exactly one of each", started, refused)
	}
	if !h.ctrl.Session().Enabled {
		t.Fatal("winning start left no session")
	}
}

func TestStartBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("pre-bind: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	h := newHarness(t, &fakeTranscriber{}, "base.en")
	err = h.ctrl.Start(port, "")
	if !IsBindError(err) {
		t.Fatalf("want bind error, got %v", err)
	}
	if h.ctrl.Session().Enabled {
		t.Fatal("no partial session on total bind failure")
	}
}

func TestConcurrentTranscriptionsNeverOverlap(t *testing.T) {
	tr := &fakeTranscriber{text: "ok", delay: 30 * time.Millisecond}
	h := newHarness(t, tr, "base.en")
	if err := h.ctrl.Start(0, ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	const n = 4
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.ctrl.Transcribe(context.Background(), []byte("a"), "audio/wav"); err != nil {
				t.Errorf("transcribe: %v", err)
			}
		}()
	}
	wg.Wait()

	if tr.maxRunning != 1 {
		t.Fatalf("engine overlap observed: max running = %d", tr.maxRunning)
	}
	if tr.calls != n {
		t.Fatalf("calls = %d", tr.calls)
	}
}

func TestActiveConnectionsTracksEngineHold(t *testing.T) {
	tr := &fakeTranscriber{
		text:    "ok",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	h := newHarness(t, tr, "base.en")
	if err := h.ctrl.Start(0, ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.ctrl.Transcribe(context.Background(), []byte("a"), "audio/wav")
	}()
	<-tr.started

	if got := h.ctrl.Session().ActiveConnections; got != 1 {
		t.Fatalf("active while engine held = %d", got)
	}
	close(tr.release)
	<-done
	if got := h.ctrl.Session().ActiveConnections; got != 0 {
		t.Fatalf("active after completion = %d", got)
	}
}

func TestServesWireProtocol(t *testing.T) {
	tr := &fakeTranscriber{text: "hello from the other machine"}
	h := newHarness(t, tr, "large-v3-turbo")
	if err := h.ctrl.Start(0, "secret123"); err != nil {
		t.Fatalf("start: %v", err)
	}
	base := "http://" + h.addr(t)

	// Status needs the key.
	req, _ := http.NewRequest(http.MethodGet, base+"/api/v1/status", nil)
	req.Header.Set(httpapi.AuthHeader, "secret123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	var status types.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "ok" || status.Model != "large-v3-turbo" || status.MachineID != "machine-local" {
		t.Fatalf("status = %+v", status)
	}

	// Wrong key is rejected.
	req, _ = http.NewRequest(http.MethodPost, base+"/api/v1/transcribe", bytes.NewReader([]byte("RIFF")))
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set(httpapi.AuthHeader, "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key status = %d", resp.StatusCode)
	}

	// Correct key transcribes.
	req, _ = http.NewRequest(http.MethodPost, base+"/api/v1/transcribe", bytes.NewReader([]byte("RIFF")))
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set(httpapi.AuthHeader, "secret123")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out types.TranscribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Text != "hello from the other machine" || out.Model != "large-v3-turbo" {
		t.Fatalf("response = %+v", out)
	}
}
