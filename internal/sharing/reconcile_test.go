package sharing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestReconcileRestartsOnModelChange(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{text: "ok"}, "base.en", "small.en")
	if err := h.st.SetCurrentModel("base.en"); err != nil {
		t.Fatalf("set model: %v", err)
	}
	if err := h.ctrl.Start(0, "pw"); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec := NewReconciler(h.ctrl, h.st, zerolog.Nop())
	rec.Start(context.Background())
	defer rec.Stop()

	if err := h.st.SetCurrentModel("small.en"); err != nil {
		t.Fatalf("switch model: %v", err)
	}

	waitFor(t, func() bool {
		s := h.ctrl.Session()
		return s.Enabled && s.ModelName == "small.en"
	})
	if s := h.ctrl.Session(); s.Password != "pw" {
		t.Fatalf("restart must keep the password: %+v", s)
	}
}

func TestReconcileFailureLeavesServerStopped(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{text: "ok"}, "base.en")
	if err := h.ctrl.Start(0, ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec := NewReconciler(h.ctrl, h.st, zerolog.Nop())
	rec.Start(context.Background())
	defer rec.Stop()

	// Remove every model so the restart cannot find one to serve.
	entries, _ := os.ReadDir(h.dir)
	for _, e := range entries {
		_ = os.Remove(filepath.Join(h.dir, e.Name()))
	}
	if err := h.st.SetCurrentModel("small.en"); err != nil {
		t.Fatalf("switch model: %v", err)
	}

	waitFor(t, func() bool {
		s := h.ctrl.Session()
		return !s.Enabled && s.LastError != ""
	})
}

func TestReconcilePausesSharingForRemoteSelection(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{text: "ok"}, "base.en")
	// A real port: the restore path re-reads it from persisted settings.
	if err := h.ctrl.Start(freePort(t), "pw"); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec := NewReconciler(h.ctrl, h.st, zerolog.Nop())
	rec.Start(context.Background())
	defer rec.Stop()

	if err := h.st.SetActiveRemote("conn-1"); err != nil {
		t.Fatalf("select remote: %v", err)
	}
	waitFor(t, func() bool {
		return !h.ctrl.Session().Enabled && h.st.Snapshot().SharingWasActive
	})

	if err := h.st.SetActiveRemote(""); err != nil {
		t.Fatalf("clear remote: %v", err)
	}
	waitFor(t, func() bool {
		s := h.ctrl.Session()
		return s.Enabled && s.Password == "pw" && !h.st.Snapshot().SharingWasActive
	})
}

func TestReconcileIgnoresModelChangeWhileStopped(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{}, "base.en", "small.en")
	rec := NewReconciler(h.ctrl, h.st, zerolog.Nop())
	rec.Start(context.Background())
	defer rec.Stop()

	if err := h.st.SetCurrentModel("small.en"); err != nil {
		t.Fatalf("set model: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if h.ctrl.Session().Enabled {
		t.Fatal("reconciler must not start a stopped server")
	}
}
