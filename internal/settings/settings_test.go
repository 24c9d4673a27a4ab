package settings

import (
	"testing"
	"time"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return st
}

func TestOpenDefaults(t *testing.T) {
	st := openStore(t)
	s := st.Snapshot()
	if s.SharingPort != DefaultSharePort {
		t.Fatalf("default port = %d", s.SharingPort)
	}
	if s.SharingEnabled || s.CurrentModel != "" || s.ActiveConnectionID != "" {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.SetCurrentModel("base.en"); err != nil {
		t.Fatalf("set model: %v", err)
	}
	if err := st.SetSharing(true, 47900, "secret"); err != nil {
		t.Fatalf("set sharing: %v", err)
	}

	again, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s := again.Snapshot()
	if s.CurrentModel != "base.en" || !s.SharingEnabled || s.SharingPort != 47900 || s.SharingPassword != "secret" {
		t.Fatalf("persisted settings: %+v", s)
	}
}

func TestLocalModelClearsRemoteSelection(t *testing.T) {
	st := openStore(t)
	if err := st.SetActiveRemote("conn-1"); err != nil {
		t.Fatalf("set remote: %v", err)
	}
	if st.ActiveRemote() != "conn-1" {
		t.Fatal("remote not set")
	}
	if err := st.SetCurrentModel("small.en"); err != nil {
		t.Fatalf("set model: %v", err)
	}
	if st.ActiveRemote() != "" {
		t.Fatal("selecting a local model must clear the remote selection")
	}
}

func TestSubscribeDeliversModelChange(t *testing.T) {
	st := openStore(t)
	ch := st.Subscribe()
	if err := st.SetCurrentModel("tiny"); err != nil {
		t.Fatalf("set model: %v", err)
	}
	select {
	case c := <-ch:
		if c.Kind != ChangeModel {
			t.Fatalf("kind = %s", c.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	st := openStore(t)
	_ = st.Subscribe() // never drained
	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			_ = st.SetSharing(true, 47842, "")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("mutators blocked on a slow subscriber")
	}
}
