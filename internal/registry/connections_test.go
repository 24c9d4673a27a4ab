package registry

import (
	"testing"

	"typrd/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddAndGet(t *testing.T) {
	s := openTestStore(t)
	conn, err := s.Add("192.168.1.20", 47842, "secret", "Desk PC")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if conn.ID == "" || conn.CreatedAt == 0 {
		t.Fatalf("missing id/created_at: %+v", conn)
	}
	if conn.CachedStatus != types.StatusUnknown {
		t.Fatalf("new connection status = %s", conn.CachedStatus)
	}

	got, err := s.Get(conn.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Host != "192.168.1.20" || got.Port != 47842 || got.Password != "secret" || got.DisplayName != "Desk PC" {
		t.Fatalf("roundtrip: %+v", got)
	}
}

func TestAddUpsertsOnHostPort(t *testing.T) {
	s := openTestStore(t)
	first, err := s.Add("10.0.0.5", 47842, "", "old name")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	second, err := s.Add("10.0.0.5", 47842, "pw", "new name")
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("re-adding the same host:port must keep the id (%s vs %s)", first.ID, second.ID)
	}
	if second.CreatedAt != first.CreatedAt {
		t.Fatal("re-adding must keep created_at")
	}
	if second.Password != "pw" || second.DisplayName != "new name" {
		t.Fatalf("re-add must update credentials/name: %+v", second)
	}

	all, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one row, got %d", len(all))
	}
}

func TestRemove(t *testing.T) {
	s := openTestStore(t)
	conn, _ := s.Add("10.0.0.6", 47842, "", "")
	if err := s.Remove(conn.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(conn.ID); err != ErrNotFound {
		t.Fatalf("second remove: %v", err)
	}
	if _, err := s.Get(conn.ID); err != ErrNotFound {
		t.Fatalf("get removed: %v", err)
	}
}

func TestUpdateHealth(t *testing.T) {
	s := openTestStore(t)
	conn, _ := s.Add("10.0.0.7", 47842, "", "")

	if err := s.UpdateHealth(conn.ID, types.StatusOnline, "large-v3-turbo", 1234); err != nil {
		t.Fatalf("update health: %v", err)
	}
	got, _ := s.Get(conn.ID)
	if got.CachedStatus != types.StatusOnline || got.CachedModel != "large-v3-turbo" || got.LastCheckedAt != 1234 {
		t.Fatalf("health not persisted: %+v", got)
	}

	// An empty model keeps the previous cached value.
	if err := s.UpdateHealth(conn.ID, types.StatusOffline, "", 2345); err != nil {
		t.Fatalf("update health: %v", err)
	}
	got, _ = s.Get(conn.ID)
	if got.CachedStatus != types.StatusOffline || got.CachedModel != "large-v3-turbo" {
		t.Fatalf("cached model lost on offline probe: %+v", got)
	}

	if err := s.UpdateHealth("missing", types.StatusOnline, "", 0); err != ErrNotFound {
		t.Fatalf("missing id: %v", err)
	}
}

func TestSelectableExcludesSelfConnection(t *testing.T) {
	s := openTestStore(t)
	a, _ := s.Add("10.0.0.8", 47842, "", "a")
	b, _ := s.Add("10.0.0.9", 47842, "", "b")
	_ = s.UpdateHealth(a.ID, types.StatusSelfConnection, "", 0)
	_ = s.UpdateHealth(b.ID, types.StatusOffline, "", 0)

	sel, err := s.Selectable()
	if err != nil {
		t.Fatalf("selectable: %v", err)
	}
	if len(sel) != 1 || sel[0].ID != b.ID {
		t.Fatalf("selectable = %+v", sel)
	}
}
