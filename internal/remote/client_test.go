package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"typrd/pkg/types"
)

func TestTranscribeTimeout(t *testing.T) {
	cases := []struct {
		name   string
		dur    time.Duration
		source types.TranscriptionSource
		want   time.Duration
	}{
		{"live short clip clamps up", 10 * time.Second, types.SourceLiveRecording, 30 * time.Second},
		{"live mid range passes through", 45 * time.Second, types.SourceLiveRecording, 45 * time.Second},
		{"live long clip clamps down", 10 * time.Minute, types.SourceLiveRecording, 120 * time.Second},
		{"upload gets fixed slack", 300 * time.Second, types.SourceUpload, 360 * time.Second},
		{"upload is uncapped", time.Hour, types.SourceUpload, time.Hour + 60*time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TranscribeTimeout(tc.dur, tc.source); got != tc.want {
				t.Fatalf("timeout = %s, want %s", got, tc.want)
			}
		})
	}
}

// splitHostPort breaks an httptest server URL into client arguments.
func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return u.Hostname(), port
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get(AuthHeader) != "secret123" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "unauthorized"})
			return
		}
		_ = json.NewEncoder(w).Encode(types.StatusResponse{
			Status:    "ok",
			Version:   "1.2.3",
			Model:     "large-v3-turbo",
			Name:      "Desk PC",
			MachineID: "peer-machine",
		})
	}))
	defer srv.Close()
	host, port := splitHostPort(t, srv.URL)
	c := NewClient(zerolog.Nop())

	status, err := c.TestConnection(context.Background(), host, port, "secret123")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if status.Model != "large-v3-turbo" || status.MachineID != "peer-machine" {
		t.Fatalf("status = %+v", status)
	}

	if _, err := c.TestConnection(context.Background(), host, port, "wrong"); !IsUnauthorized(err) {
		t.Fatalf("bad password: %v", err)
	}
}

func TestTestConnectionUnreachable(t *testing.T) {
	// A listener that is immediately closed guarantees a refused port.
	srv := httptest.NewServer(http.NotFoundHandler())
	host, port := splitHostPort(t, srv.URL)
	srv.Close()

	c := NewClient(zerolog.Nop())
	_, err := c.TestConnection(context.Background(), host, port, "")
	if !IsUnreachable(err) {
		t.Fatalf("refused port: %v", err)
	}
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transcribe" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("content type = %s", ct)
		}
		_ = json.NewEncoder(w).Encode(types.TranscribeResponse{
			Text:       "hello world",
			DurationMS: 420,
			Model:      "base.en",
		})
	}))
	defer srv.Close()
	host, port := splitHostPort(t, srv.URL)
	conn := types.SavedConnection{Host: host, Port: port, Password: "pw"}

	c := NewClient(zerolog.Nop())
	out, err := c.Transcribe(context.Background(), conn, []byte("RIFF...."), TranscribeOptions{
		Source:        types.SourceLiveRecording,
		AudioDuration: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if out.Text != "hello world" || out.Model != "base.en" {
		t.Fatalf("response = %+v", out)
	}
}

func TestTranscribeUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "unauthorized"})
	}))
	defer srv.Close()
	host, port := splitHostPort(t, srv.URL)
	conn := types.SavedConnection{Host: host, Port: port}

	c := NewClient(zerolog.Nop())
	_, err := c.Transcribe(context.Background(), conn, nil, TranscribeOptions{Source: types.SourceLiveRecording})
	if !IsUnauthorized(err) {
		t.Fatalf("want unauthorized, got %v", err)
	}
}

func TestTranscribeTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)
	host, port := splitHostPort(t, srv.URL)
	conn := types.SavedConnection{Host: host, Port: port}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	c := NewClient(zerolog.Nop())
	_, err := c.Transcribe(ctx, conn, nil, TranscribeOptions{Source: types.SourceLiveRecording})
	if !IsTimeout(err) {
		t.Fatalf("want timeout, got %v", err)
	}
}
