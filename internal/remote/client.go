// Package remote implements the client side of transcription sharing:
// probing peers, classifying their health, and routing audio to a selected
// peer over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"typrd/pkg/types"
)

const (
	// AuthHeader carries the shared password on every authenticated request.
	AuthHeader = "X-VoiceTypr-Key"

	apiPrefix = "/api/v1"

	// probeTimeout bounds a single status probe.
	probeTimeout = 10 * time.Second

	// Transcription deadlines derive from the audio duration. Live
	// recordings are short and interactive, so the deadline is clamped;
	// uploads can be arbitrarily long, so the deadline grows with them.
	liveTimeoutMin     = 30 * time.Second
	liveTimeoutMax     = 120 * time.Second
	uploadTimeoutSlack = 60 * time.Second
)

// TranscribeTimeout returns the request deadline for audio of the given
// duration. Live: the duration clamped to [30s, 120s]. Upload: duration plus
// a fixed 60s of slack, uncapped.
func TranscribeTimeout(audioDuration time.Duration, source types.TranscriptionSource) time.Duration {
	if source == types.SourceUpload {
		return audioDuration + uploadTimeoutSlack
	}
	d := audioDuration
	if d < liveTimeoutMin {
		d = liveTimeoutMin
	}
	if d > liveTimeoutMax {
		d = liveTimeoutMax
	}
	return d
}

// Client talks to remote transcription servers. Safe for concurrent use.
type Client struct {
	httpc *http.Client
	log   zerolog.Logger
}

// NewClient builds a client. Per-request deadlines come from contexts, not
// from the http.Client, because transcription deadlines vary per call.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		httpc: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost:   2,
				IdleConnTimeout:       90 * time.Second,
				ExpectContinueTimeout: time.Second,
			},
		},
		log: log.With().Str("component", "remote-client").Logger(),
	}
}

// TestConnection probes GET /api/v1/status on host:port with the given
// password. Returns the peer's status payload, or ErrUnauthorized /
// *UnreachableError / a generic error for unexpected responses.
func (c *Client) TestConnection(ctx context.Context, host string, port int, password string) (*types.StatusResponse, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	endpoint := fmt.Sprintf("http://%s%s/status", addr, apiPrefix)

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request for %s: %w", addr, err)
	}
	if password != "" {
		req.Header.Set(AuthHeader, password)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &UnreachableError{Addr: addr, Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("peer %s returned %s to status probe", addr, resp.Status)
	}

	var status types.StatusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status from %s: %w", addr, err)
	}
	return &status, nil
}

// TranscribeOptions carries the audio metadata that shapes the request
// deadline.
type TranscribeOptions struct {
	Source        types.TranscriptionSource
	AudioDuration time.Duration
	ContentType   string
}

// Transcribe sends audio to the saved connection's POST /api/v1/transcribe
// and returns the peer's transcript. The deadline derives from
// opts.AudioDuration and opts.Source; exceeding it yields *TimeoutError.
func (c *Client) Transcribe(ctx context.Context, conn types.SavedConnection, audio []byte, opts TranscribeOptions) (*types.TranscribeResponse, error) {
	addr := conn.Address()
	endpoint := fmt.Sprintf("http://%s%s/transcribe", addr, apiPrefix)
	limit := TranscribeTimeout(opts.AudioDuration, opts.Source)
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}

	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("build transcribe request for %s: %w", addr, err)
	}
	req.Header.Set("Content-Type", contentType)
	if conn.Password != "" {
		req.Header.Set(AuthHeader, conn.Password)
	}

	c.log.Debug().
		Str("addr", addr).
		Str("source", string(opts.Source)).
		Dur("timeout", limit).
		Int("bytes", len(audio)).
		Msg("sending audio to remote peer")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		if isTimeoutErr(err, ctx) {
			return nil, &TimeoutError{Addr: addr, Limit: limit}
		}
		return nil, &UnreachableError{Addr: addr, Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("peer %s returned %s: %s", addr, resp.Status, readErrorMessage(resp.Body))
	}

	var out types.TranscribeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<22)).Decode(&out); err != nil {
		if isTimeoutErr(err, ctx) {
			return nil, &TimeoutError{Addr: addr, Limit: limit}
		}
		return nil, fmt.Errorf("decode transcription from %s: %w", addr, err)
	}

	c.log.Info().
		Str("addr", addr).
		Str("model", out.Model).
		Dur("elapsed", time.Since(start)).
		Msg("remote transcription complete")
	return &out, nil
}

// readErrorMessage pulls the "error" field out of an error body, falling
// back to the raw text.
func readErrorMessage(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 1<<12))
	if err != nil || len(body) == 0 {
		return "no error detail"
	}
	var payload types.ErrorResponse
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return string(body)
}

func isTimeoutErr(err error, ctx context.Context) bool {
	if ctx.Err() == context.DeadlineExceeded {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
