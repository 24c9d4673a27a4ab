// Package httpapi is the wire surface a sharing server exposes to remote
// peers: status and transcription under /api/v1, plus health and metrics
// endpoints for operators.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"typrd/pkg/types"
)

// AuthHeader carries the shared password on authenticated requests.
const AuthHeader = "X-VoiceTypr-Key"

// serverBaseCtx ties handler work to the process lifetime so shutdown can
// cancel transcriptions that are still queued behind the engine.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process lifetime context. nil resets to
// Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context from the request that also ends when base
// does. The returned cancel releases the watcher and must always be called.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Service defines the methods required by the HTTP API layer.
type Service interface {
	// Status describes this server for peers: model, name, machine id.
	Status() types.StatusResponse
	// Transcribe runs audio through the local engine. Serialized by the
	// service; concurrent calls queue.
	Transcribe(ctx context.Context, audio []byte, contentType string) (*types.TranscribeResponse, error)
	// Password returns the current shared password; empty disables auth.
	Password() string
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireKey(svc))

		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
				writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
				return
			}
		})

		r.Post("/transcribe", func(w http.ResponseWriter, r *http.Request) {
			handleTranscribe(svc, w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// requireKey rejects requests whose key header does not match the current
// password. Auth is disabled entirely while the password is empty. The
// password is read per request so a restarted session with a new password
// takes effect without rebuilding the mux.
func requireKey(svc Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			password := svc.Password()
			if password != "" {
				got := r.Header.Get(AuthHeader)
				if subtle.ConstantTimeCompare([]byte(got), []byte(password)) != 1 {
					writeJSONError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleTranscribe(svc Service, w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "audio/") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	audio, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_audio")
		return
	}
	if len(audio) == 0 {
		writeJSONError(w, http.StatusBadRequest, "empty_audio")
		return
	}

	start := time.Now()
	logEvent(func(l *zerolog.Logger) {
		ev := l.Info().Str("path", r.URL.Path).Int("bytes", len(audio))
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			ev = ev.Str("request_id", rid)
		}
		ev.Msg("transcription start")
	}, "transcription start path=%s bytes=%d", r.URL.Path, len(audio))

	// Join server base context with request context so shutdown cancels work too.
	joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	resp, err := svc.Transcribe(joinedCtx, audio, ct)
	if err != nil {
		// Client went away or the server is shutting down.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			ObserveTranscription("canceled", time.Since(start))
			return
		}
		status := http.StatusInternalServerError
		if he, ok := err.(HTTPError); ok {
			status = he.StatusCode()
		}
		writeJSONError(w, status, err.Error())
		ObserveTranscription("error", time.Since(start))
		logEvent(func(l *zerolog.Logger) {
			l.Error().Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("transcription end")
		}, "transcription end status=%d dur=%s err=%v", status, time.Since(start), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	ObserveTranscription("ok", time.Since(start))
	logEvent(func(l *zerolog.Logger) {
		l.Info().Str("model", resp.Model).Dur("dur", time.Since(start)).Msg("transcription end")
	}, "transcription end model=%s dur=%s", resp.Model, time.Since(start))
}
