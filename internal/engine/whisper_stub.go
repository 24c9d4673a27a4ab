//go:build !whisper

package engine

// This file provides a no-CGO stub for the whisper runtime. It is compiled
// when the 'whisper' build tag is NOT set, keeping default builds and CI
// CGO-free. The real runtime lives in whisper_cgo.go (tagged 'whisper').

import "context"

type whisperEngine struct {
	threads int
}

// NewWhisperEngine returns the transcription runtime. Without the 'whisper'
// build tag it refuses to run inference instead of mocking results.
func NewWhisperEngine(threads int) Transcriber {
	return &whisperEngine{threads: threads}
}

func (e *whisperEngine) Transcribe(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return "", ErrEngineUnavailable("whisper support not built (missing 'whisper' build tag)")
}
