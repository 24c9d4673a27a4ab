// Package engine abstracts the local transcription runtime and the local
// model inventory. The daemon treats inference as a blocking, exclusive
// operation; serialization happens above this package.
package engine

import "context"

// Request carries one transcription job.
type Request struct {
	// AudioPath points at a WAV file on local disk.
	AudioPath string
	// ModelPath points at the ggml model file to run.
	ModelPath string
	// Language is an optional hint ("" = autodetect).
	Language string
}

// Transcriber converts audio to text. Implementations block for the full
// duration of inference; callers must not assume cancellation mid-run.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}
