//go:build whisper

package engine

// In-process whisper.cpp runtime. Build with -tags=whisper and libwhisper
// available next to the binary:
//
//	CGO_ENABLED=1 go build -tags=whisper ./cmd/typrd
//
// The rpath mirrors the bin/ layout used for local builds so the loader
// finds libwhisper.so without environment variables.

/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lwhisper
*/
import "C"

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

type whisperEngine struct {
	threads int
}

// NewWhisperEngine returns the in-process whisper.cpp runtime.
func NewWhisperEngine(threads int) Transcriber {
	return &whisperEngine{threads: threads}
}

func (e *whisperEngine) Transcribe(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	model, err := whisper.New(req.ModelPath)
	if err != nil {
		return "", fmt.Errorf("load model %s: %w", req.ModelPath, err)
	}
	defer model.Close()

	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("new whisper context: %w", err)
	}
	if e.threads > 0 {
		wctx.SetThreads(uint(e.threads))
	}
	if req.Language != "" {
		if err := wctx.SetLanguage(req.Language); err != nil {
			return "", fmt.Errorf("set language %q: %w", req.Language, err)
		}
	}

	samples, err := loadWAVMono16(req.AudioPath)
	if err != nil {
		return "", err
	}
	if err := wctx.Process(samples, nil, nil); err != nil {
		return "", fmt.Errorf("whisper process: %w", err)
	}

	var text string
	for {
		seg, err := wctx.NextSegment()
		if err != nil {
			break
		}
		text += seg.Text
	}
	return text, nil
}

// loadWAVMono16 reads a 16-bit PCM WAV file into normalized float32 samples.
// Only the canonical 44-byte header layout produced by the recorder is
// supported; anything else is rejected.
func loadWAVMono16(path string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(raw) < 44 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a WAV file: %s", path)
	}
	data := raw[44:]
	samples := make([]float32, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		s := int16(binary.LittleEndian.Uint16(data[i : i+2]))
		samples = append(samples, float32(s)/32768)
	}
	return samples, nil
}
