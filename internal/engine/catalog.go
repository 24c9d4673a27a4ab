package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"typrd/internal/common/fsutil"
)

// ModelPreset describes one known whisper.cpp model.
type ModelPreset struct {
	Name      string `json:"name"`
	FileName  string `json:"file_name"`
	SizeLabel string `json:"size_label,omitempty"`
}

// Presets lists the whisper.cpp models the daemon knows how to serve.
// Filenames follow the ggml distribution convention.
var Presets = []ModelPreset{
	{Name: "tiny", FileName: "ggml-tiny.bin", SizeLabel: "75 MB"},
	{Name: "tiny.en", FileName: "ggml-tiny.en.bin", SizeLabel: "75 MB"},
	{Name: "base", FileName: "ggml-base.bin", SizeLabel: "142 MB"},
	{Name: "base.en", FileName: "ggml-base.en.bin", SizeLabel: "142 MB"},
	{Name: "small", FileName: "ggml-small.bin", SizeLabel: "466 MB"},
	{Name: "small.en", FileName: "ggml-small.en.bin", SizeLabel: "466 MB"},
	{Name: "medium", FileName: "ggml-medium.bin", SizeLabel: "1.5 GB"},
	{Name: "large-v3", FileName: "ggml-large-v3.bin", SizeLabel: "2.9 GB"},
	{Name: "large-v3-turbo", FileName: "ggml-large-v3-turbo.bin", SizeLabel: "1.5 GB"},
}

// Inventory answers what models are downloaded locally. It rescans the
// models directory on demand; nothing is cached across calls.
type Inventory struct {
	dir string
}

// NewInventory creates an Inventory rooted at dir ('~' is expanded).
func NewInventory(dir string) (*Inventory, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	return &Inventory{dir: abs}, nil
}

// Dir returns the scanned models directory.
func (inv *Inventory) Dir() string { return inv.dir }

// Downloaded returns the names of locally present models, sorted.
// Files not matching a preset are reported under their bare filename so a
// hand-placed model still counts as downloaded.
func (inv *Inventory) Downloaded() []string {
	entries, err := os.ReadDir(inv.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fn := e.Name()
		if !strings.HasSuffix(strings.ToLower(fn), ".bin") {
			continue
		}
		names = append(names, presetNameFor(fn))
	}
	sort.Strings(names)
	return names
}

// HasDownloadedModel reports whether at least one model file is present.
func (inv *Inventory) HasDownloadedModel() bool {
	return len(inv.Downloaded()) > 0
}

// ModelPath resolves a model name to its file path, or ErrModelNotFound.
func (inv *Inventory) ModelPath(name string) (string, error) {
	if name == "" {
		return "", ErrModelNotFound("(unspecified)")
	}
	fn := fileNameFor(name)
	p := filepath.Join(inv.dir, fn)
	if !fsutil.PathExists(p) {
		return "", ErrModelNotFound(name)
	}
	return p, nil
}

// CurrentModelDisplayName returns selected when it is downloaded, otherwise
// the first downloaded model, otherwise "".
func (inv *Inventory) CurrentModelDisplayName(selected string) string {
	if selected != "" {
		if _, err := inv.ModelPath(selected); err == nil {
			return selected
		}
	}
	if names := inv.Downloaded(); len(names) > 0 {
		return names[0]
	}
	return ""
}

func fileNameFor(name string) string {
	for _, p := range Presets {
		if p.Name == name {
			return p.FileName
		}
	}
	// Tolerate a raw filename as the model name.
	if strings.HasSuffix(strings.ToLower(name), ".bin") {
		return name
	}
	return "ggml-" + name + ".bin"
}

func presetNameFor(fileName string) string {
	for _, p := range Presets {
		if p.FileName == fileName {
			return p.Name
		}
	}
	return fileName
}
