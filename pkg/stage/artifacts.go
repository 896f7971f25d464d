package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// artifactStage wraps a migration stage and writes its generated files to an
// output directory. Results that declare a "generated_files" list of
// {path, content} objects are unpacked file by file; anything else lands as a
// raw text artifact next to the source page.
type artifactStage struct {
	inner Stage
	dir   string
}

// WithArtifacts decorates a stage so successful results are persisted under
// dir. Persistence failures are logged, never surfaced: the result itself
// already succeeded.
func WithArtifacts(inner Stage, dir string) Stage {
	return &artifactStage{inner: inner, dir: dir}
}

func (a *artifactStage) Name() string {
	return a.inner.Name()
}

func (a *artifactStage) Run(ctx context.Context, payload string) (Value, error) {
	result, err := a.inner.Run(ctx, payload)
	if err != nil {
		return result, err
	}

	if werr := a.persist(payload, result); werr != nil {
		log.Warn().Err(werr).Str("stage", a.inner.Name()).Msg("Failed to persist stage artifacts")
	}

	return result, nil
}

func (a *artifactStage) persist(payload string, result Value) error {
	text, err := EncodePayload(result)
	if err != nil {
		return err
	}

	if files, ok := parseGeneratedFiles(text); ok {
		for _, f := range files {
			target, err := safeJoin(a.dir, f.Path)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(target, []byte(f.Content), 0o644); err != nil {
				return err
			}
		}
		return nil
	}

	// No structured file list; keep the raw result keyed by the source page.
	page := pagePathFromPayload(payload)
	if page == "" {
		page = "result"
	}
	target, err := safeJoin(a.dir, page+".out")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, []byte(text), 0o644)
}

type generatedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func parseGeneratedFiles(text string) ([]generatedFile, bool) {
	var wrapper struct {
		GeneratedFiles []generatedFile `json:"generated_files"`
	}
	if err := json.Unmarshal([]byte(stripFence(text)), &wrapper); err != nil {
		return nil, false
	}
	if len(wrapper.GeneratedFiles) == 0 {
		return nil, false
	}
	for _, f := range wrapper.GeneratedFiles {
		if f.Path == "" {
			return nil, false
		}
	}
	return wrapper.GeneratedFiles, true
}

func pagePathFromPayload(payload string) string {
	var p struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return ""
	}
	return p.FilePath
}

// safeJoin resolves rel under dir and rejects path escapes.
func safeJoin(dir, rel string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(rel))
	cleanDir := filepath.Clean(dir)
	if target != cleanDir && !strings.HasPrefix(target, cleanDir+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path escapes output directory: %s", rel)
	}
	return target, nil
}

func stripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
