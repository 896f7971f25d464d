package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Page is a single source page queued for migration. Path is relative to the
// input directory so it stays stable across machines.
type Page struct {
	Path    string
	Content string
}

// Workspace enumerates migratable pages under an input directory.
type Workspace struct {
	inputDir string
	pattern  string
}

// New creates a workspace rooted at inputDir. pattern is matched against file
// base names, e.g. "*.xhtml".
func New(inputDir, pattern string) *Workspace {
	if pattern == "" {
		pattern = "*.xhtml"
	}
	return &Workspace{inputDir: inputDir, pattern: pattern}
}

// InputDir returns the watched root.
func (w *Workspace) InputDir() string {
	return w.inputDir
}

// ListPages walks the input tree and loads every file whose base name matches
// the pattern. Results are sorted by relative path so runs are deterministic.
func (w *Workspace) ListPages() ([]Page, error) {
	var pages []Page

	err := filepath.WalkDir(w.inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		matched, err := filepath.Match(w.pattern, d.Name())
		if err != nil {
			return fmt.Errorf("invalid page pattern %q: %w", w.pattern, err)
		}
		if !matched {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read page %s: %w", path, err)
		}

		rel, err := filepath.Rel(w.inputDir, path)
		if err != nil {
			rel = d.Name()
		}

		pages = append(pages, Page{Path: filepath.ToSlash(rel), Content: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Path < pages[j].Path })
	return pages, nil
}
