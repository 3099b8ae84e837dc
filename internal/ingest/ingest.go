// File path: internal/ingest/ingest.go
// Package ingest reads uploaded reference documents and normalizes them
// into the corpus text fed to generation prompts.
package ingest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nchandrav/phasegate/internal/common"
)

// Doc is one normalized reference document.
type Doc struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Content string `json:"-"`
}

var textExts = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".rst":      true,
	".log":      true,
}

// SupportedExt reports whether a filename has an ingestable extension.
func SupportedExt(name string) bool {
	return textExts[strings.ToLower(filepath.Ext(name))]
}

// Folder reads every supported file directly under dir, sorted by name, up
// to maxFiles. Files longer than maxCharsPerFile are truncated with a
// marker. Unreadable and empty files are skipped; an empty result is not an
// error because sessions may run without reference documents.
func Folder(dir string, maxFiles, maxCharsPerFile int) ([]Doc, error) {
	logger := common.Logger()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !SupportedExt(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	if maxFiles > 0 && len(names) > maxFiles {
		logger.Warn("ingest: file limit reached", "dir", dir, "found", len(names), "limit", maxFiles)
		names = names[:maxFiles]
	}

	docs := make([]Doc, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("ingest: skipping unreadable file", "path", path, "error", err)
			continue
		}
		content := strings.ReplaceAll(string(data), "\r\n", "\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		if maxCharsPerFile > 0 && len(content) > maxCharsPerFile {
			content = content[:maxCharsPerFile] + "\n\n[TRUNCATED]\n"
		}
		docs = append(docs, Doc{Path: name, Kind: "text", Content: content})
	}
	return docs, nil
}

// FormatCorpus joins documents into the single corpus block used in
// prompts.
func FormatCorpus(docs []Doc) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, d := range docs {
		b.WriteString("=== FILE: " + d.Path + " (type=" + d.Kind + ") ===\n")
		b.WriteString(d.Content)
		if !strings.HasSuffix(d.Content, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
