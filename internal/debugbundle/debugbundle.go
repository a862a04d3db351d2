// Package debugbundle writes on-disk failure artefacts for debugging: one
// directory per failed fetch, under
// <bundle-root>/<store>/<timestamp>_<outcome>_<8-char uuid prefix>/, holding headers.json,
// response.json, html.html, and metadata.json. These are write-only from
// the core; operators consume them offline.
package debugbundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"pricewatch/internal/logger"
)

// Bundle is the content of one failure snapshot.
type Bundle struct {
	Store      string
	Outcome    string
	URL        string
	StatusCode int
	Headers    map[string][]string
	Body       string
	Attempts   int
	Err        string
}

// Writer persists bundles under Root.
type Writer struct {
	Root string
}

// New constructs a Writer rooted at root. An empty root disables writing.
func New(root string) *Writer {
	return &Writer{Root: root}
}

// Write persists b under <root>/<store>/<timestamp>_<outcome>_<disambiguator>/.
// The uuid suffix exists only to disambiguate two failures landing in the
// same second for the same store/outcome; it is not otherwise significant.
func (w *Writer) Write(b Bundle) {
	if w == nil || w.Root == "" {
		return
	}
	ts := time.Now().UTC().Format("20060102T150405")
	dirName := fmt.Sprintf("%s_%s_%s", ts, b.Outcome, uuid.NewString()[:8])
	dir := filepath.Join(w.Root, safeStoreName(b.Store), dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("debugbundle", fmt.Sprintf("mkdir %s: %v", dir, err))
		return
	}

	headersBuf, _ := json.MarshalIndent(b.Headers, "", "  ")
	_ = os.WriteFile(filepath.Join(dir, "headers.json"), headersBuf, 0o644)

	respBuf, _ := json.MarshalIndent(map[string]any{
		"url":         b.URL,
		"status_code": b.StatusCode,
		"attempts":    b.Attempts,
	}, "", "  ")
	_ = os.WriteFile(filepath.Join(dir, "response.json"), respBuf, 0o644)

	if b.Body != "" {
		_ = os.WriteFile(filepath.Join(dir, "html.html"), []byte(b.Body), 0o644)
	}

	metaBuf, _ := json.MarshalIndent(map[string]any{
		"store":   b.Store,
		"outcome": b.Outcome,
		"error":   b.Err,
		"at":      time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	_ = os.WriteFile(filepath.Join(dir, "metadata.json"), metaBuf, 0o644)
}

func safeStoreName(store string) string {
	if store == "" {
		return "unknown"
	}
	return store
}
