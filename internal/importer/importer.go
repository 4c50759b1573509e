// Package importer bulk-ingests a folder of notes, such as an Obsidian vault
// or a Markdown export, as documents of one space.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/scrypster/recollect/internal/engine"
)

// Ingester accepts documents for processing.
type Ingester interface {
	IngestDocument(ctx context.Context, req engine.IngestRequest) (*engine.IngestResult, error)
}

// mimeByExt lists the imported file kinds.
var mimeByExt = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".pdf":      "application/pdf",
}

// Request describes one import run.
type Request struct {
	Root       string
	SpaceID    string
	UploaderID string
}

// FileError records a file that could not be imported.
type FileError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Result summarizes an import run.
type Result struct {
	Found       int           `json:"files_found"`
	Submitted   int           `json:"files_submitted"`
	Skipped     int           `json:"files_skipped"`
	Failed      []FileError   `json:"failed,omitempty"`
	DocumentIDs []string      `json:"document_ids"`
	Links       int           `json:"wiki_links"`
	Duration    time.Duration `json:"duration_ns"`
}

// Importer walks a directory and submits each note to an Ingester.
type Importer struct {
	ingester Ingester
	logger   *log.Logger
}

// New returns an Importer.
func New(ingester Ingester, logger *log.Logger) *Importer {
	return &Importer{ingester: ingester, logger: logger.WithPrefix("import")}
}

// Run imports every supported file under req.Root. Files that cannot be read
// or submitted are reported in the result; only a failed walk, an invalid
// space or cancellation aborts the run.
func (imp *Importer) Run(ctx context.Context, req Request) (*Result, error) {
	if req.SpaceID == "" {
		return nil, errors.New("import: space id is required")
	}
	start := time.Now()
	files, err := Collect(req.Root)
	if err != nil {
		return nil, err
	}

	res := &Result{Found: len(files), DocumentIDs: []string{}}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rel, _ := filepath.Rel(req.Root, path)

		id, links, err := imp.importFile(ctx, req, path, rel)
		switch {
		case errors.Is(err, errEmpty):
			res.Skipped++
		case errors.Is(err, engine.ErrSpaceNotFound), errors.Is(err, engine.ErrEngineNotStarted):
			return res, err
		case err != nil:
			imp.logger.Warn("file not imported", "path", rel, "err", err)
			res.Failed = append(res.Failed, FileError{Path: rel, Err: err.Error()})
		default:
			res.Submitted++
			res.Links += links
			res.DocumentIDs = append(res.DocumentIDs, id)
			imp.logger.Debug("file submitted", "path", rel, "document_id", id)
		}
	}

	res.Duration = time.Since(start)
	imp.logger.Info("import finished",
		"found", res.Found, "submitted", res.Submitted, "skipped", res.Skipped,
		"failed", len(res.Failed), "duration", res.Duration)
	return res, nil
}

var errEmpty = errors.New("empty file")

func (imp *Importer) importFile(ctx context.Context, req Request, path, rel string) (string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("read: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", 0, errEmpty
	}

	mimeType := mimeByExt[strings.ToLower(filepath.Ext(path))]
	ingest := engine.IngestRequest{
		SpaceID:    req.SpaceID,
		UploaderID: req.UploaderID,
		MIMEType:   mimeType,
		Data:       data,
	}

	links := 0
	if mimeType == "text/markdown" {
		note, err := ParseNote(data, rel)
		if err != nil {
			return "", 0, err
		}
		if note.Body == "" {
			return "", 0, errEmpty
		}
		ingest.Title = note.Title
		ingest.Data = []byte(note.Content())
		links = len(note.Links)
	}

	out, err := imp.ingester.IngestDocument(ctx, ingest)
	if err != nil {
		return "", 0, err
	}
	return out.Document.ID, links, nil
}

// Collect returns the supported files under root in lexical order. Hidden
// directories such as .obsidian and .git are skipped.
func Collect(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("import: %s is not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := mimeByExt[strings.ToLower(filepath.Ext(d.Name()))]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("import: walk %s: %w", root, err)
	}
	return files, nil
}
