package importer_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recollect/internal/engine"
	"github.com/scrypster/recollect/internal/importer"
	"github.com/scrypster/recollect/internal/logger"
	"github.com/scrypster/recollect/pkg/types"
)

type fakeIngester struct {
	mu      sync.Mutex
	reqs    []engine.IngestRequest
	failFor string
	err     error
}

func (f *fakeIngester) IngestDocument(_ context.Context, req engine.IngestRequest) (*engine.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.failFor != "" && strings.Contains(string(req.Data), f.failFor) {
		return nil, errors.New("blob store unavailable")
	}
	f.reqs = append(f.reqs, req)
	return &engine.IngestResult{Document: &types.Document{ID: fmt.Sprintf("doc-%d", len(f.reqs))}}, nil
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func vault(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "Engineering/deploys.md", "---\ntitle: Deploy Runbook\ntags: [ops, release]\n---\nDeploys go out on Tuesdays. See [[On-call|the rota]] and [[Rollbacks]].\n")
	writeFile(t, root, "Engineering/rollbacks.markdown", "# Rollbacks\n\nRoll back with the previous image tag. #ops\n")
	writeFile(t, root, "inbox.txt", "Call the vendor about the renewal.")
	writeFile(t, root, "empty.md", "   \n")
	writeFile(t, root, "frontmatter-only.md", "---\ntitle: Stub\n---\n")
	writeFile(t, root, "image.png", "not imported")
	writeFile(t, root, ".obsidian/workspace.md", "editor state")
	return root
}

func TestCollect(t *testing.T) {
	root := vault(t)
	files, err := importer.Collect(root)
	require.NoError(t, err)

	var rels []string
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		require.NoError(t, err)
		rels = append(rels, filepath.ToSlash(rel))
	}
	assert.Equal(t, []string{
		"Engineering/deploys.md",
		"Engineering/rollbacks.markdown",
		"empty.md",
		"frontmatter-only.md",
		"inbox.txt",
	}, rels)

	_, err = importer.Collect(filepath.Join(root, "inbox.txt"))
	assert.Error(t, err)
	_, err = importer.Collect(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	ing := &fakeIngester{}
	imp := importer.New(ing, logger.Discard())

	res, err := imp.Run(context.Background(), importer.Request{Root: vault(t), SpaceID: "space-1", UploaderID: "alice"})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Found)
	assert.Equal(t, 3, res.Submitted)
	assert.Equal(t, 2, res.Skipped)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 2, res.Links)
	assert.Equal(t, []string{"doc-1", "doc-2", "doc-3"}, res.DocumentIDs)

	require.Len(t, ing.reqs, 3)
	deploys := ing.reqs[0]
	assert.Equal(t, "Deploy Runbook", deploys.Title)
	assert.Equal(t, "text/markdown", deploys.MIMEType)
	assert.Equal(t, "space-1", deploys.SpaceID)
	assert.Equal(t, "alice", deploys.UploaderID)
	assert.Equal(t, "# Deploy Runbook\n\nDeploys go out on Tuesdays. See the rota and Rollbacks.\n\nTags: ops, release", string(deploys.Data))

	assert.Equal(t, "Rollbacks", ing.reqs[1].Title)
	assert.Equal(t, "text/plain", ing.reqs[2].MIMEType)
	assert.Empty(t, ing.reqs[2].Title)
	assert.Equal(t, "Call the vendor about the renewal.", string(ing.reqs[2].Data))
}

func TestRun_FileFailuresAreReported(t *testing.T) {
	ing := &fakeIngester{failFor: "vendor"}
	res, err := importer.New(ing, logger.Discard()).Run(context.Background(), importer.Request{Root: vault(t), SpaceID: "space-1"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Submitted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "inbox.txt", res.Failed[0].Path)
	assert.Contains(t, res.Failed[0].Err, "unavailable")
}

func TestRun_Aborts(t *testing.T) {
	root := vault(t)

	_, err := importer.New(&fakeIngester{}, logger.Discard()).Run(context.Background(), importer.Request{Root: root})
	assert.Error(t, err, "space is required")

	ing := &fakeIngester{err: fmt.Errorf("%w: space-x", engine.ErrSpaceNotFound)}
	_, err = importer.New(ing, logger.Discard()).Run(context.Background(), importer.Request{Root: root, SpaceID: "space-x"})
	assert.ErrorIs(t, err, engine.ErrSpaceNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = importer.New(&fakeIngester{}, logger.Discard()).Run(ctx, importer.Request{Root: root, SpaceID: "space-1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseNote(t *testing.T) {
	note, err := importer.ParseNote([]byte(`---
title: Test Note
tags: go, testing
---

# Heading Ignored For Title

Links to [[Another Note]] and [[Third Note|Display Name]]. #inline-tag #Go
`), "Engineering/test-note.md")
	require.NoError(t, err)

	assert.Equal(t, "Test Note", note.Title)
	assert.Equal(t, []string{"go", "testing", "inline-tag"}, note.Tags)
	assert.Equal(t, []string{"Another Note", "Third Note"}, note.Links)
	assert.Contains(t, note.Body, "Links to Another Note and Display Name.")
	assert.True(t, strings.HasPrefix(note.Content(), "# Heading Ignored For Title"), "existing heading is not duplicated")

	note, err = importer.ParseNote([]byte("plain body"), "notes/weekly_sync-notes.md")
	require.NoError(t, err)
	assert.Equal(t, "weekly sync notes", note.Title)
	assert.Equal(t, "# weekly sync notes\n\nplain body", note.Content())

	note, err = importer.ParseNote([]byte("---\ntitle: unterminated\nbody"), "x.md")
	require.NoError(t, err)
	assert.Equal(t, "x", note.Title, "unterminated frontmatter is body")

	_, err = importer.ParseNote([]byte("---\ntitle: [oops\n---\nbody"), "bad.md")
	assert.Error(t, err)
}

func TestWikiLinks(t *testing.T) {
	content := "See [[Project Alpha]] and [[Beta Note|Custom Label]]. Also [[project alpha]] again."
	assert.Equal(t, []string{"Project Alpha", "Beta Note"}, importer.WikiLinks(content))
	assert.Equal(t, "See Project Alpha and Custom Label. Also project alpha again.", importer.StripWikiLinks(content))
}
