package notify

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/scrypster/recollect/internal/engine"
	"github.com/scrypster/recollect/internal/logger"
	"github.com/scrypster/recollect/pkg/types"
)

func sampleEvent(docID string) engine.StepEvent {
	return engine.StepEvent{
		Kind:       engine.KindStepStarted,
		At:         time.Now().UTC(),
		DocumentID: docID,
		SpaceID:    "space-1",
		Step:       string(types.DocumentChunking),
		Status:     types.DocumentChunking,
	}
}

func TestHub_BroadcastsStepEvents(t *testing.T) {
	hub := NewHub(logger.Discard())
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	want := sampleEvent("doc-1")
	hub.StepEvent(want)

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var got engine.StepEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, want.DocumentID, got.DocumentID)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.Status, got.Status)
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub := NewHub(logger.Discard())
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_StepEventNeverBlocks(t *testing.T) {
	hub := NewHub(logger.Discard()) // Run not started, buffer fills up

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*2; i++ {
			hub.StepEvent(sampleEvent("doc"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StepEvent blocked on a full buffer")
	}
	hub.Stop()
}

func TestFileSink_WritesEventFiles(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, logger.Discard())
	require.NoError(t, err)

	sink.StepEvent(sampleEvent("doc/with:odd.chars"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), eventExt))
	assert.NotContains(t, strings.TrimSuffix(entries[0].Name(), eventExt), "/")
}

func TestFileSink_PrunesStaleEventFiles(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, logger.Discard(), WithMaxAge(time.Minute))
	require.NoError(t, err)

	stale := sampleEvent("doc-stale")
	stale.At = time.Now().Add(-2 * time.Hour)
	sink.StepEvent(stale)
	sink.StepEvent(sampleEvent("doc-fresh"))

	tmp := filepath.Join(dir, ".interrupted.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("{"), 0o600))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(tmp, old, old))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("keep"), 0o600))

	removed, err := sink.Prune()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Len(t, names, 2)
	assert.Contains(t, names, "unrelated.txt")
	for _, n := range names {
		assert.NotContains(t, n, "doc-stale")
	}
}

func TestNewFileSink_PrunesOnOpen(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, logger.Discard())
	require.NoError(t, err)
	ev := sampleEvent("doc-old")
	ev.At = time.Now().Add(-2 * DefaultEventMaxAge)
	sink.StepEvent(ev)

	_, err = NewFileSink(dir, logger.Discard())
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWatcher_DeliversNewEvents(t *testing.T) {
	dir := t.TempDir()
	received := make(chan engine.StepEvent, 1)

	w := NewWatcher(dir, logger.Discard(), func(ev engine.StepEvent) { received <- ev })
	require.NoError(t, w.Start())
	defer w.Stop()

	sink, err := NewFileSink(dir, logger.Discard())
	require.NoError(t, err)
	sink.StepEvent(sampleEvent("doc-live"))

	select {
	case ev := <-received:
		assert.Equal(t, "doc-live", ev.DocumentID)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	require.Eventually(t, func() bool {
		entries, _ := os.ReadDir(dir)
		return len(entries) == 0
	}, time.Second, 10*time.Millisecond, "consumed event files are removed")
}

func TestWatcher_DrainsExistingInOrder(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, logger.Discard())
	require.NoError(t, err)

	first := sampleEvent("doc-1")
	second := sampleEvent("doc-2")
	second.At = first.At.Add(time.Millisecond)
	sink.StepEvent(first)
	sink.StepEvent(second)

	var mu sync.Mutex
	var got []string
	w := NewWatcher(dir, logger.Discard(), func(ev engine.StepEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.DocumentID)
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"doc-1", "doc-2"}, got)
}

func TestFanout(t *testing.T) {
	var a, b []string
	f := Fanout{
		engine.ObserverFunc(func(ev engine.StepEvent) { a = append(a, ev.DocumentID) }),
		nil,
		engine.ObserverFunc(func(ev engine.StepEvent) { b = append(b, ev.DocumentID) }),
	}
	f.StepEvent(sampleEvent("doc-1"))
	assert.Equal(t, []string{"doc-1"}, a)
	assert.Equal(t, []string{"doc-1"}, b)
}
