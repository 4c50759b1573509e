package engine

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/recollect/internal/blob"
	"github.com/scrypster/recollect/internal/encryption"
	"github.com/scrypster/recollect/internal/llm"
	"github.com/scrypster/recollect/internal/logger"
	"github.com/scrypster/recollect/internal/queue"
	"github.com/scrypster/recollect/internal/storage/sqlite"
	"github.com/scrypster/recollect/pkg/types"
)

const testDims = 1024

// wordEmbedder hashes lowercase words into a fixed-size count vector, so
// texts sharing most words score high and unrelated texts score near zero.
type wordEmbedder struct {
	mu        sync.Mutex
	calls     int
	failEmbed error
	dropIndex int // EmbedBatch returns a nil vector at this index when >= 0
}

func newWordEmbedder() *wordEmbedder { return &wordEmbedder{dropIndex: -1} }

func (w *wordEmbedder) vector(text string) []float32 {
	vec := make([]float32, testDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%testDims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
	}
	return vec
}

func (w *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	w.mu.Lock()
	w.calls++
	err := w.failEmbed
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return w.vector(text), nil
}

func (w *wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if i == w.dropIndex {
			continue
		}
		vec, err := w.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (w *wordEmbedder) GetModel() string { return "test-words" }

// scriptedExtractor returns canned essentials.
type scriptedExtractor struct {
	essentials   *llm.Essentials
	essentialErr error
	titleSummary *llm.Essentials
	titleErr     error

	mu             sync.Mutex
	essentialCalls int
	titleCalls     int
}

func (s *scriptedExtractor) ExtractEssentials(context.Context, string) (*llm.Essentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.essentialCalls++
	return s.essentials, s.essentialErr
}

func (s *scriptedExtractor) GenerateTitleSummary(context.Context, string) (*llm.Essentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titleCalls++
	return s.titleSummary, s.titleErr
}

// recordingQueue accepts jobs without delivering them so tests can drive
// ProcessDocument directly.
type recordingQueue struct {
	mu       sync.Mutex
	handlers map[string]queue.Handler
	jobs     []string // document ids
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{handlers: make(map[string]queue.Handler)}
}

func (q *recordingQueue) Enqueue(_ context.Context, jobType string, payload any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.handlers[jobType]; !ok {
		return "", queue.ErrNoHandler
	}
	q.jobs = append(q.jobs, payload.(ingestPayload).DocumentID)
	return newID(), nil
}

func (q *recordingQueue) Subscribe(jobType string, h queue.Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
	return nil
}

func (q *recordingQueue) Start(context.Context) error { return nil }
func (q *recordingQueue) Close(context.Context) error { return nil }

func (q *recordingQueue) enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.jobs...)
}

// eventLog collects observer events.
type eventLog struct {
	mu     sync.Mutex
	events []StepEvent
}

func (l *eventLog) StepEvent(ev StepEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []StepEventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StepEventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

type harness struct {
	engine    *Engine
	store     *sqlite.Store
	blobs     *blob.DirStore
	queue     *recordingQueue
	embedder  *wordEmbedder
	extractor *scriptedExtractor
	events    *eventLog
	space     *types.Space
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MemoryBatchDelay = 0
	return cfg
}

// newHarness builds a started engine over in-memory SQLite with AES
// encryption and a recording queue.
func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := blob.NewDirStore(t.TempDir())
	require.NoError(t, err)

	enc, err := encryption.New("engine-test-secret")
	require.NoError(t, err)

	h := &harness{
		store:     store,
		blobs:     blobs,
		queue:     newRecordingQueue(),
		embedder:  newWordEmbedder(),
		extractor: &scriptedExtractor{},
		events:    &eventLog{},
	}

	h.engine, err = New(Deps{
		Store:     store,
		Blobs:     blobs,
		Queue:     h.queue,
		Embedder:  h.embedder,
		Extractor: h.extractor,
		Encrypter: enc,
		Observer:  h.events,
		Logger:    logger.Discard(),
	}, testConfig())
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx))
	t.Cleanup(func() { _ = h.engine.Shutdown(context.Background()) })

	h.space, err = h.engine.CreateSpace(ctx, "owner-1", "org-1", "notes")
	require.NoError(t, err)
	return h
}

// longDocument returns two paragraphs of roughly 900 characters each.
func longDocument() string {
	first := strings.Repeat("Alpha team ships the ingestion service every Tuesday. ", 17)
	second := strings.Repeat("Beta crew operates the search cluster from Frankfurt. ", 17)
	return strings.TrimSpace(first) + "\n\n" + strings.TrimSpace(second)
}
