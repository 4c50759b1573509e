package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recollect/internal/blob"
	"github.com/scrypster/recollect/internal/encryption"
	"github.com/scrypster/recollect/internal/llm"
	"github.com/scrypster/recollect/internal/logger"
	"github.com/scrypster/recollect/internal/queue"
	"github.com/scrypster/recollect/internal/storage"
	"github.com/scrypster/recollect/pkg/types"
)

var releaseEssentials = &llm.Essentials{
	Title:   "Team schedule",
	Summary: "Who ships what and where the search cluster runs.",
	Memories: []string{
		"The ingestion service ships every Tuesday",
		"Beta crew runs the Frankfurt search cluster",
		"too short",
	},
}

func ingest(t *testing.T, h *harness, text string) *types.Document {
	t.Helper()
	res, err := h.engine.IngestDocument(context.Background(), IngestRequest{
		SpaceID:  h.space.ID,
		MIMEType: "text/plain",
		Data:     []byte(text),
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.JobID)
	return res.Document
}

func TestProcessDocument_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.extractor.essentials = releaseEssentials

	doc := ingest(t, h, longDocument())
	assert.Equal(t, types.DocumentQueued, doc.Status)
	assert.Equal(t, []string{doc.ID}, h.queue.enqueued())

	require.NoError(t, h.engine.ProcessDocument(ctx, doc.ID))

	stored, err := h.engine.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentDone, stored.Status)
	assert.Equal(t, "Team schedule", stored.Title)
	assert.Equal(t, releaseEssentials.Summary, stored.Summary)
	assert.NotEmpty(t, stored.SummaryEmbedding)
	assert.Empty(t, stored.RawKey, "raw payload key should be cleared")
	assert.GreaterOrEqual(t, stored.ChunkCount, 2)

	_, err = h.blobs.Get(ctx, blob.Key(h.space.ID, doc.ID))
	assert.ErrorIs(t, err, blob.ErrNotFound, "raw payload should be deleted after extraction")

	chunks, err := h.store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, stored.ChunkCount)
	for i, c := range chunks {
		assert.Equal(t, i, c.Position)
		assert.NotEmpty(t, c.Embedding, "chunk %d should be embedded", i)
		assert.Equal(t, "test-words", c.EmbeddingModel)
	}

	links, err := h.engine.DocumentMemories(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, links, 2, "the short fact should be dropped")
	for _, l := range links {
		assert.Equal(t, 100, l.Relevance)
		m, err := h.store.GetMemory(ctx, l.MemoryID)
		require.NoError(t, err)
		assert.Equal(t, types.LifecycleActive, m.Lifecycle)
		assert.NotEqual(t, releaseEssentials.Memories[0], m.Content, "memory content should be encrypted at rest")
	}

	kinds := h.events.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, KindQueued, kinds[0])
	assert.Equal(t, KindFinished, kinds[len(kinds)-1])
}

func TestProcessDocument_ForeignUploaderUsesOwnerKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.extractor.essentials = releaseEssentials

	res, err := h.engine.IngestDocument(ctx, IngestRequest{
		SpaceID:    h.space.ID,
		UploaderID: "uploader-2",
		Title:      "Shared runbook",
		MIMEType:   "text/plain",
		Data:       []byte(longDocument()),
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.ProcessDocument(ctx, res.Document.ID))

	stored, err := h.engine.GetDocument(ctx, res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, "uploader-2", stored.UploaderID)
	assert.Equal(t, "Shared runbook", stored.Title)
	assert.Equal(t, releaseEssentials.Summary, stored.Summary)

	enc, err := encryption.New("engine-test-secret")
	require.NoError(t, err)
	raw, err := h.store.GetDocument(ctx, res.Document.ID)
	require.NoError(t, err)
	require.True(t, enc.IsEncrypted(raw.Summary))
	_, err = enc.Decrypt(raw.Summary, "uploader-2")
	assert.Error(t, err, "summary must not be sealed under the uploader key")
	summary, err := enc.Decrypt(raw.Summary, h.space.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, releaseEssentials.Summary, summary)

	links, err := h.engine.DocumentMemories(ctx, res.Document.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	for _, l := range links {
		m, err := h.store.GetMemory(ctx, l.MemoryID)
		require.NoError(t, err)
		assert.Equal(t, h.space.OwnerID, m.OwnerKey)

		history, err := h.engine.MemoryHistory(ctx, l.MemoryID)
		require.NoError(t, err)
		var content string
		for _, entry := range history {
			if entry.ID == l.MemoryID {
				content = entry.Content
			}
		}
		assert.Contains(t, releaseEssentials.Memories, content)
	}
}

func TestProcessDocument_StepLog(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.extractor.essentials = releaseEssentials

	doc := ingest(t, h, longDocument())
	require.NoError(t, h.engine.ProcessDocument(ctx, doc.ID))

	stored, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)

	var got []string
	for _, s := range stored.ProcessingSteps {
		got = append(got, s.Name+":"+string(s.Status))
	}
	assert.Equal(t, []string{
		"queued:pending",
		"extracting:pending",
		"extracting:completed",
		"chunking:pending",
		"chunking:completed",
		"embedding:pending",
		"embedding:completed",
		"extract_document_essentials:pending",
		"extract_document_essentials:completed",
		"done:completed",
	}, got)

	last := stored.LastStep()
	require.NotNil(t, last)
	assert.Equal(t, types.DocumentDone, last.FinalStatus)
	require.NotNil(t, last.EndTime)

	// A redelivered job for a finished document does nothing.
	require.NoError(t, h.engine.ProcessDocument(ctx, doc.ID))
	again, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, again.ProcessingSteps, len(stored.ProcessingSteps))
}

func TestProcessDocument_FailureAndReprocess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.extractor.essentials = releaseEssentials
	h.embedder.failEmbed = errors.New("embedding backend down")

	doc := ingest(t, h, longDocument())
	err := h.engine.ProcessDocument(ctx, doc.ID)
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, types.DocumentEmbedding, stepErr.Step)

	stored, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentFailed, stored.Status)

	last := stored.LastStep()
	require.NotNil(t, last)
	assert.Equal(t, types.DocumentFailed, last.FinalStatus)
	assert.Contains(t, last.Error, "embedding backend down")

	failedStep := stored.ProcessingSteps[len(stored.ProcessingSteps)-2]
	assert.Equal(t, string(types.DocumentEmbedding), failedStep.Name)
	assert.Equal(t, types.StepFailed, failedStep.Status)
	assert.Contains(t, h.events.kinds(), KindStepFailed)

	// Recover: the payload is gone but the content survives, so the rerun
	// starts from the stored text.
	h.embedder.failEmbed = nil
	jobID, err := h.engine.ReprocessDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	requeued, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentQueued, requeued.Status)
	assert.Greater(t, len(requeued.ProcessingSteps), len(stored.ProcessingSteps), "log is appended, never rewritten")

	require.NoError(t, h.engine.ProcessDocument(ctx, doc.ID))
	done, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentDone, done.Status)
	assert.GreaterOrEqual(t, done.ChunkCount, 2)
}

func TestReprocessDocument_RejectsRunningDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := ingest(t, h, "some text that is long enough to be a chunk of its own, maybe, for the purposes of this test run")
	now := time.Now().UTC()
	require.NoError(t, h.store.AppendProcessingStep(ctx, doc.ID, types.DocumentChunking,
		types.ProcessingStep{Name: "chunking", StartTime: &now, Status: types.StepPending}))

	_, err := h.engine.ReprocessDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestProcessDocument_SkipsMissingChunkVectors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.extractor.essentials = releaseEssentials
	h.embedder.dropIndex = 0

	doc := ingest(t, h, longDocument())
	require.NoError(t, h.engine.ProcessDocument(ctx, doc.ID))

	chunks, err := h.store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Empty(t, chunks[0].Embedding)
	for _, c := range chunks[1:] {
		assert.NotEmpty(t, c.Embedding)
	}
}

func TestEssentials_FallbackChain(t *testing.T) {
	t.Run("incomplete essentials fall back to title and summary", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.extractor.essentials = &llm.Essentials{Summary: "no title here", Memories: []string{"a memory that is long enough"}}
		h.extractor.titleSummary = &llm.Essentials{Title: "Fallback title", Summary: "Fallback summary"}

		doc := ingest(t, h, longDocument())
		require.NoError(t, h.engine.ProcessDocument(ctx, doc.ID))

		stored, err := h.engine.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, types.DocumentDone, stored.Status)
		assert.Equal(t, "Fallback title", stored.Title)
		assert.Equal(t, "Fallback summary", stored.Summary)
		assert.Equal(t, 1, h.extractor.titleCalls)

		links, err := h.engine.DocumentMemories(ctx, doc.ID)
		require.NoError(t, err)
		assert.Empty(t, links)
	})

	t.Run("both calls failing degrade to synthetic essentials", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.extractor.essentialErr = errors.New("model returned prose")
		h.extractor.titleErr = llm.ErrEmptyEssentials

		doc := ingest(t, h, longDocument())
		require.NoError(t, h.engine.ProcessDocument(ctx, doc.ID))

		stored, err := h.engine.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, types.DocumentDone, stored.Status)
		assert.Equal(t, []rune(longDocument())[:80], []rune(stored.Title))
		assert.NotEmpty(t, stored.Summary)
		assert.LessOrEqual(t, len([]rune(stored.Summary)), 280)
	})
}

func TestSyntheticTitle(t *testing.T) {
	assert.Equal(t, "First line", syntheticTitle("\n\n  First line  \nsecond"))
	assert.Equal(t, untitledDocument, syntheticTitle("  \n\t"))
	assert.Len(t, []rune(syntheticTitle(strings.Repeat("é", 200))), 80)
}

func TestFilterMemories(t *testing.T) {
	e := &Engine{config: DefaultConfig()}
	facts := []string{"  short  ", "exactly10!", "eleven runes", ""}
	for i := 0; i < 40; i++ {
		facts = append(facts, "a sufficiently long fact")
	}
	got := e.filterMemories(facts)
	assert.Len(t, got, 30)
	assert.Equal(t, "eleven runes", got[0])
}

func TestAddMemory_Versioning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.AddMemory(ctx, h.space.ID, "The office wifi password is hunter2")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, first.Status)
	assert.Equal(t, 1, first.Version)

	unrelated, err := h.engine.AddMemory(ctx, h.space.ID, "Deploys happen on Fridays after lunch")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, unrelated.Status)

	second, err := h.engine.AddMemory(ctx, h.space.ID, "The office wifi password is hunter3")
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, second.Status)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, first.ID, second.ParentID)

	parent, err := h.store.GetMemory(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleSuperseded, parent.Lifecycle)

	child, err := h.store.GetMemory(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleActive, child.Lifecycle)
	assert.Equal(t, first.ID, child.RootID)
	assert.Equal(t, types.RelationUpdates, child.Relations[first.ID])

	// The backing document is finished and linked.
	doc, err := h.engine.GetDocument(ctx, second.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentDone, doc.Status)
	assert.Equal(t, types.SourceMemory, doc.Source)
	assert.Equal(t, "The office wifi password is hunter3", doc.Content)

	links, err := h.engine.DocumentMemories(ctx, second.DocumentID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, second.ID, links[0].MemoryID)
	assert.Equal(t, 100, links[0].Relevance)

	history, err := h.engine.MemoryHistory(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, "The office wifi password is hunter2", history[0].Content)
	assert.Equal(t, second.ID, history[1].ID)
}

func TestAddMemory_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.AddMemory(ctx, "missing-space", "a perfectly fine fact")
	assert.ErrorIs(t, err, ErrSpaceNotFound)

	_, err = h.engine.AddMemory(ctx, h.space.ID, "   ")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	h.embedder.failEmbed = errors.New("boom")
	_, err = h.engine.AddMemory(ctx, h.space.ID, "a perfectly fine fact")
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	t.Run("empty space succeeds with no results", func(t *testing.T) {
		h := newHarness(t)
		resp, err := h.engine.Search(context.Background(), SearchRequest{SpaceID: h.space.ID, Query: "anything"})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, 0, resp.Count)
		assert.NotNil(t, resp.Results)
		assert.Empty(t, resp.Results)
	})

	t.Run("ranks relevant memories and decrypts them", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		wifi, err := h.engine.AddMemory(ctx, h.space.ID, "The office wifi password is hunter2")
		require.NoError(t, err)
		_, err = h.engine.AddMemory(ctx, h.space.ID, "Deploys happen on Fridays after lunch")
		require.NoError(t, err)

		resp, err := h.engine.Search(ctx, SearchRequest{SpaceID: h.space.ID, Query: "office wifi password"})
		require.NoError(t, err)
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, wifi.ID, resp.Results[0].Memory.ID)
		assert.Equal(t, "The office wifi password is hunter2", resp.Results[0].Memory.Content)
		assert.Greater(t, resp.Results[0].Score, 0.2)
	})

	t.Run("forgotten memories are excluded", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		wifi, err := h.engine.AddMemory(ctx, h.space.ID, "The office wifi password is hunter2")
		require.NoError(t, err)
		require.NoError(t, h.engine.ForgetMemory(ctx, wifi.ID))
		require.NoError(t, h.engine.ForgetMemory(ctx, wifi.ID), "forgetting twice is a no-op")

		resp, err := h.engine.Search(ctx, SearchRequest{SpaceID: h.space.ID, Query: "office wifi password"})
		require.NoError(t, err)
		assert.Equal(t, 0, resp.Count)

		// A forgotten entry is no versioning parent either.
		again, err := h.engine.AddMemory(ctx, h.space.ID, "The office wifi password is hunter2")
		require.NoError(t, err)
		assert.Equal(t, StatusCreated, again.Status)
	})

	t.Run("embedding failure yields an empty success", func(t *testing.T) {
		h := newHarness(t)
		h.embedder.failEmbed = errors.New("down")
		resp, err := h.engine.Search(context.Background(), SearchRequest{SpaceID: h.space.ID, Query: "x"})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, 0, resp.Count)
	})

	t.Run("invalid requests are rejected", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.Search(context.Background(), SearchRequest{SpaceID: h.space.ID})
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
		_, err = h.engine.Search(context.Background(), SearchRequest{Query: "x"})
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
	})

	t.Run("min similarity override filters everything", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		_, err := h.engine.AddMemory(ctx, h.space.ID, "The office wifi password is hunter2")
		require.NoError(t, err)

		strict := 0.99
		resp, err := h.engine.Search(ctx, SearchRequest{SpaceID: h.space.ID, Query: "office wifi", MinSimilarity: &strict})
		require.NoError(t, err)
		assert.Equal(t, 0, resp.Count)
	})
}

func TestRecall_TrimsWithSizer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	facts := []string{
		"Standup starts at nine in room one",
		"Standup starts at nine in room two",
		"Standup starts at nine in room three",
		"Standup starts at nine in room four",
		"Standup starts at nine in room five",
	}
	// Disable versioning so every fact stays active.
	h.engine.config.VersioningMinSimilarity = 1
	for _, f := range facts {
		_, err := h.engine.AddMemory(ctx, h.space.ID, f)
		require.NoError(t, err)
	}

	search, err := h.engine.Search(ctx, SearchRequest{SpaceID: h.space.ID, Query: "standup starts at nine"})
	require.NoError(t, err)
	require.Equal(t, 5, search.Count)

	recall, err := h.engine.Recall(ctx, SearchRequest{SpaceID: h.space.ID, Query: "standup starts at nine"})
	require.NoError(t, err)
	assert.Equal(t, h.engine.sizer.Count(scoresOf(search)), recall.Count)
	assert.Len(t, recall.Results, recall.Count)
	assert.GreaterOrEqual(t, recall.Count, 2)
}

func scoresOf(resp *SearchResponse) []float64 {
	out := make([]float64, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = r.Score
	}
	return out
}

func TestStart_RecoversUnfinishedDocuments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	queued := ingest(t, h, longDocument())
	second := ingest(t, h, longDocument())
	interrupted := ingest(t, h, longDocument())
	finished := ingest(t, h, longDocument())
	require.NoError(t, h.store.AppendProcessingStep(ctx, interrupted.ID, types.DocumentChunking, types.ProcessingStep{Name: "chunking", Status: types.StepPending}))
	require.NoError(t, h.store.AppendProcessingStep(ctx, finished.ID, types.DocumentDone, types.ProcessingStep{Name: "done", Status: types.StepCompleted}))

	cfg := testConfig()
	cfg.RecoveryBatchSize = 1

	q := newRecordingQueue()
	e, err := New(Deps{
		Store:    h.store,
		Blobs:    h.blobs,
		Queue:    q,
		Embedder: h.embedder,
		Logger:   logger.Discard(),
	}, cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Shutdown(ctx) }()

	assert.ElementsMatch(t, []string{queued.ID, second.ID, interrupted.ID}, q.enqueued())
}

func TestEngine_Lifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Error(t, h.engine.Start(ctx), "double start")
	require.NoError(t, h.engine.Shutdown(ctx))
	assert.ErrorIs(t, h.engine.Shutdown(ctx), ErrEngineNotStarted)

	_, err := h.engine.AddMemory(ctx, h.space.ID, "a perfectly fine fact")
	assert.ErrorIs(t, err, ErrEngineNotStarted)
	_, err = h.engine.Search(ctx, SearchRequest{SpaceID: h.space.ID, Query: "x"})
	assert.ErrorIs(t, err, ErrEngineNotStarted)
	_, err = h.engine.IngestDocument(ctx, IngestRequest{SpaceID: h.space.ID, Data: []byte("x")})
	assert.ErrorIs(t, err, ErrEngineNotStarted)
}

func TestOpen_SubmitsWithoutProcessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q := newRecordingQueue()
	e, err := New(Deps{Store: h.store, Blobs: h.blobs, Queue: q, Embedder: h.embedder, Logger: logger.Discard()}, testConfig())
	require.NoError(t, err)
	require.NoError(t, e.Open())
	defer func() { _ = e.Shutdown(ctx) }()

	res, err := e.IngestDocument(ctx, IngestRequest{SpaceID: h.space.ID, MIMEType: "text/plain", Data: []byte(longDocument())})
	require.NoError(t, err)
	assert.Equal(t, []string{res.Document.ID}, q.enqueued())

	doc, err := h.store.GetDocument(ctx, res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentQueued, doc.Status)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, DefaultConfig())
	assert.Error(t, err)

	h := newHarness(t)
	bad := DefaultConfig()
	bad.SearchTopK = 0
	_, err = New(Deps{Store: h.store, Blobs: h.blobs, Queue: newRecordingQueue(), Embedder: h.embedder}, bad)
	assert.Error(t, err)
}

func TestHandleIngestJob_AcksUnprocessableJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.NoError(t, h.engine.handleIngestJob(ctx, &queue.Job{ID: "j1", Type: JobIngestDocument, Payload: []byte(`{`)}))
	assert.NoError(t, h.engine.handleIngestJob(ctx, &queue.Job{ID: "j2", Type: JobIngestDocument, Payload: []byte(`{}`)}))
	assert.NoError(t, h.engine.handleIngestJob(ctx, &queue.Job{ID: "j3", Type: JobIngestDocument, Payload: []byte(`{"document_id":"nope"}`)}))
}

func TestIngest_WithMemoryQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.extractor.essentials = releaseEssentials

	q := queue.NewMemoryQueue(queue.Options{Workers: 1, Size: 10, MaxRetries: 1}, logger.Discard())
	e, err := New(Deps{
		Store:     h.store,
		Blobs:     h.blobs,
		Queue:     q,
		Embedder:  h.embedder,
		Extractor: h.extractor,
		Logger:    logger.Discard(),
	}, testConfig())
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Shutdown(ctx) }()

	res, err := e.IngestDocument(ctx, IngestRequest{SpaceID: h.space.ID, MIMEType: "text/markdown", Data: []byte(longDocument())})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		doc, err := h.store.GetDocument(ctx, res.Document.ID)
		return err == nil && doc.Status == types.DocumentDone
	}, 5*time.Second, 20*time.Millisecond)
}
