package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recollect/internal/storage"
	"github.com/scrypster/recollect/pkg/types"
)

// newTestStore creates an in-memory SQLite store with the full schema.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), ":memory:")
	require.NoError(t, err, "failed to create test store")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedSpace(t *testing.T, s *Store) *types.Space {
	t.Helper()
	space := &types.Space{ID: uuid.NewString(), OrgID: "org-1", OwnerID: "owner-1", Name: "notes"}
	require.NoError(t, s.CreateSpace(context.Background(), space))
	return space
}

func seedDocument(t *testing.T, s *Store, spaceID string) *types.Document {
	t.Helper()
	doc := &types.Document{
		ID:       uuid.NewString(),
		SpaceID:  spaceID,
		Status:   types.DocumentQueued,
		RawKey:   "raw/" + uuid.NewString(),
		MIMEType: "text/plain",
	}
	require.NoError(t, s.CreateDocument(context.Background(), doc))
	return doc
}

func newMemory(spaceID, content string, embedding []float32) *types.MemoryEntry {
	return &types.MemoryEntry{
		ID:        uuid.NewString(),
		SpaceID:   spaceID,
		OwnerKey:  "owner-1",
		Content:   content,
		Embedding: embedding,
		Version:   1,
		Lifecycle: types.LifecycleActive,
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	migrator, err := storage.NewMigrator(store.DB(), storage.DialectSQLite)
	require.NoError(t, err)

	applied, err := migrator.Up(ctx, Migrations)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	version, err := migrator.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(len(Migrations)), version)
}

func TestSpaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	space := seedSpace(t, store)
	got, err := store.GetSpace(ctx, space.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, "notes", got.Name)

	_, err = store.GetSpace(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.CreateSpace(ctx, &types.Space{ID: "x"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestDocuments_StepLogIsAppendOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := seedDocument(t, store, seedSpace(t, store).ID)

	start := time.Now().UTC()
	require.NoError(t, store.AppendProcessingStep(ctx, doc.ID, types.DocumentExtracting,
		types.ProcessingStep{Name: "extracting", StartTime: &start, Status: types.StepPending}))

	end := time.Now().UTC()
	require.NoError(t, store.AppendProcessingStep(ctx, doc.ID, "",
		types.ProcessingStep{Name: "extracting", EndTime: &end, Status: types.StepCompleted}))

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentExtracting, got.Status, "empty status must leave status unchanged")
	require.Len(t, got.ProcessingSteps, 2)
	assert.Equal(t, types.StepPending, got.ProcessingSteps[0].Status)
	assert.Equal(t, types.StepCompleted, got.ProcessingSteps[1].Status)
	assert.NotNil(t, got.ProcessingSteps[1].EndTime)

	err = store.AppendProcessingStep(ctx, "missing", types.DocumentFailed, types.ProcessingStep{Name: "x"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDocuments_ContentClearsRawKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := seedDocument(t, store, seedSpace(t, store).ID)

	require.NoError(t, store.UpdateDocumentContent(ctx, doc.ID, "hello world", "text"))

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got.Content)
	assert.Equal(t, "text", got.Type)
	assert.Empty(t, got.RawKey)
}

func TestDocuments_Essentials(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := seedDocument(t, store, seedSpace(t, store).ID)

	require.NoError(t, store.UpdateDocumentEssentials(ctx, doc.ID, storage.EssentialsUpdate{
		Title: "T", Summary: "S", SummaryEmbedding: []float32{0.5, 0.25}, EmbeddingModel: "m",
	}))
	require.NoError(t, store.UpdateDocumentEssentials(ctx, doc.ID, storage.EssentialsUpdate{
		Title: "T2", Summary: "S2",
	}))

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "T2", got.Title)
	assert.Equal(t, []float32{0.5, 0.25}, got.SummaryEmbedding, "nil embedding keeps the stored one")
	assert.Equal(t, "m", got.EmbeddingModel)
}

func TestDocuments_ListByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	space := seedSpace(t, store)

	first := seedDocument(t, store, space.ID)
	second := seedDocument(t, store, space.ID)
	require.NoError(t, store.AppendProcessingStep(ctx, second.ID, types.DocumentDone, types.ProcessingStep{Name: "done"}))

	queued, err := store.ListDocumentsByStatus(ctx, types.DocumentQueued, 10, 0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, first.ID, queued[0].ID)

	third := seedDocument(t, store, space.ID)
	var paged []string
	for offset := 0; ; offset++ {
		page, err := store.ListDocumentsByStatus(ctx, types.DocumentQueued, 1, offset)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		require.Len(t, page, 1)
		paged = append(paged, page[0].ID)
	}
	assert.ElementsMatch(t, []string{first.ID, third.ID}, paged)
}

func TestChunks_ReplaceIsWholesale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := seedDocument(t, store, seedSpace(t, store).ID)

	first := []*types.Chunk{
		{ID: uuid.NewString(), Content: "aaaa"},
		{ID: uuid.NewString(), Content: "bb"},
		{ID: uuid.NewString(), Content: "cccccc"},
	}
	require.NoError(t, store.ReplaceChunks(ctx, doc.ID, first))

	second := []*types.Chunk{
		{ID: uuid.NewString(), Content: "dddd"},
		{ID: uuid.NewString(), Content: "ee"},
	}
	require.NoError(t, store.ReplaceChunks(ctx, doc.ID, second))

	chunks, err := store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for i, c := range chunks {
		assert.Equal(t, i, c.Position)
		assert.Equal(t, second[i].ID, c.ID)
		assert.Nil(t, c.Embedding)
	}

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ChunkCount)
	assert.InDelta(t, 3.0, got.AverageChunkSize, 1e-9)
}

func TestChunks_ReplaceRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := seedDocument(t, store, seedSpace(t, store).ID)

	require.NoError(t, store.ReplaceChunks(ctx, doc.ID, []*types.Chunk{{ID: "c1", Content: "keep me"}}))

	// Duplicate IDs fail midway through the insert loop.
	err := store.ReplaceChunks(ctx, doc.ID, []*types.Chunk{
		{ID: "dup", Content: "one"},
		{ID: "dup", Content: "two"},
	})
	require.Error(t, err)

	chunks, err := store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "keep me", chunks[0].Content)

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ChunkCount)
}

func TestChunks_UpdateEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := seedDocument(t, store, seedSpace(t, store).ID)
	require.NoError(t, store.ReplaceChunks(ctx, doc.ID, []*types.Chunk{{ID: "c1", Content: "text"}}))

	require.NoError(t, store.UpdateChunkEmbedding(ctx, "c1", []float32{1, 2, 3}, "nomic"))
	assert.ErrorIs(t, store.UpdateChunkEmbedding(ctx, "missing", []float32{1}, "nomic"), storage.ErrNotFound)

	chunks, err := store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, chunks[0].Embedding)
	assert.Equal(t, "nomic", chunks[0].EmbeddingModel)
}

func TestMemories_CommitSupersedesAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	space := seedSpace(t, store)

	parent := newMemory(space.ID, "Alice works at Acme", []float32{1, 0})
	require.NoError(t, store.CommitMemory(ctx, storage.MemoryCommit{Memory: parent}))

	child := newMemory(space.ID, "Alice works at Initech", []float32{0.9, 0.1})
	child.Version = 2
	child.ParentID = parent.ID
	child.RootID = parent.ID
	child.Relations = map[string]types.RelationKind{parent.ID: types.RelationUpdates}

	backing := &types.Document{ID: uuid.NewString(), SpaceID: space.ID, Status: types.DocumentDone, Source: types.SourceMemory, Content: child.Content}
	require.NoError(t, store.CommitMemory(ctx, storage.MemoryCommit{
		Memory:      child,
		SupersedeID: parent.ID,
		Document:    backing,
		Link:        types.NewSourceLink(child.ID, backing.ID, 100, nil),
	}))

	gotParent, err := store.GetMemory(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleSuperseded, gotParent.Lifecycle)

	gotChild, err := store.GetMemory(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleActive, gotChild.Lifecycle)
	assert.Equal(t, types.RelationUpdates, gotChild.Relations[parent.ID])

	links, err := store.ListDocumentLinks(ctx, backing.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, 100, links[0].Relevance)

	candidates, err := store.ListCandidates(ctx, storage.CandidateQuery{SpaceID: space.ID, Limit: 50})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, child.ID, candidates[0].ID)
}

func TestMemories_ConflictAppliesNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	space := seedSpace(t, store)

	parent := newMemory(space.ID, "v1", []float32{1, 0})
	require.NoError(t, store.CommitMemory(ctx, storage.MemoryCommit{Memory: parent}))

	winner := newMemory(space.ID, "v2 winner", []float32{1, 0})
	winner.Version, winner.ParentID, winner.RootID = 2, parent.ID, parent.ID
	require.NoError(t, store.CommitMemory(ctx, storage.MemoryCommit{Memory: winner, SupersedeID: parent.ID}))

	loser := newMemory(space.ID, "v2 loser", []float32{1, 0})
	loser.Version, loser.ParentID, loser.RootID = 2, parent.ID, parent.ID
	doc := &types.Document{ID: uuid.NewString(), SpaceID: space.ID, Status: types.DocumentDone, Source: types.SourceMemory}
	err := store.CommitMemory(ctx, storage.MemoryCommit{
		Memory:      loser,
		SupersedeID: parent.ID,
		Document:    doc,
		Link:        types.NewSourceLink(loser.ID, doc.ID, 100, nil),
	})
	require.ErrorIs(t, err, storage.ErrConflict)

	_, err = store.GetMemory(ctx, loser.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemories_SingleActivePerLineage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	space := seedSpace(t, store)

	root := newMemory(space.ID, "root", []float32{1})
	require.NoError(t, store.CommitMemory(ctx, storage.MemoryCommit{Memory: root}))

	// A second active entry in the same lineage without superseding the root.
	rogue := newMemory(space.ID, "rogue", []float32{1})
	rogue.Version, rogue.ParentID, rogue.RootID = 2, root.ID, root.ID
	assert.Error(t, store.CommitMemory(ctx, storage.MemoryCommit{Memory: rogue}))
}

func TestMemories_CandidatesSkipCorruptAndForgotten(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	space := seedSpace(t, store)

	good := newMemory(space.ID, "good", []float32{1, 2})
	forgotten := newMemory(space.ID, "forgotten", []float32{1, 2})
	noEmbedding := newMemory(space.ID, "no embedding", nil)
	corrupt := newMemory(space.ID, "corrupt", []float32{1, 2})
	for _, m := range []*types.MemoryEntry{good, forgotten, noEmbedding, corrupt} {
		require.NoError(t, store.CommitMemory(ctx, storage.MemoryCommit{Memory: m}))
	}
	require.NoError(t, store.ForgetMemory(ctx, forgotten.ID))

	_, err := store.DB().ExecContext(ctx, `UPDATE memories SET embedding = ? WHERE id = ?`, []byte{1, 2, 3}, corrupt.ID)
	require.NoError(t, err)

	candidates, err := store.ListCandidates(ctx, storage.CandidateQuery{SpaceID: space.ID})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, good.ID, candidates[0].ID)
}

func TestMemories_CandidatesNewestFirstAndLimited(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	space := seedSpace(t, store)

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		m := newMemory(space.ID, "fact", []float32{float32(i + 1)})
		m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.CommitMemory(ctx, storage.MemoryCommit{Memory: m}))
		ids = append(ids, m.ID)
	}

	candidates, err := store.ListCandidates(ctx, storage.CandidateQuery{SpaceID: space.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, ids[4], candidates[0].ID)
	assert.Equal(t, ids[3], candidates[1].ID)
}

func TestMemories_ForgetAndLineage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	space := seedSpace(t, store)

	v1 := newMemory(space.ID, "v1", []float32{1})
	require.NoError(t, store.CommitMemory(ctx, storage.MemoryCommit{Memory: v1}))
	v2 := newMemory(space.ID, "v2", []float32{1})
	v2.Version, v2.ParentID, v2.RootID = 2, v1.ID, v1.ID
	require.NoError(t, store.CommitMemory(ctx, storage.MemoryCommit{Memory: v2, SupersedeID: v1.ID}))

	lineage, err := store.ListLineage(ctx, v1.ID)
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	assert.Equal(t, v1.ID, lineage[0].ID)
	assert.Equal(t, v2.ID, lineage[1].ID)

	require.NoError(t, store.ForgetMemory(ctx, v2.ID))
	require.NoError(t, store.ForgetMemory(ctx, v2.ID), "forgetting twice is a no-op")
	assert.ErrorIs(t, store.ForgetMemory(ctx, "missing"), storage.ErrNotFound)

	got, err := store.GetMemory(ctx, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleForgotten, got.Lifecycle)
}

func TestCommitMemory_Validation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.CommitMemory(ctx, storage.MemoryCommit{}), storage.ErrInvalidInput)

	m := newMemory("space", "content", nil)
	m.Lifecycle = "zombie"
	assert.ErrorIs(t, store.CommitMemory(ctx, storage.MemoryCommit{Memory: m}), storage.ErrInvalidInput)
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0, -1.5, 3.25, 1e-7}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)

	assert.Nil(t, vectorArg(nil))
}
