package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampRelevance(t *testing.T) {
	assert.Equal(t, 0, ClampRelevance(-5))
	assert.Equal(t, 42, ClampRelevance(42))
	assert.Equal(t, 100, ClampRelevance(250))

	link := NewSourceLink("mem", "doc", 140, nil)
	assert.Equal(t, 100, link.Relevance)
}

func TestLifecycleTransitions(t *testing.T) {
	tests := []struct {
		from, to Lifecycle
		valid    bool
	}{
		{LifecycleActive, LifecycleSuperseded, true},
		{LifecycleActive, LifecycleForgotten, true},
		{LifecycleSuperseded, LifecycleForgotten, true},
		{LifecycleSuperseded, LifecycleActive, false},
		{LifecycleForgotten, LifecycleActive, false},
		{LifecycleForgotten, LifecycleSuperseded, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.valid, IsValidLifecycleTransition(tc.from, tc.to))
		})
	}
}

func TestMemoryEntry_LineageRoot(t *testing.T) {
	root := &MemoryEntry{ID: "a", Lifecycle: LifecycleActive}
	assert.Equal(t, "a", root.LineageRoot())
	assert.True(t, root.IsLatest())

	child := &MemoryEntry{ID: "b", RootID: "a", Lifecycle: LifecycleForgotten}
	assert.Equal(t, "a", child.LineageRoot())
	assert.False(t, child.IsLatest())
	assert.True(t, child.IsForgotten())
}

func TestDocumentStatus_IsTerminal(t *testing.T) {
	assert.True(t, DocumentDone.IsTerminal())
	assert.True(t, DocumentFailed.IsTerminal())
	assert.False(t, DocumentEmbedding.IsTerminal())
	assert.False(t, DocumentQueued.IsTerminal())
}
