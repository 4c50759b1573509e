package types

import "time"

// MemoryEntry is an atomic, independently versioned fact.
//
// Entries form forward-only lineages: a new version points at its parent and
// at the lineage root through plain identifiers, never through references.
type MemoryEntry struct {
	// Core identification fields
	ID       string `json:"id"`        // Unique identifier (UUID)
	SpaceID  string `json:"space_id"`  // Owning partition
	OrgID    string `json:"org_id"`    // Owning organization
	OwnerKey string `json:"owner_key"` // Space owner id, the per-owner encryption scope
	Content  string `json:"content"`   // Free-text fact

	// Embedding fields
	Embedding      []float32 `json:"embedding,omitempty"`       // Vector embedding
	EmbeddingModel string    `json:"embedding_model,omitempty"` // Model tag the vector was produced with

	// Versioning
	Version   int                     `json:"version"`                    // Starts at 1, +1 per update
	Lifecycle Lifecycle               `json:"lifecycle"`                  // active, superseded or forgotten
	ParentID  string                  `json:"parent_id,omitempty"`        // Direct predecessor, empty for roots
	RootID    string                  `json:"root_id,omitempty"`          // Lineage root, empty for roots
	Relations map[string]RelationKind `json:"relations,omitempty"`        // related memory id -> relation kind

	// Metadata
	Title     string                 `json:"title,omitempty"`
	Source    string                 `json:"source,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// IsLatest reports whether the entry is the current version of its lineage.
func (m *MemoryEntry) IsLatest() bool {
	return m.Lifecycle == LifecycleActive
}

// IsForgotten reports whether the entry was deleted by its owner.
func (m *MemoryEntry) IsForgotten() bool {
	return m.Lifecycle == LifecycleForgotten
}

// LineageRoot returns the identifier of the lineage root: RootID when set,
// otherwise the entry's own ID.
func (m *MemoryEntry) LineageRoot() string {
	if m.RootID != "" {
		return m.RootID
	}
	return m.ID
}
