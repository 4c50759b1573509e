package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/scrypster/recollect/internal/config"
	"github.com/scrypster/recollect/internal/similarity"
	"github.com/scrypster/recollect/internal/storage"
	"github.com/scrypster/recollect/pkg/types"
)

// SearchRequest is the input to Search and Recall.
type SearchRequest struct {
	SpaceID string
	Query   string

	// TopK caps the results. Zero uses the configured default; values above
	// the hard cap are clamped.
	TopK int

	// MinSimilarity overrides the configured threshold when set.
	MinSimilarity *float64
}

// SearchResult is one ranked memory.
type SearchResult struct {
	Memory *types.MemoryEntry `json:"memory"`
	Score  float64            `json:"score"`
}

// SearchResponse is always successful once the request is valid; an
// embedding or storage failure yields an empty result set.
type SearchResponse struct {
	Success bool           `json:"success"`
	Count   int            `json:"count"`
	Results []SearchResult `json:"results"`
}

func emptyResponse() *SearchResponse {
	return &SearchResponse{Success: true, Results: []SearchResult{}}
}

// Search ranks the active memories of a space against the query.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if err := e.requireStarted(); err != nil {
		return nil, err
	}
	if req.SpaceID == "" {
		return nil, fmt.Errorf("%w: space is required", storage.ErrInvalidInput)
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", storage.ErrInvalidInput)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = e.config.SearchTopK
	}
	topK = min(topK, config.MaxSearchTopK)

	minScore := e.config.SearchMinSimilarity
	if req.MinSimilarity != nil {
		minScore = *req.MinSimilarity
	}

	logger := e.logger.With("space", req.SpaceID)

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		logger.Error("search embedding failed", "err", err)
		return emptyResponse(), nil
	}

	candidates, err := e.searchCandidates(ctx, req.SpaceID, vec)
	if err != nil {
		logger.Error("search candidates failed", "err", err)
		return emptyResponse(), nil
	}

	ranked := similarity.Rank(vec, candidates, memoryEmbedding, similarity.Options{
		MinScore:   minScore,
		OnMismatch: e.warnMismatch(candidates),
	})

	resp := emptyResponse()
	for _, r := range ranked {
		if len(resp.Results) == topK {
			break
		}
		if err := e.decryptMemory(r.Item); err != nil {
			logger.Warn("skipping undecryptable memory", "memory", r.Item.ID, "err", err)
			continue
		}
		resp.Results = append(resp.Results, SearchResult{Memory: r.Item, Score: r.Score})
	}
	resp.Count = len(resp.Results)

	logger.Debug("search complete", "candidates", len(candidates), "results", resp.Count)
	return resp, nil
}

// Recall runs Search and trims the ranked results to the count chosen by
// the recall sizer.
func (e *Engine) Recall(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.TopK <= 0 {
		req.TopK = e.config.SearchTopK
	}
	resp, err := e.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(resp.Results))
	for i, r := range resp.Results {
		scores[i] = r.Score
	}
	n := e.sizer.Count(scores)
	resp.Results = resp.Results[:n]
	resp.Count = n
	return resp, nil
}

// searchCandidates returns the recent window, widened with the store's
// nearest neighbours when the store supports it.
func (e *Engine) searchCandidates(ctx context.Context, spaceID string, vec []float32) ([]*types.MemoryEntry, error) {
	recent, err := e.store.ListCandidates(ctx, storage.CandidateQuery{
		SpaceID: spaceID,
		Limit:   e.config.SearchCandidateWindow,
	})
	if err != nil {
		return nil, err
	}
	if e.vectors == nil {
		return recent, nil
	}

	nearest, err := e.vectors.NearestMemories(ctx, spaceID, vec, e.config.SearchCandidateWindow)
	if err != nil {
		e.logger.Warn("nearest neighbour lookup failed, using recent window only", "err", err)
		return recent, nil
	}

	seen := make(map[string]struct{}, len(recent)+len(nearest))
	out := make([]*types.MemoryEntry, 0, len(recent)+len(nearest))
	for _, list := range [][]*types.MemoryEntry{recent, nearest} {
		for _, m := range list {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}
