package rag

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// InMemoryRAG is a map-and-slice RAG store for tests and single-process
// demos, grounded on the same shape as memory.InMemoryStore but keyed by
// artifact ID with insertion order preserved for ranking ties.
type InMemoryRAG struct {
	mu        sync.RWMutex
	artifacts []Artifact
}

// NewInMemoryRAG creates an empty in-memory store.
func NewInMemoryRAG() *InMemoryRAG {
	return &InMemoryRAG{}
}

func (r *InMemoryRAG) StoreArtifact(artifactType ArtifactType, content string, metadata map[string]interface{}) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	r.artifacts = append(r.artifacts, Artifact{
		ID:       id,
		Type:     artifactType,
		Content:  content,
		Metadata: metadata,
	})
	return id, nil
}

func (r *InMemoryRAG) QuerySimilar(queryText string, topK int, filter *Filter) ([]ScoredArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []ScoredArtifact
	for _, a := range r.artifacts {
		if filter != nil && filter.Type != "" && a.Type != filter.Type {
			continue
		}
		score := lexicalOverlap(queryText, a.Content)
		if score <= 0 {
			continue
		}
		candidates = append(candidates, ScoredArtifact{Content: a.Content, Metadata: a.Metadata, Score: score})
	}

	sortByScoreDesc(candidates)
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

func (r *InMemoryRAG) GetRecommendations(taskDescription string) (Recommendations, error) {
	matches, _ := r.QuerySimilar(taskDescription, 5, &Filter{Type: ArtifactStageResult})

	var insights []string
	for _, m := range matches {
		if note, ok := m.Metadata["insight"].(string); ok && note != "" {
			insights = append(insights, note)
		}
	}

	confidence := 0.0
	if len(matches) > 0 {
		confidence = matches[0].Score
	}

	return Recommendations{
		SimilarSuccesses:   matches,
		HistoricalInsights: insights,
		Confidence:         confidence,
	}, nil
}

// lexicalOverlap scores b against a by fraction of a's distinct words
// found in b - a simple, dependency-free stand-in for real embedding
// similarity, adequate for ranking within a single process's artifact set.
func lexicalOverlap(a, b string) float64 {
	aWords := wordSet(a)
	if len(aWords) == 0 {
		return 0
	}
	bWords := wordSet(b)

	matches := 0
	for w := range aWords {
		if bWords[w] {
			matches++
		}
	}
	return float64(matches) / float64(len(aWords))
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func sortByScoreDesc(items []ScoredArtifact) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Score > items[j-1].Score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
