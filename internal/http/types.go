package http

import (
	"time"

	"github.com/fyrsmithlabs/learnloop/internal/learning"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SimilarRequest is the request body for POST /api/v1/memories/similar.
type SimilarRequest struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

// SimilarResponse is the response body for POST /api/v1/memories/similar.
// Examples is the priming text built from Memories, empty when none matched.
type SimilarResponse struct {
	Memories []MemoryView `json:"memories"`
	Examples string       `json:"examples"`
}

// InteractionResponse is the response body for POST /api/v1/interactions.
type InteractionResponse struct {
	InteractionID string `json:"interaction_id"`
	Status        string `json:"status"`
}

// MemoryView is a Memory as returned by the API.
type MemoryView struct {
	ID            string          `json:"id"`
	InteractionID string          `json:"interaction_id"`
	Question      string          `json:"question"`
	Answer        string          `json:"answer"`
	Queries       []string        `json:"queries"`
	Scores        learning.Scores `json:"scores"`
	OverallScore  float64         `json:"overall_score"`
	Similarity    float64         `json:"similarity,omitempty"`
	CreatedAt     *time.Time      `json:"created_at,omitempty"`
}

// MemoriesResponse is the response body for GET /api/v1/memories/recent.
type MemoriesResponse struct {
	Memories []MemoryView `json:"memories"`
}

// PatternsResponse is the response body for GET /api/v1/patterns.
type PatternsResponse struct {
	Patterns []learning.QueryPattern `json:"patterns"`
}

func memoryViews(memories []learning.Memory) []MemoryView {
	out := make([]MemoryView, 0, len(memories))
	for _, m := range memories {
		v := MemoryView{
			ID:            m.ID,
			InteractionID: m.InteractionID,
			Question:      m.Question,
			Answer:        m.Answer,
			Queries:       m.Queries,
			Scores:        m.Scores,
			OverallScore:  m.OverallScore,
			Similarity:    m.Similarity,
		}
		if v.Queries == nil {
			v.Queries = []string{}
		}
		if !m.CreatedAt.IsZero() {
			created := m.CreatedAt
			v.CreatedAt = &created
		}
		out = append(out, v)
	}
	return out
}
