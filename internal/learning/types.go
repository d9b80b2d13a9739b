package learning

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/learnloop/internal/graphstore"
)

// Graph labels, edge types and index names used by the learning loop.
const (
	MemoryLabel  = "Memory"
	PatternLabel = "QueryPattern"
	StatsLabel   = "Stats"

	// MemoryIndex is the vector index over Memory question embeddings.
	MemoryIndex = "memory_embeddings"

	EdgeCites       = "CITES"
	EdgeSimilarTo   = "SIMILAR_TO"
	EdgeUsesPattern = "USES_PATTERN"

	// StatsNodeID identifies the single cached statistics record.
	StatsNodeID = "stats:rolling"
)

// Thresholds.
const (
	// RetrieveQualityThreshold is the exclusive lower bound on overall
	// score for a memory to be used as a priming example.
	RetrieveQualityThreshold = 0.75

	// PatternQualityThreshold is the exclusive lower bound on overall
	// score for an interaction to contribute a query pattern.
	PatternQualityThreshold = 0.8

	// SimilarityLinkThreshold is the exclusive lower bound on cosine
	// similarity for two memories to be linked.
	SimilarityLinkThreshold = 0.8

	// EvidenceInheritThreshold is the exclusive lower bound on cosine
	// similarity for a memory to inherit a prior memory's evidence.
	EvidenceInheritThreshold = SimilarityLinkThreshold

	// MaxSimilarityLinks bounds the links created per memory.
	MaxSimilarityLinks = 5

	// DefaultRetrieveK is the default number of priming examples.
	DefaultRetrieveK = 3
)

var (
	// ErrInvalidInteraction is returned for interactions missing an id or question.
	ErrInvalidInteraction = errors.New("invalid interaction")

	// ErrNilDependency is returned when a constructor receives a nil collaborator.
	ErrNilDependency = errors.New("nil dependency")
)

// Interaction is one finished question/answer turn.
type Interaction struct {
	InteractionID    string   `json:"interaction_id"`
	Question         string   `json:"question"`
	Answer           string   `json:"answer"`
	Queries          []string `json:"queries,omitempty"`
	EvidenceIDs      []string `json:"evidence_ids,omitempty"`
	ElapsedMs        int64    `json:"elapsed_ms"`
	PrimingMemoryIDs []string `json:"priming_memory_ids,omitempty"`
}

// Validate checks the fields every pipeline step relies on.
func (i Interaction) Validate() error {
	if i.InteractionID == "" {
		return errors.Join(ErrInvalidInteraction, errors.New("interaction_id is required"))
	}
	if i.Question == "" {
		return errors.Join(ErrInvalidInteraction, errors.New("question is required"))
	}
	return nil
}

// Memory is a stored interaction plus its grades.
type Memory struct {
	ID            string    `json:"-"`
	InteractionID string    `json:"interaction_id"`
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	Queries       []string  `json:"queries,omitempty"`
	EvidenceIDs   []string  `json:"evidence_ids,omitempty"`
	PrimedBy      []string  `json:"primed_by,omitempty"`
	ElapsedMs     int64     `json:"elapsed_ms"`
	Scores        Scores    `json:"scores"`
	OverallScore  float64   `json:"overall_score"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"-"`

	// EvidenceInheritedFrom names the prior memory whose citations were
	// copied when the interaction cited nothing.
	EvidenceInheritedFrom string `json:"evidence_inherited_from,omitempty"`

	// Similarity is set on retrieval results only.
	Similarity float64 `json:"-"`
}

// QueryPattern is a canonical query shape with usage counters.
type QueryPattern struct {
	ID           string    `json:"-"`
	Key          string    `json:"key"`
	Description  string    `json:"description"`
	Template     string    `json:"template"`
	SuccessCount int64     `json:"success_count"`
	FailureCount int64     `json:"failure_count"`
	LastUsedAt   time.Time `json:"last_used_at"`
}

// Stats is the cached rolling aggregate.
type Stats struct {
	TotalMemories  int       `json:"total_memories"`
	AverageOverall float64   `json:"average_overall"`
	TotalPatterns  int       `json:"total_patterns"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GraphStore is the subset of the graph gateway the learning loop uses.
type GraphStore interface {
	CreateNode(ctx context.Context, n *graphstore.Node) error
	GetNode(ctx context.Context, id string) (*graphstore.Node, error)
	PutNode(ctx context.Context, n *graphstore.Node) error
	MergeNodeFrom(ctx context.Context, typ, from, id string, labels []string, onCreate, onMatch func(*graphstore.Node) error) (*graphstore.Node, bool, error)
	IndexNode(ctx context.Context, id string) error
	NodesByLabel(ctx context.Context, label string) ([]*graphstore.Node, error)
	CountByLabel(ctx context.Context, label string) (int, error)
	MergeEdge(ctx context.Context, typ, from, to string, props map[string]any) (*graphstore.Edge, error)
	OutgoingEdges(ctx context.Context, from, typ string) ([]*graphstore.Edge, error)
	VectorSearch(ctx context.Context, index string, embedding []float32, k int) ([]graphstore.ScoredNode, error)
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// MemoryIndexSpec declares the memory vector index for an embedder of dim.
func MemoryIndexSpec(dim int) graphstore.IndexSpec {
	return graphstore.IndexSpec{Name: MemoryIndex, Label: MemoryLabel, Dimension: dim}
}

// memoryFromNode decodes a Memory node.
func memoryFromNode(n *graphstore.Node) (Memory, error) {
	var m Memory
	if err := graphstore.DecodeProperties(n.Properties, &m); err != nil {
		return Memory{}, err
	}
	m.ID = n.ID
	m.CreatedAt = n.CreatedAt
	return m, nil
}

func patternFromNode(n *graphstore.Node) (QueryPattern, error) {
	var p QueryPattern
	if err := graphstore.DecodeProperties(n.Properties, &p); err != nil {
		return QueryPattern{}, err
	}
	p.ID = n.ID
	return p, nil
}

// int64Prop reads an integer property that may have round-tripped
// through JSON as a float64.
func int64Prop(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}
