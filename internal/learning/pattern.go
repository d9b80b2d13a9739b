package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/learnloop/internal/graphstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var patternNamespace = uuid.MustParse("9a7e2f43-1c6b-4e88-b0d5-2f3c8e6a91b4")

// PatternID derives the node id of the pattern with canonical key.
func PatternID(key string) string {
	return uuid.NewSHA1(patternNamespace, []byte(key)).String()
}

// PatternExtractor records the query shapes of successful interactions.
type PatternExtractor struct {
	store  GraphStore
	logger *zap.Logger
	now    func() time.Time
}

// NewPatternExtractor creates a PatternExtractor.
func NewPatternExtractor(store GraphStore, logger *zap.Logger) (*PatternExtractor, error) {
	if store == nil {
		return nil, fmt.Errorf("graph store: %w", ErrNilDependency)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternExtractor{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Extract upserts the pattern of the first query and links the memory to
// it. Nothing happens when overall does not exceed PatternQualityThreshold,
// when no query ran, or when the query has no MATCH clause. It returns the
// pattern key, or "" when skipped. A memory already linked to its pattern
// does not count twice.
func (p *PatternExtractor) Extract(ctx context.Context, memoryID string, queries []string, overall float64) (string, error) {
	if overall <= PatternQualityThreshold || len(queries) == 0 {
		return "", nil
	}
	query := queries[0]

	key, err := CanonicalizeQuery(query)
	if errors.Is(err, ErrNoMatchClause) {
		p.logger.Debug("query has no match clause, skipping pattern", zap.String("memory_id", memoryID))
		return "", nil
	}
	if err != nil {
		return "", err
	}
	id := PatternID(key)

	description, _ := DescribeQuery(query)
	template, _ := QueryTemplate(query)
	now := p.now()

	// The counter bump and the memory's link commit together; a retry that
	// finds the link changes nothing.
	node, linked, err := p.store.MergeNodeFrom(ctx, EdgeUsesPattern, memoryID, id, []string{PatternLabel},
		func(n *graphstore.Node) error {
			props, err := graphstore.EncodeProperties(QueryPattern{
				Key:          key,
				Description:  description,
				Template:     template,
				SuccessCount: 1,
				LastUsedAt:   now,
			})
			if err != nil {
				return err
			}
			n.Properties = props
			return nil
		},
		func(n *graphstore.Node) error {
			n.Properties["success_count"] = int64Prop(n.Properties, "success_count") + 1
			n.Properties["last_used_at"] = now
			return nil
		})
	if err != nil {
		return "", fmt.Errorf("recording pattern %q: %w", key, err)
	}
	if !linked {
		return key, nil
	}

	p.logger.Info("query pattern recorded",
		zap.String("pattern_key", key),
		zap.String("memory_id", memoryID),
		zap.Int64("success_count", int64Prop(node.Properties, "success_count")))
	return key, nil
}
