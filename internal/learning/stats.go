package learning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/learnloop/internal/graphstore"
	"go.uber.org/zap"
)

// Dashboard list limits.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// StatsAggregator recomputes the cached rolling statistics.
type StatsAggregator struct {
	store  GraphStore
	logger *zap.Logger
	now    func() time.Time
}

// NewStatsAggregator creates a StatsAggregator.
func NewStatsAggregator(store GraphStore, logger *zap.Logger) (*StatsAggregator, error) {
	if store == nil {
		return nil, fmt.Errorf("graph store: %w", ErrNilDependency)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsAggregator{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Refresh recomputes statistics from the store and overwrites the cached
// record.
func (a *StatsAggregator) Refresh(ctx context.Context) (Stats, error) {
	memories, err := a.store.NodesByLabel(ctx, MemoryLabel)
	if err != nil {
		return Stats{}, fmt.Errorf("listing memories: %w", err)
	}
	patterns, err := a.store.CountByLabel(ctx, PatternLabel)
	if err != nil {
		return Stats{}, fmt.Errorf("counting patterns: %w", err)
	}

	var (
		sum     float64
		decoded int
	)
	for _, n := range memories {
		m, err := memoryFromNode(n)
		if err != nil {
			a.logger.Warn("skipping undecodable memory", zap.String("id", n.ID), zap.Error(err))
			continue
		}
		sum += m.OverallScore
		decoded++
	}

	stats := Stats{
		TotalMemories: len(memories),
		TotalPatterns: patterns,
		UpdatedAt:     a.now(),
	}
	if decoded > 0 {
		stats.AverageOverall = sum / float64(decoded)
	}

	props, err := graphstore.EncodeProperties(stats)
	if err != nil {
		return Stats{}, err
	}
	if err := a.store.PutNode(ctx, &graphstore.Node{
		ID:         StatsNodeID,
		Labels:     []string{StatsLabel},
		Properties: props,
	}); err != nil {
		return Stats{}, fmt.Errorf("writing stats: %w", err)
	}

	a.logger.Debug("statistics refreshed",
		zap.Int("memories", stats.TotalMemories),
		zap.Int("patterns", stats.TotalPatterns),
		zap.Float64("average_overall", stats.AverageOverall))
	return stats, nil
}

// Dashboard serves read-only views of learned state.
type Dashboard struct {
	store GraphStore
}

// NewDashboard creates a Dashboard.
func NewDashboard(store GraphStore) (*Dashboard, error) {
	if store == nil {
		return nil, fmt.Errorf("graph store: %w", ErrNilDependency)
	}
	return &Dashboard{store: store}, nil
}

// Stats returns the cached statistics, or a zero record if never computed.
func (d *Dashboard) Stats(ctx context.Context) (Stats, error) {
	n, err := d.store.GetNode(ctx, StatsNodeID)
	if errors.Is(err, graphstore.ErrNotFound) {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	if err := graphstore.DecodeProperties(n.Properties, &s); err != nil {
		return Stats{}, err
	}
	return s, nil
}

// RecentMemories returns up to limit memories, newest first.
func (d *Dashboard) RecentMemories(ctx context.Context, limit int) ([]Memory, error) {
	nodes, err := d.store.NodesByLabel(ctx, MemoryLabel)
	if err != nil {
		return nil, err
	}
	memories := make([]Memory, 0, len(nodes))
	for _, n := range nodes {
		m, err := memoryFromNode(n)
		if err != nil {
			continue
		}
		memories = append(memories, m)
	}
	sort.SliceStable(memories, func(i, j int) bool {
		if !memories[i].CreatedAt.Equal(memories[j].CreatedAt) {
			return memories[i].CreatedAt.After(memories[j].CreatedAt)
		}
		return memories[i].ID < memories[j].ID
	})
	return memories[:min(len(memories), clampLimit(limit))], nil
}

// PatternsByUsage returns up to limit patterns by success count, ties by key.
func (d *Dashboard) PatternsByUsage(ctx context.Context, limit int) ([]QueryPattern, error) {
	nodes, err := d.store.NodesByLabel(ctx, PatternLabel)
	if err != nil {
		return nil, err
	}
	patterns := make([]QueryPattern, 0, len(nodes))
	for _, n := range nodes {
		p, err := patternFromNode(n)
		if err != nil {
			continue
		}
		patterns = append(patterns, p)
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].SuccessCount != patterns[j].SuccessCount {
			return patterns[i].SuccessCount > patterns[j].SuccessCount
		}
		return patterns[i].Key < patterns[j].Key
	})
	return patterns[:min(len(patterns), clampLimit(limit))], nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
