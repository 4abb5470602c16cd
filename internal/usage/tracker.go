package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TokenData is the root structure stored in usage.json.
type TokenData struct {
	Version   string          `json:"version"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// AggregatedStats holds token counters broken down by dimension.
type AggregatedStats struct {
	Total       TokenCounts            `json:"total"`
	ByModel     map[string]TokenCounts `json:"by_model"`
	ByAgent     map[string]TokenCounts `json:"by_agent"`
	ByUser      map[string]TokenCounts `json:"by_user"`
	ByOperation map[string]TokenCounts `json:"by_operation"` // chat, delegation
}

// TokenCounts holds input/output sums.
type TokenCounts struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
	Calls  int64 `json:"calls"`
}

// Add accumulates one call.
func (tc *TokenCounts) Add(input, output int64) {
	tc.Input += input
	tc.Output += output
	tc.Total += input + output
	tc.Calls++
}

// Tracker records model token usage for reporting. It does not enforce
// limits; that is the Controller's job.
type Tracker struct {
	mu       sync.Mutex
	data     TokenData
	filePath string
	dirty    bool
}

type contextKey struct{}

type trackingLabels struct {
	agentID   string
	userID    string
	operation string
}

// NewTracker creates a tracker persisting to dir/usage.json.
// An empty dir keeps the tracker in memory only.
func NewTracker(dir string) (*Tracker, error) {
	t := &Tracker{
		data: TokenData{
			Version: "1.0",
			Aggregate: AggregatedStats{
				ByModel:     make(map[string]TokenCounts),
				ByAgent:     make(map[string]TokenCounts),
				ByUser:      make(map[string]TokenCounts),
				ByOperation: make(map[string]TokenCounts),
			},
		},
	}
	if dir == "" {
		return t, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create usage dir: %w", err)
	}
	t.filePath = filepath.Join(dir, "usage.json")
	if err := t.Load(); err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}
	return t, nil
}

// Load reads the usage data from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &t.data); err != nil {
		return err
	}

	// Ensure maps are initialized if file was empty/partial
	agg := &t.data.Aggregate
	for _, m := range []*map[string]TokenCounts{&agg.ByModel, &agg.ByAgent, &agg.ByUser, &agg.ByOperation} {
		if *m == nil {
			*m = make(map[string]TokenCounts)
		}
	}
	return nil
}

// Save writes the usage data to disk if anything changed.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.filePath == "" || !t.dirty {
		return nil
	}
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(t.filePath, data, 0644); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// Track records one model call. Agent, user and operation labels come from ctx.
func (t *Tracker) Track(ctx context.Context, model string, input, output int64) {
	labels := labelsFrom(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.Aggregate.Total.Add(input, output)
	addToMap(t.data.Aggregate.ByModel, model, input, output)
	addToMap(t.data.Aggregate.ByAgent, labels.agentID, input, output)
	addToMap(t.data.Aggregate.ByUser, labels.userID, input, output)
	addToMap(t.data.Aggregate.ByOperation, labels.operation, input, output)
	t.dirty = true
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByAgent = copyTokenCountsMap(stats.ByAgent)
	stats.ByUser = copyTokenCountsMap(stats.ByUser)
	stats.ByOperation = copyTokenCountsMap(stats.ByOperation)
	return stats
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int64) {
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}

// WithLabels attaches reporting labels to ctx.
func WithLabels(ctx context.Context, agentID, userID, operation string) context.Context {
	return context.WithValue(ctx, contextKey{}, trackingLabels{agentID: agentID, userID: userID, operation: operation})
}

func labelsFrom(ctx context.Context) trackingLabels {
	l, _ := ctx.Value(contextKey{}).(trackingLabels)
	if l.agentID == "" {
		l.agentID = "unknown"
	}
	if l.userID == "" {
		l.userID = "unknown"
	}
	if l.operation == "" {
		l.operation = "chat"
	}
	return l
}
