// Package memory is the long-term memory behind the save_memory and
// recall_memories tools. Items are scoped to a user and project. Recall uses
// embedding similarity when an Embedder is configured and falls back to
// keyword scoring otherwise.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"indiistudio/internal/logging"
)

// Kind classifies a memory item.
type Kind string

const (
	KindFact    Kind = "fact"
	KindSummary Kind = "summary"
	KindRule    Kind = "rule"
)

// Kinds lists valid kinds in schema order.
var Kinds = []string{string(KindFact), string(KindSummary), string(KindRule)}

// ErrEmptyContent is returned when saving blank content.
var ErrEmptyContent = errors.New("memory content is empty")

const (
	vectorThreshold  = 0.5
	vectorRuleBoost  = 0.1
	keywordRuleBoost = 0.5
	fallbackRules    = 3
	minKeywordLen    = 4
)

// Scope identifies whose memories are read or written.
type Scope struct {
	UserID    string
	ProjectID string
}

func (s Scope) String() string {
	return s.UserID + "/" + s.ProjectID
}

// Item is one remembered fact, summary or rule.
type Item struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ProjectID string    `json:"projectId"`
	Content   string    `json:"content"`
	Kind      Kind      `json:"kind"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists memory items.
type Store interface {
	Add(ctx context.Context, item Item) error
	List(ctx context.Context, scope Scope) ([]Item, error)
	Clear(ctx context.Context, scope Scope) (int, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service saves and recalls memories.
type Service struct {
	store    Store
	embedder Embedder
	now      func() time.Time

	mu    sync.Mutex
	saves map[Scope]*sync.Mutex
}

// NewService creates a Service. embedder may be nil.
func NewService(store Store, embedder Embedder) *Service {
	return &Service{store: store, embedder: embedder, now: time.Now, saves: make(map[Scope]*sync.Mutex)}
}

// Embeds reports whether saves and recalls call the embedding model.
func (s *Service) Embeds() bool {
	return s.embedder != nil
}

// scopeLock serializes saves within one scope so the duplicate check and the
// insert are not interleaved.
func (s *Service) scopeLock(scope Scope) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.saves[scope]
	if !ok {
		l = &sync.Mutex{}
		s.saves[scope] = l
	}
	return l
}

// Save stores content under scope. Exact duplicates are skipped and reported
// with saved=false.
func (s *Service) Save(ctx context.Context, scope Scope, content string, kind Kind) (bool, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return false, ErrEmptyContent
	}
	if kind == "" {
		kind = KindFact
	}

	lock := s.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.store.List(ctx, scope)
	if err != nil {
		return false, err
	}
	for _, item := range existing {
		if item.Content == content {
			logging.MemoryDebug("Skipping duplicate memory for %s", scope)
			return false, nil
		}
	}

	item := Item{
		ID:        uuid.NewString(),
		UserID:    scope.UserID,
		ProjectID: scope.ProjectID,
		Content:   content,
		Kind:      kind,
		Embedding: s.embed(ctx, content),
		CreatedAt: s.now(),
	}
	if err := s.store.Add(ctx, item); err != nil {
		return false, fmt.Errorf("save memory: %w", err)
	}
	logging.Memory("Saved %s memory for %s", kind, scope)
	return true, nil
}

// Recall returns up to limit memories relevant to query, best first. When
// nothing scores above the threshold the most recent rules are returned.
func (s *Service) Recall(ctx context.Context, scope Scope, query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 5
	}
	items, err := s.store.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	queryVec := s.embed(ctx, query)
	useVectors := len(queryVec) > 0
	if useVectors {
		useVectors = false
		for _, item := range items {
			if len(item.Embedding) > 0 {
				useVectors = true
				break
			}
		}
	}

	type scored struct {
		item  Item
		score float64
	}
	ranked := make([]scored, len(items))
	keywords := keywordsOf(query)
	for i, item := range items {
		var score float64
		if useVectors {
			if len(item.Embedding) > 0 {
				score = cosine(queryVec, item.Embedding)
			}
			if item.Kind == KindRule {
				score += vectorRuleBoost
			}
		} else {
			content := strings.ToLower(item.Content)
			for _, k := range keywords {
				if strings.Contains(content, k) {
					score++
				}
			}
			if item.Kind == KindRule {
				score += keywordRuleBoost
			}
		}
		ranked[i] = scored{item: item, score: score}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].item.CreatedAt.After(ranked[j].item.CreatedAt)
	})

	threshold := 0.0
	if useVectors {
		threshold = vectorThreshold
	}
	var out []Item
	for _, r := range ranked {
		if r.score > threshold && len(out) < limit {
			out = append(out, r.item)
		}
	}
	if len(out) > 0 {
		return out, nil
	}

	for _, r := range ranked {
		if r.item.Kind == KindRule && len(out) < fallbackRules {
			out = append(out, r.item)
		}
	}
	return out, nil
}

// Clear removes every memory in scope.
func (s *Service) Clear(ctx context.Context, scope Scope) (int, error) {
	return s.store.Clear(ctx, scope)
}

func (s *Service) embed(ctx context.Context, text string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		logging.Get(logging.CategoryMemory).Warn("Embedding failed, using keyword search: %v", err)
		return nil
	}
	return vec
}

func keywordsOf(query string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len([]rune(w)) >= minKeywordLen {
			out = append(out, w)
		}
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
