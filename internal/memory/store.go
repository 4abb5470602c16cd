package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"indiistudio/internal/store"
)

// MemoryStore keeps items in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[Scope][]Item
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[Scope][]Item)}
}

// Add implements Store.
func (s *MemoryStore) Add(_ context.Context, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope := Scope{UserID: item.UserID, ProjectID: item.ProjectID}
	s.items[scope] = append(s.items[scope], item)
	return nil
}

// List implements Store. Oldest first.
func (s *MemoryStore) List(_ context.Context, scope Scope) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Item(nil), s.items[scope]...), nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, scope Scope) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items[scope])
	delete(s.items, scope)
	return n, nil
}

var memorySchema = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		project_id TEXT NOT NULL,
		content    TEXT NOT NULL,
		kind       TEXT NOT NULL DEFAULT 'fact',
		embedding  TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(user_id, project_id)`,
}

// SQLiteStore persists items in SQLite. Embeddings are stored as JSON arrays.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the memories table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if err := store.EnsureSchema(db, memorySchema, nil); err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Add implements Store.
func (s *SQLiteStore) Add(ctx context.Context, item Item) error {
	var embedding sql.NullString
	if len(item.Embedding) > 0 {
		data, err := json.Marshal(item.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		embedding = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, project_id, content, kind, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.UserID, item.ProjectID, item.Content, string(item.Kind), embedding, item.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// List implements Store. Oldest first.
func (s *SQLiteStore) List(ctx context.Context, scope Scope) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, project_id, content, kind, embedding, created_at
		   FROM memories WHERE user_id = ? AND project_id = ?`,
		scope.UserID, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var (
			item      Item
			kind      string
			embedding sql.NullString
			createdAt time.Time
		)
		if err := rows.Scan(&item.ID, &item.UserID, &item.ProjectID, &item.Content, &kind, &embedding, &createdAt); err != nil {
			return nil, err
		}
		item.Kind = Kind(kind)
		item.CreatedAt = createdAt
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &item.Embedding); err != nil {
				return nil, fmt.Errorf("decode embedding for %s: %w", item.ID, err)
			}
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context, scope Scope) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ? AND project_id = ?`, scope.UserID, scope.ProjectID)
	if err != nil {
		return 0, fmt.Errorf("clear memories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
