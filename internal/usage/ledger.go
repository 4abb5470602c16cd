package usage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// LedgerKey identifies one quota counter.
type LedgerKey struct {
	UserID string
	Class  OperationClass
	Period string
}

// LedgerEntry is a snapshot of one counter.
type LedgerEntry struct {
	Key      LedgerKey
	Used     int64
	Reserved int64
}

// Committed returns used plus reserved.
func (e LedgerEntry) Committed() int64 { return e.Used + e.Reserved }

// Hold is the durable record of one open reservation. Holds left behind by a
// process that died before settling are released by Expire.
type Hold struct {
	ID        string
	Key       LedgerKey
	Amount    int64
	CreatedAt time.Time
}

// LedgerStore persists quota counters. Implementations must make Reserve a
// single atomic read-modify-write and never let a counter drop below zero.
type LedgerStore interface {
	// Reserve records hold and adds its amount to the reserved counter when
	// used+reserved+amount <= limit. It reports false, with the current
	// entry, when the limit would be exceeded.
	Reserve(ctx context.Context, hold Hold, limit int64) (LedgerEntry, bool, error)

	// Settle deletes hold and adds used to the used counter in one step. The
	// hold's amount leaves the reserved counter only if the hold was still
	// recorded, so settling an expired hold only charges used.
	Settle(ctx context.Context, hold Hold, used int64) (LedgerEntry, error)

	// Expire deletes every hold created before cutoff, returns its amount to
	// the counter and reports the expired holds, oldest first.
	Expire(ctx context.Context, cutoff time.Time) ([]Hold, error)

	// Read returns the current entry (zero when absent).
	Read(ctx context.Context, key LedgerKey) (LedgerEntry, error)
}

// MemoryLedger is an in-process LedgerStore.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[LedgerKey]LedgerEntry
	holds   map[string]Hold
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[LedgerKey]LedgerEntry),
		holds:   make(map[string]Hold),
	}
}

// Reserve implements LedgerStore.
func (m *MemoryLedger) Reserve(ctx context.Context, hold Hold, limit int64) (LedgerEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[hold.Key]
	e.Key = hold.Key
	if e.Used+e.Reserved+hold.Amount > limit {
		return e, false, nil
	}
	e.Reserved += hold.Amount
	m.entries[hold.Key] = e
	m.holds[hold.ID] = hold
	return e, true, nil
}

// Settle implements LedgerStore.
func (m *MemoryLedger) Settle(ctx context.Context, hold Hold, used int64) (LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[hold.Key]
	e.Key = hold.Key
	if recorded, ok := m.holds[hold.ID]; ok {
		e.Reserved = max(e.Reserved-recorded.Amount, 0)
		delete(m.holds, hold.ID)
	}
	e.Used = max(e.Used+used, 0)
	m.entries[hold.Key] = e
	return e, nil
}

// Expire implements LedgerStore.
func (m *MemoryLedger) Expire(ctx context.Context, cutoff time.Time) ([]Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []Hold
	for id, h := range m.holds {
		if !h.CreatedAt.Before(cutoff) {
			continue
		}
		e := m.entries[h.Key]
		e.Key = h.Key
		e.Reserved = max(e.Reserved-h.Amount, 0)
		m.entries[h.Key] = e
		delete(m.holds, id)
		expired = append(expired, h)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	return expired, nil
}

// Read implements LedgerStore.
func (m *MemoryLedger) Read(ctx context.Context, key LedgerKey) (LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	e.Key = key
	return e, nil
}
