package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"indiistudio/internal/logging"
	"indiistudio/internal/store"
)

var ledgerSchema = []string{
	`CREATE TABLE IF NOT EXISTS quota_ledger (
		user_id    TEXT NOT NULL,
		class      TEXT NOT NULL,
		period     TEXT NOT NULL,
		used       INTEGER NOT NULL DEFAULT 0,
		reserved   INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, class, period)
	)`,
	`CREATE TABLE IF NOT EXISTS quota_holds (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		class      TEXT NOT NULL,
		period     TEXT NOT NULL,
		amount     INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quota_holds_created ON quota_holds(created_at)`,
}

// SQLiteLedger is a durable LedgerStore.
// Reserve is a single conditional UPDATE so two writers can never both pass
// the limit check.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger creates the ledger table if needed.
func NewSQLiteLedger(db *sql.DB) (*SQLiteLedger, error) {
	if err := store.EnsureSchema(db, ledgerSchema, nil); err != nil {
		return nil, fmt.Errorf("quota ledger: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

// Reserve implements LedgerStore.
func (l *SQLiteLedger) Reserve(ctx context.Context, hold Hold, limit int64) (LedgerEntry, bool, error) {
	key, amount := hold.Key, hold.Amount
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO quota_ledger (user_id, class, period) VALUES (?, ?, ?)`,
		key.UserID, string(key.Class), key.Period); err != nil {
		return LedgerEntry{}, false, fmt.Errorf("seed ledger row: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE quota_ledger
		    SET reserved = reserved + ?, updated_at = CURRENT_TIMESTAMP
		  WHERE user_id = ? AND class = ? AND period = ?
		    AND used + reserved + ? <= ?`,
		amount, key.UserID, string(key.Class), key.Period, amount, limit)
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("reserve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("reserve: %w", err)
	}
	if n == 1 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO quota_holds (id, user_id, class, period, amount, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			hold.ID, key.UserID, string(key.Class), key.Period, amount, hold.CreatedAt.UnixMilli()); err != nil {
			return LedgerEntry{}, false, fmt.Errorf("record hold: %w", err)
		}
	}

	entry, err := readEntry(ctx, tx, key)
	if err != nil {
		return LedgerEntry{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return LedgerEntry{}, false, fmt.Errorf("commit reserve: %w", err)
	}
	logging.UsageDebug("ledger reserve %s/%s/%s amount=%d ok=%v", key.UserID, key.Class, key.Period, amount, n == 1)
	return entry, n == 1, nil
}

// Settle implements LedgerStore.
func (l *SQLiteLedger) Settle(ctx context.Context, hold Hold, used int64) (LedgerEntry, error) {
	key := hold.Key
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("begin settle: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO quota_ledger (user_id, class, period) VALUES (?, ?, ?)`,
		key.UserID, string(key.Class), key.Period); err != nil {
		return LedgerEntry{}, fmt.Errorf("seed ledger row: %w", err)
	}

	var reserved int64
	err = tx.QueryRowContext(ctx, `SELECT amount FROM quota_holds WHERE id = ?`, hold.ID).Scan(&reserved)
	switch {
	case err == sql.ErrNoRows:
		reserved = 0
	case err != nil:
		return LedgerEntry{}, fmt.Errorf("read hold: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `DELETE FROM quota_holds WHERE id = ?`, hold.ID); err != nil {
			return LedgerEntry{}, fmt.Errorf("delete hold: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE quota_ledger
		    SET reserved = MAX(reserved - ?, 0),
		        used = MAX(used + ?, 0),
		        updated_at = CURRENT_TIMESTAMP
		  WHERE user_id = ? AND class = ? AND period = ?`,
		reserved, used, key.UserID, string(key.Class), key.Period); err != nil {
		return LedgerEntry{}, fmt.Errorf("settle: %w", err)
	}

	entry, err := readEntry(ctx, tx, key)
	if err != nil {
		return LedgerEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return LedgerEntry{}, fmt.Errorf("commit settle: %w", err)
	}
	return entry, nil
}

// Expire implements LedgerStore.
func (l *SQLiteLedger) Expire(ctx context.Context, cutoff time.Time) ([]Hold, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin expire: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, user_id, class, period, amount, created_at FROM quota_holds
		  WHERE created_at < ? ORDER BY created_at`, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list stale holds: %w", err)
	}
	var expired []Hold
	for rows.Next() {
		var h Hold
		var class string
		var created int64
		if err := rows.Scan(&h.ID, &h.Key.UserID, &class, &h.Key.Period, &h.Amount, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		h.Key.Class = OperationClass(class)
		h.CreatedAt = time.UnixMilli(created).UTC()
		expired = append(expired, h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list stale holds: %w", err)
	}
	rows.Close()

	for _, h := range expired {
		if _, err := tx.ExecContext(ctx,
			`UPDATE quota_ledger
			    SET reserved = MAX(reserved - ?, 0), updated_at = CURRENT_TIMESTAMP
			  WHERE user_id = ? AND class = ? AND period = ?`,
			h.Amount, h.Key.UserID, string(h.Key.Class), h.Key.Period); err != nil {
			return nil, fmt.Errorf("release hold %s: %w", h.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM quota_holds WHERE id = ?`, h.ID); err != nil {
			return nil, fmt.Errorf("delete hold %s: %w", h.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit expire: %w", err)
	}
	return expired, nil
}

// Read implements LedgerStore.
func (l *SQLiteLedger) Read(ctx context.Context, key LedgerKey) (LedgerEntry, error) {
	return readEntry(ctx, l.db, key)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readEntry(ctx context.Context, q queryRower, key LedgerKey) (LedgerEntry, error) {
	e := LedgerEntry{Key: key}
	err := q.QueryRowContext(ctx,
		`SELECT used, reserved FROM quota_ledger WHERE user_id = ? AND class = ? AND period = ?`,
		key.UserID, string(key.Class), key.Period).Scan(&e.Used, &e.Reserved)
	if err == sql.ErrNoRows {
		return e, nil
	}
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("read ledger: %w", err)
	}
	return e, nil
}
