package usage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indiistudio/internal/store"
)

var testTiers = Tiers{
	"free": {
		ChatTokensPerMonth:   1000,
		ImagesPerMonth:       3,
		VideoSecondsPerMonth: 60,
		VideosPerDay:         1,
		MaxVideoSeconds:      15,
	},
	"label": {
		ImagesPerMonth:  100,
		VideosPerDay:    10,
		MaxVideoSeconds: 600,
	},
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }
}

func ledgers(t *testing.T) map[string]LedgerStore {
	t.Helper()
	db, err := store.Open(store.DriverModernc, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlLedger, err := NewSQLiteLedger(db)
	require.NoError(t, err)
	return map[string]LedgerStore{
		"memory": NewMemoryLedger(),
		"sqlite": sqlLedger,
	}
}

func TestAuthorizeCommit(t *testing.T) {
	for name, ledger := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := NewController(ledger, testTiers, WithClock(fixedClock()))

			res, err := c.Authorize(ctx, "u1", "free", ClassChatTokens, 400)
			require.NoError(t, err)
			assert.Equal(t, "2026-03", res.Period)

			rows, err := c.Usage(ctx, "u1", "free")
			require.NoError(t, err)
			assert.Equal(t, int64(400), rows[0].Reserved)
			assert.Equal(t, int64(0), rows[0].Used)

			// actual differs from the estimate
			require.NoError(t, c.Commit(ctx, res, 250))
			rows, err = c.Usage(ctx, "u1", "free")
			require.NoError(t, err)
			assert.Equal(t, int64(0), rows[0].Reserved)
			assert.Equal(t, int64(250), rows[0].Used)
			assert.Equal(t, int64(1000), rows[0].Limit)
		})
	}
}

func TestAuthorizeExceeded(t *testing.T) {
	for name, ledger := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := NewController(ledger, testTiers, WithClock(fixedClock()))

			for i := 0; i < 3; i++ {
				res, err := c.Authorize(ctx, "u1", "free", ClassImages, 1)
				require.NoError(t, err)
				require.NoError(t, c.Commit(ctx, res, 1))
			}

			_, err := c.Authorize(ctx, "u1", "free", ClassImages, 1)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrQuotaExceeded))

			var qe *QuotaExceededError
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, int64(3), qe.Limit)
			assert.Equal(t, int64(3), qe.Used)
			assert.Contains(t, qe.Error(), "images limit is 3 per month, 3 used")

			// the failed attempt had no side effect
			rows, err := c.Usage(ctx, "u1", "free")
			require.NoError(t, err)
			assert.Equal(t, int64(3), rows[1].Used)
			assert.Equal(t, int64(0), rows[1].Reserved)

			// other users are unaffected
			_, err = c.Authorize(ctx, "u2", "free", ClassImages, 1)
			assert.NoError(t, err)
		})
	}
}

func TestConcurrentAuthorizeLastUnit(t *testing.T) {
	for name, ledger := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := NewController(ledger, testTiers, WithClock(fixedClock()))

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				exceeded  int
			)
			start := make(chan struct{})
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := c.Authorize(ctx, "u1", "free", ClassVideos, 1)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, ErrQuotaExceeded):
						exceeded++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, 1, succeeded)
			assert.Equal(t, 1, exceeded)
		})
	}
}

func TestReleaseRefunds(t *testing.T) {
	ctx := context.Background()
	c := NewController(NewMemoryLedger(), testTiers, WithClock(fixedClock()))

	res, err := c.Authorize(ctx, "u1", "free", ClassVideoSeconds, 60)
	require.NoError(t, err)

	_, err = c.Authorize(ctx, "u1", "free", ClassVideoSeconds, 1)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	require.NoError(t, c.Release(ctx, res))
	_, err = c.Authorize(ctx, "u1", "free", ClassVideoSeconds, 60)
	assert.NoError(t, err)
}

func TestSettleExactlyOnce(t *testing.T) {
	ctx := context.Background()
	c := NewController(NewMemoryLedger(), testTiers, WithClock(fixedClock()))

	res, err := c.Authorize(ctx, "u1", "free", ClassImages, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Outstanding())

	require.NoError(t, c.Commit(ctx, res, 2))
	assert.ErrorIs(t, c.Commit(ctx, res, 2), ErrReservationSettled)
	assert.ErrorIs(t, c.Release(ctx, res), ErrReservationSettled)
	assert.ErrorIs(t, c.Release(ctx, nil), ErrReservationSettled)
	assert.Equal(t, 0, c.Outstanding())

	rows, err := c.Usage(ctx, "u1", "free")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows[1].Used)
}

func TestCommitNegativeNeverDecrements(t *testing.T) {
	ctx := context.Background()
	c := NewController(NewMemoryLedger(), testTiers, WithClock(fixedClock()))

	res, err := c.Authorize(ctx, "u1", "free", ClassImages, 1)
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx, res, -10))

	rows, err := c.Usage(ctx, "u1", "free")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows[1].Used)
}

func TestDailyReset(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	c := NewController(NewMemoryLedger(), testTiers, WithClock(func() time.Time { return now }))

	res, err := c.Authorize(ctx, "u1", "free", ClassVideos, 1)
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx, res, 1))
	_, err = c.Authorize(ctx, "u1", "free", ClassVideos, 1)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	now = now.Add(2 * time.Minute)
	_, err = c.Authorize(ctx, "u1", "free", ClassVideos, 1)
	assert.NoError(t, err)
}

func TestAuthorizeValidation(t *testing.T) {
	ctx := context.Background()
	c := NewController(NewMemoryLedger(), testTiers)

	_, err := c.Authorize(ctx, "u1", "platinum", ClassImages, 1)
	assert.ErrorIs(t, err, ErrUnknownTier)
	_, err = c.Authorize(ctx, "u1", "free", ClassImages, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCheckCeiling(t *testing.T) {
	c := NewController(NewMemoryLedger(), testTiers)

	assert.NoError(t, c.CheckCeiling("free", 15))
	err := c.CheckCeiling("free", 16)
	assert.ErrorIs(t, err, ErrVideoTooLong)
	var ce *CeilingError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(15), ce.MaxSec)

	assert.NoError(t, c.CheckCeiling("label", 600))
	assert.ErrorIs(t, c.CheckCeiling("nope", 1), ErrUnknownTier)
}

func TestPeriodKeys(t *testing.T) {
	ts := time.Date(2026, 12, 31, 23, 0, 0, 0, time.FixedZone("x", -5*3600))
	assert.Equal(t, "2027-01", ClassImages.PeriodKey(ts))
	assert.Equal(t, "2027-01-01", ClassVideos.PeriodKey(ts))
	assert.Equal(t, "day", ClassVideos.Period().String())
}

func TestExpireStaleReservations(t *testing.T) {
	for name, ledger := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
			clock := WithClock(func() time.Time { return now })

			// A process reserves and exits without settling.
			crashed := NewController(ledger, testTiers, clock)
			_, err := crashed.Authorize(ctx, "u1", "free", ClassImages, 2)
			require.NoError(t, err)
			live, err := crashed.Authorize(ctx, "u1", "free", ClassChatTokens, 300)
			require.NoError(t, err)

			now = now.Add(25 * time.Hour)
			c := NewController(ledger, testTiers, clock)
			fresh, err := c.Authorize(ctx, "u1", "free", ClassImages, 1)
			require.NoError(t, err)

			n, err := c.ExpireStale(ctx, 24*time.Hour)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			rows, err := c.Usage(ctx, "u1", "free")
			require.NoError(t, err)
			assert.Equal(t, int64(1), rows[1].Reserved, "fresh hold survives")
			assert.Equal(t, int64(0), rows[0].Reserved)

			// A late commit of an expired hold charges usage without
			// releasing the reserved amount a second time.
			require.NoError(t, crashed.Commit(ctx, live, 250))
			require.NoError(t, c.Commit(ctx, fresh, 1))
			rows, err = c.Usage(ctx, "u1", "free")
			require.NoError(t, err)
			assert.Equal(t, int64(250), rows[0].Used)
			assert.Equal(t, int64(0), rows[0].Reserved)
			assert.Equal(t, int64(1), rows[1].Used)
			assert.Equal(t, int64(0), rows[1].Reserved)

			n, err = c.ExpireStale(ctx, 24*time.Hour)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}
