package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"indiistudio/internal/logging"
)

// Reservation is an authorized, not yet settled, quota hold.
type Reservation struct {
	ID        string
	UserID    string
	Tier      string
	Class     OperationClass
	Period    string
	Amount    int64
	CreatedAt time.Time
}

func (r *Reservation) key() LedgerKey {
	return LedgerKey{UserID: r.UserID, Class: r.Class, Period: r.Period}
}

func (r *Reservation) hold() Hold {
	return Hold{ID: r.ID, Key: r.key(), Amount: r.Amount, CreatedAt: r.CreatedAt}
}

// Controller is the admission controller. Every billable operation
// authorizes first, then commits the actual amount or releases the hold.
type Controller struct {
	ledger LedgerStore
	tiers  Tiers
	now    func() time.Time

	mu   sync.Mutex
	open map[string]*Reservation
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source used for period keys.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a controller over a ledger and tier table.
func NewController(ledger LedgerStore, tiers Tiers, opts ...Option) *Controller {
	c := &Controller{
		ledger: ledger,
		tiers:  tiers,
		now:    time.Now,
		open:   make(map[string]*Reservation),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Limits returns the limits of tier.
func (c *Controller) Limits(tier string) (Limits, error) {
	return c.tiers.Lookup(tier)
}

// Authorize reserves amount of class for userID. It fails with a
// *QuotaExceededError, and changes nothing, when the tier limit would be
// exceeded.
func (c *Controller) Authorize(ctx context.Context, userID, tier string, class OperationClass, amount int64) (*Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	limits, err := c.tiers.Lookup(tier)
	if err != nil {
		return nil, err
	}
	limit := limits.For(class)

	now := c.now()
	res := &Reservation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Tier:      tier,
		Class:     class,
		Period:    class.PeriodKey(now),
		Amount:    amount,
		CreatedAt: now,
	}

	entry, ok, err := c.ledger.Reserve(ctx, res.hold(), limit)
	if err != nil {
		return nil, fmt.Errorf("authorize %s: %w", class, err)
	}
	if !ok {
		logging.Usage("Quota exceeded for %s: %s used=%d reserved=%d limit=%d requested=%d",
			userID, class, entry.Used, entry.Reserved, limit, amount)
		return nil, &QuotaExceededError{
			UserID:    userID,
			Class:     class,
			Limit:     limit,
			Used:      entry.Committed(),
			Requested: amount,
		}
	}

	c.mu.Lock()
	c.open[res.ID] = res
	c.mu.Unlock()

	logging.UsageDebug("Authorized %s %s=%d (reservation %s)", userID, class, amount, res.ID)
	return res, nil
}

// Commit finalizes a reservation with the actual amount consumed. The actual
// amount may differ from the reserved estimate; negative values count as zero.
func (c *Controller) Commit(ctx context.Context, res *Reservation, actual int64) error {
	if err := c.take(res); err != nil {
		return err
	}
	actual = max(actual, 0)
	if _, err := c.ledger.Settle(ctx, res.hold(), actual); err != nil {
		return fmt.Errorf("commit %s: %w", res.ID, err)
	}
	logging.UsageDebug("Committed reservation %s: %s=%d (reserved %d)", res.ID, res.Class, actual, res.Amount)
	return nil
}

// Release refunds an unused reservation.
func (c *Controller) Release(ctx context.Context, res *Reservation) error {
	if err := c.take(res); err != nil {
		return err
	}
	if _, err := c.ledger.Settle(ctx, res.hold(), 0); err != nil {
		return fmt.Errorf("release %s: %w", res.ID, err)
	}
	logging.UsageDebug("Released reservation %s (%s=%d)", res.ID, res.Class, res.Amount)
	return nil
}

// take removes res from the open set, enforcing single settlement.
func (c *Controller) take(res *Reservation) error {
	if res == nil {
		return fmt.Errorf("%w: nil reservation", ErrReservationSettled)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.open[res.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrReservationSettled, res.ID)
	}
	delete(c.open, res.ID)
	return nil
}

// ExpireStale returns the holds of reservations older than maxAge to their
// counters and reports how many were expired. It is meant for holds left by a
// process that exited before settling; a live reservation that is expired and
// later committed still charges its actual amount.
func (c *Controller) ExpireStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := c.now().Add(-maxAge)
	expired, err := c.ledger.Expire(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale reservations: %w", err)
	}
	for _, h := range expired {
		logging.Get(logging.CategoryUsage).Warn("Expired stale reservation %s: %s %s=%d from %s",
			h.ID, h.Key.UserID, h.Key.Class, h.Amount, h.CreatedAt.Format(time.RFC3339))
	}
	return len(expired), nil
}

// Outstanding returns the number of unsettled reservations.
func (c *Controller) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}

// CheckCeiling validates a requested video length against the tier maximum.
func (c *Controller) CheckCeiling(tier string, durationSec int64) error {
	limits, err := c.tiers.Lookup(tier)
	if err != nil {
		return err
	}
	if durationSec > limits.MaxVideoSeconds {
		return &CeilingError{Tier: tier, RequestedSec: durationSec, MaxSec: limits.MaxVideoSeconds}
	}
	return nil
}

// ClassUsage is one row of a usage report.
type ClassUsage struct {
	Class    OperationClass
	Period   string
	Used     int64
	Reserved int64
	Limit    int64
}

// Usage returns the current period's counters for every class.
func (c *Controller) Usage(ctx context.Context, userID, tier string) ([]ClassUsage, error) {
	limits, err := c.tiers.Lookup(tier)
	if err != nil {
		return nil, err
	}
	now := c.now()
	out := make([]ClassUsage, 0, len(Classes))
	for _, class := range Classes {
		key := LedgerKey{UserID: userID, Class: class, Period: class.PeriodKey(now)}
		e, err := c.ledger.Read(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, ClassUsage{
			Class:    class,
			Period:   key.Period,
			Used:     e.Used,
			Reserved: e.Reserved,
			Limit:    limits.For(class),
		})
	}
	return out, nil
}
