// Package usage implements admission control for billable operations: tier
// limits, an atomic per-user quota ledger with reserve/commit semantics, and
// a token usage tracker for reporting.
package usage

import (
	"fmt"
	"time"
)

// OperationClass names a metered resource.
type OperationClass string

const (
	ClassChatTokens   OperationClass = "chat_tokens"
	ClassImages       OperationClass = "images"
	ClassVideoSeconds OperationClass = "video_seconds"
	ClassVideos       OperationClass = "videos"
)

// Classes lists every metered class in display order.
var Classes = []OperationClass{ClassChatTokens, ClassImages, ClassVideoSeconds, ClassVideos}

// Period is the reset boundary of a class.
type Period int

const (
	PeriodMonthly Period = iota
	PeriodDaily
)

func (p Period) String() string {
	switch p {
	case PeriodDaily:
		return "day"
	default:
		return "month"
	}
}

// Period returns the reset boundary for the class.
func (c OperationClass) Period() Period {
	if c == ClassVideos {
		return PeriodDaily
	}
	return PeriodMonthly
}

// PeriodKey returns the ledger period containing t (UTC).
func (c OperationClass) PeriodKey(t time.Time) string {
	t = t.UTC()
	if c.Period() == PeriodDaily {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01")
}

// Limits holds a tier's quota limits.
type Limits struct {
	ChatTokensPerMonth   int64
	ImagesPerMonth       int64
	VideoSecondsPerMonth int64
	VideosPerDay         int64
	MaxVideoSeconds      int64
}

// For returns the limit that applies to class.
func (l Limits) For(class OperationClass) int64 {
	switch class {
	case ClassChatTokens:
		return l.ChatTokensPerMonth
	case ClassImages:
		return l.ImagesPerMonth
	case ClassVideoSeconds:
		return l.VideoSecondsPerMonth
	case ClassVideos:
		return l.VideosPerDay
	}
	return 0
}

// Tiers maps tier names to limits.
type Tiers map[string]Limits

// Lookup returns the limits for tier.
func (t Tiers) Lookup(tier string) (Limits, error) {
	l, ok := t[tier]
	if !ok {
		return Limits{}, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}
	return l, nil
}
