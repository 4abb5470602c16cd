package usage

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded matches any *QuotaExceededError.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrUnknownTier is returned for tiers without configured limits.
	ErrUnknownTier = errors.New("unknown tier")

	// ErrReservationSettled is returned when a reservation is committed or released twice.
	ErrReservationSettled = errors.New("reservation already settled")

	// ErrInvalidAmount is returned for non-positive reservation amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrVideoTooLong is returned when a requested duration exceeds the tier ceiling.
	ErrVideoTooLong = errors.New("requested video duration exceeds tier ceiling")
)

// QuotaExceededError carries the limit and usage for display.
type QuotaExceededError struct {
	UserID    string
	Class     OperationClass
	Limit     int64
	Used      int64
	Requested int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s limit is %d per %s, %d used, %d requested",
		e.Class, e.Limit, e.Class.Period(), e.Used, e.Requested)
}

// Is makes errors.Is(err, ErrQuotaExceeded) match.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// CeilingError reports a video request longer than the tier allows.
type CeilingError struct {
	Tier         string
	RequestedSec int64
	MaxSec       int64
}

func (e *CeilingError) Error() string {
	return fmt.Sprintf("%s: %ds requested, %s tier allows %ds", ErrVideoTooLong, e.RequestedSec, e.Tier, e.MaxSec)
}

// Unwrap exposes ErrVideoTooLong.
func (e *CeilingError) Unwrap() error { return ErrVideoTooLong }
