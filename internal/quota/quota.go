package quota

import (
	"context"
	"fmt"
	"math"

	"media-converter/internal/logging"
	"media-converter/internal/metrics"
)

// bytesPerMB is the unit quotas are accounted in (MiB).
const bytesPerMB = 1024 * 1024

// RequiredMB converts a byte count into whole megabytes, rounding up.
func RequiredMB(bytes int64) int64 {
	if bytes <= 0 {
		return 0
	}
	return (bytes + bytesPerMB - 1) / bytesPerMB
}

// Usage is a bucket's allotment and current consumption.
type Usage struct {
	BucketID   int64
	AllottedMB int64
	UsedMB     int64
}

// AvailableMB returns the unused allotment, never negative.
func (u Usage) AvailableMB() int64 {
	if u.UsedMB >= u.AllottedMB {
		return 0
	}
	return u.AllottedMB - u.UsedMB
}

// Store persists bucket usage.
type Store interface {
	BucketUsage(ctx context.Context, bucketID int64) (Usage, error)
	// AddUsedMB increments usage unconditionally.
	AddUsedMB(ctx context.Context, bucketID, deltaMB int64) error
	// SubtractUsedMB decrements usage, clamping at zero.
	SubtractUsedMB(ctx context.Context, bucketID, deltaMB int64) error
	// AddUsedMBWithin increments usage only if the result stays within the
	// allotment. It reports whether the increment was applied.
	AddUsedMBWithin(ctx context.Context, bucketID, deltaMB int64) (bool, error)
}

// ExceededError reports a reservation that does not fit in the bucket.
type ExceededError struct {
	RequiredMB   int64   `json:"required_mb"`
	AvailableMB  int64   `json:"available_mb"`
	TotalMB      int64   `json:"total_mb"`
	UsedMB       int64   `json:"used_mb"`
	UsagePercent float64 `json:"usage_percentage"`
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("insufficient storage: need %d MB, only %d MB available", e.RequiredMB, e.AvailableMB)
}

// Info summarizes a bucket's quota for display.
type Info struct {
	TotalMB      int64   `json:"total"`
	UsedMB       int64   `json:"used"`
	AvailableMB  int64   `json:"available"`
	UsagePercent float64 `json:"usage_percentage"`
}

// Reservation is the result of a successful Reserve. In strict mode the
// reserved megabytes are already counted as used.
type Reservation struct {
	BucketID int64
	MB       int64
	held     bool
}

// Ledger enforces per-bucket storage quotas.
//
// In the default advisory mode Reserve only checks free space and Commit
// adds usage afterwards; two concurrent requests may both pass the check.
// In strict mode Reserve performs an atomic increment-with-ceiling, so the
// space is held until Commit adjusts it or Cancel returns it.
type Ledger struct {
	store  Store
	strict bool
}

// NewLedger creates a ledger over store.
func NewLedger(store Store, strict bool) *Ledger {
	return &Ledger{store: store, strict: strict}
}

// Strict reports whether reservations hold space.
func (l *Ledger) Strict() bool {
	return l.strict
}

// Reserve checks that mb megabytes fit in the bucket. It returns
// *ExceededError when they do not.
func (l *Ledger) Reserve(ctx context.Context, bucketID, mb int64) (Reservation, error) {
	if mb < 0 {
		mb = 0
	}

	if l.strict {
		ok, err := l.store.AddUsedMBWithin(ctx, bucketID, mb)
		if err != nil {
			return Reservation{}, fmt.Errorf("failed to reserve quota: %w", err)
		}
		if !ok {
			return Reservation{}, l.exceeded(ctx, bucketID, mb)
		}
		logging.Debug("Quota: held %d MB on bucket %d", mb, bucketID)
		return Reservation{BucketID: bucketID, MB: mb, held: true}, nil
	}

	usage, err := l.store.BucketUsage(ctx, bucketID)
	if err != nil {
		return Reservation{}, fmt.Errorf("failed to read quota: %w", err)
	}
	if mb > usage.AvailableMB() {
		return Reservation{}, newExceeded(usage, mb)
	}
	return Reservation{BucketID: bucketID, MB: mb}, nil
}

// Resume rebuilds a reservation made by an earlier process from its
// persisted bucket and size.
func (l *Ledger) Resume(bucketID, mb int64) Reservation {
	return Reservation{BucketID: bucketID, MB: mb, held: l.strict}
}

// Commit records actualMB as used for a reservation. In strict mode the
// difference between the held and actual amounts is settled.
func (l *Ledger) Commit(ctx context.Context, r Reservation, actualMB int64) error {
	if actualMB < 0 {
		actualMB = 0
	}

	var err error
	switch {
	case !r.held:
		err = l.store.AddUsedMB(ctx, r.BucketID, actualMB)
	case actualMB > r.MB:
		err = l.store.AddUsedMB(ctx, r.BucketID, actualMB-r.MB)
	case actualMB < r.MB:
		err = l.store.SubtractUsedMB(ctx, r.BucketID, r.MB-actualMB)
	}
	if err != nil {
		return fmt.Errorf("failed to commit quota: %w", err)
	}

	metrics.QuotaCommittedMB.Add(float64(actualMB))
	logging.Debug("Quota: committed %d MB on bucket %d", actualMB, r.BucketID)
	return nil
}

// Cancel returns space held by a strict reservation. It is a no-op in
// advisory mode.
func (l *Ledger) Cancel(ctx context.Context, r Reservation) error {
	if !r.held || r.MB == 0 {
		return nil
	}
	if err := l.store.SubtractUsedMB(ctx, r.BucketID, r.MB); err != nil {
		return fmt.Errorf("failed to cancel quota reservation: %w", err)
	}
	logging.Debug("Quota: returned %d MB held on bucket %d", r.MB, r.BucketID)
	return nil
}

// Release frees mb megabytes. Usage never drops below zero.
func (l *Ledger) Release(ctx context.Context, bucketID, mb int64) error {
	if mb <= 0 {
		return nil
	}
	if err := l.store.SubtractUsedMB(ctx, bucketID, mb); err != nil {
		return fmt.Errorf("failed to release quota: %w", err)
	}
	metrics.QuotaReleasedMB.Add(float64(mb))
	logging.Debug("Quota: released %d MB on bucket %d", mb, bucketID)
	return nil
}

// Info returns the bucket's quota summary.
func (l *Ledger) Info(ctx context.Context, bucketID int64) (Info, error) {
	usage, err := l.store.BucketUsage(ctx, bucketID)
	if err != nil {
		return Info{}, fmt.Errorf("failed to read quota: %w", err)
	}
	return Info{
		TotalMB:      usage.AllottedMB,
		UsedMB:       usage.UsedMB,
		AvailableMB:  usage.AvailableMB(),
		UsagePercent: usagePercent(usage),
	}, nil
}

func (l *Ledger) exceeded(ctx context.Context, bucketID, mb int64) error {
	usage, err := l.store.BucketUsage(ctx, bucketID)
	if err != nil {
		return &ExceededError{RequiredMB: mb}
	}
	return newExceeded(usage, mb)
}

func newExceeded(usage Usage, mb int64) *ExceededError {
	return &ExceededError{
		RequiredMB:   mb,
		AvailableMB:  usage.AvailableMB(),
		TotalMB:      usage.AllottedMB,
		UsedMB:       usage.UsedMB,
		UsagePercent: usagePercent(usage),
	}
}

func usagePercent(u Usage) float64 {
	if u.AllottedMB <= 0 {
		return 0
	}
	return math.Round(float64(u.UsedMB)/float64(u.AllottedMB)*1000) / 10
}
