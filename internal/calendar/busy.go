// Package calendar imports a scholar's external busy time so that new
// broadcasts are checked against it alongside already published slots.
package calendar

import (
	"context"
	"time"

	"github.com/iliyamo/scholar-slot-booking/internal/conflict"
)

// BusySource lists external commitments of ownerID overlapping [from, to).
type BusySource interface {
	Busy(ctx context.Context, ownerID uint64, from, to time.Time) ([]conflict.Commitment, error)
}

// Static is a fixed set of busy commitments, keyed by owner. It backs
// deployments without a calendar integration and tests.
type Static map[uint64][]conflict.Commitment

func (s Static) Busy(_ context.Context, ownerID uint64, from, to time.Time) ([]conflict.Commitment, error) {
	var out []conflict.Commitment
	for _, c := range s[ownerID] {
		if c.Interval.Start().Before(to) && c.Interval.End().After(from) {
			out = append(out, c)
		}
	}
	return out, nil
}
