// Package service composes the scheduling engine with the booking ledger.
// Handlers call Scheduler; Scheduler owns the interplay of generation,
// conflict detection, resolution, scoring and notification.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/iliyamo/scholar-slot-booking/internal/calendar"
	"github.com/iliyamo/scholar-slot-booking/internal/conflict"
	"github.com/iliyamo/scholar-slot-booking/internal/generator"
	"github.com/iliyamo/scholar-slot-booking/internal/ledger"
	"github.com/iliyamo/scholar-slot-booking/internal/model"
	"github.com/iliyamo/scholar-slot-booking/internal/preference"
	"github.com/iliyamo/scholar-slot-booking/internal/queue"
	"github.com/iliyamo/scholar-slot-booking/internal/resolution"
	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

var (
	// ErrForbidden is returned when a scholar acts on another scholar's
	// broadcast.
	ErrForbidden = errors.New("forbidden")

	ErrUnknownTemplate = errors.New("unknown template")

	// ErrTimeConflict is wrapped by ConflictError when a claim would
	// double-book the student.
	ErrTimeConflict = errors.New("time conflict with an existing booking")

	// ErrNothingToPublish means every generated slot conflicted.  The
	// accompanying PublishResult still lists the conflicts.
	ErrNothingToPublish = errors.New("every generated slot conflicts with an existing commitment")
)

// ConflictError carries the conflict behind ErrTimeConflict.
type ConflictError struct {
	Conflict conflict.Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: %s overlaps %s", ErrTimeConflict, e.Conflict.Subject, e.Conflict.With)
}

func (e *ConflictError) Unwrap() error { return ErrTimeConflict }

// Options configures NewScheduler.  Zero values take defaults; Busy and
// Notifier may be nil.
type Options struct {
	Catalog         *generator.Catalog
	Detector        conflict.Detector
	Resolution      resolution.Config
	Weights         preference.Weights
	Busy            calendar.BusySource
	Notifier        Notifier
	LowConfidence   float64 // recommendations scoring below carry a preference mismatch
	MaxSlots        int     // upper bound on slots generated per broadcast
	Alternatives    int     // open slots offered after a lost claim
	DefaultTimezone string
	Now             func() time.Time
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	ledger        ledger.Ledger
	catalog       *generator.Catalog
	detector      conflict.Detector
	engine        *resolution.Engine
	scorer        preference.Scorer
	busy          calendar.BusySource
	notifier      Notifier
	lowConfidence float64
	maxSlots      int
	alternatives  int
	defaultTZ     string
	now           func() time.Time
	claimLocks    sync.Map // consumer id -> *sync.Mutex
}

func NewScheduler(l ledger.Ledger, opts Options) *Scheduler {
	s := &Scheduler{
		ledger:        l,
		catalog:       opts.Catalog,
		detector:      opts.Detector,
		engine:        resolution.NewEngine(opts.Resolution, opts.Detector),
		scorer:        preference.NewScorer(opts.Weights),
		busy:          opts.Busy,
		notifier:      opts.Notifier,
		lowConfidence: opts.LowConfidence,
		maxSlots:      opts.MaxSlots,
		alternatives:  opts.Alternatives,
		defaultTZ:     opts.DefaultTimezone,
		now:           opts.Now,
	}
	if s.catalog == nil {
		s.catalog = generator.DefaultCatalog()
	}
	if s.lowConfidence <= 0 {
		s.lowConfidence = 0.6
	}
	if s.maxSlots <= 0 {
		s.maxSlots = 50
	}
	if s.alternatives <= 0 {
		s.alternatives = 3
	}
	if s.defaultTZ == "" {
		s.defaultTZ = "UTC"
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Templates lists the catalog.
func (s *Scheduler) Templates() []generator.Template { return s.catalog.List() }

// Broadcast returns one broadcast with all of its slots.
func (s *Scheduler) Broadcast(ctx context.Context, id uint64) (model.Broadcast, error) {
	return s.ledger.Broadcast(ctx, id)
}

// Discover lists open broadcasts with their claimable slots.
func (s *Scheduler) Discover(ctx context.Context) ([]model.Broadcast, error) {
	return s.ledger.Discover(ctx, s.now().UTC())
}

// OwnerBroadcasts lists every broadcast of ownerID.
func (s *Scheduler) OwnerBroadcasts(ctx context.Context, ownerID uint64) ([]model.Broadcast, error) {
	return s.ledger.ListByOwner(ctx, ownerID)
}

// PolicyRequest names a catalog template or carries a free-form window.
// Timezone is the zone HH:MM values are read in.
type PolicyRequest struct {
	TemplateID string            `json:"template_id,omitempty"`
	Window     *generator.Window `json:"window,omitempty"`
	Timezone   string            `json:"timezone,omitempty"`
}

func (s *Scheduler) policy(req PolicyRequest) (generator.Policy, *time.Location, error) {
	tz := req.Timezone
	if tz == "" {
		tz = s.defaultTZ
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: unknown timezone %q", generator.ErrInvalidPolicy, tz)
	}
	switch {
	case req.TemplateID != "":
		t, ok := s.catalog.Get(req.TemplateID)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, req.TemplateID)
		}
		t.Window.Location = loc
		return t, loc, nil
	case req.Window != nil:
		w := *req.Window
		w.Location = loc
		return generator.FreeForm{Window: w}, loc, nil
	}
	return nil, nil, fmt.Errorf("%w: template_id or window is required", generator.ErrInvalidPolicy)
}

// ownerCommitments gathers what a scholar's new slots must avoid: live
// slots of active broadcasts and, when a calendar is configured, busy time
// in [from, to).  A failing calendar is logged and skipped.
func (s *Scheduler) ownerCommitments(ctx context.Context, ownerID uint64, from, to time.Time) ([]conflict.Commitment, error) {
	bs, err := s.ledger.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var out []conflict.Commitment
	for _, b := range bs {
		if b.Status != model.BroadcastActive {
			continue
		}
		for _, sl := range b.Slots {
			if sl.Status == model.SlotCancelled || !sl.Interval.End().After(from) {
				continue
			}
			out = append(out, slotCommitment(sl))
		}
	}
	if s.busy != nil && to.After(from) {
		busy, err := s.busy.Busy(ctx, ownerID, from, to)
		if err != nil {
			log.Printf("scheduler: calendar lookup for owner %d failed: %v", ownerID, err)
		} else {
			out = append(out, busy...)
		}
	}
	return out, nil
}

// consumerCommitments returns the live slots consumerID holds.
func (s *Scheduler) consumerCommitments(ctx context.Context, consumerID uint64, now time.Time) ([]conflict.Commitment, []model.Slot, error) {
	held, err := s.ledger.ListByConsumer(ctx, consumerID)
	if err != nil {
		return nil, nil, err
	}
	var out []conflict.Commitment
	for _, sl := range held {
		if sl.Status == model.SlotCancelled || !sl.Interval.End().After(now) {
			continue
		}
		out = append(out, slotCommitment(sl))
	}
	return out, held, nil
}

func slotCommitment(sl model.Slot) conflict.Commitment {
	return conflict.Commitment{
		Ref:      conflict.Ref{Kind: conflict.RefSlot, ID: sl.ID, BroadcastID: sl.BroadcastID},
		Interval: sl.Interval,
		Full:     sl.Spare() == 0,
	}
}

// horizon is the end of the range regenerated candidates may fall in.
func (s *Scheduler) horizon(now time.Time, last timeslot.Interval) time.Time {
	h := now.AddDate(0, 0, s.engine.Config().HorizonDays+1)
	if last.End().After(h) {
		return last.End()
	}
	return h
}

// notify sends ev detached from the request so a client hanging up does
// not cancel the publish.  Failures are logged, never returned.
func (s *Scheduler) notify(ctx context.Context, ev queue.SlotEvent) {
	if s.notifier == nil {
		return
	}
	ev.OccurredAt = s.now().UTC()
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.notifier.Notify(nctx, ev); err != nil {
		log.Printf("scheduler: notify %s for broadcast %d failed: %v", ev.Type, ev.BroadcastID, err)
	}
}
