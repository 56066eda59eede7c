package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/iliyamo/scholar-slot-booking/internal/conflict"
	"github.com/iliyamo/scholar-slot-booking/internal/generator"
	"github.com/iliyamo/scholar-slot-booking/internal/ledger"
	"github.com/iliyamo/scholar-slot-booking/internal/model"
	"github.com/iliyamo/scholar-slot-booking/internal/queue"
	"github.com/iliyamo/scholar-slot-booking/internal/resolution"
	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

// ConflictReport pairs a conflict with the proposals for it.  Unresolved
// is set instead of Resolutions when the engine gave up.
type ConflictReport struct {
	Conflict    conflict.Conflict       `json:"conflict"`
	Resolutions []resolution.Resolution `json:"resolutions"`
	Unresolved  string                  `json:"unresolved,omitempty"`
}

// Plan is a generated set of slots checked against the owner's
// commitments.
type Plan struct {
	Free      []timeslot.Interval `json:"free"`
	Conflicts []ConflictReport    `json:"conflicts"`
}

// Preview generates up to limit slots for req and reports which of them
// collide with ownerID's commitments, with resolutions.  Nothing is stored.
func (s *Scheduler) Preview(ctx context.Context, ownerID uint64, req PolicyRequest, limit int) (Plan, error) {
	p, loc, err := s.policy(req)
	if err != nil {
		return Plan{}, err
	}
	return s.plan(ctx, ownerID, p, loc, limit)
}

func (s *Scheduler) plan(ctx context.Context, ownerID uint64, p generator.Policy, loc *time.Location, limit int) (Plan, error) {
	if limit <= 0 || limit > s.maxSlots {
		limit = s.maxSlots
	}
	now := s.now().UTC()
	cands, err := generator.Preview(p, now, limit)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Free: []timeslot.Interval{}, Conflicts: []ConflictReport{}}
	if len(cands) == 0 {
		return plan, nil
	}
	existing, err := s.ownerCommitments(ctx, ownerID, now, s.horizon(now, cands[len(cands)-1]))
	if err != nil {
		return Plan{}, err
	}

	var found []conflict.Conflict
	for i, cand := range cands {
		hits := s.detector.DetectAll(cand, existing, conflict.IntentReplace)
		if len(hits) > 0 {
			found = append(found, hits...)
			continue
		}
		plan.Free = append(plan.Free, cand)
		// later candidates must not overlap the ones already accepted
		existing = append(existing, conflict.Commitment{
			Ref:      conflict.Ref{Kind: conflict.RefSlot, ExternalID: "candidate-" + strconv.Itoa(i)},
			Interval: cand,
		})
	}

	// resolve against the final plan so proposals avoid accepted slots too
	w := generator.WindowOf(p)
	rc := resolution.Context{Now: now, Existing: existing, Times: w.Times, Days: w.Days, Location: loc}
	for _, cf := range found {
		plan.Conflicts = append(plan.Conflicts, s.report(cf, rc))
	}
	return plan, nil
}

func (s *Scheduler) report(cf conflict.Conflict, rc resolution.Context) ConflictReport {
	rep := ConflictReport{Conflict: cf, Resolutions: []resolution.Resolution{}}
	rs, err := s.engine.Resolve(cf, rc)
	if err != nil {
		rep.Unresolved = err.Error()
		return rep
	}
	rep.Resolutions = rs
	return rep
}

// PublishRequest describes a broadcast to generate and publish.
type PublishRequest struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Policy      PolicyRequest `json:"policy"`
	Capacity    int           `json:"capacity"`
	MaxSlots    int           `json:"max_slots,omitempty"`
	ExpiresAt   time.Time     `json:"expires_at,omitzero"`
}

// PublishResult is the stored broadcast plus the candidates left out.
type PublishResult struct {
	Broadcast *model.Broadcast `json:"broadcast,omitempty"`
	Conflicts []ConflictReport `json:"conflicts"`
}

// PublishBroadcast generates slots for req, drops the ones that conflict
// with the owner's commitments and publishes the rest.  When nothing is
// left it returns ErrNothingToPublish together with the conflict reports.
func (s *Scheduler) PublishBroadcast(ctx context.Context, ownerID uint64, req PublishRequest) (PublishResult, error) {
	p, loc, err := s.policy(req.Policy)
	if err != nil {
		return PublishResult{}, err
	}
	plan, err := s.plan(ctx, ownerID, p, loc, req.MaxSlots)
	if err != nil {
		return PublishResult{}, err
	}
	res := PublishResult{Conflicts: plan.Conflicts}
	if len(plan.Free) == 0 {
		if len(plan.Conflicts) == 0 {
			return res, fmt.Errorf("%w: the policy produced no future slots", ledger.ErrInvalidBroadcast)
		}
		return res, ErrNothingToPublish
	}

	capacity := req.Capacity
	if capacity == 0 {
		capacity = 1
	}
	b := model.Broadcast{
		OwnerID:     ownerID,
		Title:       req.Title,
		Description: req.Description,
		Timezone:    loc.String(),
		ExpiresAt:   req.ExpiresAt,
	}
	for _, iv := range plan.Free {
		b.Slots = append(b.Slots, model.Slot{Interval: iv, Capacity: capacity})
	}
	stored, err := s.ledger.Publish(ctx, b)
	if err != nil {
		return res, err
	}
	log.Printf("scheduler: broadcast %d published by %d (%d slots, %d conflicts)",
		stored.ID, ownerID, len(stored.Slots), len(plan.Conflicts))
	res.Broadcast = &stored
	return res, nil
}

// CancelBroadcast cancels ownerID's broadcast.  Students with bookings are
// listed in the event.
func (s *Scheduler) CancelBroadcast(ctx context.Context, ownerID, broadcastID uint64) (ledger.CancelResult, error) {
	b, err := s.ledger.Broadcast(ctx, broadcastID)
	if err != nil {
		return ledger.CancelResult{}, err
	}
	if b.OwnerID != ownerID {
		return ledger.CancelResult{}, ErrForbidden
	}
	res, err := s.ledger.CancelBroadcast(ctx, broadcastID)
	if err != nil {
		return ledger.CancelResult{}, err
	}
	var affected []uint64
	for _, sl := range res.Broadcast.Slots {
		affected = append(affected, sl.BookedBy...)
	}
	log.Printf("scheduler: broadcast %d cancelled by %d (%d slots, %d students affected)",
		broadcastID, ownerID, res.Cancelled, len(affected))
	s.notify(ctx, queue.SlotEvent{
		Type:        queue.BroadcastCancelled,
		BroadcastID: broadcastID,
		OwnerID:     ownerID,
		Title:       res.Broadcast.Title,
		Status:      string(res.Broadcast.Status),
		Cancelled:   res.Cancelled,
		Affected:    affected,
	})
	return res, nil
}

// ResolveRequest asks for proposals for a conflict the caller already has.
// Policy, when set, supplies the times, days and zone regenerated
// candidates use.
type ResolveRequest struct {
	Conflict         conflict.Conflict   `json:"conflict"`
	Policy           *PolicyRequest      `json:"policy,omitempty"`
	CapacityWindows  []timeslot.Interval `json:"capacity_windows,omitempty"`
	PreferredWindows []timeslot.Interval `json:"preferred_windows,omitempty"`
}

// Resolve runs the resolution engine against ownerID's commitments.
func (s *Scheduler) Resolve(ctx context.Context, ownerID uint64, req ResolveRequest) ([]resolution.Resolution, error) {
	now := s.now().UTC()
	rc := resolution.Context{
		Now:              now,
		CapacityWindows:  req.CapacityWindows,
		PreferredWindows: req.PreferredWindows,
	}
	if req.Policy != nil {
		p, loc, err := s.policy(*req.Policy)
		if err != nil {
			return nil, err
		}
		w := generator.WindowOf(p)
		rc.Times, rc.Days, rc.Location = w.Times, w.Days, loc
	}
	existing, err := s.ownerCommitments(ctx, ownerID, now, s.horizon(now, req.Conflict.Subject))
	if err != nil {
		return nil, err
	}
	// the subject itself is what is being moved
	rc.Existing = existing[:0:0]
	for _, c := range existing {
		if !c.Interval.Equal(req.Conflict.Subject) {
			rc.Existing = append(rc.Existing, c)
		}
	}
	return s.engine.Resolve(req.Conflict, rc)
}

// ScanConflicts reports every overlap among ownerID's future commitments,
// which appear when calendar events land on already published slots.
func (s *Scheduler) ScanConflicts(ctx context.Context, ownerID uint64) ([]ConflictReport, error) {
	now := s.now().UTC()
	existing, err := s.ownerCommitments(ctx, ownerID, now, s.horizon(now, timeslot.Interval{}))
	if err != nil {
		return nil, err
	}
	out := []ConflictReport{}
	for _, cf := range s.detector.Scan(now, existing) {
		rc := resolution.Context{Now: now}
		for _, c := range existing {
			if !c.Interval.Equal(cf.Subject) || c.Ref == cf.With {
				rc.Existing = append(rc.Existing, c)
			}
		}
		rep := s.report(cf, rc)
		if rep.Unresolved != "" {
			log.Printf("scheduler: conflict %s for owner %d has no resolution", cf.ID, ownerID)
		}
		out = append(out, rep)
	}
	return out, nil
}
