// Package realtime decides what to do with a document pushed by another
// session: ignore it, defer it while the user is busy, or merge it into the
// local state.
package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"stokku/backend/internal/backup"
	"stokku/backend/internal/clock"
	"stokku/backend/internal/domain"
)

type State string

const (
	StateIdle       State = "idle"
	StateEvaluating State = "evaluating"
	StateIgnored    State = "ignored"
	StateDeferred   State = "deferred"
	StateApplied    State = "applied"
)

// Reason names the check that settled an evaluation.
type Reason string

const (
	ReasonVisibility  Reason = "visibility_change"
	ReasonLocalWrite  Reason = "recent_local_write"
	ReasonInput       Reason = "recent_input"
	ReasonBusy        Reason = "update_in_flight"
	ReasonUnchanged   Reason = "counts_unchanged"
	ReasonUserActive  Reason = "user_active"
	ReasonMerged      Reason = "merged"
	ReasonUserRequest Reason = "user_request"
	ReasonRebased     Reason = "rebased_offline_edits"
)

type Config struct {
	VisibilityWindow time.Duration
	LocalWriteWindow time.Duration
	InputWindow      time.Duration
	ActiveWindow     time.Duration
	SnapshotMaxAge   time.Duration
	Cooldown         time.Duration
}

func DefaultConfig() Config {
	return Config{
		VisibilityWindow: 10 * time.Second,
		LocalWriteWindow: 15 * time.Second,
		InputWindow:      2 * time.Second,
		ActiveWindow:     10 * time.Second,
		SnapshotMaxAge:   60 * time.Second,
		Cooldown:         500 * time.Millisecond,
	}
}

// Local is what the session knows about its own state when a candidate arrives.
type Local struct {
	Document       domain.Document
	LastLocalWrite time.Time
	SnapshotAt     time.Time
	SaveInFlight   bool
	Backup         *backup.Snapshot
}

type Decision struct {
	State  State
	Reason Reason
	// Merged is set only when State is StateApplied.
	Merged *domain.Document
}

type Reconciler struct {
	mu  sync.Mutex
	clk clock.Clock
	cfg Config
	log *zap.Logger

	state          State
	busy           bool
	cooldownUntil  time.Time
	lastVisibility time.Time
	lastInput      time.Time
	pending        *domain.Document
}

func New(cfg Config, clk clock.Clock, log *zap.Logger) *Reconciler {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{cfg: cfg, clk: clk, log: log.Named("reconciler"), state: StateIdle}
}

func (r *Reconciler) RecordInput() {
	r.mu.Lock()
	r.lastInput = r.clk.Now()
	r.mu.Unlock()
}

func (r *Reconciler) RecordVisibilityChange() {
	r.mu.Lock()
	r.lastVisibility = r.clk.Now()
	r.mu.Unlock()
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Pending returns a copy of the last deferred candidate, if any.
func (r *Reconciler) Pending() (domain.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return domain.Document{}, false
	}
	return r.pending.Clone(), true
}

// Evaluate runs the suppression checks, change detection and active-user
// deferral against candidate, and merges when none of them applies. The
// caller commits Decision.Merged and clears its ledger.
func (r *Reconciler) Evaluate(local Local, candidate domain.Document) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	if reason, suppressed := r.suppressed(now, local); suppressed {
		return r.settle(StateIgnored, reason, nil)
	}

	r.busy = true
	r.state = StateEvaluating
	defer func() { r.busy = false }()

	if local.Document.Counts() == candidate.Counts() {
		return r.settle(StateIgnored, ReasonUnchanged, nil)
	}

	if within(now, r.lastActivity(), r.cfg.ActiveWindow) && within(now, local.SnapshotAt, r.cfg.SnapshotMaxAge) {
		held := candidate.Clone()
		r.pending = &held
		return r.settle(StateDeferred, ReasonUserActive, nil)
	}

	merged := Merge(local.Document, candidate, local.Backup)
	r.pending = nil
	r.cooldownUntil = now.Add(r.cfg.Cooldown)
	return r.settle(StateApplied, ReasonMerged, &merged)
}

// TakePending merges the deferred candidate on explicit user request,
// bypassing the suppression checks. ok is false when nothing is pending.
func (r *Reconciler) TakePending(local Local) (Decision, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		return Decision{}, false
	}
	merged := Merge(local.Document, *r.pending, local.Backup)
	r.pending = nil
	r.cooldownUntil = r.clk.Now().Add(r.cfg.Cooldown)
	return r.settle(StateApplied, ReasonUserRequest, &merged), true
}

func (r *Reconciler) suppressed(now time.Time, local Local) (Reason, bool) {
	switch {
	case within(now, r.lastVisibility, r.cfg.VisibilityWindow):
		return ReasonVisibility, true
	case within(now, local.LastLocalWrite, r.cfg.LocalWriteWindow):
		return ReasonLocalWrite, true
	case within(now, r.lastInput, r.cfg.InputWindow):
		return ReasonInput, true
	case r.busy, now.Before(r.cooldownUntil), local.SaveInFlight:
		return ReasonBusy, true
	}
	return "", false
}

// lastActivity is the most recent input or visibility change.
func (r *Reconciler) lastActivity() time.Time {
	if r.lastVisibility.After(r.lastInput) {
		return r.lastVisibility
	}
	return r.lastInput
}

func (r *Reconciler) settle(state State, reason Reason, merged *domain.Document) Decision {
	r.state = state
	r.log.Debug("realtime update evaluated", zap.String("state", string(state)), zap.String("reason", string(reason)))
	return Decision{State: state, Reason: reason, Merged: merged}
}

func within(now, at time.Time, window time.Duration) bool {
	return !at.IsZero() && now.Sub(at) < window
}

// Merge picks each collection wholesale from local or candidate. The
// candidate wins when its updated_at is newer than the collection's local
// backup time, or when the collection has no local time.
func Merge(local, candidate domain.Document, snap *backup.Snapshot) domain.Document {
	out := local.Clone()
	for _, c := range domain.AllCollections {
		var (
			at time.Time
			ok bool
		)
		if snap != nil {
			at, ok = snap.Timestamp(c)
		}
		if !ok || candidate.UpdatedAt.After(at) {
			out.Adopt(c, candidate)
		}
	}
	if candidate.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = candidate.UpdatedAt
	}
	out.Sequences = local.Sequences.Max(candidate.Sequences)
	return out
}
