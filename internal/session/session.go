// Package session owns one user's live document. All mutations, realtime
// applies and reads go through a single mutex; remote saves run on a
// debounced background worker and never roll back local state.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stokku/backend/internal/backup"
	"stokku/backend/internal/clock"
	"stokku/backend/internal/domain"
	"stokku/backend/internal/feed"
	"stokku/backend/internal/ledger"
	"stokku/backend/internal/metrics"
	"stokku/backend/internal/realtime"
	"stokku/backend/internal/reducer"
)

const (
	DefaultSaveDebounce = time.Second
	maxNotices          = 50
)

// Remote is the slice of the sync gateway a session needs.
type Remote interface {
	Fetch(ctx context.Context, userID string) (*domain.Document, error)
	Upsert(ctx context.Context, userID string, origin string, doc domain.Document) (*domain.Document, error)
	Subscribe(ctx context.Context, userID string) (<-chan feed.Message, error)
}

type Options struct {
	Actor domain.Actor
	// Remote nil disables syncing; the session then works from its backup only.
	Remote       Remote
	Backup       backup.Store
	Clock        clock.Clock
	SaveDebounce time.Duration
	// LedgerLimit bounds the idempotency ledger; zero means ledger.DefaultLimit.
	LedgerLimit int
	Realtime    realtime.Config
	Metrics      *metrics.Sync
	Log          *zap.Logger
}

// Snapshot is the copy of the four core sequences taken before the most
// recent mutation.
type Snapshot struct {
	Products []domain.Product
	Sales    []domain.Sale
	Clients  []domain.Client
	Payments []domain.Payment
	At       time.Time
}

type Status struct {
	SessionID      string            `json:"session_id"`
	Sync           domain.SyncStatus `json:"sync"`
	UpdatedAt      time.Time         `json:"updated_at"`
	LastLocalWrite *time.Time        `json:"last_local_write,omitempty"`
	SnapshotAt     *time.Time        `json:"snapshot_at,omitempty"`
	PendingRemote  bool              `json:"pending_remote"`
	Realtime       realtime.State    `json:"realtime"`
	LedgerSize     int               `json:"ledger_size"`
}

type Session struct {
	id         string
	actor      domain.Actor
	remote     Remote
	backup     backup.Store
	clk        clock.Clock
	metrics    *metrics.Sync
	log        *zap.Logger
	ledger     *ledger.Ledger
	reconciler *realtime.Reconciler
	debounce   time.Duration

	mu             sync.Mutex
	doc            domain.Document
	snapshot       *Snapshot
	lastLocalWrite time.Time
	status         domain.SyncStatus
	notices        []domain.Notice
	dirty          bool
	// baseKnown is false until the remote copy has been read or written once.
	// Until then the first save folds the remote document in instead of
	// replacing it.
	baseKnown bool

	saveMu       sync.Mutex
	saveInFlight atomic.Bool
	saveSignal   chan struct{}

	loadOnce sync.Once
	loadErr  error
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Backup == nil {
		opts.Backup = backup.NewMemory()
	}
	if opts.SaveDebounce <= 0 {
		opts.SaveDebounce = DefaultSaveDebounce
	}
	if opts.Realtime == (realtime.Config{}) {
		opts.Realtime = realtime.DefaultConfig()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	id := uuid.NewString()
	log := opts.Log.Named("session").With(zap.String("user_id", opts.Actor.Username), zap.String("session_id", id))
	ctx, cancel := context.WithCancel(domain.WithActor(context.Background(), opts.Actor))

	status := domain.SyncSyncing
	if opts.Remote == nil {
		status = domain.SyncDisabled
	}

	return &Session{
		id:         id,
		actor:      opts.Actor,
		remote:     opts.Remote,
		backup:     opts.Backup,
		clk:        opts.Clock,
		metrics:    opts.Metrics,
		log:        log,
		ledger:     ledger.New(opts.LedgerLimit),
		reconciler: realtime.New(opts.Realtime, opts.Clock, log),
		debounce:   opts.SaveDebounce,
		doc:        domain.NewDocument(opts.Actor.Username),
		status:     status,
		saveSignal: make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) UserID() string {
	return s.actor.Username
}

// Load brings the session up: the remote document when reachable (created
// empty on first sync), otherwise the local backup. It then starts the save
// worker and the push listener. Later calls return the first call's error.
func (s *Session) Load(ctx context.Context) error {
	s.loadOnce.Do(func() {
		s.loadErr = s.load(ctx)
		if s.loadErr != nil {
			s.cancel()
			return
		}
		s.wg.Add(1)
		go s.saveLoop()
		if s.remote != nil {
			s.startListener()
		}
	})
	return s.loadErr
}

func (s *Session) load(ctx context.Context) error {
	ctx = domain.WithActor(ctx, s.actor)
	userID := s.actor.Username

	local, backupErr := s.backup.Read(ctx, userID)
	if backupErr != nil && !errors.Is(backupErr, backup.ErrNotFound) {
		s.log.Warn("local backup unreadable", zap.Error(backupErr))
	}

	if s.remote == nil {
		if local != nil {
			s.mu.Lock()
			s.doc = local.Document
			s.mu.Unlock()
		}
		return nil
	}

	remote, err := s.remote.Fetch(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Info("no remote document, creating one")
		remote, err = s.remote.Upsert(ctx, userID, s.id, domain.NewDocument(userID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case err == nil:
		remote.Normalize()
		s.doc = *remote
		s.baseKnown = true
		s.status = domain.SyncSynced
		if werr := s.backup.Write(ctx, s.doc, nil, s.clk.Now()); werr != nil {
			s.log.Warn("local backup write failed", zap.Error(werr))
		}
		return nil
	case errors.Is(err, domain.ErrAuth):
		s.status = domain.SyncError
		s.noticeLocked(domain.NoticeSignInRequired, "Please sign in again to sync your data.")
		return err
	default:
		s.log.Warn("remote unreachable, working offline", zap.Error(err))
		s.status = domain.SyncOffline
		if local != nil {
			s.doc = local.Document
		}
		return nil
	}
}

func (s *Session) startListener() {
	ch, err := s.remote.Subscribe(s.ctx, s.actor.Username)
	if err != nil {
		s.log.Warn("realtime subscription failed", zap.Error(err))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for msg := range ch {
			if msg.Origin == s.id {
				continue
			}
			s.Receive(msg.Document)
		}
	}()
}

// Mutate runs fn against a working copy of the document and commits it when
// fn succeeds. touched lists the collections fn may change; their local
// backup times are stamped. A failed fn leaves the document untouched.
func (s *Session) Mutate(operation string, touched []domain.Collection, fn func(doc *domain.Document, env reducer.Env) error) error {
	s.mu.Lock()

	now := s.clk.Now()
	snapshot := takeSnapshot(s.doc, now)

	work := s.doc.Clone()
	err := fn(&work, reducer.Env{Ledger: s.ledger, Now: now, Log: s.log, LedgerCleared: s.metrics.LedgerCleared})
	s.metrics.Mutation(operation, err)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.snapshot = snapshot
	s.doc = work
	s.lastLocalWrite = now
	s.dirty = true
	if s.remote != nil {
		s.status = domain.SyncSyncing
	}
	if werr := s.backup.Write(context.Background(), s.doc, touched, now); werr != nil {
		s.log.Warn("local backup write failed", zap.String("operation", operation), zap.Error(werr))
	}
	s.mu.Unlock()

	s.scheduleSave()
	return nil
}

func (s *Session) scheduleSave() {
	if s.remote == nil {
		return
	}
	select {
	case s.saveSignal <- struct{}{}:
	default:
	}
}

func (s *Session) saveLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.saveSignal:
		}

		timer := time.NewTimer(s.debounce)
		for waiting := true; waiting; {
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-s.saveSignal:
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(s.debounce)
			case <-timer.C:
				waiting = false
			}
		}

		if err := s.save(s.ctx); err != nil {
			s.log.Warn("auto-save failed", zap.Error(err))
		}
	}
}

// SaveNow writes the current document to the remote store immediately.
func (s *Session) SaveNow(ctx context.Context) error {
	return s.save(ctx)
}

func (s *Session) save(ctx context.Context) error {
	if s.remote == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	s.status = domain.SyncSyncing
	s.mu.Unlock()

	s.saveInFlight.Store(true)
	start := time.Now()
	stored, err := s.upsert(domain.WithActor(ctx, s.actor))
	s.saveInFlight.Store(false)
	s.metrics.Save(time.Since(start), err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status = domain.SyncError
		s.dirty = true
		if errors.Is(err, domain.ErrAuth) {
			s.noticeLocked(domain.NoticeSignInRequired, "Please sign in again to sync your data.")
		} else {
			s.noticeLocked(domain.NoticeSaveFailed, "Your changes are saved on this device but could not be synced.")
		}
		if !errors.Is(err, domain.ErrRemoteSave) && !errors.Is(err, domain.ErrAuth) {
			err = fmt.Errorf("%w: %v", domain.ErrRemoteSave, err)
		}
		return err
	}

	if stored.UpdatedAt.After(s.doc.UpdatedAt) {
		s.doc.UpdatedAt = stored.UpdatedAt
	}
	if !s.dirty {
		s.status = domain.SyncSynced
	}
	return nil
}

func (s *Session) upsert(ctx context.Context) (*domain.Document, error) {
	userID := s.actor.Username

	s.mu.Lock()
	known := s.baseKnown
	s.mu.Unlock()
	if !known {
		remote, err := s.remote.Fetch(ctx, userID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			remote.Normalize()
			s.mu.Lock()
			if !s.baseKnown {
				s.rebaseLocked(*remote)
			}
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	doc := s.doc.Clone()
	s.dirty = false
	s.mu.Unlock()

	stored, err := s.remote.Upsert(ctx, userID, s.id, doc)
	if err == nil {
		s.mu.Lock()
		s.baseKnown = true
		s.mu.Unlock()
	}
	return stored, err
}

// rebaseLocked folds the remote document into one built without it.
func (s *Session) rebaseLocked(remote domain.Document) domain.Document {
	local := s.localLocked()
	merged := realtime.Rebase(local.Document, remote, local.Backup)
	s.metrics.Realtime(string(realtime.StateApplied), string(realtime.ReasonRebased))
	s.applyLocked(merged)
	s.baseKnown = true
	s.dirty = true
	return merged
}

// Receive hands a pushed document to the reconciler and commits the result.
func (s *Session) Receive(candidate domain.Document) realtime.Decision {
	candidate.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.baseKnown && s.remote != nil {
		merged := s.rebaseLocked(candidate)
		s.scheduleSave()
		return realtime.Decision{State: realtime.StateApplied, Reason: realtime.ReasonRebased, Merged: &merged}
	}

	d := s.reconciler.Evaluate(s.localLocked(), candidate)
	s.metrics.Realtime(string(d.State), string(d.Reason))
	switch d.State {
	case realtime.StateDeferred:
		s.noticeLocked(domain.NoticeRemoteDeferred, "Newer data is available from another device.")
	case realtime.StateApplied:
		s.applyLocked(*d.Merged)
	}
	return d
}

// ApplyPending adopts the last deferred remote document.
func (s *Session) ApplyPending() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.reconciler.TakePending(s.localLocked())
	if !ok {
		return fmt.Errorf("%w: no pending remote update", domain.ErrNotFound)
	}
	s.metrics.Realtime(string(d.State), string(d.Reason))
	s.applyLocked(*d.Merged)
	return nil
}

// Refresh fetches the remote document and merges it on explicit request,
// skipping the activity checks.
func (s *Session) Refresh(ctx context.Context) error {
	if s.remote == nil {
		return nil
	}
	remote, err := s.remote.Fetch(domain.WithActor(ctx, s.actor), s.actor.Username)
	if err != nil {
		return err
	}
	remote.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.baseKnown {
		s.rebaseLocked(*remote)
		s.scheduleSave()
		return nil
	}
	local := s.localLocked()
	s.applyLocked(realtime.Merge(local.Document, *remote, local.Backup))
	if !s.dirty {
		s.status = domain.SyncSynced
	}
	return nil
}

func (s *Session) localLocked() realtime.Local {
	local := realtime.Local{
		Document:       s.doc,
		LastLocalWrite: s.lastLocalWrite,
		SaveInFlight:   s.saveInFlight.Load(),
	}
	if s.snapshot != nil {
		local.SnapshotAt = s.snapshot.At
	}
	snap, err := s.backup.Read(context.Background(), s.actor.Username)
	if err == nil {
		local.Backup = snap
	} else if !errors.Is(err, backup.ErrNotFound) {
		s.log.Warn("local backup unreadable", zap.Error(err))
	}
	return local
}

// applyLocked commits a merged document in one step. Adopted records may
// carry keys this session never saw, so the ledger starts over.
func (s *Session) applyLocked(merged domain.Document) {
	s.doc = merged
	s.ledger.Clear()
	s.metrics.LedgerCleared()
	if err := s.backup.Write(context.Background(), s.doc, nil, s.clk.Now()); err != nil {
		s.log.Warn("local backup write failed", zap.Error(err))
	}
	s.noticeLocked(domain.NoticeRemoteApplied, "Data updated from another device.")
	s.log.Info("remote document applied", zap.Any("counts", s.doc.Counts()))
}

func (s *Session) RecordActivity(kind string) error {
	switch kind {
	case domain.ActivityInput:
		s.reconciler.RecordInput()
	case domain.ActivityVisibility:
		s.reconciler.RecordVisibilityChange()
	default:
		return fmt.Errorf("%w: unknown activity kind %q", domain.ErrValidation, kind)
	}
	return nil
}

// State returns a copy of the current document.
func (s *Session) State() domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Read runs fn against the live document under the session lock. fn must
// not retain doc.
func (s *Session) Read(fn func(doc domain.Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc)
}

func (s *Session) Snapshot() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return Snapshot{}, false
	}
	return *s.snapshot, true
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, pending := s.reconciler.Pending()
	st := Status{
		SessionID:     s.id,
		Sync:          s.status,
		UpdatedAt:     s.doc.UpdatedAt,
		PendingRemote: pending,
		Realtime:      s.reconciler.State(),
		LedgerSize:    s.ledger.Len(),
	}
	if !s.lastLocalWrite.IsZero() {
		at := s.lastLocalWrite
		st.LastLocalWrite = &at
	}
	if s.snapshot != nil {
		at := s.snapshot.At
		st.SnapshotAt = &at
	}
	return st
}

func (s *Session) Notices() []domain.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.notices)
}

func (s *Session) noticeLocked(kind domain.NoticeKind, message string) {
	s.notices = append(s.notices, domain.Notice{Kind: kind, Message: message, At: s.clk.Now()})
	if len(s.notices) > maxNotices {
		s.notices = slices.Clone(s.notices[len(s.notices)-maxNotices:])
	}
}

// Close stops the background workers and flushes an unsaved document.
func (s *Session) Close(ctx context.Context) error {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if dirty && s.remote != nil {
		return s.save(ctx)
	}
	return nil
}

func takeSnapshot(doc domain.Document, at time.Time) *Snapshot {
	cp := doc.Clone()
	return &Snapshot{
		Products: cp.Products,
		Sales:    cp.Sales,
		Clients:  cp.Clients,
		Payments: cp.Payments,
		At:       at,
	}
}
