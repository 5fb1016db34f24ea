package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/mvrodrig/tillsync/internal/payments"
	"github.com/mvrodrig/tillsync/pkg/config"
	"github.com/mvrodrig/tillsync/pkg/db/models"
	"github.com/mvrodrig/tillsync/pkg/enums"
	pkgerrors "github.com/mvrodrig/tillsync/pkg/errors"
	"github.com/mvrodrig/tillsync/pkg/logger"
	"github.com/mvrodrig/tillsync/pkg/remote"
)

// ErrPassInProgress is returned when a sync trigger arrives while a pass is
// already running; the trigger is dropped, never run concurrently.
var ErrPassInProgress = errors.New("sync pass already in progress")

// Outcome classifies what one submission attempt did to an intent.
type Outcome string

const (
	OutcomeConfirmed   Outcome = "confirmed"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeFailed      Outcome = "failed"
	OutcomeConflict    Outcome = "conflict"
	OutcomeRemoved     Outcome = "removed"
)

// Result reports one attempted intent back to the caller/UI.
type Result struct {
	IntentID uuid.UUID
	Outcome  Outcome
	Sale     *remote.SaleRecord
	Intent   *models.PaymentIntent
	Reason   string
}

type remoteSubmitter interface {
	Submit(context.Context, remote.SubmitRequest) (*remote.SaleRecord, error)
}

type queueRepository interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error)
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	Patch(ctx context.Context, id uuid.UUID, patch payments.Patch) (*models.PaymentIntent, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ReArmFailed(ctx context.Context, now time.Time) (int64, error)
}

// ServiceParams configure the sync engine.
type ServiceParams struct {
	Config *config.Config
	Logger *logger.Logger
	Repo   queueRepository
	Remote remoteSubmitter

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Service drives the queue: selects due intents, submits them, classifies
// the outcome and schedules the next attempt. One engine per process; the
// mutex guarantees no two submissions for the same intent are ever in
// flight concurrently.
type Service struct {
	cfg    *config.Config
	logg   *logger.Logger
	repo   queueRepository
	remote remoteSubmitter
	now    func() time.Time

	mu   sync.Mutex
	wake chan struct{}
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Repo == nil {
		return nil, errors.New("queue repository is required")
	}
	if params.Remote == nil {
		return nil, errors.New("remote client is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:    params.Config,
		logg:   params.Logger,
		repo:   params.Repo,
		remote: params.Remote,
		now:    now,
		wake:   make(chan struct{}, 1),
	}, nil
}

// SyncDue runs one pass over every due pending intent. A re-entrant trigger
// while a pass is running returns ErrPassInProgress instead of overlapping.
func (s *Service) SyncDue(ctx context.Context) ([]Result, error) {
	if !s.mu.TryLock() {
		return nil, ErrPassInProgress
	}
	defer s.mu.Unlock()
	return s.pass(ctx)
}

// RetryOne submits a single intent immediately, bypassing nextRetryAt and
// status gates. This is the only path that resubmits a failed or conflicted
// intent, and it requires an explicit operator action to reach.
func (s *Service) RetryOne(ctx context.Context, id uuid.UUID) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := s.submitOne(ctx, *intent)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RetryAll re-arms every failed intent to due-now and runs a pass.
// Conflicted intents are deliberately not re-armed.
func (s *Service) RetryAll(ctx context.Context) ([]Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rearmed, err := s.repo.ReArmFailed(ctx, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if rearmed > 0 {
		s.logg.Info(s.logg.WithField(ctx, "rearmed", rearmed), "failed intents re-armed for retry")
	}
	return s.pass(ctx)
}

// Notify signals a connectivity change. Going online wakes the run loop for
// an immediate pass; going offline is a no-op.
func (s *Service) Notify(online bool) {
	if !online {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run executes passes until the context is canceled: one at startup, one per
// poll interval, and one whenever connectivity is restored.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	interval := s.cfg.Sync.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runPass(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "sync engine context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.runPass(ctx, "timer")
		case <-s.wake:
			s.runPass(ctx, "online")
		}
	}
}

func (s *Service) runPass(ctx context.Context, trigger string) {
	logCtx := s.logg.WithField(ctx, "trigger", trigger)
	results, err := s.SyncDue(ctx)
	if errors.Is(err, ErrPassInProgress) {
		s.logg.Debug(logCtx, "sync trigger dropped, pass already running")
		return
	}
	if err != nil {
		s.logg.Error(logCtx, "sync pass error", err)
	}
	if len(results) > 0 {
		counts := map[Outcome]int{}
		for _, r := range results {
			counts[r.Outcome]++
		}
		s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
			"attempted":   len(results),
			"confirmed":   counts[OutcomeConfirmed],
			"rescheduled": counts[OutcomeRescheduled],
			"failed":      counts[OutcomeFailed],
			"conflict":    counts[OutcomeConflict],
		}), "sync pass completed")
	}
}

// pass assumes the caller holds the engine mutex.
func (s *Service) pass(ctx context.Context) ([]Result, error) {
	now := s.now().UTC()
	due, err := s.repo.ListDue(ctx, now, s.cfg.Sync.BatchSize)
	if err != nil {
		return nil, err
	}

	var results []Result
	var errs error
	for _, intent := range due {
		select {
		case <-ctx.Done():
			return results, multierr.Append(errs, ctx.Err())
		default:
		}

		result, err := s.submitOne(ctx, intent)
		if err != nil {
			// Store write failures: a lost outcome could double-charge, so
			// they propagate instead of being swallowed.
			errs = multierr.Append(errs, err)
			continue
		}
		results = append(results, result)
	}
	return results, errs
}

// submitOne performs one bounded submission attempt and persists the
// classified outcome before returning it.
func (s *Service) submitOne(ctx context.Context, intent models.PaymentIntent) (Result, error) {
	attemptAt := s.now().UTC()

	submitCtx, cancel := context.WithTimeout(ctx, s.cfg.Remote.SubmitTimeout)
	sale, err := s.remote.Submit(submitCtx, remote.SubmitRequest{
		IntentID:   intent.ID,
		TerminalID: intent.TerminalID,
		Payload:    intent.Payload,
	})
	cancel()

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"intent_id": intent.ID.String(),
		"attempt":   intent.RetryCount + 1,
	})

	if err == nil {
		// The only successful exit from the queue: the record is deleted,
		// never parked as "succeeded".
		if delErr := s.repo.Delete(ctx, intent.ID); delErr != nil {
			if typed := pkgerrors.As(delErr); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
				return Result{IntentID: intent.ID, Outcome: OutcomeConfirmed, Sale: sale}, nil
			}
			return Result{}, delErr
		}
		s.logg.Info(logCtx, "payment confirmed by remote, intent dequeued")
		return Result{IntentID: intent.ID, Outcome: OutcomeConfirmed, Sale: sale}, nil
	}

	typed := pkgerrors.As(err)
	switch {
	case typed != nil && typed.Code() == pkgerrors.CodeConflict:
		detail := models.ConflictDetail{
			Type:       enums.ConflictDuplicateSale,
			Message:    typed.Message(),
			DetectedAt: attemptAt,
		}
		if info, ok := typed.Details().(remote.ConflictInfo); ok {
			detail.SaleID = info.SaleID
			detail.ReceiptNo = info.ReceiptNo
		}
		updated, patchErr := s.repo.Patch(ctx, intent.ID, payments.PatchConflict(attemptAt, detail))
		if patchErr != nil {
			return s.patchRaceResult(logCtx, intent.ID, patchErr)
		}
		s.logg.Warn(s.logg.WithField(logCtx, "receipt_no", detail.ReceiptNo),
			"duplicate sale reported by remote, intent parked as conflict")
		return Result{IntentID: intent.ID, Outcome: OutcomeConflict, Intent: updated, Reason: typed.Message()}, nil

	case typed != nil && typed.Code() == pkgerrors.CodeValidation:
		updated, patchErr := s.repo.Patch(ctx, intent.ID,
			payments.PatchFailed(intent.RetryCount+1, attemptAt, typed.Message()))
		if patchErr != nil {
			return s.patchRaceResult(logCtx, intent.ID, patchErr)
		}
		s.logg.Warn(logCtx, "payment rejected by remote, intent marked failed")
		return Result{IntentID: intent.ID, Outcome: OutcomeFailed, Intent: updated, Reason: typed.Message()}, nil

	default:
		// Network faults, timeouts and 5xx: safe to retry automatically.
		retryCount := intent.RetryCount + 1
		next := attemptAt.Add(withJitter(backoffDelay(retryCount, s.cfg.Sync.BaseDelay, s.cfg.Sync.MaxDelay)))
		updated, patchErr := s.repo.Patch(ctx, intent.ID,
			payments.PatchRescheduled(retryCount, attemptAt, next))
		if patchErr != nil {
			return s.patchRaceResult(logCtx, intent.ID, patchErr)
		}
		s.logg.Warn(s.logg.WithField(logCtx, "next_retry_at", next),
			"transient submission failure, retry scheduled")
		return Result{IntentID: intent.ID, Outcome: OutcomeRescheduled, Intent: updated, Reason: err.Error()}, nil
	}
}

// patchRaceResult resolves a patch that lost the race against an operator
// removal: the intent is gone, which is an acceptable terminal state.
func (s *Service) patchRaceResult(ctx context.Context, id uuid.UUID, patchErr error) (Result, error) {
	if typed := pkgerrors.As(patchErr); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
		s.logg.Warn(ctx, "intent removed while submission was in flight")
		return Result{IntentID: id, Outcome: OutcomeRemoved}, nil
	}
	return Result{}, patchErr
}
