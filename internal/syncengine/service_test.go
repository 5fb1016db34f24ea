package syncengine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvrodrig/tillsync/internal/payments"
	"github.com/mvrodrig/tillsync/pkg/config"
	"github.com/mvrodrig/tillsync/pkg/db/models"
	"github.com/mvrodrig/tillsync/pkg/enums"
	pkgerrors "github.com/mvrodrig/tillsync/pkg/errors"
	"github.com/mvrodrig/tillsync/pkg/logger"
	"github.com/mvrodrig/tillsync/pkg/remote"
)

type fakeQueueRepo struct {
	mu      sync.Mutex
	intents map[uuid.UUID]*models.PaymentIntent
	order   []uuid.UUID
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{intents: map[uuid.UUID]*models.PaymentIntent{}}
}

func (f *fakeQueueRepo) add(intent models.PaymentIntent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := intent
	f.intents[intent.ID] = &copied
	f.order = append(f.order, intent.ID)
}

func (f *fakeQueueRepo) ListDue(_ context.Context, now time.Time, limit int) ([]models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []models.PaymentIntent
	for _, id := range f.order {
		intent, ok := f.intents[id]
		if !ok || intent.Status != enums.IntentStatusPending {
			continue
		}
		if intent.NextRetryAt == nil || intent.NextRetryAt.After(now) {
			continue
		}
		due = append(due, *intent)
		if limit > 0 && len(due) == limit {
			break
		}
	}
	return due, nil
}

func (f *fakeQueueRepo) Get(_ context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
	}
	copied := *intent
	return &copied, nil
}

func (f *fakeQueueRepo) Patch(_ context.Context, id uuid.UUID, patch payments.Patch) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
	}
	if patch.Status != nil {
		intent.Status = *patch.Status
	}
	if patch.RetryCount != nil {
		intent.RetryCount = *patch.RetryCount
	}
	if patch.LastAttemptAt != nil {
		intent.LastAttemptAt = patch.LastAttemptAt
	}
	if patch.NextRetryAt != nil {
		intent.NextRetryAt = patch.NextRetryAt
	} else if patch.ClearNextRetryAt {
		intent.NextRetryAt = nil
	}
	if patch.LastError != nil {
		intent.LastError = patch.LastError
	} else if patch.ClearLastError {
		intent.LastError = nil
	}
	if patch.Conflict != nil {
		intent.Conflict = patch.Conflict
	} else if patch.ClearConflict {
		intent.Conflict = nil
	}
	copied := *intent
	return &copied, nil
}

func (f *fakeQueueRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.intents[id]; !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
	}
	delete(f.intents, id)
	return nil
}

func (f *fakeQueueRepo) ReArmFailed(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rearmed int64
	for _, intent := range f.intents {
		if intent.Status != enums.IntentStatusFailed {
			continue
		}
		intent.Status = enums.IntentStatusPending
		due := now
		intent.NextRetryAt = &due
		intent.LastError = nil
		rearmed++
	}
	return rearmed, nil
}

type fakeRemote struct {
	mu     sync.Mutex
	submit func(remote.SubmitRequest) (*remote.SaleRecord, error)
	calls  []remote.SubmitRequest
}

func (f *fakeRemote) Submit(_ context.Context, req remote.SubmitRequest) (*remote.SaleRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.submit(req)
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var engineTestNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T, repo *fakeQueueRepo, rm *fakeRemote) *Service {
	t.Helper()

	cfg := &config.Config{
		Remote: config.RemoteConfig{SubmitTimeout: time.Second},
		Sync: config.SyncConfig{
			BaseDelay:    30 * time.Second,
			MaxDelay:     time.Hour,
			PollInterval: time.Minute,
			BatchSize:    50,
		},
	}
	svc, err := NewService(ServiceParams{
		Config: cfg,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: discard{}}),
		Repo:   repo,
		Remote: rm,
		Now:    func() time.Time { return engineTestNow },
	})
	require.NoError(t, err)
	return svc
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func dueIntent() models.PaymentIntent {
	due := engineTestNow.Add(-time.Minute)
	return models.PaymentIntent{
		ID:          uuid.New(),
		TerminalID:  "till-test",
		Payload:     json.RawMessage(`{"paymentMethod":"CARD"}`),
		Status:      enums.IntentStatusPending,
		NextRetryAt: &due,
	}
}

func TestSyncDueConfirmsAndDequeues(t *testing.T) {
	repo := newFakeQueueRepo()
	intent := dueIntent()
	repo.add(intent)

	rm := &fakeRemote{submit: func(remote.SubmitRequest) (*remote.SaleRecord, error) {
		return &remote.SaleRecord{SaleID: "S-1", ReceiptNo: "R-1"}, nil
	}}
	engine := newTestEngine(t, repo, rm)

	results, err := engine.SyncDue(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeConfirmed, results[0].Outcome)
	require.NotNil(t, results[0].Sale)
	assert.Equal(t, "R-1", results[0].Sale.ReceiptNo)

	_, err = repo.Get(context.Background(), intent.ID)
	require.Error(t, err, "confirmed intent must leave the queue")
}

func TestSyncDueSendsIdempotencyReference(t *testing.T) {
	repo := newFakeQueueRepo()
	intent := dueIntent()
	repo.add(intent)

	rm := &fakeRemote{submit: func(remote.SubmitRequest) (*remote.SaleRecord, error) {
		return &remote.SaleRecord{}, nil
	}}
	engine := newTestEngine(t, repo, rm)

	_, err := engine.SyncDue(context.Background())
	require.NoError(t, err)
	require.Len(t, rm.calls, 1)
	assert.Equal(t, intent.ID, rm.calls[0].IntentID)
	assert.Equal(t, intent.TerminalID, rm.calls[0].TerminalID)
	assert.JSONEq(t, string(intent.Payload), string(rm.calls[0].Payload))
}

func TestSyncDueReschedulesTransientFailure(t *testing.T) {
	repo := newFakeQueueRepo()
	intent := dueIntent()
	repo.add(intent)

	rm := &fakeRemote{submit: func(remote.SubmitRequest) (*remote.SaleRecord, error) {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "connection refused")
	}}
	engine := newTestEngine(t, repo, rm)

	results, err := engine.SyncDue(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeRescheduled, results[0].Outcome)

	updated, err := repo.Get(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusPending, updated.Status)
	assert.Equal(t, 1, updated.RetryCount)
	assert.Nil(t, updated.LastError)
	assert.Nil(t, updated.Conflict)

	require.NotNil(t, updated.NextRetryAt)
	delta := updated.NextRetryAt.Sub(engineTestNow)
	assert.GreaterOrEqual(t, delta, 27*time.Second, "next attempt must respect the base delay minus jitter")
	assert.LessOrEqual(t, delta, 33*time.Second, "next attempt must respect the base delay plus jitter")
}

func TestSyncDueMarksPermanentRejectionFailed(t *testing.T) {
	repo := newFakeQueueRepo()
	intent := dueIntent()
	repo.add(intent)

	rm := &fakeRemote{submit: func(remote.SubmitRequest) (*remote.SaleRecord, error) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown product code")
	}}
	engine := newTestEngine(t, repo, rm)

	results, err := engine.SyncDue(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)

	updated, err := repo.Get(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusFailed, updated.Status)
	assert.Nil(t, updated.NextRetryAt)
	require.NotNil(t, updated.LastError)
	assert.Equal(t, "unknown product code", *updated.LastError)

	// A failed intent is out of the automatic schedule.
	again, err := engine.SyncDue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, 1, rm.callCount())
}

func TestSyncDueParksDuplicateAsConflict(t *testing.T) {
	repo := newFakeQueueRepo()
	intent := dueIntent()
	repo.add(intent)

	rm := &fakeRemote{submit: func(remote.SubmitRequest) (*remote.SaleRecord, error) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "sale already exists").
			WithDetails(remote.ConflictInfo{
				Message:   "sale already exists",
				SaleID:    "S-42",
				ReceiptNo: "R-100",
			})
	}}
	engine := newTestEngine(t, repo, rm)

	results, err := engine.SyncDue(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeConflict, results[0].Outcome)

	updated, err := repo.Get(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusConflict, updated.Status)
	assert.Nil(t, updated.NextRetryAt)
	assert.Nil(t, updated.LastError)
	require.NotNil(t, updated.Conflict)
	assert.Equal(t, enums.ConflictDuplicateSale, updated.Conflict.Type)
	assert.Equal(t, "R-100", updated.Conflict.ReceiptNo)
	assert.Equal(t, "S-42", updated.Conflict.SaleID)

	// Conflicted intents are never resubmitted automatically.
	again, err := engine.SyncDue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, 1, rm.callCount())
}

func TestSyncDueRejectsOverlappingPass(t *testing.T) {
	repo := newFakeQueueRepo()
	repo.add(dueIntent())

	block := make(chan struct{})
	entered := make(chan struct{})
	rm := &fakeRemote{submit: func(remote.SubmitRequest) (*remote.SaleRecord, error) {
		close(entered)
		<-block
		return &remote.SaleRecord{}, nil
	}}
	engine := newTestEngine(t, repo, rm)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.SyncDue(context.Background())
	}()

	<-entered
	_, err := engine.SyncDue(context.Background())
	assert.ErrorIs(t, err, ErrPassInProgress)

	close(block)
	<-done
}

func TestRetryOneBypassesScheduleAndStatus(t *testing.T) {
	repo := newFakeQueueRepo()
	intent := dueIntent()
	intent.Status = enums.IntentStatusFailed
	intent.NextRetryAt = nil
	reason := "declined"
	intent.LastError = &reason
	repo.add(intent)

	rm := &fakeRemote{submit: func(remote.SubmitRequest) (*remote.SaleRecord, error) {
		return &remote.SaleRecord{ReceiptNo: "R-2"}, nil
	}}
	engine := newTestEngine(t, repo, rm)

	result, err := engine.RetryOne(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, result.Outcome)

	_, err = repo.Get(context.Background(), intent.ID)
	require.Error(t, err)
}

func TestRetryOneMissingIntent(t *testing.T) {
	engine := newTestEngine(t, newFakeQueueRepo(), &fakeRemote{
		submit: func(remote.SubmitRequest) (*remote.SaleRecord, error) {
			return &remote.SaleRecord{}, nil
		},
	})

	_, err := engine.RetryOne(context.Background(), uuid.New())
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestRetryAllReArmsFailedButNotConflicted(t *testing.T) {
	repo := newFakeQueueRepo()

	failed := dueIntent()
	failed.Status = enums.IntentStatusFailed
	failed.NextRetryAt = nil
	reason := "declined"
	failed.LastError = &reason
	repo.add(failed)

	conflicted := dueIntent()
	conflicted.Status = enums.IntentStatusConflict
	conflicted.NextRetryAt = nil
	conflicted.Conflict = &models.ConflictDetail{
		Type:       enums.ConflictDuplicateSale,
		Message:    "dup",
		DetectedAt: engineTestNow,
	}
	repo.add(conflicted)

	rm := &fakeRemote{submit: func(remote.SubmitRequest) (*remote.SaleRecord, error) {
		return &remote.SaleRecord{}, nil
	}}
	engine := newTestEngine(t, repo, rm)

	results, err := engine.RetryAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, failed.ID, results[0].IntentID)
	assert.Equal(t, OutcomeConfirmed, results[0].Outcome)

	still, err := repo.Get(context.Background(), conflicted.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusConflict, still.Status)
	assert.Equal(t, 1, rm.callCount())
}

func TestSubmitRaceWithRemovalIsTerminal(t *testing.T) {
	repo := newFakeQueueRepo()
	intent := dueIntent()
	repo.add(intent)

	rm := &fakeRemote{submit: func(req remote.SubmitRequest) (*remote.SaleRecord, error) {
		// The operator removes the intent while the submission is in flight.
		_ = repo.Delete(context.Background(), req.IntentID)
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "timeout")
	}}
	engine := newTestEngine(t, repo, rm)

	results, err := engine.SyncDue(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeRemoved, results[0].Outcome)
}

func TestNotifyNeverBlocks(t *testing.T) {
	engine := newTestEngine(t, newFakeQueueRepo(), &fakeRemote{
		submit: func(remote.SubmitRequest) (*remote.SaleRecord, error) {
			return &remote.SaleRecord{}, nil
		},
	})

	for i := 0; i < 5; i++ {
		engine.Notify(true)
	}
	engine.Notify(false)
}

func TestRunWakesOnOnlineSignal(t *testing.T) {
	repo := newFakeQueueRepo()
	submitted := make(chan struct{}, 1)
	rm := &fakeRemote{submit: func(remote.SubmitRequest) (*remote.SaleRecord, error) {
		select {
		case submitted <- struct{}{}:
		default:
		}
		return &remote.SaleRecord{}, nil
	}}
	engine := newTestEngine(t, repo, rm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = engine.Run(ctx) }()

	// The queue fills while the daemon believes it is offline; the poll
	// interval is a minute away, so only the online signal can trigger this.
	repo.add(dueIntent())
	engine.Notify(true)

	select {
	case <-submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("online signal did not trigger a pass")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	engine := newTestEngine(t, newFakeQueueRepo(), &fakeRemote{
		submit: func(remote.SubmitRequest) (*remote.SaleRecord, error) {
			return &remote.SaleRecord{}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not stop after cancel")
	}
}
