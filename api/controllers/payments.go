package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mvrodrig/tillsync/api/responses"
	"github.com/mvrodrig/tillsync/internal/payments"
	"github.com/mvrodrig/tillsync/internal/syncengine"
	"github.com/mvrodrig/tillsync/pkg/db/models"
	pkgerrors "github.com/mvrodrig/tillsync/pkg/errors"
	"github.com/mvrodrig/tillsync/pkg/logger"
)

// QueueService is the queue surface the controllers depend on.
type QueueService interface {
	Enqueue(ctx context.Context, input payments.EnqueueInput) (*models.PaymentIntent, error)
	List(ctx context.Context) ([]models.PaymentIntent, error)
	Remove(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.PaymentIntent, error)
}

// SyncEngine is the trigger surface of the sync engine.
type SyncEngine interface {
	SyncDue(ctx context.Context) ([]syncengine.Result, error)
	RetryOne(ctx context.Context, id uuid.UUID) (*syncengine.Result, error)
	RetryAll(ctx context.Context) ([]syncengine.Result, error)
	Notify(online bool)
}

type intentView struct {
	ID            string                 `json:"id"`
	TerminalID    string                 `json:"terminalId"`
	Payload       json.RawMessage        `json:"payload"`
	Status        string                 `json:"status"`
	RetryCount    int                    `json:"retryCount"`
	CreatedAt     time.Time              `json:"createdAt"`
	LastAttemptAt *time.Time             `json:"lastAttemptAt,omitempty"`
	NextRetryAt   *time.Time             `json:"nextRetryAt,omitempty"`
	Error         *string                `json:"error,omitempty"`
	Conflict      *models.ConflictDetail `json:"conflict,omitempty"`
}

func viewOf(intent *models.PaymentIntent) intentView {
	return intentView{
		ID:            intent.ID.String(),
		TerminalID:    intent.TerminalID,
		Payload:       intent.Payload,
		Status:        intent.Status.String(),
		RetryCount:    intent.RetryCount,
		CreatedAt:     intent.CreatedAt,
		LastAttemptAt: intent.LastAttemptAt,
		NextRetryAt:   intent.NextRetryAt,
		Error:         intent.LastError,
		Conflict:      intent.Conflict,
	}
}

type resultView struct {
	IntentID string      `json:"intentId"`
	Outcome  string      `json:"outcome"`
	Sale     any         `json:"sale,omitempty"`
	Intent   *intentView `json:"intent,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

func viewOfResult(result syncengine.Result) resultView {
	view := resultView{
		IntentID: result.IntentID.String(),
		Outcome:  string(result.Outcome),
		Reason:   result.Reason,
	}
	if result.Sale != nil {
		view.Sale = result.Sale
	}
	if result.Intent != nil {
		v := viewOf(result.Intent)
		view.Intent = &v
	}
	return view
}

func viewOfResults(results []syncengine.Result) []resultView {
	views := make([]resultView, 0, len(results))
	for _, result := range results {
		views = append(views, viewOfResult(result))
	}
	return views
}

// EnqueuePayment accepts a payment that could not be confirmed online.
func EnqueuePayment(logg *logger.Logger, queue QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input payments.EnqueueInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed payment body"))
			return
		}

		intent, err := queue.Enqueue(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, viewOf(intent))
	}
}

// ListPayments returns the queue in creation order.
func ListPayments(logg *logger.Logger, queue QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intents, err := queue.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views := make([]intentView, 0, len(intents))
		for i := range intents {
			views = append(views, viewOf(&intents[i]))
		}
		responses.WriteSuccess(w, views)
	}
}

// RemovePayment permanently drops a queued intent.
func RemovePayment(logg *logger.Logger, queue QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := intentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := queue.Remove(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"id": id.String(), "status": "removed"})
	}
}

// FailPayment marks an intent failed with an operator-supplied reason.
func FailPayment(logg *logger.Logger, queue QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := intentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Error == "" {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "error reason is required"))
			return
		}

		intent, err := queue.MarkFailed(r.Context(), id, body.Error)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, viewOf(intent))
	}
}

// RetryPayment submits one intent immediately, bypassing its schedule.
func RetryPayment(logg *logger.Logger, engine SyncEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := intentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := engine.RetryOne(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, viewOfResult(*result))
	}
}

// SyncPayments runs a pass now. With rearm=true, failed intents are made due
// first; conflicted intents stay parked either way.
func SyncPayments(logg *logger.Logger, engine SyncEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			results []syncengine.Result
			err     error
		)
		if r.URL.Query().Get("rearm") == "true" {
			results, err = engine.RetryAll(r.Context())
		} else {
			results, err = engine.SyncDue(r.Context())
		}
		if err != nil {
			if err == syncengine.ErrPassInProgress {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeStateConflict, "a sync pass is already running"))
				return
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, viewOfResults(results))
	}
}

func intentID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id must be a UUID")
	}
	return id, nil
}
