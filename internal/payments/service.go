package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mvrodrig/tillsync/internal/terminal"
	"github.com/mvrodrig/tillsync/pkg/db/models"
	"github.com/mvrodrig/tillsync/pkg/enums"
	pkgerrors "github.com/mvrodrig/tillsync/pkg/errors"
	"github.com/mvrodrig/tillsync/pkg/logger"
)

// ServiceParams configure the payment queue service.
type ServiceParams struct {
	Logger   *logger.Logger
	Repo     *Repository
	Terminal *terminal.Service
}

// Service is the operator-facing surface of the payment intent queue.
type Service struct {
	logg     *logger.Logger
	repo     *Repository
	terminal *terminal.Service
	validate *validator.Validate
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Repo == nil {
		return nil, errors.New("payments repository is required")
	}
	if params.Terminal == nil {
		return nil, errors.New("terminal service is required")
	}
	return &Service{
		logg:     params.Logger,
		repo:     params.Repo,
		terminal: params.Terminal,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Enqueue snapshots a payment that could not be confirmed synchronously and
// stores it pending, due immediately.
func (s *Service) Enqueue(ctx context.Context, input EnqueueInput) (*models.PaymentIntent, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment payload")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("invalid payment method %q", input.PaymentMethod))
	}

	terminalID, err := s.terminal.EnsureID(ctx)
	if err != nil {
		return nil, err
	}

	payload := Payload{
		Items:         input.Items,
		PaymentMethod: input.PaymentMethod,
		CustomerEmail: input.CustomerEmail,
		ExternalRef:   input.ExternalRef,
		TerminalID:    terminalID,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding payment payload")
	}

	now := time.Now().UTC()
	intent := &models.PaymentIntent{
		ID:          uuid.New(),
		TerminalID:  terminalID,
		Payload:     raw,
		Status:      enums.IntentStatusPending,
		RetryCount:  0,
		NextRetryAt: &now,
	}
	if err := s.repo.Insert(ctx, intent); err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"intent_id":   intent.ID.String(),
		"terminal_id": terminalID,
		"method":      input.PaymentMethod,
	})
	s.logg.Info(logCtx, "payment intent enqueued")
	return intent, nil
}

// List returns the queue in creation order.
func (s *Service) List(ctx context.Context) ([]models.PaymentIntent, error) {
	return s.repo.List(ctx)
}

// Get loads one intent.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	return s.repo.Get(ctx, id)
}

// Remove permanently drops an intent, e.g. after manual reconciliation.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logg.Info(s.logg.WithIntentID(ctx, id.String()), "payment intent removed")
	return nil
}

// MarkFailed parks an intent as failed with the given reason. The last
// attempt timestamp records submissions only, so it stays as-is.
func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.PaymentIntent, error) {
	return s.repo.Patch(ctx, id, PatchManualFailure(reason))
}

// Patch applies a partial update; not-found surfaces as a typed error so a
// patch racing a delete is a caller decision, not a crash.
func (s *Service) Patch(ctx context.Context, id uuid.UUID, patch Patch) (*models.PaymentIntent, error) {
	return s.repo.Patch(ctx, id, patch)
}
