package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mvrodrig/tillsync/internal/repo"
	"github.com/mvrodrig/tillsync/pkg/db"
	"github.com/mvrodrig/tillsync/pkg/db/models"
	"github.com/mvrodrig/tillsync/pkg/enums"
	pkgerrors "github.com/mvrodrig/tillsync/pkg/errors"
)

// Repository owns the payment_intents table. Write failures here propagate:
// silently losing a payment write is a correctness violation.
type Repository struct {
	repo.Base
	client *db.Client
}

func NewRepository(client *db.Client) *Repository {
	return &Repository{Base: repo.NewBase(client.DB()), client: client}
}

func (r *Repository) Insert(ctx context.Context, intent *models.PaymentIntent) error {
	if err := r.DB(ctx).Create(intent).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment intent already queued")
		}
		return fmt.Errorf("inserting payment intent: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.DB(ctx).Where("id = ?", id).First(&intent).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, fmt.Errorf("loading payment intent: %w", err)
	}
	return &intent, nil
}

// List returns every queued intent in creation order.
func (r *Repository) List(ctx context.Context) ([]models.PaymentIntent, error) {
	var rows []models.PaymentIntent
	err := r.DB(ctx).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ListDue returns pending intents whose next attempt is due, oldest first so
// remote booking approximates chronological order.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error) {
	var rows []models.PaymentIntent
	q := r.DB(ctx).
		Where("status = ?", enums.IntentStatusPending).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", now).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}

// Patch applies a partial update inside one transaction. A patch racing a
// delete returns not-found instead of resurrecting the row.
func (r *Repository) Patch(ctx context.Context, id uuid.UUID, patch Patch) (*models.PaymentIntent, error) {
	var updated models.PaymentIntent
	err := r.client.WithTx(ctx, func(tx *gorm.DB) error {
		var current models.PaymentIntent
		if err := tx.Where("id = ?", id).First(&current).Error; err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
			}
			return err
		}

		updates, err := patch.toUpdates()
		if err != nil {
			return err
		}
		if len(updates) > 0 {
			if err := tx.Model(&models.PaymentIntent{}).
				Where("id = ?", id).
				Updates(updates).Error; err != nil {
				return err
			}
		}

		return tx.Where("id = ?", id).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (p Patch) toUpdates() (map[string]any, error) {
	updates := map[string]any{}
	if p.Status != nil {
		updates["status"] = *p.Status
	}
	if p.RetryCount != nil {
		updates["retry_count"] = *p.RetryCount
	}
	if p.LastAttemptAt != nil {
		updates["last_attempt_at"] = *p.LastAttemptAt
	}
	if p.NextRetryAt != nil {
		updates["next_retry_at"] = *p.NextRetryAt
	} else if p.ClearNextRetryAt {
		updates["next_retry_at"] = nil
	}
	if p.LastError != nil {
		updates["last_error"] = *p.LastError
	} else if p.ClearLastError {
		updates["last_error"] = nil
	}
	if p.Conflict != nil {
		// Map-based updates bypass gorm's field serializer, so the detail is
		// serialized here. A detail that cannot be encoded must fail the
		// patch, not silently park the intent with an empty conflict.
		raw, err := json.Marshal(p.Conflict)
		if err != nil {
			return nil, fmt.Errorf("encoding conflict detail: %w", err)
		}
		updates["conflict"] = string(raw)
	} else if p.ClearConflict {
		updates["conflict"] = nil
	}
	return updates, nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.DB(ctx).Where("id = ?", id).Delete(&models.PaymentIntent{})
	if res.Error != nil {
		return fmt.Errorf("deleting payment intent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
	}
	return nil
}

// ReArmFailed flips every failed intent back to pending and due-now. Used by
// the manual retry-all action; conflicts are deliberately left alone.
func (r *Repository) ReArmFailed(ctx context.Context, now time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.PaymentIntent{}).
		Where("status = ?", enums.IntentStatusFailed).
		Updates(map[string]any{
			"status":        enums.IntentStatusPending,
			"next_retry_at": now,
			"last_error":    nil,
		})
	return res.RowsAffected, res.Error
}

// QueueCounts aggregates the queue per status.
type QueueCounts struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	Failed   int64 `json:"failed"`
	Conflict int64 `json:"conflict"`
}

func (r *Repository) Counts(ctx context.Context) (QueueCounts, error) {
	type statusCount struct {
		Status enums.IntentStatus
		N      int64
	}
	var rows []statusCount
	err := r.DB(ctx).Model(&models.PaymentIntent{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return QueueCounts{}, err
	}

	var counts QueueCounts
	for _, row := range rows {
		counts.Total += row.N
		switch row.Status {
		case enums.IntentStatusPending:
			counts.Pending = row.N
		case enums.IntentStatusFailed:
			counts.Failed = row.N
		case enums.IntentStatusConflict:
			counts.Conflict = row.N
		}
	}
	return counts, nil
}

// NextRetryAt returns the earliest scheduled attempt among pending intents.
// The column is selected directly because sqlite drops the datetime type
// affinity through aggregate expressions.
func (r *Repository) NextRetryAt(ctx context.Context) (*time.Time, error) {
	var times []time.Time
	err := r.DB(ctx).Model(&models.PaymentIntent{}).
		Where("status = ?", enums.IntentStatusPending).
		Where("next_retry_at IS NOT NULL").
		Order("next_retry_at ASC").
		Limit(1).
		Pluck("next_retry_at", &times).Error
	if err != nil || len(times) == 0 {
		return nil, err
	}
	return &times[0], nil
}

// LatestAttemptAt returns the most recent submission attempt on any intent.
func (r *Repository) LatestAttemptAt(ctx context.Context) (*time.Time, error) {
	var times []time.Time
	err := r.DB(ctx).Model(&models.PaymentIntent{}).
		Where("last_attempt_at IS NOT NULL").
		Order("last_attempt_at DESC").
		Limit(1).
		Pluck("last_attempt_at", &times).Error
	if err != nil || len(times) == 0 {
		return nil, err
	}
	return &times[0], nil
}
