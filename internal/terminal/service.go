package terminal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mvrodrig/tillsync/pkg/db"
	"github.com/mvrodrig/tillsync/pkg/db/models"
	"github.com/mvrodrig/tillsync/pkg/logger"
)

// MetadataKey is the metadata row holding the persisted terminal identity.
const MetadataKey = "terminalId"

// Service lazily creates and persists the unique terminal identifier every
// payment intent is tagged with.
type Service struct {
	client *db.Client
	logg   *logger.Logger
}

func NewService(client *db.Client, logg *logger.Logger) (*Service, error) {
	if client == nil {
		return nil, errors.New("db client is required")
	}
	return &Service{client: client, logg: logg}, nil
}

// EnsureID returns the persisted terminal id, creating it on first call.
// Read and conditional write happen inside one transaction so concurrent
// initializations can never persist two different ids.
func (s *Service) EnsureID(ctx context.Context) (string, error) {
	var id string
	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		var entry models.MetadataEntry
		err := tx.Where("key = ?", MetadataKey).First(&entry).Error
		if err == nil {
			id = entry.Value
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		id = newTerminalID()
		return tx.Create(&models.MetadataEntry{Key: MetadataKey, Value: id}).Error
	})
	if err != nil {
		return "", fmt.Errorf("ensuring terminal id: %w", err)
	}
	return id, nil
}

// LoadID returns the persisted terminal id without creating one. A missing
// id is not an error; diagnostics callers render it as unset.
func (s *Service) LoadID(ctx context.Context) (string, error) {
	var entry models.MetadataEntry
	err := s.client.DB().WithContext(ctx).Where("key = ?", MetadataKey).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("loading terminal id: %w", err)
	}
	return entry.Value, nil
}

func newTerminalID() string {
	return "till-" + uuid.NewString()
}
