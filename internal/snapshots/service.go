package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/mvrodrig/tillsync/internal/repo"
	"github.com/mvrodrig/tillsync/pkg/db"
	"github.com/mvrodrig/tillsync/pkg/db/models"
	"github.com/mvrodrig/tillsync/pkg/logger"
)

// activeKey is the single row each snapshot table holds per terminal.
const activeKey = "active"

// Service caches the active cart and the last fetched catalog on the shared
// record store so both survive a terminal restart. Reads are best-effort:
// a broken cache warms up empty instead of crashing the till.
type Service struct {
	repo.Base
	client *db.Client
	logg   *logger.Logger
}

func NewService(client *db.Client, logg *logger.Logger) (*Service, error) {
	if client == nil {
		return nil, errors.New("db client is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{Base: repo.NewBase(client.DB()), client: client, logg: logg}, nil
}

// PutCart stores the active cart snapshot.
func (s *Service) PutCart(ctx context.Context, data json.RawMessage) error {
	return s.put(ctx, &models.CartSnapshot{Key: activeKey, Data: data})
}

// GetCart loads the active cart snapshot; nil when absent or unreadable.
func (s *Service) GetCart(ctx context.Context) json.RawMessage {
	var row models.CartSnapshot
	return s.get(ctx, "cart", &row, func() json.RawMessage { return row.Data })
}

// ClearCart drops the active cart snapshot.
func (s *Service) ClearCart(ctx context.Context) error {
	return s.clear(ctx, &models.CartSnapshot{})
}

// PutCatalog stores the cached catalog snapshot.
func (s *Service) PutCatalog(ctx context.Context, data json.RawMessage) error {
	return s.put(ctx, &models.CatalogSnapshot{Key: activeKey, Data: data})
}

// GetCatalog loads the cached catalog; nil when absent or unreadable.
func (s *Service) GetCatalog(ctx context.Context) json.RawMessage {
	var row models.CatalogSnapshot
	return s.get(ctx, "catalog", &row, func() json.RawMessage { return row.Data })
}

// ClearCatalog drops the cached catalog snapshot.
func (s *Service) ClearCatalog(ctx context.Context) error {
	return s.clear(ctx, &models.CatalogSnapshot{})
}

func (s *Service) put(ctx context.Context, row any) error {
	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("key = ?", activeKey).Delete(row).Error; err != nil {
			return err
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return fmt.Errorf("storing snapshot: %w", err)
	}
	return nil
}

func (s *Service) get(ctx context.Context, kind string, row any, data func() json.RawMessage) json.RawMessage {
	err := s.DB(ctx).Where("key = ?", activeKey).First(row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Warn(s.logg.WithField(ctx, "snapshot", kind),
				fmt.Sprintf("snapshot read failed, returning empty: %v", err))
		}
		return nil
	}
	return data()
}

func (s *Service) clear(ctx context.Context, row any) error {
	if err := s.DB(ctx).Where("key = ?", activeKey).Delete(row).Error; err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}
	return nil
}
