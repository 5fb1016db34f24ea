package diagnostics

import (
	"context"
	"errors"
	"time"

	"github.com/mvrodrig/tillsync/internal/payments"
	"github.com/mvrodrig/tillsync/internal/terminal"
	"github.com/mvrodrig/tillsync/pkg/db"
	"github.com/mvrodrig/tillsync/pkg/logger"
)

// Snapshot is the read-only aggregate the POS UI renders on its offline
// banner.
type Snapshot struct {
	Supported       bool                 `json:"supported"`
	QueueCounts     payments.QueueCounts `json:"queueCounts"`
	NextRetryAt     *time.Time           `json:"nextRetryAt,omitempty"`
	LatestAttemptAt *time.Time           `json:"latestAttemptAt,omitempty"`
	TerminalID      string               `json:"terminalId,omitempty"`
}

// Service assembles the offline diagnostics aggregate. Every read is
// best-effort: a failing store degrades the snapshot, never the caller.
type Service struct {
	client   *db.Client
	repo     *payments.Repository
	terminal *terminal.Service
	logg     *logger.Logger
}

func NewService(client *db.Client, repo *payments.Repository, term *terminal.Service, logg *logger.Logger) (*Service, error) {
	if client == nil {
		return nil, errors.New("db client is required")
	}
	if repo == nil {
		return nil, errors.New("payments repository is required")
	}
	if term == nil {
		return nil, errors.New("terminal service is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{client: client, repo: repo, terminal: term, logg: logg}, nil
}

// Load builds the diagnostics snapshot.
func (s *Service) Load(ctx context.Context) Snapshot {
	snap := Snapshot{Supported: s.client.Durable()}

	counts, err := s.repo.Counts(ctx)
	if err != nil {
		s.logg.Warn(ctx, "queue counts unavailable for diagnostics")
	} else {
		snap.QueueCounts = counts
	}

	if next, err := s.repo.NextRetryAt(ctx); err != nil {
		s.logg.Warn(ctx, "next retry time unavailable for diagnostics")
	} else {
		snap.NextRetryAt = next
	}

	if latest, err := s.repo.LatestAttemptAt(ctx); err != nil {
		s.logg.Warn(ctx, "latest attempt time unavailable for diagnostics")
	} else {
		snap.LatestAttemptAt = latest
	}

	if id, err := s.terminal.LoadID(ctx); err != nil {
		s.logg.Warn(ctx, "terminal id unavailable for diagnostics")
	} else {
		snap.TerminalID = id
	}

	return snap
}
