package service

import (
	"context"
	"time"

	"github.com/civicid/backend/internal/config"
	"github.com/civicid/backend/internal/observability"
)

type FloodRepo interface {
	InsertFloodEntry(ctx context.Context, kind, identity string) error
	CountFloodSince(ctx context.Context, kind, identity string, since time.Time) (int, error)
}

// FloodService throttles repeated authentication failures. It is a
// best-effort counter over committed reads: under concurrent failures one
// extra attempt may slip through the threshold, which is acceptable.
type FloodService struct {
	repo   FloodRepo
	cfg    config.FloodConfig
	logger *observability.Logger
	now    func() time.Time
}

func NewFloodService(repo FloodRepo, cfg config.FloodConfig, logger *observability.Logger) *FloodService {
	return &FloodService{repo: repo, cfg: cfg, logger: logger, now: time.Now}
}

func (s *FloodService) RecordFailure(ctx context.Context, kind, identity string) error {
	return s.repo.InsertFloodEntry(ctx, kind, identity)
}

// IsLocked reports whether identity has reached the failure threshold for
// kind within the trailing window. It does not record anything itself.
func (s *FloodService) IsLocked(ctx context.Context, kind, identity string) (bool, error) {
	since := s.now().Add(-s.cfg.Window)
	count, err := s.repo.CountFloodSince(ctx, kind, identity, since)
	if err != nil {
		return false, err
	}
	if count >= s.cfg.MaxAttempts {
		s.logger.Warn("account locked by flood guard", map[string]any{
			"kind":     kind,
			"identity": identity,
			"attempts": count,
		})
		return true, nil
	}
	return false, nil
}
