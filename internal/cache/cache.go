package cache

import (
	"context"
	"time"

	"minimercado/backend/internal/domain"
)

// ReportCache stores computed sales summaries. Keys embed a per-market
// version number; Invalidate bumps the version so stale entries simply stop
// being addressed and expire by TTL.
type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.SalesSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.SalesSummary, ttl time.Duration) error
	Version(ctx context.Context, marketID string) (int64, error)
	Invalidate(ctx context.Context, marketID string) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.SalesSummary, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.SalesSummary, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Version(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (NoopReportCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
