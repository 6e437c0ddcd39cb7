package cache

import (
	"context"
	"time"

	"posbackoffice/backend/internal/domain"
)

type ReportCache interface {
	GetSalesSummary(ctx context.Context, key string) (*domain.SalesSummary, bool, error)
	SetSalesSummary(ctx context.Context, key string, value *domain.SalesSummary, ttl time.Duration) error
}

type NoopReportCache struct{}

func (NoopReportCache) GetSalesSummary(_ context.Context, _ string) (*domain.SalesSummary, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) SetSalesSummary(_ context.Context, _ string, _ *domain.SalesSummary, _ time.Duration) error {
	return nil
}
