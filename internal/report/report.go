// Package report builds read-only rollups over committed transactions.
package report

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"posbackoffice/backend/internal/cache"
	"posbackoffice/backend/internal/domain"
)

// SalesSource computes a sales summary from the store. Implementations
// aggregate COMPLETED transactions by completion time in [from, to).
type SalesSource interface {
	SalesSummary(ctx context.Context, branchID string, from time.Time, to time.Time) (*domain.SalesSummary, error)
}

// settleWindow is how long after its end a range is still treated as open.
// Completions are stamped before their unit of work commits.
const settleWindow = time.Minute

type Engine struct {
	repo     SalesSource
	cache    cache.ReportCache
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewEngine(repo SalesSource, cacheStore cache.ReportCache, cacheTTL time.Duration, logger *zap.Logger) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		repo:     repo,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// SalesSummary totals COMPLETED transactions completed in [from, to). Only
// closed ranges are cached; a range ending after now minus settleWindow is
// always read from the store. Cache failures are logged and never fail the
// report.
func (e *Engine) SalesSummary(ctx context.Context, branchID string, from time.Time, to time.Time) (*domain.SalesSummary, error) {
	now := e.now().UTC()
	cacheable := !to.After(now.Add(-settleWindow))
	key := buildCacheKey(branchID, from, to)
	if cacheable {
		cached, ok, err := e.cache.GetSalesSummary(ctx, key)
		if err != nil {
			e.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
		}
		if err == nil && ok {
			return cached, nil
		}
	}

	summary, err := e.repo.SalesSummary(ctx, branchID, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarize completed transactions: %w", err)
	}
	summary.BranchID, summary.From, summary.To = branchID, from, to
	summary.GeneratedAt = now
	if summary.ByPayment == nil {
		summary.ByPayment = []domain.SalesSummaryPayment{}
	}

	if cacheable {
		if err := e.cache.SetSalesSummary(ctx, key, summary, e.cacheTTL); err != nil {
			e.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return summary, nil
}

// Summarize folds transactions into a sales summary. Transactions that are
// not COMPLETED are ignored.
func Summarize(branchID string, from time.Time, to time.Time, txns []domain.Transaction, generatedAt time.Time) domain.SalesSummary {
	summary := domain.SalesSummary{
		BranchID:       branchID,
		From:           from,
		To:             to,
		Subtotal:       decimal.Zero,
		DiscountAmount: decimal.Zero,
		TaxAmount:      decimal.Zero,
		TotalAmount:    decimal.Zero,
		ByPayment:      []domain.SalesSummaryPayment{},
		GeneratedAt:    generatedAt,
	}

	byMethod := map[string]*domain.SalesSummaryPayment{}
	for _, txn := range txns {
		if txn.Status != domain.TxStatusCompleted {
			continue
		}
		summary.Transactions++
		summary.Subtotal = summary.Subtotal.Add(txn.Subtotal)
		summary.DiscountAmount = summary.DiscountAmount.Add(txn.DiscountAmount)
		summary.TaxAmount = summary.TaxAmount.Add(txn.TaxAmount)
		summary.TotalAmount = summary.TotalAmount.Add(txn.TotalAmount)
		for _, item := range txn.Items {
			summary.ItemsSold += int64(item.Quantity)
		}
		for _, p := range txn.Payments {
			row, ok := byMethod[p.PaymentMethod]
			if !ok {
				row = &domain.SalesSummaryPayment{PaymentMethod: p.PaymentMethod, Amount: decimal.Zero}
				byMethod[p.PaymentMethod] = row
			}
			row.Payments++
			row.Amount = row.Amount.Add(p.Amount)
		}
	}

	for _, row := range byMethod {
		summary.ByPayment = append(summary.ByPayment, *row)
	}
	sort.Slice(summary.ByPayment, func(i, j int) bool {
		return summary.ByPayment[i].PaymentMethod < summary.ByPayment[j].PaymentMethod
	})
	return summary
}

func buildCacheKey(branchID string, from time.Time, to time.Time) string {
	raw := fmt.Sprintf("sales|%s|%d|%d", branchID, from.UTC().Unix(), to.UTC().Unix())
	sum := sha1.Sum([]byte(raw))
	return "sales:" + hex.EncodeToString(sum[:])
}
