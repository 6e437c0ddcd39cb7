package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/ledger"
	"posbackoffice/backend/internal/report"
	"posbackoffice/backend/internal/store"
	"posbackoffice/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// TxNumberRetries bounds how many times a create is attempted when the
	// generated number collides.
	TxNumberRetries      int
	LoyaltySpendPerPoint int
	Now                  func() time.Time
}

type Service struct {
	repo          store.Repository
	ledger        *ledger.Ledger
	reports       *report.Engine
	logger        *zap.Logger
	retries       int
	spendPerPoint decimal.Decimal
	now           func() time.Time
}

func New(repo store.Repository, stockLedger *ledger.Ledger, reports *report.Engine, logger *zap.Logger, opts Options) *Service {
	if stockLedger == nil {
		stockLedger = ledger.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if reports == nil {
		reports = report.NewEngine(repo, nil, 0, logger)
	}
	if opts.TxNumberRetries < 1 {
		opts.TxNumberRetries = 3
	}
	if opts.LoyaltySpendPerPoint < 1 {
		opts.LoyaltySpendPerPoint = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:          repo,
		ledger:        stockLedger,
		reports:       reports,
		logger:        logger.Named("service"),
		retries:       opts.TxNumberRetries,
		spendPerPoint: decimal.NewFromInt(int64(opts.LoyaltySpendPerPoint)),
		now:           opts.Now,
	}
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) CreateBranch(ctx context.Context, req domain.BranchCreateRequest) (domain.Branch, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	name := strings.TrimSpace(req.Name)
	if code == "" || name == "" {
		return domain.Branch{}, fmt.Errorf("%w: branch code and name are required", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateBranch(ctx, domain.Branch{
		ID:        xid.NewID(),
		Code:      code,
		Name:      name,
		Address:   strings.TrimSpace(req.Address),
		IsActive:  true,
		CreatedAt: s.clock(),
	})
	if err != nil {
		return domain.Branch{}, err
	}

	s.logAudit(ctx, created.ID, "branch_create", "branch", created.ID, "code="+created.Code)
	return *created, nil
}

func (s *Service) GetBranch(ctx context.Context, id string) (domain.Branch, error) {
	branch, err := s.repo.GetBranch(ctx, id)
	if err != nil {
		return domain.Branch{}, err
	}
	return *branch, nil
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	return s.repo.ListBranches(ctx)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.Unit == "" {
		req.Unit = "pcs"
	}

	if req.SKU == "" || req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: sku and name are required", store.ErrInvalidInput)
	}
	if err := checkMoney("base_price", req.BasePrice); err != nil {
		return domain.Product{}, err
	}
	if err := checkMoney("selling_price", req.SellingPrice); err != nil {
		return domain.Product{}, err
	}
	if req.MinStock < 0 {
		return domain.Product{}, fmt.Errorf("%w: min_stock must not be negative", store.ErrInvalidInput)
	}

	now := s.clock()
	product := domain.Product{
		ID:            xid.NewID(),
		SKU:           req.SKU,
		Name:          req.Name,
		Unit:          req.Unit,
		BasePrice:     req.BasePrice,
		SellingPrice:  req.SellingPrice,
		MinStock:      req.MinStock,
		HasVariants:   req.HasVariants,
		IsRawMaterial: req.IsRawMaterial,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if barcode := strings.TrimSpace(req.Barcode); barcode != "" {
		product.Barcode = &barcode
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "", "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%s", created.SKU, created.SellingPrice))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name must not be empty", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.Unit != nil {
		unit := strings.TrimSpace(*req.Unit)
		if unit == "" {
			return domain.Product{}, fmt.Errorf("%w: unit must not be empty", store.ErrInvalidInput)
		}
		updated.Unit = unit
	}
	if req.BasePrice != nil {
		if err := checkMoney("base_price", *req.BasePrice); err != nil {
			return domain.Product{}, err
		}
		updated.BasePrice = *req.BasePrice
	}
	if req.SellingPrice != nil {
		if err := checkMoney("selling_price", *req.SellingPrice); err != nil {
			return domain.Product{}, err
		}
		updated.SellingPrice = *req.SellingPrice
	}
	if req.MinStock != nil {
		if *req.MinStock < 0 {
			return domain.Product{}, fmt.Errorf("%w: min_stock must not be negative", store.ErrInvalidInput)
		}
		updated.MinStock = *req.MinStock
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}
	updated.UpdatedAt = s.clock()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "", "product_update", "product", saved.ID, fmt.Sprintf("active=%t,price=%s", saved.IsActive, saved.SellingPrice))
	return *saved, nil
}

func (s *Service) CreateVariant(ctx context.Context, productID string, req domain.VariantCreateRequest) (domain.ProductVariant, error) {
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" {
		return domain.ProductVariant{}, fmt.Errorf("%w: variant sku and name are required", store.ErrInvalidInput)
	}
	// Adjustments may be negative; the resulting unit price is checked at sale time.
	if !req.PriceAdjustment.Equal(req.PriceAdjustment.Round(2)) {
		return domain.ProductVariant{}, fmt.Errorf("%w: price_adjustment has more than 2 decimal places", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateVariant(ctx, domain.ProductVariant{
		ID:              xid.NewID(),
		ProductID:       productID,
		SKU:             req.SKU,
		Name:            req.Name,
		PriceAdjustment: req.PriceAdjustment,
		IsActive:        true,
		CreatedAt:       s.clock(),
	})
	if err != nil {
		return domain.ProductVariant{}, err
	}

	s.logAudit(ctx, "", "variant_create", "product_variant", created.ID, "product="+productID)
	return *created, nil
}

func (s *Service) ListVariants(ctx context.Context, productID string) ([]domain.ProductVariant, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListVariants(ctx, productID)
}

func (s *Service) ListAddons(ctx context.Context, includeInactive bool) ([]domain.Addon, error) {
	return s.repo.ListAddons(ctx, includeInactive)
}

func (s *Service) CreateAddon(ctx context.Context, req domain.AddonCreateRequest) (domain.Addon, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Addon{}, fmt.Errorf("%w: addon name is required", store.ErrInvalidInput)
	}
	if err := checkMoney("price", req.Price); err != nil {
		return domain.Addon{}, err
	}

	now := s.clock()
	created, err := s.repo.CreateAddon(ctx, domain.Addon{
		ID:        xid.NewID(),
		Name:      name,
		Price:     req.Price,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Addon{}, err
	}

	s.logAudit(ctx, "", "addon_create", "addon", created.ID, fmt.Sprintf("name=%s,price=%s", created.Name, created.Price))
	return *created, nil
}

// UpdateAddon edits an addon. Addons are never deleted; IsActive=false hides
// them from new sales while keeping historical line items valid.
func (s *Service) UpdateAddon(ctx context.Context, id string, req domain.AddonUpdateRequest) (domain.Addon, error) {
	existing, err := s.repo.GetAddon(ctx, id)
	if err != nil {
		return domain.Addon{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Addon{}, fmt.Errorf("%w: addon name must not be empty", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.Price != nil {
		if err := checkMoney("price", *req.Price); err != nil {
			return domain.Addon{}, err
		}
		updated.Price = *req.Price
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}
	updated.UpdatedAt = s.clock()

	saved, err := s.repo.UpdateAddon(ctx, updated)
	if err != nil {
		return domain.Addon{}, err
	}

	s.logAudit(ctx, "", "addon_update", "addon", saved.ID, fmt.Sprintf("active=%t,price=%s", saved.IsActive, saved.Price))
	return *saved, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name is required", store.ErrInvalidInput)
	}
	membership, err := normalizeMembership(req.MembershipType)
	if err != nil {
		return domain.Customer{}, err
	}

	for attempt := 1; ; attempt++ {
		now := s.clock()
		created, err := s.repo.CreateCustomer(ctx, domain.Customer{
			ID:             xid.NewID(),
			CustomerCode:   xid.CustomerCode(now),
			Name:           name,
			Phone:          strings.TrimSpace(req.Phone),
			Email:          strings.ToLower(strings.TrimSpace(req.Email)),
			MembershipType: membership,
			TotalSpent:     decimal.Zero,
			IsActive:       true,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if errors.Is(err, store.ErrConflict) && attempt < s.retries {
			s.logger.Warn("customer code collision, retrying", zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return domain.Customer{}, err
		}

		s.logAudit(ctx, "", "customer_create", "customer", created.ID, "code="+created.CustomerCode)
		return *created, nil
	}
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	existing, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, fmt.Errorf("%w: customer name must not be empty", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Email != nil {
		updated.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.MembershipType != nil {
		membership, err := normalizeMembership(*req.MembershipType)
		if err != nil {
			return domain.Customer{}, err
		}
		updated.MembershipType = membership
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}
	updated.UpdatedAt = s.clock()

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "", "customer_update", "customer", saved.ID, "membership="+saved.MembershipType)
	return *saved, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, clampLimit(limit))
}

func (s *Service) GetStock(ctx context.Context, productID string, branchID string) (domain.Stock, error) {
	stock, err := s.ledger.Get(ctx, s.repo, productID, branchID)
	if err != nil {
		return domain.Stock{}, err
	}
	return *stock, nil
}

func (s *Service) ListStock(ctx context.Context, branchID string) ([]domain.Stock, error) {
	if _, err := s.repo.GetBranch(ctx, branchID); err != nil {
		return nil, err
	}
	return s.repo.ListStock(ctx, branchID)
}

// ApplyStockMovement records an explicit IN, OUT, ADJUSTMENT or TRANSFER.
// Both legs of a transfer commit in the same unit of work.
func (s *Service) ApplyStockMovement(ctx context.Context, req domain.StockMovementRequest) (domain.StockMovementResponse, error) {
	req.MovementType = domain.MovementType(strings.ToUpper(strings.TrimSpace(string(req.MovementType))))
	if !req.MovementType.Valid() {
		return domain.StockMovementResponse{}, fmt.Errorf("%w: unknown movement type %q", store.ErrInvalidInput, req.MovementType)
	}
	if req.Quantity > maxQuantity {
		return domain.StockMovementResponse{}, fmt.Errorf("%w: quantity exceeds %d", store.ErrInvalidInput, maxQuantity)
	}
	if actor, ok := ActorFromContext(ctx); ok && req.UserID == "" {
		req.UserID = actor.UserID
	}

	var result ledger.Result
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		result, err = s.ledger.ApplyMovement(ctx, tx, ledger.Movement{
			ProductID:           req.ProductID,
			BranchID:            req.BranchID,
			DestinationBranchID: req.DestinationBranchID,
			Type:                req.MovementType,
			Quantity:            req.Quantity,
			UserID:              req.UserID,
			Reference:           strings.TrimSpace(req.Reference),
			Notes:               strings.TrimSpace(req.Notes),
		})
		return err
	})
	if err != nil {
		return domain.StockMovementResponse{}, err
	}

	s.logAudit(ctx, req.BranchID, "stock_movement", "stock", req.ProductID,
		fmt.Sprintf("type=%s,qty=%d,destination=%s", req.MovementType, req.Quantity, req.DestinationBranchID))
	return domain.StockMovementResponse{Movements: result.Movements, Stocks: result.Stocks}, nil
}

func (s *Service) ListStockMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	filter.Limit = clampLimit(filter.Limit)
	return s.repo.ListStockMovements(ctx, filter)
}

func (s *Service) SalesSummary(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.SalesSummary, error) {
	if !to.After(from) {
		return domain.SalesSummary{}, fmt.Errorf("%w: report range end must be after start", store.ErrInvalidInput)
	}
	if _, err := s.repo.GetBranch(ctx, branchID); err != nil {
		return domain.SalesSummary{}, err
	}
	summary, err := s.reports.SalesSummary(ctx, branchID, from, to)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	return *summary, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return nil, fmt.Errorf("%w: audit range end must be after start", store.ErrInvalidInput)
	}
	return s.repo.ListAuditLogs(ctx, branchID, from, to, clampLimit(limit))
}

// logAudit is best effort: a failed write is logged and never fails the
// operation that triggered it.
func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Username: "system", Role: "system"}
	}
	if branchID == "" {
		branchID = actor.BranchID
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.NewID(),
		BranchID:   branchID,
		UserID:     actor.UserID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.clock(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

func normalizeMembership(value string) (string, error) {
	membership := strings.ToUpper(strings.TrimSpace(value))
	switch membership {
	case "":
		return domain.MembershipRegular, nil
	case domain.MembershipRegular, domain.MembershipSilver, domain.MembershipGold:
		return membership, nil
	default:
		return "", fmt.Errorf("%w: unknown membership type %q", store.ErrInvalidInput, value)
	}
}

// checkMoney rejects negative amounts and amounts finer than cents.
// Bounds of the INTEGER quantity and NUMERIC(14,2) money columns.
const maxQuantity = math.MaxInt32

var maxMoney = decimal.New(1, 12)

func checkMoney(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s must not be negative", store.ErrInvalidInput, field)
	}
	if amount.GreaterThanOrEqual(maxMoney) {
		return fmt.Errorf("%w: %s must be below %s", store.ErrInvalidInput, field, maxMoney.String())
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: %s has more than 2 decimal places", store.ErrInvalidInput, field)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
