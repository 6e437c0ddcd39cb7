package memory

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/report"
	"posbackoffice/backend/internal/store"
	"posbackoffice/backend/internal/xid"
)

// Store keeps every table in process memory. A unit of work runs against a
// private copy of the tables which replaces the live copy only on success, so
// readers never observe a partial write.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	branches      map[string]domain.Branch
	users         map[string]domain.UserAccount
	products      map[string]domain.Product
	variants      map[string]domain.ProductVariant
	addons        map[string]domain.Addon
	customers     map[string]domain.Customer
	customerCodes map[string]string
	stocks        map[string]domain.Stock
	movements     []domain.StockMovement
	transactions  map[string]domain.Transaction
	txNumbers     map[string]string
	items         map[string][]domain.TransactionItem
	itemAddons    map[string][]domain.TransactionItemAddon
	payments      map[string][]domain.TransactionPayment
	auditLogs     []domain.AuditLog
}

func newState() *state {
	return &state{
		branches:      make(map[string]domain.Branch),
		users:         make(map[string]domain.UserAccount),
		products:      make(map[string]domain.Product),
		variants:      make(map[string]domain.ProductVariant),
		addons:        make(map[string]domain.Addon),
		customers:     make(map[string]domain.Customer),
		customerCodes: make(map[string]string),
		stocks:        make(map[string]domain.Stock),
		movements:     make([]domain.StockMovement, 0, 64),
		transactions:  make(map[string]domain.Transaction),
		txNumbers:     make(map[string]string),
		items:         make(map[string][]domain.TransactionItem),
		itemAddons:    make(map[string][]domain.TransactionItemAddon),
		payments:      make(map[string][]domain.TransactionPayment),
		auditLogs:     make([]domain.AuditLog, 0, 128),
	}
}

func (s *state) clone() *state {
	return &state{
		branches:      maps.Clone(s.branches),
		users:         maps.Clone(s.users),
		products:      maps.Clone(s.products),
		variants:      maps.Clone(s.variants),
		addons:        maps.Clone(s.addons),
		customers:     maps.Clone(s.customers),
		customerCodes: maps.Clone(s.customerCodes),
		stocks:        maps.Clone(s.stocks),
		movements:     slices.Clone(s.movements),
		transactions:  maps.Clone(s.transactions),
		txNumbers:     maps.Clone(s.txNumbers),
		items:         cloneSliceMap(s.items),
		itemAddons:    cloneSliceMap(s.itemAddons),
		payments:      cloneSliceMap(s.payments),
		auditLogs:     slices.Clone(s.auditLogs),
	}
}

func cloneSliceMap[T any](src map[string][]T) map[string][]T {
	dst := make(map[string][]T, len(src))
	for k, v := range src {
		dst[k] = slices.Clone(v)
	}
	return dst
}

func New() *Store {
	return &Store{st: newState()}
}

const (
	SeedBranchID      = "00000000-0000-4000-8000-000000000001"
	SeedCoffeeID      = "00000000-0000-4000-8000-000000000101"
	SeedTeaID         = "00000000-0000-4000-8000-000000000102"
	SeedCroissantID   = "00000000-0000-4000-8000-000000000103"
	SeedLargeCoffeeID = "00000000-0000-4000-8000-000000000201"
	SeedExtraShotID   = "00000000-0000-4000-8000-000000000301"
	SeedBobaID        = "00000000-0000-4000-8000-000000000302"
	SeedStockQty      = 100
)

// NewSeeded returns a store with one branch, a small menu, stock for every
// product and dev user accounts. Passwords come from SEED_ADMIN_PASSWORD,
// SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD, falling back to dev
// defaults.
func NewSeeded() *Store {
	now := time.Now().UTC()
	st := newState()

	st.branches[SeedBranchID] = domain.Branch{
		ID: SeedBranchID, Code: "MAIN", Name: "Main Branch", Address: "Jl. Sudirman 1", IsActive: true, CreatedAt: now,
	}

	products := []domain.Product{
		{ID: SeedCoffeeID, SKU: "BEV-KOPI-SUSU", Name: "Kopi Susu", Unit: "cup", BasePrice: decimal.RequireFromString("9.00"), SellingPrice: decimal.RequireFromString("15.00"), MinStock: 10, HasVariants: true},
		{ID: SeedTeaID, SKU: "BEV-TEH-MANIS", Name: "Teh Manis", Unit: "cup", BasePrice: decimal.RequireFromString("3.00"), SellingPrice: decimal.RequireFromString("8.00"), MinStock: 10},
		{ID: SeedCroissantID, SKU: "BAK-CROISSANT", Name: "Butter Croissant", Unit: "pcs", BasePrice: decimal.RequireFromString("11.00"), SellingPrice: decimal.RequireFromString("18.50"), MinStock: 5},
	}
	for _, p := range products {
		p.IsActive = true
		p.CreatedAt = now
		p.UpdatedAt = now
		st.products[p.ID] = p
		st.stocks[stockKey(p.ID, SeedBranchID)] = domain.Stock{
			ProductID: p.ID, BranchID: SeedBranchID, Quantity: SeedStockQty, LastUpdated: now,
		}
	}

	st.variants[SeedLargeCoffeeID] = domain.ProductVariant{
		ID: SeedLargeCoffeeID, ProductID: SeedCoffeeID, SKU: "BEV-KOPI-SUSU-L", Name: "Large",
		PriceAdjustment: decimal.RequireFromString("3.00"), IsActive: true, CreatedAt: now,
	}

	for _, a := range []domain.Addon{
		{ID: SeedExtraShotID, Name: "Extra Shot", Price: decimal.RequireFromString("2.50")},
		{ID: SeedBobaID, Name: "Boba", Price: decimal.RequireFromString("4.00")},
	} {
		a.IsActive = true
		a.CreatedAt = now
		a.UpdatedAt = now
		st.addons[a.ID] = a
	}

	st.users = seedUsers(now)
	return &Store{st: st}
}

func seedUsers(now time.Time) map[string]domain.UserAccount {
	logger := zap.L().Named("memory-store")
	users := map[string]domain.UserAccount{}
	branchID := SeedBranchID
	for _, u := range []struct {
		username string
		envKey   string
		fallback string
		role     string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", domain.RoleAdmin},
		{"manager", "SEED_MANAGER_PASSWORD", "manager123", domain.RoleManager},
		{"cashier", "SEED_CASHIER_PASSWORD", "cashier123", domain.RoleCashier},
	} {
		password := os.Getenv(u.envKey)
		if password == "" {
			logger.Warn("using default dev credentials", zap.String("username", u.username), zap.String("env", u.envKey))
			password = u.fallback
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			ID:           xid.NewID(),
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         u.role,
			BranchID:     &branchID,
			IsActive:     true,
			CreatedAt:    now,
		}
	}
	return users
}

func stockKey(productID string, branchID string) string {
	return productID + "|" + branchID
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.st.branches {
		if strings.EqualFold(b.Code, branch.Code) {
			return nil, fmt.Errorf("%w: branch code %s already exists", store.ErrConflict, branch.Code)
		}
	}
	if branch.ID == "" {
		branch.ID = xid.NewID()
	}
	s.st.branches[branch.ID] = branch
	return &branch, nil
}

func (s *Store) GetBranch(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.st.branches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrBranchNotFound, id)
	}
	return &branch, nil
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Collect(maps.Values(s.st.branches))
	slices.SortFunc(out, func(a, b domain.Branch) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.PasswordHash == "" {
		return fmt.Errorf("%w: username and password are required", store.ErrInvalidInput)
	}
	if _, exists := s.st.users[username]; exists {
		return fmt.Errorf("%w: username %s already exists", store.ErrConflict, username)
	}
	user.Username = username
	if user.ID == "" {
		user.ID = xid.NewID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.st.users[username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.st.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUserNotFound, username)
	}
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Collect(maps.Values(s.st.users))
	slices.SortFunc(out, func(a, b domain.UserAccount) int { return strings.Compare(a.Username, b.Username) })
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.st.products {
		if p.SKU == product.SKU {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
		}
		if product.Barcode != nil && p.Barcode != nil && *p.Barcode == *product.Barcode {
			return nil, fmt.Errorf("%w: barcode %s already exists", store.ErrConflict, *product.Barcode)
		}
	}
	if product.ID == "" {
		product.ID = xid.NewID()
	}
	s.st.products[product.ID] = product
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.st.products[product.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, product.ID)
	}
	product.SKU = existing.SKU
	product.CreatedAt = existing.CreatedAt
	s.st.products[product.ID] = product
	return &product, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.st.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Collect(maps.Values(s.st.products))
	slices.SortFunc(out, func(a, b domain.Product) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.st.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) CreateVariant(_ context.Context, variant domain.ProductVariant) (*domain.ProductVariant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.st.products[variant.ProductID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, variant.ProductID)
	}
	for _, v := range s.st.variants {
		if v.SKU == variant.SKU {
			return nil, fmt.Errorf("%w: variant sku %s already exists", store.ErrConflict, variant.SKU)
		}
	}
	if variant.ID == "" {
		variant.ID = xid.NewID()
	}
	s.st.variants[variant.ID] = variant
	if !product.HasVariants {
		product.HasVariants = true
		product.UpdatedAt = variant.CreatedAt
		s.st.products[product.ID] = product
	}
	return &variant, nil
}

func (s *Store) ListVariants(_ context.Context, productID string) ([]domain.ProductVariant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ProductVariant, 0)
	for _, v := range s.st.variants {
		if v.ProductID == productID {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b domain.ProductVariant) int { return strings.Compare(a.SKU, b.SKU) })
	return out, nil
}

func (s *Store) GetVariantsByIDs(_ context.Context, ids []string) (map[string]domain.ProductVariant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.ProductVariant, len(ids))
	for _, id := range ids {
		if v, ok := s.st.variants[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (s *Store) CreateAddon(_ context.Context, addon domain.Addon) (*domain.Addon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addon.ID == "" {
		addon.ID = xid.NewID()
	}
	s.st.addons[addon.ID] = addon
	return &addon, nil
}

func (s *Store) UpdateAddon(_ context.Context, addon domain.Addon) (*domain.Addon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.st.addons[addon.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrAddonNotFound, addon.ID)
	}
	addon.CreatedAt = existing.CreatedAt
	s.st.addons[addon.ID] = addon
	return &addon, nil
}

func (s *Store) GetAddon(_ context.Context, id string) (*domain.Addon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addon, ok := s.st.addons[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrAddonNotFound, id)
	}
	return &addon, nil
}

func (s *Store) ListAddons(_ context.Context, includeInactive bool) ([]domain.Addon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Addon, 0, len(s.st.addons))
	for _, a := range s.st.addons {
		if !a.IsActive && !includeInactive {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b domain.Addon) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) GetAddonsByIDs(_ context.Context, ids []string) (map[string]domain.Addon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Addon, len(ids))
	for _, id := range ids {
		if a, ok := s.st.addons[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.st.customerCodes[customer.CustomerCode]; exists {
		return nil, fmt.Errorf("%w: customer code %s already exists", store.ErrConflict, customer.CustomerCode)
	}
	if customer.ID == "" {
		customer.ID = xid.NewID()
	}
	s.st.customers[customer.ID] = customer
	s.st.customerCodes[customer.CustomerCode] = customer.ID
	return &customer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.st.customers[customer.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrCustomerNotFound, customer.ID)
	}
	// Spend and points only move through completed transactions.
	customer.CustomerCode = existing.CustomerCode
	customer.LoyaltyPoints = existing.LoyaltyPoints
	customer.TotalSpent = existing.TotalSpent
	customer.CreatedAt = existing.CreatedAt
	s.st.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.st.customers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrCustomerNotFound, id)
	}
	return &customer, nil
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Collect(maps.Values(s.st.customers))
	slices.SortFunc(out, func(a, b domain.Customer) int { return strings.Compare(a.CustomerCode, b.CustomerCode) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetStock(_ context.Context, productID string, branchID string) (*domain.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stock, ok := s.st.stocks[stockKey(productID, branchID)]
	if !ok {
		return nil, fmt.Errorf("%w: product %s at branch %s", store.ErrStockRecordNotFound, productID, branchID)
	}
	return &stock, nil
}

func (s *Store) ListStock(_ context.Context, branchID string) ([]domain.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Stock, 0)
	for _, stock := range s.st.stocks {
		if branchID != "" && stock.BranchID != branchID {
			continue
		}
		out = append(out, stock)
	}
	slices.SortFunc(out, func(a, b domain.Stock) int {
		if c := strings.Compare(a.BranchID, b.BranchID); c != 0 {
			return c
		}
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return out, nil
}

func (s *Store) ListStockMovements(_ context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockMovement, 0)
	for i := len(s.st.movements) - 1; i >= 0; i-- {
		m := s.st.movements[i]
		if filter.ProductID != "" && m.ProductID != filter.ProductID {
			continue
		}
		if filter.BranchID != "" && m.BranchID != filter.BranchID {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.st.assemble(id)
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	headers := make([]domain.Transaction, 0)
	for _, txn := range s.st.transactions {
		if filter.BranchID != "" && txn.BranchID != filter.BranchID {
			continue
		}
		if filter.Status != "" && txn.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && txn.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !txn.CreatedAt.Before(filter.To) {
			continue
		}
		headers = append(headers, txn)
	}
	slices.SortFunc(headers, func(a, b domain.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.TransactionNumber, a.TransactionNumber)
	})
	if filter.Limit > 0 && len(headers) > filter.Limit {
		headers = headers[:filter.Limit]
	}

	out := make([]domain.Transaction, 0, len(headers))
	for _, h := range headers {
		full, err := s.st.assemble(h.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *full)
	}
	return out, nil
}

// SalesSummary folds COMPLETED transactions whose completion time falls in
// [from, to).
func (s *Store) SalesSummary(_ context.Context, branchID string, from time.Time, to time.Time) (*domain.SalesSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	completed := make([]domain.Transaction, 0)
	for _, txn := range s.st.transactions {
		if txn.BranchID != branchID || txn.Status != domain.TxStatusCompleted || txn.CompletedAt == nil {
			continue
		}
		if txn.CompletedAt.Before(from) || !txn.CompletedAt.Before(to) {
			continue
		}
		full, err := s.st.assemble(txn.ID)
		if err != nil {
			return nil, err
		}
		completed = append(completed, *full)
	}
	summary := report.Summarize(branchID, from, to, completed, time.Time{})
	return &summary, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.st.auditLogs = append(s.st.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0)
	for i := len(s.st.auditLogs) - 1; i >= 0; i-- {
		entry := s.st.auditLogs[i]
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// RowCounts reports the number of rows in each transactional table.
func (s *Store) RowCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[string]int{
		"transactions":            len(s.st.transactions),
		"transaction_items":       0,
		"transaction_item_addons": 0,
		"transaction_payments":    0,
		"stock_movements":         len(s.st.movements),
		"customers":               len(s.st.customers),
	}
	for _, items := range s.st.items {
		counts["transaction_items"] += len(items)
	}
	for _, addons := range s.st.itemAddons {
		counts["transaction_item_addons"] += len(addons)
	}
	for _, payments := range s.st.payments {
		counts["transaction_payments"] += len(payments)
	}
	return counts
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("unit of work aborted: %w", err)
	}
	s.st = work
	return nil
}

func (st *state) assemble(id string) (*domain.Transaction, error) {
	txn, ok := st.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTransactionNotFound, id)
	}
	items := slices.Clone(st.items[id])
	for i := range items {
		items[i].Addons = slices.Clone(st.itemAddons[items[i].ID])
		if items[i].Addons == nil {
			items[i].Addons = []domain.TransactionItemAddon{}
		}
	}
	if items == nil {
		items = []domain.TransactionItem{}
	}
	payments := slices.Clone(st.payments[id])
	if payments == nil {
		payments = []domain.TransactionPayment{}
	}
	txn.Items = items
	txn.Payments = payments
	return &txn, nil
}

// memTx writes to a private copy of the tables. The owning Store holds its
// write lock for the lifetime of the memTx.
type memTx struct {
	st *state
}

func (t *memTx) LockStock(ctx context.Context, productID string, branchID string) (*domain.Stock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stock, ok := t.st.stocks[stockKey(productID, branchID)]
	if !ok {
		return nil, fmt.Errorf("%w: product %s at branch %s", store.ErrStockRecordNotFound, productID, branchID)
	}
	return &stock, nil
}

func (t *memTx) LockOrCreateStock(ctx context.Context, productID string, branchID string, at time.Time) (*domain.Stock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := t.st.products[productID]; !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, productID)
	}
	if _, ok := t.st.branches[branchID]; !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrBranchNotFound, branchID)
	}
	key := stockKey(productID, branchID)
	stock, ok := t.st.stocks[key]
	if !ok {
		stock = domain.Stock{ProductID: productID, BranchID: branchID, LastUpdated: at}
		t.st.stocks[key] = stock
	}
	return &stock, nil
}

func (t *memTx) UpdateStock(ctx context.Context, stock domain.Stock) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := stockKey(stock.ProductID, stock.BranchID)
	if _, ok := t.st.stocks[key]; !ok {
		return fmt.Errorf("%w: product %s at branch %s", store.ErrStockRecordNotFound, stock.ProductID, stock.BranchID)
	}
	if stock.Quantity < 0 || stock.ReservedQuantity < 0 || stock.ReservedQuantity > stock.Quantity {
		return fmt.Errorf("%w: stock row would leave quantity %d reserved %d",
			store.ErrInvalidState, stock.Quantity, stock.ReservedQuantity)
	}
	t.st.stocks[key] = stock
	return nil
}

func (t *memTx) ReserveStock(ctx context.Context, productID string, branchID string, qty int, at time.Time) (*domain.Stock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := stockKey(productID, branchID)
	stock, ok := t.st.stocks[key]
	if !ok {
		return nil, fmt.Errorf("%w: product %s at branch %s", store.ErrStockRecordNotFound, productID, branchID)
	}
	if stock.Available() < qty {
		return nil, &store.StockShortageError{
			ProductID: productID,
			BranchID:  branchID,
			Available: stock.Available(),
			Requested: qty,
			Err:       store.ErrInsufficientAvailableStock,
		}
	}
	stock.ReservedQuantity += qty
	stock.LastUpdated = at
	t.st.stocks[key] = stock
	return &stock, nil
}

func (t *memTx) InsertStockMovement(ctx context.Context, movement domain.StockMovement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.st.movements = append(t.st.movements, movement)
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, exists := t.st.txNumbers[txn.TransactionNumber]; exists {
		return fmt.Errorf("%w: transaction number %s already exists", store.ErrConflict, txn.TransactionNumber)
	}
	if _, exists := t.st.transactions[txn.ID]; exists {
		return fmt.Errorf("%w: transaction id %s already exists", store.ErrConflict, txn.ID)
	}
	txn.Items = nil
	txn.Payments = nil
	t.st.transactions[txn.ID] = txn
	t.st.txNumbers[txn.TransactionNumber] = txn.ID
	return nil
}

func (t *memTx) InsertTransactionItem(ctx context.Context, item domain.TransactionItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.st.transactions[item.TransactionID]; !ok {
		return fmt.Errorf("%w: %s", store.ErrTransactionNotFound, item.TransactionID)
	}
	item.Addons = nil
	t.st.items[item.TransactionID] = append(t.st.items[item.TransactionID], item)
	return nil
}

func (t *memTx) InsertTransactionItemAddon(ctx context.Context, addon domain.TransactionItemAddon) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.st.addons[addon.AddonID]; !ok {
		return fmt.Errorf("%w: %s", store.ErrAddonNotFound, addon.AddonID)
	}
	t.st.itemAddons[addon.TransactionItemID] = append(t.st.itemAddons[addon.TransactionItemID], addon)
	return nil
}

func (t *memTx) InsertTransactionPayment(ctx context.Context, payment domain.TransactionPayment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.st.transactions[payment.TransactionID]; !ok {
		return fmt.Errorf("%w: %s", store.ErrTransactionNotFound, payment.TransactionID)
	}
	t.st.payments[payment.TransactionID] = append(t.st.payments[payment.TransactionID], payment)
	return nil
}

func (t *memTx) LockTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.st.assemble(id)
}

func (t *memTx) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus, at time.Time, completedAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn, ok := t.st.transactions[id]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrTransactionNotFound, id)
	}
	txn.Status = status
	txn.UpdatedAt = at
	if completedAt != nil {
		ts := *completedAt
		txn.CompletedAt = &ts
	}
	t.st.transactions[id] = txn
	return nil
}

func (t *memTx) AddCustomerSpend(ctx context.Context, customerID string, amount decimal.Decimal, points int, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	customer, ok := t.st.customers[customerID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrCustomerNotFound, customerID)
	}
	if amount.IsNegative() || points < 0 {
		return fmt.Errorf("%w: customer spend and points only grow", store.ErrInvalidInput)
	}
	customer.TotalSpent = customer.TotalSpent.Add(amount)
	customer.LoyaltyPoints += points
	customer.UpdatedAt = at
	t.st.customers[customerID] = customer
	return nil
}
