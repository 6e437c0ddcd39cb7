package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/store"
	"posbackoffice/backend/internal/xid"
)

const (
	branchColumns   = `id, code, name, address, is_active, created_at`
	userColumns     = `id, username, password_hash, role, branch_id, is_active, created_at`
	productColumns  = `id, sku, barcode, name, unit, base_price, selling_price, min_stock, has_variants, is_raw_material, is_active, created_at, updated_at`
	variantColumns  = `id, product_id, sku, name, price_adjustment, is_active, created_at`
	addonColumns    = `id, name, price, is_active, created_at, updated_at`
	customerColumns = `id, customer_code, name, phone, email, membership_type, loyalty_points, total_spent, is_active, created_at, updated_at`
	stockColumns    = `product_id, branch_id, quantity, reserved_quantity, last_updated`
	movementColumns = `id, product_id, branch_id, movement_type, quantity, reference, notes, user_id, created_at`
	txnColumns      = `id, transaction_number, branch_id, customer_id, user_id, subtotal, discount_amount, tax_amount, total_amount, status, notes, created_at, updated_at, completed_at`
	itemColumns     = `id, transaction_id, line_no, product_id, variant_id, quantity, unit_price, discount_amount, total_amount, notes`
	itemAddonCols   = `id, transaction_item_id, addon_id, quantity, unit_price, total_price`
	paymentColumns  = `id, transaction_id, payment_method, amount, reference_number, created_at`
	auditColumns    = `id, branch_id, user_id, action, entity_type, entity_id, detail, created_at`
)

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string, maxOpenConns int) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	if maxOpenConns < 1 {
		maxOpenConns = 30
	}
	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if branch.ID == "" {
		branch.ID = xid.NewID()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO branches (id, code, name, address, is_active, created_at)
		VALUES (:id, :code, :name, :address, :is_active, :created_at)
	`, branch)
	if err != nil {
		return nil, mapWriteError(err, "branch code "+branch.Code)
	}
	return &branch, nil
}

func (s *Store) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	if !isUUID(id) {
		return nil, fmt.Errorf("%w: %s", store.ErrBranchNotFound, id)
	}
	var branch domain.Branch
	err := s.db.GetContext(ctx, &branch, `SELECT `+branchColumns+` FROM branches WHERE id = $1`, id)
	if err != nil {
		return nil, mapReadError(err, store.ErrBranchNotFound, id)
	}
	return &branch, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	branches := make([]domain.Branch, 0, 8)
	if err := s.db.SelectContext(ctx, &branches, `SELECT `+branchColumns+` FROM branches ORDER BY code`); err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || user.PasswordHash == "" {
		return fmt.Errorf("%w: username and password are required", store.ErrInvalidInput)
	}
	if user.ID == "" {
		user.ID = xid.NewID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, branch_id, is_active, created_at)
		VALUES (:id, :username, :password_hash, :role, :branch_id, :is_active, :created_at)
	`, user)
	if err != nil {
		return mapWriteError(err, "username "+user.Username)
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE username = $1`,
		strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		return nil, mapReadError(err, store.ErrUserNotFound, username)
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	if err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY username`); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.NewID()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (:id, :sku, :barcode, :name, :unit, :base_price, :selling_price, :min_stock,
			:has_variants, :is_raw_material, :is_active, :created_at, :updated_at)
	`, product)
	if err != nil {
		return nil, mapWriteError(err, "sku "+product.SKU)
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if !isUUID(product.ID) {
		return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, product.ID)
	}
	rows, err := s.db.NamedQueryContext(ctx, `
		UPDATE products
		SET name = :name, unit = :unit, base_price = :base_price, selling_price = :selling_price,
			min_stock = :min_stock, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id
		RETURNING `+productColumns, product)
	if err != nil {
		return nil, mapWriteError(err, "product "+product.ID)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, product.ID)
	}
	var updated domain.Product
	if err := rows.StructScan(&updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if !isUUID(id) {
		return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
	}
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		return nil, mapReadError(err, store.ErrProductNotFound, id)
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 64)
	if err := s.db.SelectContext(ctx, &products, `SELECT `+productColumns+` FROM products ORDER BY name`); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	var products []domain.Product
	if err := selectIn(ctx, s.db, &products, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func (s *Store) CreateVariant(ctx context.Context, variant domain.ProductVariant) (*domain.ProductVariant, error) {
	if !isUUID(variant.ProductID) {
		return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, variant.ProductID)
	}
	if variant.ID == "" {
		variant.ID = xid.NewID()
	}
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO product_variants (`+variantColumns+`)
			VALUES (:id, :product_id, :sku, :name, :price_adjustment, :is_active, :created_at)
		`, variant); err != nil {
			return mapWriteError(err, "variant sku "+variant.SKU)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE products SET has_variants = true, updated_at = $2 WHERE id = $1 AND has_variants = false
		`, variant.ProductID, variant.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &variant, nil
}

func (s *Store) ListVariants(ctx context.Context, productID string) ([]domain.ProductVariant, error) {
	variants := make([]domain.ProductVariant, 0, 8)
	if !isUUID(productID) {
		return variants, nil
	}
	err := s.db.SelectContext(ctx, &variants, `
		SELECT `+variantColumns+` FROM product_variants WHERE product_id = $1 ORDER BY sku
	`, productID)
	if err != nil {
		return nil, err
	}
	return variants, nil
}

func (s *Store) GetVariantsByIDs(ctx context.Context, ids []string) (map[string]domain.ProductVariant, error) {
	var variants []domain.ProductVariant
	if err := selectIn(ctx, s.db, &variants, `SELECT `+variantColumns+` FROM product_variants WHERE id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	out := make(map[string]domain.ProductVariant, len(variants))
	for _, v := range variants {
		out[v.ID] = v
	}
	return out, nil
}

func (s *Store) CreateAddon(ctx context.Context, addon domain.Addon) (*domain.Addon, error) {
	if addon.ID == "" {
		addon.ID = xid.NewID()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO addons (`+addonColumns+`)
		VALUES (:id, :name, :price, :is_active, :created_at, :updated_at)
	`, addon)
	if err != nil {
		return nil, mapWriteError(err, "addon "+addon.Name)
	}
	return &addon, nil
}

func (s *Store) UpdateAddon(ctx context.Context, addon domain.Addon) (*domain.Addon, error) {
	if !isUUID(addon.ID) {
		return nil, fmt.Errorf("%w: %s", store.ErrAddonNotFound, addon.ID)
	}
	var updated domain.Addon
	err := s.db.GetContext(ctx, &updated, `
		UPDATE addons SET name = $2, price = $3, is_active = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+addonColumns,
		addon.ID, addon.Name, addon.Price, addon.IsActive, addon.UpdatedAt)
	if err != nil {
		return nil, mapReadError(err, store.ErrAddonNotFound, addon.ID)
	}
	return &updated, nil
}

func (s *Store) GetAddon(ctx context.Context, id string) (*domain.Addon, error) {
	if !isUUID(id) {
		return nil, fmt.Errorf("%w: %s", store.ErrAddonNotFound, id)
	}
	var addon domain.Addon
	err := s.db.GetContext(ctx, &addon, `SELECT `+addonColumns+` FROM addons WHERE id = $1`, id)
	if err != nil {
		return nil, mapReadError(err, store.ErrAddonNotFound, id)
	}
	return &addon, nil
}

func (s *Store) ListAddons(ctx context.Context, includeInactive bool) ([]domain.Addon, error) {
	addons := make([]domain.Addon, 0, 16)
	err := s.db.SelectContext(ctx, &addons, `
		SELECT `+addonColumns+` FROM addons WHERE is_active OR $1 ORDER BY name
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	return addons, nil
}

func (s *Store) GetAddonsByIDs(ctx context.Context, ids []string) (map[string]domain.Addon, error) {
	var addons []domain.Addon
	if err := selectIn(ctx, s.db, &addons, `SELECT `+addonColumns+` FROM addons WHERE id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	out := make(map[string]domain.Addon, len(addons))
	for _, a := range addons {
		out[a.ID] = a
	}
	return out, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.NewID()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES (:id, :customer_code, :name, :phone, :email, :membership_type, :loyalty_points,
			:total_spent, :is_active, :created_at, :updated_at)
	`, customer)
	if err != nil {
		return nil, mapWriteError(err, "customer code "+customer.CustomerCode)
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if !isUUID(customer.ID) {
		return nil, fmt.Errorf("%w: %s", store.ErrCustomerNotFound, customer.ID)
	}
	var updated domain.Customer
	err := s.db.GetContext(ctx, &updated, `
		UPDATE customers
		SET name = $2, phone = $3, email = $4, membership_type = $5, is_active = $6, updated_at = $7
		WHERE id = $1
		RETURNING `+customerColumns,
		customer.ID, customer.Name, customer.Phone, customer.Email, customer.MembershipType, customer.IsActive, customer.UpdatedAt)
	if err != nil {
		return nil, mapReadError(err, store.ErrCustomerNotFound, customer.ID)
	}
	return &updated, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	if !isUUID(id) {
		return nil, fmt.Errorf("%w: %s", store.ErrCustomerNotFound, id)
	}
	var customer domain.Customer
	err := s.db.GetContext(ctx, &customer, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	if err != nil {
		return nil, mapReadError(err, store.ErrCustomerNotFound, id)
	}
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}
	customers := make([]domain.Customer, 0, limit)
	err := s.db.SelectContext(ctx, &customers, `
		SELECT `+customerColumns+` FROM customers ORDER BY customer_code LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetStock(ctx context.Context, productID string, branchID string) (*domain.Stock, error) {
	return getStock(ctx, s.db, productID, branchID, "")
}

func (s *Store) ListStock(ctx context.Context, branchID string) ([]domain.Stock, error) {
	stocks := make([]domain.Stock, 0, 64)
	query := `SELECT ` + stockColumns + ` FROM stocks`
	args := []any{}
	if branchID != "" {
		if !isUUID(branchID) {
			return stocks, nil
		}
		query += ` WHERE branch_id = $1`
		args = append(args, branchID)
	}
	query += ` ORDER BY branch_id, product_id`
	if err := s.db.SelectContext(ctx, &stocks, query, args...); err != nil {
		return nil, err
	}
	return stocks, nil
}

func (s *Store) ListStockMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	movements := make([]domain.StockMovement, 0, 64)
	conditions := []string{}
	args := []any{}
	if filter.ProductID != "" {
		if !isUUID(filter.ProductID) {
			return movements, nil
		}
		args = append(args, filter.ProductID)
		conditions = append(conditions, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.BranchID != "" {
		if !isUUID(filter.BranchID) {
			return movements, nil
		}
		args = append(args, filter.BranchID)
		conditions = append(conditions, fmt.Sprintf("branch_id = $%d", len(args)))
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 200
	}
	args = append(args, limit)

	query := `SELECT ` + movementColumns + ` FROM stock_movements`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))
	if err := s.db.SelectContext(ctx, &movements, query, args...); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return getTransaction(ctx, s.db, id, "")
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	txns := make([]domain.Transaction, 0, 32)
	conditions := []string{}
	args := []any{}
	if filter.BranchID != "" {
		if !isUUID(filter.BranchID) {
			return txns, nil
		}
		args = append(args, filter.BranchID)
		conditions = append(conditions, fmt.Sprintf("branch_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := `SELECT ` + txnColumns + ` FROM transactions`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, transaction_number DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if err := s.db.SelectContext(ctx, &txns, query, args...); err != nil {
		return nil, err
	}
	if err := loadChildren(ctx, s.db, txns); err != nil {
		return nil, err
	}
	return txns, nil
}

const completedSalesFilter = `t.branch_id = $1 AND t.status = $2 AND t.completed_at >= $3 AND t.completed_at < $4`

// SalesSummary aggregates COMPLETED transactions whose completed_at falls in
// [from, to). All three reads share one snapshot.
func (s *Store) SalesSummary(ctx context.Context, branchID string, from time.Time, to time.Time) (*domain.SalesSummary, error) {
	summary := &domain.SalesSummary{
		BranchID:       branchID,
		From:           from,
		To:             to,
		Subtotal:       decimal.Zero,
		DiscountAmount: decimal.Zero,
		TaxAmount:      decimal.Zero,
		TotalAmount:    decimal.Zero,
		ByPayment:      []domain.SalesSummaryPayment{},
	}
	if !isUUID(branchID) {
		return summary, nil
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin sales summary: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	args := []any{branchID, domain.TxStatusCompleted, from, to}

	var totals struct {
		Transactions   int64           `db:"transactions"`
		Subtotal       decimal.Decimal `db:"subtotal"`
		DiscountAmount decimal.Decimal `db:"discount_amount"`
		TaxAmount      decimal.Decimal `db:"tax_amount"`
		TotalAmount    decimal.Decimal `db:"total_amount"`
	}
	if err := tx.GetContext(ctx, &totals, `
		SELECT COUNT(*) AS transactions,
		       COALESCE(SUM(t.subtotal), 0) AS subtotal,
		       COALESCE(SUM(t.discount_amount), 0) AS discount_amount,
		       COALESCE(SUM(t.tax_amount), 0) AS tax_amount,
		       COALESCE(SUM(t.total_amount), 0) AS total_amount
		FROM transactions t
		WHERE `+completedSalesFilter, args...); err != nil {
		return nil, fmt.Errorf("sum completed transactions: %w", err)
	}
	summary.Transactions = totals.Transactions
	summary.Subtotal = totals.Subtotal
	summary.DiscountAmount = totals.DiscountAmount
	summary.TaxAmount = totals.TaxAmount
	summary.TotalAmount = totals.TotalAmount

	if err := tx.GetContext(ctx, &summary.ItemsSold, `
		SELECT COALESCE(SUM(i.quantity), 0)
		FROM transaction_items i
		JOIN transactions t ON t.id = i.transaction_id
		WHERE `+completedSalesFilter, args...); err != nil {
		return nil, fmt.Errorf("sum items sold: %w", err)
	}

	var rows []struct {
		PaymentMethod string          `db:"payment_method"`
		Payments      int64           `db:"payments"`
		Amount        decimal.Decimal `db:"amount"`
	}
	if err := tx.SelectContext(ctx, &rows, `
		SELECT p.payment_method, COUNT(*) AS payments, SUM(p.amount) AS amount
		FROM transaction_payments p
		JOIN transactions t ON t.id = p.transaction_id
		WHERE `+completedSalesFilter+`
		GROUP BY p.payment_method
		ORDER BY p.payment_method`, args...); err != nil {
		return nil, fmt.Errorf("sum payments by method: %w", err)
	}
	for _, row := range rows {
		summary.ByPayment = append(summary.ByPayment, domain.SalesSummaryPayment{
			PaymentMethod: row.PaymentMethod,
			Payments:      row.Payments,
			Amount:        row.Amount,
		})
	}
	return summary, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (`+auditColumns+`)
		VALUES (:id, :branch_id, :user_id, :action, :entity_type, :entity_id, :detail, :created_at)
	`, entry)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	logs := make([]domain.AuditLog, 0, limit)
	err := s.db.SelectContext(ctx, &logs, `
		SELECT `+auditColumns+`
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// WithinTx runs fn in a READ COMMITTED database transaction. Stock rows are
// serialized by row locks and conditional updates, not by isolation level.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unit of work: %w", err)
	}
	committed = true
	return nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) LockStock(ctx context.Context, productID string, branchID string) (*domain.Stock, error) {
	return getStock(ctx, t.tx, productID, branchID, " FOR UPDATE")
}

func (t *pgTx) LockOrCreateStock(ctx context.Context, productID string, branchID string, at time.Time) (*domain.Stock, error) {
	if !isUUID(productID) {
		return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, productID)
	}
	if !isUUID(branchID) {
		return nil, fmt.Errorf("%w: %s", store.ErrBranchNotFound, branchID)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stocks (product_id, branch_id, quantity, reserved_quantity, last_updated)
		VALUES ($1, $2, 0, 0, $3)
		ON CONFLICT (product_id, branch_id) DO NOTHING
	`, productID, branchID, at)
	if err != nil {
		return nil, mapWriteError(err, "stock row")
	}
	return t.LockStock(ctx, productID, branchID)
}

func (t *pgTx) UpdateStock(ctx context.Context, stock domain.Stock) error {
	res, err := t.tx.NamedExecContext(ctx, `
		UPDATE stocks
		SET quantity = :quantity, reserved_quantity = :reserved_quantity, last_updated = :last_updated
		WHERE product_id = :product_id AND branch_id = :branch_id
	`, stock)
	if err != nil {
		return mapWriteError(err, "stock row")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: product %s at branch %s", store.ErrStockRecordNotFound, stock.ProductID, stock.BranchID)
	}
	return nil
}

func (t *pgTx) ReserveStock(ctx context.Context, productID string, branchID string, qty int, at time.Time) (*domain.Stock, error) {
	if !isUUID(productID) || !isUUID(branchID) {
		return nil, fmt.Errorf("%w: product %s at branch %s", store.ErrStockRecordNotFound, productID, branchID)
	}
	var stock domain.Stock
	err := t.tx.GetContext(ctx, &stock, `
		UPDATE stocks
		SET reserved_quantity = reserved_quantity + $3, last_updated = $4
		WHERE product_id = $1 AND branch_id = $2 AND quantity - reserved_quantity >= $3
		RETURNING `+stockColumns,
		productID, branchID, qty, at)
	if err == nil {
		return &stock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	current, err := getStock(ctx, t.tx, productID, branchID, "")
	if err != nil {
		return nil, err
	}
	return nil, &store.StockShortageError{
		ProductID: productID,
		BranchID:  branchID,
		Available: current.Available(),
		Requested: qty,
		Err:       store.ErrInsufficientAvailableStock,
	}
}

func (t *pgTx) InsertStockMovement(ctx context.Context, movement domain.StockMovement) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO stock_movements (`+movementColumns+`)
		VALUES (:id, :product_id, :branch_id, :movement_type, :quantity, :reference, :notes, :user_id, :created_at)
	`, movement)
	return mapWriteError(err, "stock movement")
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO transactions (`+txnColumns+`)
		VALUES (:id, :transaction_number, :branch_id, :customer_id, :user_id, :subtotal, :discount_amount,
			:tax_amount, :total_amount, :status, :notes, :created_at, :updated_at, :completed_at)
	`, txn)
	return mapWriteError(err, "transaction number "+txn.TransactionNumber)
}

func (t *pgTx) InsertTransactionItem(ctx context.Context, item domain.TransactionItem) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO transaction_items (`+itemColumns+`)
		VALUES (:id, :transaction_id, :line_no, :product_id, :variant_id, :quantity, :unit_price,
			:discount_amount, :total_amount, :notes)
	`, item)
	return mapWriteError(err, "transaction item")
}

func (t *pgTx) InsertTransactionItemAddon(ctx context.Context, addon domain.TransactionItemAddon) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO transaction_item_addons (`+itemAddonCols+`)
		VALUES (:id, :transaction_item_id, :addon_id, :quantity, :unit_price, :total_price)
	`, addon)
	return mapWriteError(err, "transaction item addon")
}

func (t *pgTx) InsertTransactionPayment(ctx context.Context, payment domain.TransactionPayment) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO transaction_payments (`+paymentColumns+`)
		VALUES (:id, :transaction_id, :payment_method, :amount, :reference_number, :created_at)
	`, payment)
	return mapWriteError(err, "transaction payment")
}

func (t *pgTx) LockTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return getTransaction(ctx, t.tx, id, " FOR UPDATE")
}

func (t *pgTx) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus, at time.Time, completedAt *time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, updated_at = $3, completed_at = COALESCE($4, completed_at)
		WHERE id = $1
	`, id, status, at, completedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", store.ErrTransactionNotFound, id)
	}
	return nil
}

func (t *pgTx) AddCustomerSpend(ctx context.Context, customerID string, amount decimal.Decimal, points int, at time.Time) error {
	if amount.IsNegative() || points < 0 {
		return fmt.Errorf("%w: customer spend and points only grow", store.ErrInvalidInput)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE customers
		SET total_spent = total_spent + $2, loyalty_points = loyalty_points + $3, updated_at = $4
		WHERE id = $1
	`, customerID, amount, points, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", store.ErrCustomerNotFound, customerID)
	}
	return nil
}

func getStock(ctx context.Context, q sqlx.QueryerContext, productID string, branchID string, suffix string) (*domain.Stock, error) {
	if !isUUID(productID) || !isUUID(branchID) {
		return nil, fmt.Errorf("%w: product %s at branch %s", store.ErrStockRecordNotFound, productID, branchID)
	}
	var stock domain.Stock
	err := sqlx.GetContext(ctx, q, &stock, `
		SELECT `+stockColumns+` FROM stocks WHERE product_id = $1 AND branch_id = $2`+suffix,
		productID, branchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s at branch %s", store.ErrStockRecordNotFound, productID, branchID)
		}
		return nil, err
	}
	return &stock, nil
}

func getTransaction(ctx context.Context, q sqlx.QueryerContext, id string, suffix string) (*domain.Transaction, error) {
	if !isUUID(id) {
		return nil, fmt.Errorf("%w: %s", store.ErrTransactionNotFound, id)
	}
	var txn domain.Transaction
	err := sqlx.GetContext(ctx, q, &txn, `SELECT `+txnColumns+` FROM transactions WHERE id = $1`+suffix, id)
	if err != nil {
		return nil, mapReadError(err, store.ErrTransactionNotFound, id)
	}
	txns := []domain.Transaction{txn}
	if err := loadChildren(ctx, q, txns); err != nil {
		return nil, err
	}
	return &txns[0], nil
}

// loadChildren fills items, item addons and payments with one query per
// table.
func loadChildren(ctx context.Context, q sqlx.QueryerContext, txns []domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	ids := make([]string, 0, len(txns))
	for _, t := range txns {
		ids = append(ids, t.ID)
	}

	var items []domain.TransactionItem
	if err := selectIn(ctx, q, &items, `
		SELECT `+itemColumns+` FROM transaction_items WHERE transaction_id = ANY($1) ORDER BY transaction_id, line_no
	`, ids); err != nil {
		return err
	}
	itemIDs := make([]string, 0, len(items))
	for _, item := range items {
		itemIDs = append(itemIDs, item.ID)
	}

	var addons []domain.TransactionItemAddon
	if err := selectIn(ctx, q, &addons, `
		SELECT `+itemAddonCols+` FROM transaction_item_addons WHERE transaction_item_id = ANY($1) ORDER BY id
	`, itemIDs); err != nil {
		return err
	}
	var payments []domain.TransactionPayment
	if err := selectIn(ctx, q, &payments, `
		SELECT `+paymentColumns+` FROM transaction_payments WHERE transaction_id = ANY($1) ORDER BY created_at, id
	`, ids); err != nil {
		return err
	}

	addonsByItem := make(map[string][]domain.TransactionItemAddon, len(items))
	for _, a := range addons {
		addonsByItem[a.TransactionItemID] = append(addonsByItem[a.TransactionItemID], a)
	}
	itemsByTxn := make(map[string][]domain.TransactionItem, len(txns))
	for _, item := range items {
		item.Addons = addonsByItem[item.ID]
		if item.Addons == nil {
			item.Addons = []domain.TransactionItemAddon{}
		}
		itemsByTxn[item.TransactionID] = append(itemsByTxn[item.TransactionID], item)
	}
	paymentsByTxn := make(map[string][]domain.TransactionPayment, len(txns))
	for _, p := range payments {
		paymentsByTxn[p.TransactionID] = append(paymentsByTxn[p.TransactionID], p)
	}

	for i := range txns {
		txns[i].Items = itemsByTxn[txns[i].ID]
		if txns[i].Items == nil {
			txns[i].Items = []domain.TransactionItem{}
		}
		txns[i].Payments = paymentsByTxn[txns[i].ID]
		if txns[i].Payments == nil {
			txns[i].Payments = []domain.TransactionPayment{}
		}
	}
	return nil
}

// selectIn runs a query whose $1 is an array of ids. Ids that are not UUIDs
// cannot match a row and are dropped before the query.
func selectIn(ctx context.Context, q sqlx.QueryerContext, dest any, query string, ids []string) error {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	return sqlx.SelectContext(ctx, q, dest, query, valid)
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func mapReadError(err error, notFound error, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return err
}

// mapWriteError translates constraint violations into store sentinels.
func mapWriteError(err error, subject string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s already exists", store.ErrConflict, subject)
	case "23503":
		return fmt.Errorf("%w: %s references a missing row (%s)", foreignKeyTarget(pgErr.ConstraintName), subject, pgErr.ConstraintName)
	case "22003":
		return fmt.Errorf("%w: %s has a value out of range", store.ErrInvalidInput, subject)
	case "23514":
		return fmt.Errorf("%w: %s violates %s", store.ErrInvalidState, subject, pgErr.ConstraintName)
	default:
		return err
	}
}

func foreignKeyTarget(constraint string) error {
	switch {
	case strings.Contains(constraint, "branch_id"):
		return store.ErrBranchNotFound
	case strings.Contains(constraint, "customer_id"):
		return store.ErrCustomerNotFound
	case strings.Contains(constraint, "variant_id"):
		return store.ErrVariantNotFound
	case strings.Contains(constraint, "addon_id"):
		return store.ErrAddonNotFound
	case strings.Contains(constraint, "product_id"):
		return store.ErrProductNotFound
	case strings.Contains(constraint, "transaction_id"):
		return store.ErrTransactionNotFound
	default:
		return store.ErrNotFound
	}
}
