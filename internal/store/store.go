package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"posbackoffice/backend/internal/domain"
)

var (
	ErrNotFound                   = errors.New("not found")
	ErrInsufficientStock          = errors.New("insufficient stock")
	ErrInsufficientAvailableStock = errors.New("insufficient available stock")
	ErrOverRelease                = errors.New("release exceeds reserved quantity")
	ErrInvalidInput               = errors.New("invalid input")
	ErrConflict                   = errors.New("conflict")
	ErrInvalidState               = errors.New("invalid state")
)

var (
	ErrBranchNotFound      = fmt.Errorf("branch %w", ErrNotFound)
	ErrUserNotFound        = fmt.Errorf("user %w", ErrNotFound)
	ErrProductNotFound     = fmt.Errorf("product %w", ErrNotFound)
	ErrVariantNotFound     = fmt.Errorf("variant %w", ErrNotFound)
	ErrAddonNotFound       = fmt.Errorf("addon %w", ErrNotFound)
	ErrCustomerNotFound    = fmt.Errorf("customer %w", ErrNotFound)
	ErrStockRecordNotFound = fmt.Errorf("stock record %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
)

// StockShortageError reports a movement or reservation that would exceed the
// quantity on hand. Err is the kind (ErrInsufficientStock or
// ErrInsufficientAvailableStock).
type StockShortageError struct {
	ProductID string
	BranchID  string
	Available int
	Requested int
	Err       error
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("%v for product %s at branch %s: available %d, requested %d",
		e.Err, e.ProductID, e.BranchID, e.Available, e.Requested)
}

func (e *StockShortageError) Unwrap() error {
	return e.Err
}

type Repository interface {
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	ListBranches(ctx context.Context) ([]domain.Branch, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	CreateVariant(ctx context.Context, variant domain.ProductVariant) (*domain.ProductVariant, error)
	ListVariants(ctx context.Context, productID string) ([]domain.ProductVariant, error)
	GetVariantsByIDs(ctx context.Context, ids []string) (map[string]domain.ProductVariant, error)

	CreateAddon(ctx context.Context, addon domain.Addon) (*domain.Addon, error)
	UpdateAddon(ctx context.Context, addon domain.Addon) (*domain.Addon, error)
	GetAddon(ctx context.Context, id string) (*domain.Addon, error)
	ListAddons(ctx context.Context, includeInactive bool) ([]domain.Addon, error)
	GetAddonsByIDs(ctx context.Context, ids []string) (map[string]domain.Addon, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error)

	GetStock(ctx context.Context, productID string, branchID string) (*domain.Stock, error)
	ListStock(ctx context.Context, branchID string) ([]domain.Stock, error)
	ListStockMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error)

	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	// SalesSummary aggregates COMPLETED transactions completed in [from, to).
	SalesSummary(ctx context.Context, branchID string, from time.Time, to time.Time) (*domain.SalesSummary, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	// WithinTx runs fn in one unit of work. A non-nil error from fn, or a
	// cancelled context, discards every write made through tx.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of a unit of work. Stock rows may only be changed
// through the row-locking and conditional-update methods below.
type Tx interface {
	// LockStock returns the stock row for update, or ErrStockRecordNotFound.
	LockStock(ctx context.Context, productID string, branchID string) (*domain.Stock, error)
	// LockOrCreateStock returns the stock row for update, creating a zero row
	// when none exists.
	LockOrCreateStock(ctx context.Context, productID string, branchID string, at time.Time) (*domain.Stock, error)
	UpdateStock(ctx context.Context, stock domain.Stock) error
	// ReserveStock increments reserved_quantity only if enough stock is
	// available, as one conditional write.
	ReserveStock(ctx context.Context, productID string, branchID string, qty int, at time.Time) (*domain.Stock, error)
	InsertStockMovement(ctx context.Context, movement domain.StockMovement) error

	InsertTransaction(ctx context.Context, txn domain.Transaction) error
	InsertTransactionItem(ctx context.Context, item domain.TransactionItem) error
	InsertTransactionItemAddon(ctx context.Context, addon domain.TransactionItemAddon) error
	InsertTransactionPayment(ctx context.Context, payment domain.TransactionPayment) error
	LockTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus, at time.Time, completedAt *time.Time) error

	AddCustomerSpend(ctx context.Context, customerID string, amount decimal.Decimal, points int, at time.Time) error
}
