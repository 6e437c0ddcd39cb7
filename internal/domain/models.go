package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Branch struct {
	ID        string    `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	Address   string    `json:"address" db:"address"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type BranchCreateRequest struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

type Product struct {
	ID            string          `json:"id" db:"id"`
	SKU           string          `json:"sku" db:"sku"`
	Barcode       *string         `json:"barcode,omitempty" db:"barcode"`
	Name          string          `json:"name" db:"name"`
	Unit          string          `json:"unit" db:"unit"`
	BasePrice     decimal.Decimal `json:"base_price" db:"base_price"`
	SellingPrice  decimal.Decimal `json:"selling_price" db:"selling_price"`
	MinStock      int             `json:"min_stock" db:"min_stock"`
	HasVariants   bool            `json:"has_variants" db:"has_variants"`
	IsRawMaterial bool            `json:"is_raw_material" db:"is_raw_material"`
	IsActive      bool            `json:"is_active" db:"is_active"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

type ProductCreateRequest struct {
	SKU           string          `json:"sku"`
	Barcode       string          `json:"barcode,omitempty"`
	Name          string          `json:"name"`
	Unit          string          `json:"unit"`
	BasePrice     decimal.Decimal `json:"base_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	MinStock      int             `json:"min_stock"`
	HasVariants   bool            `json:"has_variants"`
	IsRawMaterial bool            `json:"is_raw_material"`
}

// ProductUpdateRequest changes mutable product fields. SKU is immutable once
// the product exists.
type ProductUpdateRequest struct {
	Name         *string          `json:"name,omitempty"`
	Unit         *string          `json:"unit,omitempty"`
	BasePrice    *decimal.Decimal `json:"base_price,omitempty"`
	SellingPrice *decimal.Decimal `json:"selling_price,omitempty"`
	MinStock     *int             `json:"min_stock,omitempty"`
	IsActive     *bool            `json:"is_active,omitempty"`
}

type ProductVariant struct {
	ID              string          `json:"id" db:"id"`
	ProductID       string          `json:"product_id" db:"product_id"`
	SKU             string          `json:"sku" db:"sku"`
	Name            string          `json:"name" db:"name"`
	PriceAdjustment decimal.Decimal `json:"price_adjustment" db:"price_adjustment"`
	IsActive        bool            `json:"is_active" db:"is_active"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

type VariantCreateRequest struct {
	SKU             string          `json:"sku"`
	Name            string          `json:"name"`
	PriceAdjustment decimal.Decimal `json:"price_adjustment"`
}

type Addon struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Price     decimal.Decimal `json:"price" db:"price"`
	IsActive  bool            `json:"is_active" db:"is_active"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

type AddonCreateRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type AddonUpdateRequest struct {
	Name     *string          `json:"name,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	IsActive *bool            `json:"is_active,omitempty"`
}

type Stock struct {
	ProductID        string    `json:"product_id" db:"product_id"`
	BranchID         string    `json:"branch_id" db:"branch_id"`
	Quantity         int       `json:"quantity" db:"quantity"`
	ReservedQuantity int       `json:"reserved_quantity" db:"reserved_quantity"`
	LastUpdated      time.Time `json:"last_updated" db:"last_updated"`
}

// Available is the on-hand quantity not promised to a pending transaction.
func (s Stock) Available() int {
	return s.Quantity - s.ReservedQuantity
}

type MovementType string

const (
	MovementIn         MovementType = "IN"
	MovementOut        MovementType = "OUT"
	MovementTransfer   MovementType = "TRANSFER"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementTransfer, MovementAdjustment:
		return true
	default:
		return false
	}
}

// StockMovement is an append-only audit record. Quantity is the signed change
// applied to on-hand stock.
type StockMovement struct {
	ID           string       `json:"id" db:"id"`
	ProductID    string       `json:"product_id" db:"product_id"`
	BranchID     string       `json:"branch_id" db:"branch_id"`
	MovementType MovementType `json:"movement_type" db:"movement_type"`
	Quantity     int          `json:"quantity" db:"quantity"`
	Reference    string       `json:"reference,omitempty" db:"reference"`
	Notes        string       `json:"notes,omitempty" db:"notes"`
	UserID       string       `json:"user_id" db:"user_id"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

type StockMovementRequest struct {
	ProductID           string       `json:"product_id"`
	BranchID            string       `json:"branch_id"`
	DestinationBranchID string       `json:"destination_branch_id,omitempty"`
	MovementType        MovementType `json:"movement_type"`
	Quantity            int          `json:"quantity"`
	Reference           string       `json:"reference,omitempty"`
	Notes               string       `json:"notes,omitempty"`
	UserID              string       `json:"-"`
}

type StockMovementResponse struct {
	Movements []StockMovement `json:"movements"`
	Stocks    []Stock         `json:"stocks"`
}

type MovementFilter struct {
	ProductID string
	BranchID  string
	Limit     int
}

type Customer struct {
	ID             string          `json:"id" db:"id"`
	CustomerCode   string          `json:"customer_code" db:"customer_code"`
	Name           string          `json:"name" db:"name"`
	Phone          string          `json:"phone" db:"phone"`
	Email          string          `json:"email" db:"email"`
	MembershipType string          `json:"membership_type" db:"membership_type"`
	LoyaltyPoints  int             `json:"loyalty_points" db:"loyalty_points"`
	TotalSpent     decimal.Decimal `json:"total_spent" db:"total_spent"`
	IsActive       bool            `json:"is_active" db:"is_active"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

type CustomerCreateRequest struct {
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	MembershipType string `json:"membership_type"`
}

type CustomerUpdateRequest struct {
	Name           *string `json:"name,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	Email          *string `json:"email,omitempty"`
	MembershipType *string `json:"membership_type,omitempty"`
	IsActive       *bool   `json:"is_active,omitempty"`
}

const (
	MembershipRegular = "REGULAR"
	MembershipSilver  = "SILVER"
	MembershipGold    = "GOLD"
)

type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "PENDING"
	TxStatusCompleted TransactionStatus = "COMPLETED"
	TxStatusCancelled TransactionStatus = "CANCELLED"
	TxStatusHold      TransactionStatus = "HOLD"
)

var statusTransitions = map[TransactionStatus][]TransactionStatus{
	TxStatusPending: {TxStatusCompleted, TxStatusCancelled, TxStatusHold},
	TxStatusHold:    {TxStatusPending, TxStatusCancelled},
}

// CanTransition reports whether a transaction may move from one status to
// another. COMPLETED and CANCELLED are terminal.
func CanTransition(from TransactionStatus, to TransactionStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Transaction struct {
	ID                string               `json:"id" db:"id"`
	TransactionNumber string               `json:"transaction_number" db:"transaction_number"`
	BranchID          string               `json:"branch_id" db:"branch_id"`
	CustomerID        *string              `json:"customer_id,omitempty" db:"customer_id"`
	UserID            string               `json:"user_id" db:"user_id"`
	Subtotal          decimal.Decimal      `json:"subtotal" db:"subtotal"`
	DiscountAmount    decimal.Decimal      `json:"discount_amount" db:"discount_amount"`
	TaxAmount         decimal.Decimal      `json:"tax_amount" db:"tax_amount"`
	TotalAmount       decimal.Decimal      `json:"total_amount" db:"total_amount"`
	Status            TransactionStatus    `json:"status" db:"status"`
	Notes             string               `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at" db:"updated_at"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty" db:"completed_at"`
	Items             []TransactionItem    `json:"items" db:"-"`
	Payments          []TransactionPayment `json:"payments" db:"-"`
}

type TransactionItem struct {
	ID             string                 `json:"id" db:"id"`
	TransactionID  string                 `json:"transaction_id" db:"transaction_id"`
	LineNo         int                    `json:"line_no" db:"line_no"`
	ProductID      string                 `json:"product_id" db:"product_id"`
	VariantID      *string                `json:"variant_id,omitempty" db:"variant_id"`
	Quantity       int                    `json:"quantity" db:"quantity"`
	UnitPrice      decimal.Decimal        `json:"unit_price" db:"unit_price"`
	DiscountAmount decimal.Decimal        `json:"discount_amount" db:"discount_amount"`
	TotalAmount    decimal.Decimal        `json:"total_amount" db:"total_amount"`
	Notes          string                 `json:"notes,omitempty" db:"notes"`
	Addons         []TransactionItemAddon `json:"addons" db:"-"`
}

type TransactionItemAddon struct {
	ID                string          `json:"id" db:"id"`
	TransactionItemID string          `json:"transaction_item_id" db:"transaction_item_id"`
	AddonID           string          `json:"addon_id" db:"addon_id"`
	Quantity          int             `json:"quantity" db:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price" db:"unit_price"`
	TotalPrice        decimal.Decimal `json:"total_price" db:"total_price"`
}

type TransactionPayment struct {
	ID              string          `json:"id" db:"id"`
	TransactionID   string          `json:"transaction_id" db:"transaction_id"`
	PaymentMethod   string          `json:"payment_method" db:"payment_method"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	ReferenceNumber string          `json:"reference_number,omitempty" db:"reference_number"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

type CartAddon struct {
	AddonID  string `json:"addon_id"`
	Quantity int    `json:"quantity"`
}

// CartItem is one line of a cart. UnitPrice is optional; when absent the
// catalog price (selling price plus variant adjustment) applies.
type CartItem struct {
	ProductID      string              `json:"product_id"`
	VariantID      *string             `json:"variant_id,omitempty"`
	Quantity       int                 `json:"quantity"`
	UnitPrice      decimal.NullDecimal `json:"unit_price"`
	DiscountAmount decimal.Decimal     `json:"discount_amount"`
	Notes          string              `json:"notes,omitempty"`
	Addons         []CartAddon         `json:"addons,omitempty"`
}

type PaymentRequest struct {
	Method          string          `json:"method"`
	Amount          decimal.Decimal `json:"amount"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
}

type CreateTransactionRequest struct {
	BranchID       string           `json:"branch_id"`
	CustomerID     *string          `json:"customer_id,omitempty"`
	Items          []CartItem       `json:"items"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	TaxAmount      decimal.Decimal  `json:"tax_amount"`
	Payments       []PaymentRequest `json:"payments,omitempty"`
	Notes          string           `json:"notes,omitempty"`
}

type CompleteTransactionRequest struct {
	Payments []PaymentRequest `json:"payments,omitempty"`
}

type TransactionStatusRequest struct {
	Reason string `json:"reason,omitempty"`
}

type TransactionFilter struct {
	BranchID string
	Status   TransactionStatus
	From     time.Time
	To       time.Time
	Limit    int
}

const (
	PaymentCash     = "CASH"
	PaymentCard     = "CARD"
	PaymentQRIS     = "QRIS"
	PaymentEWallet  = "EWALLET"
	PaymentTransfer = "TRANSFER"
)

type SalesSummaryPayment struct {
	PaymentMethod string          `json:"payment_method"`
	Payments      int64           `json:"payments"`
	Amount        decimal.Decimal `json:"amount"`
}

type SalesSummary struct {
	BranchID       string                `json:"branch_id"`
	From           time.Time             `json:"from"`
	To             time.Time             `json:"to"`
	Transactions   int64                 `json:"transactions"`
	ItemsSold      int64                 `json:"items_sold"`
	Subtotal       decimal.Decimal       `json:"subtotal"`
	DiscountAmount decimal.Decimal       `json:"discount_amount"`
	TaxAmount      decimal.Decimal       `json:"tax_amount"`
	TotalAmount    decimal.Decimal       `json:"total_amount"`
	ByPayment      []SalesSummaryPayment `json:"by_payment"`
	GeneratedAt    time.Time             `json:"generated_at"`
}

type AuditLog struct {
	ID         string    `json:"id" db:"id"`
	BranchID   string    `json:"branch_id" db:"branch_id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Action     string    `json:"action" db:"action"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	Detail     string    `json:"detail" db:"detail"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	UserID   string
	Username string
	Role     string
	BranchID string
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID           string    `db:"id"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	BranchID     *string   `db:"branch_id"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	BranchID string `json:"branch_id,omitempty"`
}

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branch_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
