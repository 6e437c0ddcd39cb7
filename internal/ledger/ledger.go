// Package ledger owns on-hand and reserved stock counts per product and
// branch. Every change goes through a store.Tx so the row lock and the
// movement record commit together.
package ledger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/store"
	"posbackoffice/backend/internal/xid"
)

type StockReader interface {
	GetStock(ctx context.Context, productID string, branchID string) (*domain.Stock, error)
}

type Movement struct {
	ProductID           string
	BranchID            string
	DestinationBranchID string
	Type                domain.MovementType
	Quantity            int
	UserID              string
	Reference           string
	Notes               string
}

// Result holds the movement rows written and the resulting stock rows, in
// leg order.
type Result struct {
	Movements []domain.StockMovement
	Stocks    []domain.Stock
}

// Line is a quantity of one product, used when a unit of work touches several
// stock rows at the same branch.
type Line struct {
	ProductID string
	Quantity  int
}

// Consolidate sums quantities per product and orders the result by product
// id. Units of work that lock several stock rows visit them in this order.
func Consolidate(lines []Line) []Line {
	totals := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		if _, seen := totals[line.ProductID]; !seen {
			out = append(out, Line{ProductID: line.ProductID})
		}
		totals[line.ProductID] += line.Quantity
	}
	for i := range out {
		out[i].Quantity = totals[out[i].ProductID]
	}
	slices.SortFunc(out, func(a, b Line) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return out
}

type Ledger struct {
	now func() time.Time
}

func New() *Ledger {
	return &Ledger{now: time.Now}
}

// WithClock overrides the timestamp source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	return &Ledger{now: now}
}

// Get returns the stock row, or store.ErrStockRecordNotFound when the pair
// has never moved. An absent row is not the same as a zero row.
func (l *Ledger) Get(ctx context.Context, r StockReader, productID string, branchID string) (*domain.Stock, error) {
	return r.GetStock(ctx, productID, branchID)
}

func (l *Ledger) ApplyMovement(ctx context.Context, tx store.Tx, m Movement) (Result, error) {
	if m.ProductID == "" || m.BranchID == "" {
		return Result{}, fmt.Errorf("%w: product_id and branch_id are required", store.ErrInvalidInput)
	}
	at := l.now().UTC()

	switch m.Type {
	case domain.MovementIn:
		if m.Quantity <= 0 {
			return Result{}, fmt.Errorf("%w: IN quantity must be positive", store.ErrInvalidInput)
		}
		return l.in(ctx, tx, m, m.BranchID, domain.MovementIn, at)
	case domain.MovementOut:
		if m.Quantity <= 0 {
			return Result{}, fmt.Errorf("%w: OUT quantity must be positive", store.ErrInvalidInput)
		}
		return l.out(ctx, tx, m, domain.MovementOut, at)
	case domain.MovementAdjustment:
		if m.Quantity < 0 {
			return Result{}, fmt.Errorf("%w: ADJUSTMENT quantity must not be negative", store.ErrInvalidInput)
		}
		return l.adjust(ctx, tx, m, at)
	case domain.MovementTransfer:
		if m.Quantity <= 0 {
			return Result{}, fmt.Errorf("%w: TRANSFER quantity must be positive", store.ErrInvalidInput)
		}
		if m.DestinationBranchID == "" || m.DestinationBranchID == m.BranchID {
			return Result{}, fmt.Errorf("%w: TRANSFER needs a destination branch different from the source", store.ErrInvalidInput)
		}
		// Both rows are locked in branch id order.
		if m.DestinationBranchID < m.BranchID {
			if _, err := tx.LockOrCreateStock(ctx, m.ProductID, m.DestinationBranchID, at); err != nil {
				return Result{}, err
			}
		}
		outLeg, err := l.out(ctx, tx, m, domain.MovementTransfer, at)
		if err != nil {
			return Result{}, err
		}
		inLeg, err := l.in(ctx, tx, m, m.DestinationBranchID, domain.MovementTransfer, at)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Movements: append(outLeg.Movements, inLeg.Movements...),
			Stocks:    append(outLeg.Stocks, inLeg.Stocks...),
		}, nil
	default:
		return Result{}, fmt.Errorf("%w: unknown movement type %q", store.ErrInvalidInput, m.Type)
	}
}

func (l *Ledger) in(ctx context.Context, tx store.Tx, m Movement, branchID string, kind domain.MovementType, at time.Time) (Result, error) {
	stock, err := tx.LockOrCreateStock(ctx, m.ProductID, branchID, at)
	if err != nil {
		return Result{}, err
	}
	stock.Quantity += m.Quantity
	stock.LastUpdated = at
	return l.record(ctx, tx, *stock, m, kind, m.Quantity, at)
}

func (l *Ledger) out(ctx context.Context, tx store.Tx, m Movement, kind domain.MovementType, at time.Time) (Result, error) {
	stock, err := tx.LockStock(ctx, m.ProductID, m.BranchID)
	if err != nil {
		if isStockMissing(err) {
			return Result{}, &store.StockShortageError{
				ProductID: m.ProductID,
				BranchID:  m.BranchID,
				Available: 0,
				Requested: m.Quantity,
				Err:       store.ErrInsufficientStock,
			}
		}
		return Result{}, err
	}
	// Reserved units are promised to pending sales and cannot leave.
	if stock.Available() < m.Quantity {
		return Result{}, &store.StockShortageError{
			ProductID: m.ProductID,
			BranchID:  m.BranchID,
			Available: stock.Available(),
			Requested: m.Quantity,
			Err:       store.ErrInsufficientStock,
		}
	}
	stock.Quantity -= m.Quantity
	stock.LastUpdated = at
	return l.record(ctx, tx, *stock, m, kind, -m.Quantity, at)
}

func (l *Ledger) adjust(ctx context.Context, tx store.Tx, m Movement, at time.Time) (Result, error) {
	stock, err := tx.LockOrCreateStock(ctx, m.ProductID, m.BranchID, at)
	if err != nil {
		return Result{}, err
	}
	if m.Quantity < stock.ReservedQuantity {
		return Result{}, fmt.Errorf("%w: cannot set product %s at branch %s to %d, %d units are reserved",
			store.ErrInsufficientStock, m.ProductID, m.BranchID, m.Quantity, stock.ReservedQuantity)
	}
	delta := m.Quantity - stock.Quantity
	stock.Quantity = m.Quantity
	stock.LastUpdated = at
	return l.record(ctx, tx, *stock, m, domain.MovementAdjustment, delta, at)
}

func (l *Ledger) record(ctx context.Context, tx store.Tx, stock domain.Stock, m Movement, kind domain.MovementType, signed int, at time.Time) (Result, error) {
	if err := tx.UpdateStock(ctx, stock); err != nil {
		return Result{}, err
	}
	movement := domain.StockMovement{
		ID:           xid.NewID(),
		ProductID:    stock.ProductID,
		BranchID:     stock.BranchID,
		MovementType: kind,
		Quantity:     signed,
		Reference:    m.Reference,
		Notes:        m.Notes,
		UserID:       m.UserID,
		CreatedAt:    at,
	}
	if err := tx.InsertStockMovement(ctx, movement); err != nil {
		return Result{}, err
	}
	return Result{Movements: []domain.StockMovement{movement}, Stocks: []domain.Stock{stock}}, nil
}

// Reserve promises qty units of available stock to a pending sale.
func (l *Ledger) Reserve(ctx context.Context, tx store.Tx, productID string, branchID string, qty int) (*domain.Stock, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: reserve quantity must be positive", store.ErrInvalidInput)
	}
	return tx.ReserveStock(ctx, productID, branchID, qty, l.now().UTC())
}

// Release returns qty reserved units to available stock.
func (l *Ledger) Release(ctx context.Context, tx store.Tx, productID string, branchID string, qty int) (*domain.Stock, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: release quantity must be positive", store.ErrInvalidInput)
	}
	stock, err := tx.LockStock(ctx, productID, branchID)
	if err != nil {
		return nil, err
	}
	if qty > stock.ReservedQuantity {
		return nil, fmt.Errorf("%w: product %s at branch %s has %d reserved, release of %d requested",
			store.ErrOverRelease, productID, branchID, stock.ReservedQuantity, qty)
	}
	stock.ReservedQuantity -= qty
	stock.LastUpdated = l.now().UTC()
	if err := tx.UpdateStock(ctx, *stock); err != nil {
		return nil, err
	}
	return stock, nil
}

// CommitReservation turns qty reserved units into a sale: both on-hand and
// reserved drop by qty and one OUT movement is written.
func (l *Ledger) CommitReservation(ctx context.Context, tx store.Tx, productID string, branchID string, qty int, userID string, reference string) (Result, error) {
	if qty <= 0 {
		return Result{}, fmt.Errorf("%w: commit quantity must be positive", store.ErrInvalidInput)
	}
	stock, err := tx.LockStock(ctx, productID, branchID)
	if err != nil {
		return Result{}, err
	}
	if qty > stock.ReservedQuantity {
		return Result{}, fmt.Errorf("%w: product %s at branch %s has %d reserved, commit of %d requested",
			store.ErrOverRelease, productID, branchID, stock.ReservedQuantity, qty)
	}
	at := l.now().UTC()
	stock.Quantity -= qty
	stock.ReservedQuantity -= qty
	stock.LastUpdated = at
	return l.record(ctx, tx, *stock, Movement{
		ProductID: productID,
		BranchID:  branchID,
		Quantity:  qty,
		UserID:    userID,
		Reference: reference,
		Notes:     "sale",
	}, domain.MovementOut, -qty, at)
}

func isStockMissing(err error) bool {
	return errors.Is(err, store.ErrStockRecordNotFound)
}
