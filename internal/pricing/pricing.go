// Package pricing computes cart amounts with exact decimal arithmetic.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"posbackoffice/backend/internal/store"
)

type AddonLine struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

type Line struct {
	Quantity  int
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
	Addons    []AddonLine
}

type LineTotal struct {
	ItemTotal   decimal.Decimal
	AddonTotals []decimal.Decimal
}

type Breakdown struct {
	Lines    []LineTotal
	Subtotal decimal.Decimal
}

// ItemTotal returns quantity*unitPrice - discount.
func ItemTotal(quantity int, unitPrice decimal.Decimal, discount decimal.Decimal) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Zero, fmt.Errorf("%w: item quantity must be positive, got %d", store.ErrInvalidInput, quantity)
	}
	if unitPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: unit price must not be negative, got %s", store.ErrInvalidInput, unitPrice)
	}
	if discount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: item discount must not be negative, got %s", store.ErrInvalidInput, discount)
	}
	gross := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	if discount.GreaterThan(gross) {
		return decimal.Zero, fmt.Errorf("%w: item discount %s exceeds line amount %s", store.ErrInvalidInput, discount, gross)
	}
	return gross.Sub(discount), nil
}

// AddonTotal returns quantity*unitPrice.
func AddonTotal(quantity int, unitPrice decimal.Decimal) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Zero, fmt.Errorf("%w: addon quantity must be positive, got %d", store.ErrInvalidInput, quantity)
	}
	if unitPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: addon price must not be negative, got %s", store.ErrInvalidInput, unitPrice)
	}
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))), nil
}

// CartSubtotal sums every item total and every addon total.
func CartSubtotal(lines []Line) (Breakdown, error) {
	out := Breakdown{Lines: make([]LineTotal, 0, len(lines)), Subtotal: decimal.Zero}
	for i, line := range lines {
		itemTotal, err := ItemTotal(line.Quantity, line.UnitPrice, line.Discount)
		if err != nil {
			return Breakdown{}, fmt.Errorf("item %d: %w", i, err)
		}
		lt := LineTotal{ItemTotal: itemTotal, AddonTotals: make([]decimal.Decimal, 0, len(line.Addons))}
		out.Subtotal = out.Subtotal.Add(itemTotal)
		for j, addon := range line.Addons {
			addonTotal, err := AddonTotal(addon.Quantity, addon.UnitPrice)
			if err != nil {
				return Breakdown{}, fmt.Errorf("item %d addon %d: %w", i, j, err)
			}
			lt.AddonTotals = append(lt.AddonTotals, addonTotal)
			out.Subtotal = out.Subtotal.Add(addonTotal)
		}
		out.Lines = append(out.Lines, lt)
	}
	return out, nil
}

// GrandTotal returns subtotal - discount + tax and rejects negative results.
func GrandTotal(subtotal decimal.Decimal, discount decimal.Decimal, tax decimal.Decimal) (decimal.Decimal, error) {
	if discount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: discount must not be negative, got %s", store.ErrInvalidInput, discount)
	}
	if tax.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: tax must not be negative, got %s", store.ErrInvalidInput, tax)
	}
	total := subtotal.Sub(discount).Add(tax)
	if total.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: grand total would be negative (%s)", store.ErrInvalidInput, total)
	}
	return total, nil
}
