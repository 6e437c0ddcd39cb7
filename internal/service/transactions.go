package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/ledger"
	"posbackoffice/backend/internal/pricing"
	"posbackoffice/backend/internal/store"
	"posbackoffice/backend/internal/xid"
)

// pricedCart is a validated cart with catalog prices resolved and totals
// computed, ready to be written.
type pricedCart struct {
	items    []domain.TransactionItem
	payments []domain.TransactionPayment
	subtotal decimal.Decimal
	total    decimal.Decimal
}

// CreateTransaction persists a PENDING transaction and reserves stock for
// every line. The header, items, addons, reservations and payments commit
// together or not at all.
func (s *Service) CreateTransaction(ctx context.Context, req domain.CreateTransactionRequest) (domain.Transaction, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Transaction{}, fmt.Errorf("%w: an authenticated user is required", store.ErrInvalidInput)
	}
	if err := validateCart(&req); err != nil {
		return domain.Transaction{}, err
	}

	cart, err := s.priceCart(ctx, req)
	if err != nil {
		return domain.Transaction{}, err
	}

	for attempt := 1; ; attempt++ {
		txn := s.newTransaction(req, actor.UserID, cart)
		err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
			return s.writeTransaction(ctx, tx, txn)
		})
		if errors.Is(err, store.ErrConflict) && attempt < s.retries {
			s.logger.Warn("transaction number collision, retrying",
				zap.String("transaction_number", txn.TransactionNumber),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return domain.Transaction{}, err
		}

		s.logAudit(ctx, txn.BranchID, "transaction_create", "transaction", txn.ID,
			fmt.Sprintf("number=%s,total=%s,items=%d", txn.TransactionNumber, txn.TotalAmount, len(txn.Items)))
		return txn, nil
	}
}

// validateCart checks the cart's shape before any store access and
// normalizes payment method tags.
func validateCart(req *domain.CreateTransactionRequest) error {
	req.BranchID = strings.TrimSpace(req.BranchID)
	if req.BranchID == "" {
		return fmt.Errorf("%w: branch_id is required", store.ErrInvalidInput)
	}
	if req.CustomerID != nil && strings.TrimSpace(*req.CustomerID) == "" {
		req.CustomerID = nil
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: cart has no items", store.ErrInvalidInput)
	}

	perProduct := make(map[string]int, len(req.Items))
	for i, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: item %d: product_id is required", store.ErrInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d: quantity must be positive", store.ErrInvalidInput, i)
		}
		perProduct[item.ProductID] += item.Quantity
		if item.Quantity > maxQuantity || perProduct[item.ProductID] > maxQuantity {
			return fmt.Errorf("%w: item %d: quantity exceeds %d", store.ErrInvalidInput, i, maxQuantity)
		}
		if item.UnitPrice.Valid {
			if err := checkMoney(fmt.Sprintf("item %d unit_price", i), item.UnitPrice.Decimal); err != nil {
				return err
			}
		}
		if err := checkMoney(fmt.Sprintf("item %d discount_amount", i), item.DiscountAmount); err != nil {
			return err
		}
		for j, addon := range item.Addons {
			if strings.TrimSpace(addon.AddonID) == "" {
				return fmt.Errorf("%w: item %d addon %d: addon_id is required", store.ErrInvalidInput, i, j)
			}
			if addon.Quantity <= 0 || addon.Quantity > maxQuantity {
				return fmt.Errorf("%w: item %d addon %d: quantity must be between 1 and %d", store.ErrInvalidInput, i, j, maxQuantity)
			}
		}
	}

	if err := checkMoney("discount_amount", req.DiscountAmount); err != nil {
		return err
	}
	if err := checkMoney("tax_amount", req.TaxAmount); err != nil {
		return err
	}
	return validatePayments(req.Payments)
}

func validatePayments(payments []domain.PaymentRequest) error {
	for i := range payments {
		method := strings.ToUpper(strings.TrimSpace(payments[i].Method))
		if !isSupportedPaymentMethod(method) {
			return fmt.Errorf("%w: payment %d: unsupported method %q", store.ErrInvalidInput, i, payments[i].Method)
		}
		if !payments[i].Amount.IsPositive() {
			return fmt.Errorf("%w: payment %d: amount must be positive", store.ErrInvalidInput, i)
		}
		if err := checkMoney(fmt.Sprintf("payment %d amount", i), payments[i].Amount); err != nil {
			return err
		}
		payments[i].Method = method
		payments[i].ReferenceNumber = strings.TrimSpace(payments[i].ReferenceNumber)
	}
	return nil
}

// priceCart resolves every referenced entity with one lookup per kind and
// computes line and cart totals.
func (s *Service) priceCart(ctx context.Context, req domain.CreateTransactionRequest) (pricedCart, error) {
	branch, err := s.repo.GetBranch(ctx, req.BranchID)
	if err != nil {
		return pricedCart{}, err
	}
	if !branch.IsActive {
		return pricedCart{}, fmt.Errorf("%w: %s is inactive", store.ErrBranchNotFound, branch.ID)
	}
	if req.CustomerID != nil {
		if _, err := s.repo.GetCustomer(ctx, *req.CustomerID); err != nil {
			return pricedCart{}, err
		}
	}

	var productIDs, variantIDs, addonIDs []string
	for _, item := range req.Items {
		productIDs = append(productIDs, item.ProductID)
		if item.VariantID != nil {
			variantIDs = append(variantIDs, *item.VariantID)
		}
		for _, addon := range item.Addons {
			addonIDs = append(addonIDs, addon.AddonID)
		}
	}

	products, err := s.repo.GetProductsByIDs(ctx, uniqueStrings(productIDs))
	if err != nil {
		return pricedCart{}, err
	}
	variants := map[string]domain.ProductVariant{}
	if len(variantIDs) > 0 {
		if variants, err = s.repo.GetVariantsByIDs(ctx, uniqueStrings(variantIDs)); err != nil {
			return pricedCart{}, err
		}
	}
	addons := map[string]domain.Addon{}
	if len(addonIDs) > 0 {
		if addons, err = s.repo.GetAddonsByIDs(ctx, uniqueStrings(addonIDs)); err != nil {
			return pricedCart{}, err
		}
	}

	lines := make([]pricing.Line, len(req.Items))
	items := make([]domain.TransactionItem, len(req.Items))
	for i, item := range req.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return pricedCart{}, fmt.Errorf("%w: %s", store.ErrProductNotFound, item.ProductID)
		}
		if !product.IsActive {
			return pricedCart{}, fmt.Errorf("%w: item %d: product %s is inactive", store.ErrInvalidInput, i, product.ID)
		}

		unitPrice := product.SellingPrice
		var variantID *string
		if item.VariantID != nil {
			variant, ok := variants[*item.VariantID]
			if !ok || variant.ProductID != product.ID {
				return pricedCart{}, fmt.Errorf("%w: %s for product %s", store.ErrVariantNotFound, *item.VariantID, product.ID)
			}
			if !variant.IsActive {
				return pricedCart{}, fmt.Errorf("%w: item %d: variant %s is inactive", store.ErrInvalidInput, i, variant.ID)
			}
			unitPrice = unitPrice.Add(variant.PriceAdjustment)
			id := variant.ID
			variantID = &id
		}
		if item.UnitPrice.Valid {
			unitPrice = item.UnitPrice.Decimal
		}

		line := pricing.Line{Quantity: item.Quantity, UnitPrice: unitPrice, Discount: item.DiscountAmount}
		lineAddons := make([]domain.TransactionItemAddon, len(item.Addons))
		for j, ref := range item.Addons {
			addon, ok := addons[ref.AddonID]
			if !ok {
				return pricedCart{}, fmt.Errorf("%w: %s", store.ErrAddonNotFound, ref.AddonID)
			}
			if !addon.IsActive {
				return pricedCart{}, fmt.Errorf("%w: item %d: addon %s is inactive", store.ErrInvalidInput, i, addon.ID)
			}
			line.Addons = append(line.Addons, pricing.AddonLine{Quantity: ref.Quantity, UnitPrice: addon.Price})
			lineAddons[j] = domain.TransactionItemAddon{AddonID: addon.ID, Quantity: ref.Quantity, UnitPrice: addon.Price}
		}
		lines[i] = line
		items[i] = domain.TransactionItem{
			LineNo:         i + 1,
			ProductID:      product.ID,
			VariantID:      variantID,
			Quantity:       item.Quantity,
			UnitPrice:      unitPrice,
			DiscountAmount: item.DiscountAmount,
			Notes:          strings.TrimSpace(item.Notes),
			Addons:         lineAddons,
		}
	}

	breakdown, err := pricing.CartSubtotal(lines)
	if err != nil {
		return pricedCart{}, err
	}
	total, err := pricing.GrandTotal(breakdown.Subtotal, req.DiscountAmount, req.TaxAmount)
	if err != nil {
		return pricedCart{}, err
	}
	if err := checkMoney("subtotal", breakdown.Subtotal); err != nil {
		return pricedCart{}, err
	}
	if err := checkMoney("total", total); err != nil {
		return pricedCart{}, err
	}
	for i := range items {
		items[i].TotalAmount = breakdown.Lines[i].ItemTotal
		for j := range items[i].Addons {
			items[i].Addons[j].TotalPrice = breakdown.Lines[i].AddonTotals[j]
		}
	}

	payments := make([]domain.TransactionPayment, len(req.Payments))
	for i, p := range req.Payments {
		payments[i] = domain.TransactionPayment{PaymentMethod: p.Method, Amount: p.Amount, ReferenceNumber: p.ReferenceNumber}
	}

	return pricedCart{items: items, payments: payments, subtotal: breakdown.Subtotal, total: total}, nil
}

// newTransaction assigns fresh ids and a fresh number to a priced cart. It is
// called once per attempt so a retried unit never reuses a colliding number.
func (s *Service) newTransaction(req domain.CreateTransactionRequest, userID string, cart pricedCart) domain.Transaction {
	now := s.clock()
	txn := domain.Transaction{
		ID:                xid.NewID(),
		TransactionNumber: xid.TransactionNumber(now),
		BranchID:          req.BranchID,
		CustomerID:        req.CustomerID,
		UserID:            userID,
		Subtotal:          cart.subtotal,
		DiscountAmount:    req.DiscountAmount,
		TaxAmount:         req.TaxAmount,
		TotalAmount:       cart.total,
		Status:            domain.TxStatusPending,
		Notes:             strings.TrimSpace(req.Notes),
		CreatedAt:         now,
		UpdatedAt:         now,
		Items:             make([]domain.TransactionItem, len(cart.items)),
		Payments:          make([]domain.TransactionPayment, len(cart.payments)),
	}

	for i, item := range cart.items {
		item.ID = xid.NewID()
		item.TransactionID = txn.ID
		addons := make([]domain.TransactionItemAddon, len(item.Addons))
		for j, addon := range item.Addons {
			addon.ID = xid.NewID()
			addon.TransactionItemID = item.ID
			addons[j] = addon
		}
		item.Addons = addons
		txn.Items[i] = item
	}
	for i, p := range cart.payments {
		p.ID = xid.NewID()
		p.TransactionID = txn.ID
		p.CreatedAt = now
		txn.Payments[i] = p
	}
	return txn
}

func (s *Service) writeTransaction(ctx context.Context, tx store.Tx, txn domain.Transaction) error {
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return err
	}
	for _, item := range txn.Items {
		if err := tx.InsertTransactionItem(ctx, item); err != nil {
			return fmt.Errorf("item %d: %w", item.LineNo, err)
		}
		for _, addon := range item.Addons {
			if err := tx.InsertTransactionItemAddon(ctx, addon); err != nil {
				return fmt.Errorf("item %d addon %s: %w", item.LineNo, addon.AddonID, err)
			}
		}
	}
	for _, line := range stockLines(txn.Items) {
		if _, err := s.ledger.Reserve(ctx, tx, line.ProductID, txn.BranchID, line.Quantity); err != nil {
			return reservationError(err)
		}
	}
	for _, p := range txn.Payments {
		if err := tx.InsertTransactionPayment(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// stockLines folds transaction items into one line per product, in the
// order stock rows are locked.
func stockLines(items []domain.TransactionItem) []ledger.Line {
	lines := make([]ledger.Line, len(items))
	for i, item := range items {
		lines[i] = ledger.Line{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return ledger.Consolidate(lines)
}

// reservationError reports a failed sale reservation as plain insufficient
// stock. Stock rows are never created during a sale.
func reservationError(err error) error {
	var shortage *store.StockShortageError
	if errors.As(err, &shortage) {
		return &store.StockShortageError{
			ProductID: shortage.ProductID,
			BranchID:  shortage.BranchID,
			Available: shortage.Available,
			Requested: shortage.Requested,
			Err:       store.ErrInsufficientStock,
		}
	}
	if errors.Is(err, store.ErrStockRecordNotFound) {
		return fmt.Errorf("no stock record: %w", err)
	}
	return err
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	txn, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *txn, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	filter.Status = domain.TransactionStatus(strings.ToUpper(strings.TrimSpace(string(filter.Status))))
	switch filter.Status {
	case "", domain.TxStatusPending, domain.TxStatusCompleted, domain.TxStatusCancelled, domain.TxStatusHold:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", store.ErrInvalidInput, filter.Status)
	}
	filter.Limit = clampLimit(filter.Limit)
	return s.repo.ListTransactions(ctx, filter)
}

// CompleteTransaction turns the reservations of a PENDING transaction into OUT
// movements, appends any extra payments and credits the customer. Payments
// must cover the total.
func (s *Service) CompleteTransaction(ctx context.Context, id string, req domain.CompleteTransactionRequest) (domain.Transaction, error) {
	if err := validatePayments(req.Payments); err != nil {
		return domain.Transaction{}, err
	}
	actor, _ := ActorFromContext(ctx)

	var number string
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		txn, err := s.lockForTransition(ctx, tx, id, domain.TxStatusCompleted)
		if err != nil {
			return err
		}
		number = txn.TransactionNumber
		now := s.clock()

		paid := decimal.Zero
		for _, p := range txn.Payments {
			paid = paid.Add(p.Amount)
		}
		for _, p := range req.Payments {
			if err := tx.InsertTransactionPayment(ctx, domain.TransactionPayment{
				ID:              xid.NewID(),
				TransactionID:   txn.ID,
				PaymentMethod:   p.Method,
				Amount:          p.Amount,
				ReferenceNumber: p.ReferenceNumber,
				CreatedAt:       now,
			}); err != nil {
				return err
			}
			paid = paid.Add(p.Amount)
		}
		if paid.LessThan(txn.TotalAmount) {
			return fmt.Errorf("%w: payments %s do not cover total %s", store.ErrInvalidInput, paid.StringFixed(2), txn.TotalAmount.StringFixed(2))
		}

		for _, line := range stockLines(txn.Items) {
			if _, err := s.ledger.CommitReservation(ctx, tx, line.ProductID, txn.BranchID, line.Quantity, actor.UserID, txn.TransactionNumber); err != nil {
				return err
			}
		}
		if err := tx.UpdateTransactionStatus(ctx, txn.ID, domain.TxStatusCompleted, now, &now); err != nil {
			return err
		}
		if txn.CustomerID != nil {
			return tx.AddCustomerSpend(ctx, *txn.CustomerID, txn.TotalAmount, s.loyaltyPoints(txn.TotalAmount), now)
		}
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "", "transaction_complete", "transaction", id, "number="+number)
	return s.GetTransaction(ctx, id)
}

// CancelTransaction releases every reservation the transaction holds.
func (s *Service) CancelTransaction(ctx context.Context, id string, req domain.TransactionStatusRequest) (domain.Transaction, error) {
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		txn, err := s.lockForTransition(ctx, tx, id, domain.TxStatusCancelled)
		if err != nil {
			return err
		}
		for _, line := range stockLines(txn.Items) {
			if _, err := s.ledger.Release(ctx, tx, line.ProductID, txn.BranchID, line.Quantity); err != nil {
				return err
			}
		}
		return tx.UpdateTransactionStatus(ctx, txn.ID, domain.TxStatusCancelled, s.clock(), nil)
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "", "transaction_cancel", "transaction", id, "reason="+strings.TrimSpace(req.Reason))
	return s.GetTransaction(ctx, id)
}

// HoldTransaction parks a PENDING transaction. Its reservations stay in place.
func (s *Service) HoldTransaction(ctx context.Context, id string, req domain.TransactionStatusRequest) (domain.Transaction, error) {
	return s.setStatus(ctx, id, domain.TxStatusHold, "transaction_hold", req.Reason)
}

func (s *Service) ResumeTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	return s.setStatus(ctx, id, domain.TxStatusPending, "transaction_resume", "")
}

func (s *Service) setStatus(ctx context.Context, id string, to domain.TransactionStatus, action string, reason string) (domain.Transaction, error) {
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		txn, err := s.lockForTransition(ctx, tx, id, to)
		if err != nil {
			return err
		}
		return tx.UpdateTransactionStatus(ctx, txn.ID, to, s.clock(), nil)
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "", action, "transaction", id, "reason="+strings.TrimSpace(reason))
	return s.GetTransaction(ctx, id)
}

func (s *Service) lockForTransition(ctx context.Context, tx store.Tx, id string, to domain.TransactionStatus) (*domain.Transaction, error) {
	txn, err := tx.LockTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(txn.Status, to) {
		return nil, fmt.Errorf("%w: transaction %s cannot move from %s to %s", store.ErrInvalidState, txn.ID, txn.Status, to)
	}
	return txn, nil
}

// loyaltyPoints awards one point per full spend unit.
func (s *Service) loyaltyPoints(total decimal.Decimal) int {
	if !total.IsPositive() {
		return 0
	}
	return int(total.Div(s.spendPerPoint).Floor().IntPart())
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentQRIS, domain.PaymentEWallet, domain.PaymentTransfer:
		return true
	default:
		return false
	}
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// RangeForDay returns [start, end) of the calendar day containing date in loc.
func RangeForDay(date string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
	}
	return day, day.AddDate(0, 0, 1), nil
}
