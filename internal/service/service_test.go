package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/ledger"
	"posbackoffice/backend/internal/store"
	"posbackoffice/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, ledger.New(), nil, nil, Options{}), repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "user-cashier",
		Username: "cashier",
		Role:     domain.RoleCashier,
		BranchID: memory.SeedBranchID,
	})
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func strPtr(value string) *string {
	return &value
}

func coffeeCart() domain.CreateTransactionRequest {
	return domain.CreateTransactionRequest{
		BranchID: memory.SeedBranchID,
		Items: []domain.CartItem{{
			ProductID: memory.SeedCoffeeID,
			Quantity:  2,
			UnitPrice: decimal.NewNullDecimal(dec("15.00")),
			Addons:    []domain.CartAddon{{AddonID: memory.SeedExtraShotID, Quantity: 1}},
		}},
		TaxAmount: dec("1.50"),
		Payments:  []domain.PaymentRequest{{Method: "cash", Amount: dec("34.00")}},
	}
}

func setStock(t *testing.T, svc *Service, productID string, qty int) {
	t.Helper()
	_, err := svc.ApplyStockMovement(cashierCtx(), domain.StockMovementRequest{
		ProductID: productID, BranchID: memory.SeedBranchID, MovementType: domain.MovementAdjustment, Quantity: qty,
	})
	if err != nil {
		t.Fatalf("set stock failed: %v", err)
	}
}

func mustStock(t *testing.T, svc *Service, productID string) domain.Stock {
	t.Helper()
	stock, err := svc.GetStock(context.Background(), productID, memory.SeedBranchID)
	if err != nil {
		t.Fatalf("get stock failed: %v", err)
	}
	return stock
}

func TestCreateTransactionComputesTotalsAndReserves(t *testing.T) {
	svc, _ := newTestService()

	txn, err := svc.CreateTransaction(cashierCtx(), coffeeCart())
	if err != nil {
		t.Fatalf("create transaction failed: %v", err)
	}

	if !txn.Subtotal.Equal(dec("32.50")) || !txn.TotalAmount.Equal(dec("34.00")) {
		t.Fatalf("expected subtotal 32.50 and total 34.00, got %s and %s", txn.Subtotal, txn.TotalAmount)
	}
	if txn.Status != domain.TxStatusPending || txn.UserID != "user-cashier" {
		t.Fatalf("unexpected header: %+v", txn)
	}
	if len(txn.Items) != 1 || len(txn.Items[0].Addons) != 1 || len(txn.Payments) != 1 {
		t.Fatalf("expected one item, one addon and one payment, got %+v", txn)
	}
	if !txn.Items[0].Addons[0].UnitPrice.Equal(dec("2.50")) || txn.Payments[0].PaymentMethod != domain.PaymentCash {
		t.Fatalf("expected snapshotted addon price and normalized method, got %+v", txn)
	}

	if got := mustStock(t, svc, memory.SeedCoffeeID); got.Quantity != memory.SeedStockQty || got.ReservedQuantity != 2 {
		t.Fatalf("expected %d on hand with 2 reserved, got %+v", memory.SeedStockQty, got)
	}

	stored, err := svc.GetTransaction(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("get transaction failed: %v", err)
	}
	if stored.TransactionNumber != txn.TransactionNumber || !stored.TotalAmount.Equal(txn.TotalAmount) {
		t.Fatalf("stored transaction differs: %+v", stored)
	}
}

func TestCreateTransactionUsesCatalogPriceWithVariant(t *testing.T) {
	svc, _ := newTestService()

	txn, err := svc.CreateTransaction(cashierCtx(), domain.CreateTransactionRequest{
		BranchID: memory.SeedBranchID,
		Items:    []domain.CartItem{{ProductID: memory.SeedCoffeeID, VariantID: strPtr(memory.SeedLargeCoffeeID), Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create transaction failed: %v", err)
	}
	if !txn.Items[0].UnitPrice.Equal(dec("18.00")) || !txn.TotalAmount.Equal(dec("18.00")) {
		t.Fatalf("expected selling price plus adjustment 18.00, got %+v", txn.Items[0])
	}
}

func TestCreateTransactionRejectsForeignVariant(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateTransaction(cashierCtx(), domain.CreateTransactionRequest{
		BranchID: memory.SeedBranchID,
		Items:    []domain.CartItem{{ProductID: memory.SeedTeaID, VariantID: strPtr(memory.SeedLargeCoffeeID), Quantity: 1}},
	})
	if !errors.Is(err, store.ErrVariantNotFound) || !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected variant not found, got %v", err)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	svc, repo := newTestService()

	cases := []struct {
		name   string
		mutate func(*domain.CreateTransactionRequest)
		want   error
	}{
		{"empty cart", func(r *domain.CreateTransactionRequest) { r.Items = nil }, store.ErrInvalidInput},
		{"zero quantity", func(r *domain.CreateTransactionRequest) { r.Items[0].Quantity = 0 }, store.ErrInvalidInput},
		{"negative unit price", func(r *domain.CreateTransactionRequest) { r.Items[0].UnitPrice = decimal.NewNullDecimal(dec("-1")) }, store.ErrInvalidInput},
		{"sub-cent price", func(r *domain.CreateTransactionRequest) { r.Items[0].UnitPrice = decimal.NewNullDecimal(dec("1.005")) }, store.ErrInvalidInput},
		{"discount above line", func(r *domain.CreateTransactionRequest) { r.Items[0].DiscountAmount = dec("30.01") }, store.ErrInvalidInput},
		{"negative tax", func(r *domain.CreateTransactionRequest) { r.TaxAmount = dec("-0.01") }, store.ErrInvalidInput},
		{"negative grand total", func(r *domain.CreateTransactionRequest) { r.DiscountAmount = dec("40.00") }, store.ErrInvalidInput},
		{"zero payment", func(r *domain.CreateTransactionRequest) { r.Payments[0].Amount = decimal.Zero }, store.ErrInvalidInput},
		{"unknown payment method", func(r *domain.CreateTransactionRequest) { r.Payments[0].Method = "barter" }, store.ErrInvalidInput},
		{"quantity above column range", func(r *domain.CreateTransactionRequest) { r.Items[0].Quantity = math.MaxInt32 + 1 }, store.ErrInvalidInput},
		{"split quantity above column range", func(r *domain.CreateTransactionRequest) {
			r.Items[0].Quantity = math.MaxInt32/2 + 1
			r.Items = append(r.Items, domain.CartItem{ProductID: memory.SeedCoffeeID, Quantity: math.MaxInt32/2 + 1})
		}, store.ErrInvalidInput},
		{"price above column range", func(r *domain.CreateTransactionRequest) {
			r.Items[0].UnitPrice = decimal.NewNullDecimal(dec("1000000000000"))
		}, store.ErrInvalidInput},
		{"payment above column range", func(r *domain.CreateTransactionRequest) { r.Payments[0].Amount = dec("1000000000000.00") }, store.ErrInvalidInput},
		{"subtotal above column range", func(r *domain.CreateTransactionRequest) {
			r.Items[0].Quantity = 1000000
			r.Items[0].UnitPrice = decimal.NewNullDecimal(dec("9999999.00"))
		}, store.ErrInvalidInput},
		{"missing branch", func(r *domain.CreateTransactionRequest) { r.BranchID = "missing" }, store.ErrBranchNotFound},
		{"missing customer", func(r *domain.CreateTransactionRequest) { r.CustomerID = strPtr("missing") }, store.ErrCustomerNotFound},
		{"missing product", func(r *domain.CreateTransactionRequest) { r.Items[0].ProductID = "missing" }, store.ErrProductNotFound},
		{"missing addon", func(r *domain.CreateTransactionRequest) { r.Items[0].Addons[0].AddonID = "missing" }, store.ErrAddonNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := coffeeCart()
			tc.mutate(&req)
			if _, err := svc.CreateTransaction(cashierCtx(), req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	for table, n := range repo.RowCounts() {
		if table != "customers" && n != 0 {
			t.Fatalf("expected no rows in %s after failed creates, got %d", table, n)
		}
	}
}

func TestCreateTransactionRequiresActor(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.CreateTransaction(context.Background(), coffeeCart()); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input without actor, got %v", err)
	}
}

func TestCreateTransactionRejectsInactiveProduct(t *testing.T) {
	svc, _ := newTestService()
	inactive := false
	if _, err := svc.UpdateProduct(cashierCtx(), memory.SeedCoffeeID, domain.ProductUpdateRequest{IsActive: &inactive}); err != nil {
		t.Fatalf("deactivate product failed: %v", err)
	}
	if _, err := svc.CreateTransaction(cashierCtx(), coffeeCart()); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for inactive product, got %v", err)
	}
}

func TestCreateTransactionRollsBackWhenReservationFails(t *testing.T) {
	svc, repo := newTestService()

	// A product that has never moved has no stock row at the branch.
	product, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{
		SKU: "BAK-DONUT", Name: "Donut", SellingPrice: dec("7.00"),
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	req := coffeeCart()
	req.Items = append(req.Items, domain.CartItem{ProductID: product.ID, Quantity: 1})
	_, err = svc.CreateTransaction(cashierCtx(), req)
	if !errors.Is(err, store.ErrStockRecordNotFound) {
		t.Fatalf("expected stock record not found, got %v", err)
	}

	counts := repo.RowCounts()
	for _, table := range []string{"transactions", "transaction_items", "transaction_item_addons", "transaction_payments"} {
		if counts[table] != 0 {
			t.Fatalf("expected no rows in %s, got %d", table, counts[table])
		}
	}
	if got := mustStock(t, svc, memory.SeedCoffeeID); got.ReservedQuantity != 0 {
		t.Fatalf("expected coffee reservation rolled back, got %d", got.ReservedQuantity)
	}
}

func TestCreateTransactionReportsShortage(t *testing.T) {
	svc, _ := newTestService()
	setStock(t, svc, memory.SeedCoffeeID, 1)

	_, err := svc.CreateTransaction(cashierCtx(), coffeeCart())
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var shortage *store.StockShortageError
	if !errors.As(err, &shortage) || shortage.ProductID != memory.SeedCoffeeID || shortage.Available != 1 || shortage.Requested != 2 {
		t.Fatalf("expected shortage naming coffee 1/2, got %v", err)
	}
}

func TestConcurrentCreatesReserveExactly(t *testing.T) {
	svc, _ := newTestService()
	const workers = 8
	const qty = 3
	setStock(t, svc, memory.SeedTeaID, (workers-1)*qty)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateTransaction(cashierCtx(), domain.CreateTransactionRequest{
				BranchID: memory.SeedBranchID,
				Items:    []domain.CartItem{{ProductID: memory.SeedTeaID, Quantity: qty}},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, short := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != workers-1 || short != 1 {
		t.Fatalf("expected %d successes and 1 shortage, got %d and %d", workers-1, succeeded, short)
	}
	if got := mustStock(t, svc, memory.SeedTeaID); got.ReservedQuantity != got.Quantity {
		t.Fatalf("expected fully reserved stock, got %+v", got)
	}
}

func TestConcurrentNumbersAreUnique(t *testing.T) {
	svc, _ := newTestService()
	const workers = 40

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		numbers = map[string]bool{}
		codes   = map[string]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn, err := svc.CreateTransaction(cashierCtx(), domain.CreateTransactionRequest{
				BranchID: memory.SeedBranchID,
				Items:    []domain.CartItem{{ProductID: memory.SeedCroissantID, Quantity: 1}},
			})
			if err != nil {
				t.Errorf("create transaction failed: %v", err)
				return
			}
			customer, err := svc.CreateCustomer(cashierCtx(), domain.CustomerCreateRequest{Name: fmt.Sprintf("Customer %d", i)})
			if err != nil {
				t.Errorf("create customer failed: %v", err)
				return
			}
			mu.Lock()
			numbers[txn.TransactionNumber] = true
			codes[customer.CustomerCode] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(numbers) != workers || len(codes) != workers {
		t.Fatalf("expected %d distinct numbers and codes, got %d and %d", workers, len(numbers), len(codes))
	}
}

// conflictingRepo fails the first n units of work with a conflict.
type conflictingRepo struct {
	store.Repository
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *conflictingRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	r.mu.Lock()
	r.calls++
	fail := r.failures > 0
	if fail {
		r.failures--
	}
	r.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: transaction number already exists", store.ErrConflict)
	}
	return r.Repository.WithinTx(ctx, fn)
}

func TestCreateTransactionRetriesNumberConflicts(t *testing.T) {
	repo := &conflictingRepo{Repository: memory.NewSeeded(), failures: 2}
	svc := New(repo, nil, nil, nil, Options{TxNumberRetries: 3})
	if _, err := svc.CreateTransaction(cashierCtx(), coffeeCart()); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if repo.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", repo.calls)
	}

	repo = &conflictingRepo{Repository: memory.NewSeeded(), failures: 3}
	svc = New(repo, nil, nil, nil, Options{TxNumberRetries: 3})
	if _, err := svc.CreateTransaction(cashierCtx(), coffeeCart()); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict after retries are exhausted, got %v", err)
	}
}

func TestRandomCartsReconcile(t *testing.T) {
	svc, _ := newTestService()
	for _, id := range []string{memory.SeedCoffeeID, memory.SeedTeaID, memory.SeedCroissantID} {
		setStock(t, svc, id, 100000)
	}
	products := []string{memory.SeedCoffeeID, memory.SeedTeaID, memory.SeedCroissantID}
	addons := []string{memory.SeedExtraShotID, memory.SeedBobaID}
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		req := domain.CreateTransactionRequest{BranchID: memory.SeedBranchID, TaxAmount: decimal.New(int64(rng.Intn(500)), -2)}
		for i := 0; i < 1+rng.Intn(4); i++ {
			item := domain.CartItem{ProductID: products[rng.Intn(len(products))], Quantity: 1 + rng.Intn(3)}
			if rng.Intn(2) == 0 {
				item.UnitPrice = decimal.NewNullDecimal(decimal.New(int64(100+rng.Intn(3000)), -2))
			}
			for j := 0; j < rng.Intn(3); j++ {
				item.Addons = append(item.Addons, domain.CartAddon{AddonID: addons[rng.Intn(len(addons))], Quantity: 1 + rng.Intn(2)})
			}
			req.Items = append(req.Items, item)
		}

		txn, err := svc.CreateTransaction(cashierCtx(), req)
		if err != nil {
			t.Fatalf("round %d: create failed: %v", round, err)
		}
		sum := decimal.Zero
		for _, item := range txn.Items {
			sum = sum.Add(item.TotalAmount)
			for _, addon := range item.Addons {
				sum = sum.Add(addon.TotalPrice)
			}
		}
		if !sum.Equal(txn.Subtotal) {
			t.Fatalf("round %d: subtotal %s != line sum %s", round, txn.Subtotal, sum)
		}
		if !txn.Subtotal.Sub(txn.DiscountAmount).Add(txn.TaxAmount).Equal(txn.TotalAmount) {
			t.Fatalf("round %d: total %s does not reconcile", round, txn.TotalAmount)
		}
	}
}

func TestCompleteCommitsReservationAndCreditsCustomer(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()
	customer, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Budi", MembershipType: "gold"})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}

	req := coffeeCart()
	req.CustomerID = &customer.ID
	req.Payments = []domain.PaymentRequest{{Method: "CASH", Amount: dec("20.00")}}
	txn, err := svc.CreateTransaction(ctx, req)
	if err != nil {
		t.Fatalf("create transaction failed: %v", err)
	}

	if _, err := svc.CompleteTransaction(ctx, txn.ID, domain.CompleteTransactionRequest{}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected underpayment to be rejected, got %v", err)
	}
	if got := mustStock(t, svc, memory.SeedCoffeeID); got.ReservedQuantity != 2 {
		t.Fatalf("expected reservation intact after failed completion, got %+v", got)
	}

	completed, err := svc.CompleteTransaction(ctx, txn.ID, domain.CompleteTransactionRequest{
		Payments: []domain.PaymentRequest{{Method: "qris", Amount: dec("14.00"), ReferenceNumber: "QR-1"}},
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if completed.Status != domain.TxStatusCompleted || completed.CompletedAt == nil || len(completed.Payments) != 2 {
		t.Fatalf("unexpected completed transaction: %+v", completed)
	}

	if got := mustStock(t, svc, memory.SeedCoffeeID); got.Quantity != memory.SeedStockQty-2 || got.ReservedQuantity != 0 {
		t.Fatalf("expected reservation committed, got %+v", got)
	}
	movements, err := svc.ListStockMovements(context.Background(), domain.MovementFilter{ProductID: memory.SeedCoffeeID})
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	found := false
	for _, m := range movements {
		if m.MovementType == domain.MovementOut && m.Quantity == -2 && m.Reference == txn.TransactionNumber {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected OUT movement referencing %s, got %+v", txn.TransactionNumber, movements)
	}

	credited, err := svc.GetCustomer(context.Background(), customer.ID)
	if err != nil {
		t.Fatalf("get customer failed: %v", err)
	}
	if !credited.TotalSpent.Equal(dec("34.00")) || credited.LoyaltyPoints != 3 {
		t.Fatalf("expected spend 34.00 and 3 points, got %s and %d", credited.TotalSpent, credited.LoyaltyPoints)
	}

	if _, err := svc.CancelTransaction(ctx, txn.ID, domain.TransactionStatusRequest{}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected completed transaction to be terminal, got %v", err)
	}
}

func TestCancelReleasesReservation(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()
	txn, err := svc.CreateTransaction(ctx, coffeeCart())
	if err != nil {
		t.Fatalf("create transaction failed: %v", err)
	}

	cancelled, err := svc.CancelTransaction(ctx, txn.ID, domain.TransactionStatusRequest{Reason: "customer left"})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.TxStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if got := mustStock(t, svc, memory.SeedCoffeeID); got.Quantity != memory.SeedStockQty || got.ReservedQuantity != 0 {
		t.Fatalf("expected reservation released, got %+v", got)
	}
}

func TestHoldAndResume(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()
	txn, err := svc.CreateTransaction(ctx, coffeeCart())
	if err != nil {
		t.Fatalf("create transaction failed: %v", err)
	}

	held, err := svc.HoldTransaction(ctx, txn.ID, domain.TransactionStatusRequest{})
	if err != nil || held.Status != domain.TxStatusHold {
		t.Fatalf("expected hold, got %v / %v", held.Status, err)
	}
	if got := mustStock(t, svc, memory.SeedCoffeeID); got.ReservedQuantity != 2 {
		t.Fatalf("expected reservation kept while held, got %+v", got)
	}
	if _, err := svc.CompleteTransaction(ctx, txn.ID, domain.CompleteTransactionRequest{}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected held transaction to need resume first, got %v", err)
	}
	if _, err := svc.HoldTransaction(ctx, txn.ID, domain.TransactionStatusRequest{}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected HOLD to HOLD to be rejected, got %v", err)
	}

	resumed, err := svc.ResumeTransaction(ctx, txn.ID)
	if err != nil || resumed.Status != domain.TxStatusPending {
		t.Fatalf("expected pending after resume, got %v / %v", resumed.Status, err)
	}
	if _, err := svc.CompleteTransaction(ctx, txn.ID, domain.CompleteTransactionRequest{}); err != nil {
		t.Fatalf("complete after resume failed: %v", err)
	}
}

func TestSalesSummaryCountsCompletedOnly(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	first, err := svc.CreateTransaction(ctx, coffeeCart())
	if err != nil {
		t.Fatalf("create transaction failed: %v", err)
	}
	if _, err := svc.CompleteTransaction(ctx, first.ID, domain.CompleteTransactionRequest{}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if _, err := svc.CreateTransaction(ctx, coffeeCart()); err != nil {
		t.Fatalf("create transaction failed: %v", err)
	}

	now := time.Now().UTC()
	summary, err := svc.SalesSummary(ctx, memory.SeedBranchID, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("sales summary failed: %v", err)
	}
	if summary.Transactions != 1 || !summary.TotalAmount.Equal(dec("34.00")) {
		t.Fatalf("expected one completed sale of 34.00, got %+v", summary)
	}
	if _, err := svc.SalesSummary(ctx, memory.SeedBranchID, now, now); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected empty range to be rejected, got %v", err)
	}
}

func TestStockTransferThroughService(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()
	setStock(t, svc, memory.SeedTeaID, 50)
	dest, err := svc.CreateBranch(ctx, domain.BranchCreateRequest{Code: "north", Name: "North"})
	if err != nil {
		t.Fatalf("create branch failed: %v", err)
	}

	resp, err := svc.ApplyStockMovement(ctx, domain.StockMovementRequest{
		ProductID: memory.SeedTeaID, BranchID: memory.SeedBranchID, DestinationBranchID: dest.ID,
		MovementType: "transfer", Quantity: 20,
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if len(resp.Movements) != 2 || resp.Movements[0].Quantity != -20 || resp.Movements[1].Quantity != 20 {
		t.Fatalf("expected -20/+20 legs, got %+v", resp.Movements)
	}
	if resp.Movements[0].UserID != "user-cashier" {
		t.Fatalf("expected actor recorded on movement, got %q", resp.Movements[0].UserID)
	}
	if got := mustStock(t, svc, memory.SeedTeaID); got.Quantity != 30 {
		t.Fatalf("expected source 30, got %d", got.Quantity)
	}
}

func TestMutationsWriteAuditLog(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()
	txn, err := svc.CreateTransaction(ctx, coffeeCart())
	if err != nil {
		t.Fatalf("create transaction failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, memory.SeedBranchID, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	for _, entry := range logs {
		if entry.Action == "transaction_create" && entry.EntityID == txn.ID && entry.UserID == "user-cashier" {
			return
		}
	}
	t.Fatalf("expected transaction_create audit entry, got %+v", logs)
}

func TestCustomerMembershipValidation(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.CreateCustomer(cashierCtx(), domain.CustomerCreateRequest{Name: "A", MembershipType: "platinum"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid membership, got %v", err)
	}
	created, err := svc.CreateCustomer(cashierCtx(), domain.CustomerCreateRequest{Name: "A"})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}
	if created.MembershipType != domain.MembershipRegular {
		t.Fatalf("expected REGULAR default, got %s", created.MembershipType)
	}
}

type lockRecordingRepo struct {
	store.Repository
	mu    sync.Mutex
	locks []string
}

func (r *lockRecordingRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.Repository.WithinTx(ctx, func(tx store.Tx) error {
		return fn(&lockRecordingTx{Tx: tx, repo: r})
	})
}

func (r *lockRecordingRepo) record(productID string, branchID string, qty int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks = append(r.locks, fmt.Sprintf("%s@%s:%d", productID, branchID, qty))
}

func (r *lockRecordingRepo) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.locks
	r.locks = nil
	return out
}

type lockRecordingTx struct {
	store.Tx
	repo *lockRecordingRepo
}

func (t *lockRecordingTx) ReserveStock(ctx context.Context, productID string, branchID string, qty int, at time.Time) (*domain.Stock, error) {
	t.repo.record(productID, branchID, qty)
	return t.Tx.ReserveStock(ctx, productID, branchID, qty, at)
}

func (t *lockRecordingTx) LockStock(ctx context.Context, productID string, branchID string) (*domain.Stock, error) {
	t.repo.record(productID, branchID, 0)
	return t.Tx.LockStock(ctx, productID, branchID)
}

func TestStockRowsLockedInProductOrder(t *testing.T) {
	repo := &lockRecordingRepo{Repository: memory.NewSeeded()}
	svc := New(repo, nil, nil, nil, Options{})
	ctx := cashierCtx()
	cart := func() domain.CreateTransactionRequest {
		return domain.CreateTransactionRequest{
			BranchID: memory.SeedBranchID,
			Items: []domain.CartItem{
				{ProductID: memory.SeedTeaID, Quantity: 1},
				{ProductID: memory.SeedCoffeeID, Quantity: 2},
				{ProductID: memory.SeedTeaID, Quantity: 3},
			},
		}
	}
	coffee := memory.SeedCoffeeID + "@" + memory.SeedBranchID
	tea := memory.SeedTeaID + "@" + memory.SeedBranchID

	txn, err := svc.CreateTransaction(ctx, cart())
	if err != nil {
		t.Fatalf("create transaction failed: %v", err)
	}
	got := repo.take()
	if len(got) != 2 || got[0] != coffee+":2" || got[1] != tea+":4" {
		t.Fatalf("expected coffee then consolidated tea reservations, got %v", got)
	}
	if stock := mustStock(t, svc, memory.SeedTeaID); stock.ReservedQuantity != 4 {
		t.Fatalf("expected 4 tea reserved, got %+v", stock)
	}

	if _, err := svc.CompleteTransaction(ctx, txn.ID, domain.CompleteTransactionRequest{
		Payments: []domain.PaymentRequest{{Method: "CASH", Amount: txn.TotalAmount}},
	}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if got := repo.take(); len(got) < 2 || got[len(got)-2] != coffee+":0" || got[len(got)-1] != tea+":0" {
		t.Fatalf("expected commit to lock coffee then tea, got %v", got)
	}
	if stock := mustStock(t, svc, memory.SeedTeaID); stock.Quantity != memory.SeedStockQty-4 || stock.ReservedQuantity != 0 {
		t.Fatalf("expected tea committed once for 4 units, got %+v", stock)
	}

	second, err := svc.CreateTransaction(ctx, cart())
	if err != nil {
		t.Fatalf("create transaction failed: %v", err)
	}
	repo.take()
	if _, err := svc.CancelTransaction(ctx, second.ID, domain.TransactionStatusRequest{}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got := repo.take(); len(got) < 2 || got[len(got)-2] != coffee+":0" || got[len(got)-1] != tea+":0" {
		t.Fatalf("expected release to lock coffee then tea, got %v", got)
	}
}

func TestSalesSummaryUsesCompletionTime(t *testing.T) {
	repo := memory.NewSeeded()
	clock := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	svc := New(repo, nil, nil, nil, Options{Now: func() time.Time { return clock }})
	ctx := cashierCtx()

	txn, err := svc.CreateTransaction(ctx, coffeeCart())
	if err != nil {
		t.Fatalf("create transaction failed: %v", err)
	}
	clock = clock.Add(4 * time.Hour)
	if _, err := svc.CompleteTransaction(ctx, txn.ID, domain.CompleteTransactionRequest{}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	day1, end1, _ := RangeForDay("2026-03-01", time.UTC)
	day2, end2, _ := RangeForDay("2026-03-02", time.UTC)
	first, err := svc.SalesSummary(ctx, memory.SeedBranchID, day1, end1)
	if err != nil {
		t.Fatalf("sales summary failed: %v", err)
	}
	second, err := svc.SalesSummary(ctx, memory.SeedBranchID, day2, end2)
	if err != nil {
		t.Fatalf("sales summary failed: %v", err)
	}
	if first.Transactions != 0 || second.Transactions != 1 || second.ItemsSold != 2 {
		t.Fatalf("expected the sale on its completion day, got %+v / %+v", first, second)
	}
	if len(second.ByPayment) != 1 || second.ByPayment[0].PaymentMethod != domain.PaymentCash {
		t.Fatalf("unexpected payment rows: %+v", second.ByPayment)
	}
}

func TestSalesSummaryReflectsLaterCompletions(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()
	now := time.Now().UTC()
	from, to := now.Add(-time.Hour), now.Add(time.Hour)

	complete := func() {
		t.Helper()
		txn, err := svc.CreateTransaction(ctx, coffeeCart())
		if err != nil {
			t.Fatalf("create transaction failed: %v", err)
		}
		if _, err := svc.CompleteTransaction(ctx, txn.ID, domain.CompleteTransactionRequest{}); err != nil {
			t.Fatalf("complete failed: %v", err)
		}
	}

	complete()
	if summary, err := svc.SalesSummary(ctx, memory.SeedBranchID, from, to); err != nil || summary.Transactions != 1 {
		t.Fatalf("expected one sale, got %+v / %v", summary, err)
	}
	complete()
	summary, err := svc.SalesSummary(ctx, memory.SeedBranchID, from, to)
	if err != nil {
		t.Fatalf("sales summary failed: %v", err)
	}
	if summary.Transactions != 2 || !summary.TotalAmount.Equal(dec("68.00")) {
		t.Fatalf("expected both sales in the summary, got %+v", summary)
	}
}
