package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/store"
)

func TestWithinTxDiscardsWritesOnError(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertTransaction(ctx, domain.Transaction{
			ID: "tx-1", TransactionNumber: "TRX-1", BranchID: SeedBranchID, Status: domain.TxStatusPending, CreatedAt: now,
		}); err != nil {
			return err
		}
		if _, err := tx.ReserveStock(ctx, SeedTeaID, SeedBranchID, 5, now); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if counts := s.RowCounts(); counts["transactions"] != 0 {
		t.Fatalf("expected no transactions after rollback, got %d", counts["transactions"])
	}
	stock, err := s.GetStock(ctx, SeedTeaID, SeedBranchID)
	if err != nil {
		t.Fatalf("get stock failed: %v", err)
	}
	if stock.ReservedQuantity != 0 {
		t.Fatalf("expected reservation rolled back, got %d", stock.ReservedQuantity)
	}
}

func TestWithinTxDiscardsWritesOnCancelledContext(t *testing.T) {
	s := NewSeeded()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.ReserveStock(ctx, SeedTeaID, SeedBranchID, 5, time.Now()); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancelled, got %v", err)
	}
	stock, _ := s.GetStock(context.Background(), SeedTeaID, SeedBranchID)
	if stock.ReservedQuantity != 0 {
		t.Fatalf("expected reservation discarded, got %d", stock.ReservedQuantity)
	}
}

func TestReserveStockChecksAvailability(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.ReserveStock(ctx, SeedTeaID, SeedBranchID, SeedStockQty+1, time.Now())
		return err
	})
	var shortage *store.StockShortageError
	if !errors.As(err, &shortage) {
		t.Fatalf("expected stock shortage, got %v", err)
	}
	if !errors.Is(err, store.ErrInsufficientAvailableStock) {
		t.Fatalf("expected insufficient available stock, got %v", err)
	}
	if shortage.Available != SeedStockQty || shortage.Requested != SeedStockQty+1 {
		t.Fatalf("unexpected shortage detail: %+v", shortage)
	}

	err = s.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.ReserveStock(ctx, SeedTeaID, "missing-branch", 1, time.Now())
		return err
	})
	if !errors.Is(err, store.ErrStockRecordNotFound) || !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected stock record not found, got %v", err)
	}
}

func TestInsertTransactionRejectsDuplicateNumber(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	insert := func(id string) error {
		return s.WithinTx(ctx, func(tx store.Tx) error {
			return tx.InsertTransaction(ctx, domain.Transaction{
				ID: id, TransactionNumber: "TRX-DUP", BranchID: SeedBranchID, Status: domain.TxStatusPending,
			})
		})
	}
	if err := insert("a"); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := insert("b"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCustomerCodeUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.CreateCustomer(ctx, domain.Customer{CustomerCode: "CUST-1", Name: "A"}); err != nil {
		t.Fatalf("create customer failed: %v", err)
	}
	if _, err := s.CreateCustomer(ctx, domain.Customer{CustomerCode: "CUST-1", Name: "B"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUpdateCustomerKeepsSpend(t *testing.T) {
	s := New()
	ctx := context.Background()
	created, err := s.CreateCustomer(ctx, domain.Customer{CustomerCode: "CUST-1", Name: "A", TotalSpent: decimal.NewFromInt(5)})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}
	updated, err := s.UpdateCustomer(ctx, domain.Customer{ID: created.ID, Name: "B", TotalSpent: decimal.Zero})
	if err != nil {
		t.Fatalf("update customer failed: %v", err)
	}
	if !updated.TotalSpent.Equal(decimal.NewFromInt(5)) || updated.CustomerCode != "CUST-1" {
		t.Fatalf("expected spend and code preserved, got %+v", updated)
	}
}

func TestGetTransactionAssemblesChildren(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertTransaction(ctx, domain.Transaction{ID: "t1", TransactionNumber: "TRX-1", BranchID: SeedBranchID}); err != nil {
			return err
		}
		if err := tx.InsertTransactionItem(ctx, domain.TransactionItem{ID: "i1", TransactionID: "t1", ProductID: SeedCoffeeID, Quantity: 1}); err != nil {
			return err
		}
		if err := tx.InsertTransactionItemAddon(ctx, domain.TransactionItemAddon{ID: "a1", TransactionItemID: "i1", AddonID: SeedBobaID, Quantity: 1}); err != nil {
			return err
		}
		return tx.InsertTransactionPayment(ctx, domain.TransactionPayment{ID: "p1", TransactionID: "t1", PaymentMethod: domain.PaymentCash})
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	txn, err := s.GetTransaction(ctx, "t1")
	if err != nil {
		t.Fatalf("get transaction failed: %v", err)
	}
	if len(txn.Items) != 1 || len(txn.Items[0].Addons) != 1 || len(txn.Payments) != 1 {
		t.Fatalf("expected assembled children, got %+v", txn)
	}
	if _, err := s.GetTransaction(ctx, "missing"); !errors.Is(err, store.ErrTransactionNotFound) {
		t.Fatalf("expected transaction not found, got %v", err)
	}
}

func TestUpdateStockGuardsInvariant(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.UpdateStock(ctx, domain.Stock{ProductID: SeedTeaID, BranchID: SeedBranchID, Quantity: 1, ReservedQuantity: 2})
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}
