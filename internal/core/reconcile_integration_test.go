package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gasdepot/internal/core"
)

func TestReconcile_BalancedAfterNormalWrites(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	reconciler := core.NewReconciliationService(pool)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnSale,
		TxnDate:    testDate(10),
		Items:      []core.LineItemInput{{StockItemID: 1, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	_, err = ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnPayment,
		TxnDate:    testDate(12),
		Amount:     decimal.NewFromInt(2000),
	})
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	report, err := reconciler.ReconcileCustomer(ctx, 1, time.Now())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if !report.IsBalanced {
		t.Errorf("expected balanced, got difference %s", report.Difference)
	}
	if report.TransactionCount != 2 {
		t.Errorf("TransactionCount = %d, want 2", report.TransactionCount)
	}
	if !report.CalculatedBalance.Equal(decimal.NewFromInt(4042)) {
		t.Errorf("CalculatedBalance = %s, want 4042", report.CalculatedBalance)
	}
	for _, drift := range report.PerTypeDrift {
		if !drift.IsBalanced {
			t.Errorf("due drift for %s: stored %d vs calculated %d", drift.CylinderType, drift.Stored, drift.Calculated)
		}
	}
}

func TestReconcile_ReadOnly(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	reconciler := core.NewReconciliationService(pool)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnSale,
		TxnDate:    testDate(10),
		Items:      []core.LineItemInput{{StockItemID: 1, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	// Tamper, then reconcile twice: the stored value must stay tampered.
	// Detection never auto-corrects.
	if _, err := pool.Exec(ctx, "UPDATE customers SET balance = balance + 500 WHERE id = 1"); err != nil {
		t.Fatalf("tamper failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		report, err := reconciler.ReconcileCustomer(ctx, 1, time.Now())
		if err != nil {
			t.Fatalf("reconcile %d failed: %v", i, err)
		}
		if report.IsBalanced {
			t.Fatalf("reconcile %d missed the drift", i)
		}
		if !report.Difference.Equal(decimal.NewFromInt(500)) {
			t.Errorf("Difference = %s, want 500", report.Difference)
		}
	}
	if got := customerBalance(t, pool, 1); !got.Equal(decimal.NewFromInt(3521)) {
		t.Errorf("stored balance changed by a read: %s", got)
	}
}

func TestReconcile_VoidedExcludedFromReplay(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	reconciler := core.NewReconciliationService(pool)
	ctx := context.Background()

	txn, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnSale,
		TxnDate:    testDate(10),
		Items:      []core.LineItemInput{{StockItemID: 1, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if _, err := ledger.Void(ctx, txn.ID, "ops@depot"); err != nil {
		t.Fatalf("void failed: %v", err)
	}

	report, err := reconciler.ReconcileCustomer(ctx, 1, time.Now())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.TransactionCount != 0 {
		t.Errorf("TransactionCount = %d, want 0 (voided excluded)", report.TransactionCount)
	}
	if !report.IsBalanced {
		t.Errorf("expected balanced after void, difference %s", report.Difference)
	}
}

func TestRepair_OverwritesDriftAndAudits(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	reconciler := core.NewReconciliationService(pool)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnSale,
		TxnDate:    testDate(10),
		Items:      []core.LineItemInput{{StockItemID: 1, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	// Tamper with both aggregates.
	_, err = pool.Exec(ctx, `
		UPDATE customers SET balance = balance + 500 WHERE id = 1;
		UPDATE customer_due_counters SET due_qty = 7 WHERE customer_id = 1 AND cylinder_type = '11.8kg';
	`)
	if err != nil {
		t.Fatalf("tamper failed: %v", err)
	}

	result, err := reconciler.RepairCustomer(ctx, 1, "auditor@depot")
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if len(result.RepairedFields) != 2 {
		t.Errorf("RepairedFields = %v, want balance and due:11.8kg", result.RepairedFields)
	}

	if got := customerBalance(t, pool, 1); !got.Equal(decimal.NewFromInt(6042)) {
		t.Errorf("balance = %s, want 6042 after repair", got)
	}
	if got := dueQty(t, pool, 1, "11.8kg"); got != 2 {
		t.Errorf("due = %d, want 2 after repair", got)
	}

	var auditRows int
	err = pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM reconciliation_repairs WHERE customer_id = 1 AND repaired_by = 'auditor@depot'",
	).Scan(&auditRows)
	if err != nil {
		t.Fatalf("audit count failed: %v", err)
	}
	if auditRows != 2 {
		t.Errorf("audit rows = %d, want 2", auditRows)
	}

	// Clean state repairs nothing and leaves no new audit rows.
	again, err := reconciler.RepairCustomer(ctx, 1, "auditor@depot")
	if err != nil {
		t.Fatalf("second repair failed: %v", err)
	}
	if len(again.RepairedFields) != 0 {
		t.Errorf("second repair touched %v on a clean state", again.RepairedFields)
	}
}
