package core_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"gasdepot/internal/core"
)

func TestHistory_DirectBeatsNewerGlobalSale(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	history := core.NewHistoryService(pool)
	ctx := context.Background()

	// Customer 1 bought at 3000 on day 10; customer 2 bought the same product
	// at 3300 on day 20. Customer 1's own older sale still wins.
	_, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnSale,
		TxnDate:    testDate(10),
		Items:      []core.LineItemInput{{StockItemID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(3000)}},
	})
	if err != nil {
		t.Fatalf("sale to customer 1 failed: %v", err)
	}
	_, err = ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 2,
		Type:       core.TxnSale,
		TxnDate:    testDate(20),
		Items:      []core.LineItemInput{{StockItemID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(3300)}},
	})
	if err != nil {
		t.Fatalf("sale to customer 2 failed: %v", err)
	}

	resolved, err := history.ResolveOriginalPrice(ctx, 1, "LPG Cylinder", "11.8kg")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Origin != core.OriginDirect {
		t.Errorf("Origin = %s, want direct", resolved.Origin)
	}
	if !resolved.Price.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("Price = %s, want 3000", resolved.Price)
	}
	if resolved.SeqNumber == "" || resolved.TxnDate == nil {
		t.Error("direct match must carry sale provenance")
	}
}

func TestHistory_LastKnownFallback(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	history := core.NewHistoryService(pool)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnSale,
		TxnDate:    testDate(10),
		Items:      []core.LineItemInput{{StockItemID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(3050)}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	// Customer 2 never bought this product; the market-wide precedent applies.
	resolved, err := history.ResolveOriginalPrice(ctx, 2, "LPG Cylinder", "11.8kg")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Origin != core.OriginLastKnown {
		t.Errorf("Origin = %s, want lastKnown", resolved.Origin)
	}
	if !resolved.Price.Equal(decimal.NewFromInt(3050)) {
		t.Errorf("Price = %s, want 3050", resolved.Price)
	}
	if resolved.SeqNumber != "" {
		t.Error("lastKnown match must not claim sale provenance")
	}
}

func TestHistory_NoneWhenNoSales(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	history := core.NewHistoryService(pool)

	resolved, err := history.ResolveOriginalPrice(context.Background(), 1, "LPG Cylinder", "45.4kg")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Origin != core.OriginNone {
		t.Errorf("Origin = %s, want none", resolved.Origin)
	}
}

func TestHistory_VoidedSalesExcluded(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	history := core.NewHistoryService(pool)
	ctx := context.Background()

	txn, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnSale,
		TxnDate:    testDate(10),
		Items:      []core.LineItemInput{{StockItemID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(2999)}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if _, err := ledger.Void(ctx, txn.ID, "ops@depot"); err != nil {
		t.Fatalf("void failed: %v", err)
	}

	resolved, err := history.ResolveOriginalPrice(ctx, 1, "LPG Cylinder", "11.8kg")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Origin != core.OriginNone {
		t.Errorf("Origin = %s, want none after the only sale was voided", resolved.Origin)
	}
}

func TestHistory_PartialProductMatch(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	history := core.NewHistoryService(pool)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnSale,
		TxnDate:    testDate(10),
		Items:      []core.LineItemInput{{StockItemID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(3000)}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	// Substring, case-insensitive; the cylinder type must still match exactly.
	resolved, err := history.ResolveOriginalPrice(ctx, 1, "lpg", "11.8kg")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Origin != core.OriginDirect {
		t.Errorf("Origin = %s, want direct for partial name match", resolved.Origin)
	}

	resolved, err = history.ResolveOriginalPrice(ctx, 1, "lpg", "15kg")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Origin != core.OriginNone {
		t.Errorf("Origin = %s, want none for a different cylinder type", resolved.Origin)
	}
}
