package core_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"gasdepot/internal/core"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Clean and seed test DB
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE reconciliation_repairs, transaction_items, transactions,
			customer_due_counters, customers, stock_items, daily_prices, margin_categories CASCADE;
		UPDATE transaction_sequences SET last_number = 0 WHERE id = 1;

		INSERT INTO margin_categories (id, name, segment, margin_per_kg, display_order) VALUES
		(1, 'Shop Owner', 'business', 23, 1),
		(2, 'Household', 'residential', 30, 2);

		INSERT INTO daily_prices (price_date, base_price) VALUES ('2025-01-01', 2750);

		INSERT INTO customers (id, name, segment, credit_limit, payment_terms_days, margin_category_id) VALUES
		(1, 'Acme Traders', 'business', 50000, 30, 1),
		(2, 'Beta Homes', 'residential', 0, 0, 2),
		(3, 'Walk-In', 'residential', 0, 0, NULL);

		INSERT INTO stock_items (id, name, cylinder_type, quantity, unit_cost) VALUES
		(1, 'LPG Cylinder', '11.8kg', 100, 2000),
		(2, 'LPG Cylinder', '45.4kg', 10, 9000),
		(3, 'LPG Cylinder', '15kg', 5, 3000);

		SELECT setval('margin_categories_id_seq', 100);
		SELECT setval('customers_id_seq', 100);
		SELECT setval('stock_items_id_seq', 100);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool
}

func newLedger(pool *pgxpool.Pool) core.LedgerService {
	pricing := core.NewPricingService(pool)
	history := core.NewHistoryService(pool)
	return core.NewLedgerService(pool, pricing, history)
}

func customerBalance(t *testing.T, pool *pgxpool.Pool, customerID int) decimal.Decimal {
	t.Helper()
	var balance decimal.Decimal
	err := pool.QueryRow(context.Background(),
		"SELECT balance FROM customers WHERE id = $1", customerID,
	).Scan(&balance)
	if err != nil {
		t.Fatalf("Failed to read balance for customer %d: %v", customerID, err)
	}
	return balance
}

func dueQty(t *testing.T, pool *pgxpool.Pool, customerID int, cylinderType string) int64 {
	t.Helper()
	var qty int64
	err := pool.QueryRow(context.Background(),
		"SELECT COALESCE((SELECT due_qty FROM customer_due_counters WHERE customer_id = $1 AND cylinder_type = $2), 0)",
		customerID, cylinderType,
	).Scan(&qty)
	if err != nil {
		t.Fatalf("Failed to read due counter: %v", err)
	}
	return qty
}

func stockQty(t *testing.T, pool *pgxpool.Pool, stockItemID int) int64 {
	t.Helper()
	var qty int64
	err := pool.QueryRow(context.Background(),
		"SELECT quantity FROM stock_items WHERE id = $1", stockItemID,
	).Scan(&qty)
	if err != nil {
		t.Fatalf("Failed to read stock item %d: %v", stockItemID, err)
	}
	return qty
}

func testDate(day int) time.Time {
	return time.Date(2025, 1, day, 12, 0, 0, 0, time.UTC)
}

func TestLedger_SaleDynamicPricing(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	ctx := context.Background()

	txn, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnSale,
		TxnDate:    testDate(15),
		Items: []core.LineItemInput{
			{StockItemID: 1, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// base 2750, margin 23: domestic unit price 3021.
	if txn.SeqNumber != "TXN-000001" {
		t.Errorf("SeqNumber = %s, want TXN-000001", txn.SeqNumber)
	}
	if !txn.Total.Equal(decimal.NewFromInt(6042)) {
		t.Errorf("Total = %s, want 6042", txn.Total)
	}
	if len(txn.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(txn.Items))
	}
	if !txn.Items[0].UnitPrice.Equal(decimal.NewFromInt(3021)) {
		t.Errorf("UnitPrice = %s, want 3021", txn.Items[0].UnitPrice)
	}

	if got := customerBalance(t, pool, 1); !got.Equal(decimal.NewFromInt(6042)) {
		t.Errorf("balance = %s, want 6042", got)
	}
	if got := dueQty(t, pool, 1, "11.8kg"); got != 2 {
		t.Errorf("due = %d, want 2", got)
	}
	if got := stockQty(t, pool, 1); got != 98 {
		t.Errorf("stock = %d, want 98", got)
	}
}

func TestLedger_SaleExplicitPriceWins(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	ctx := context.Background()

	// A locked quote price is used as-is even though a daily price exists.
	txn, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnSale,
		TxnDate:    testDate(15),
		Items: []core.LineItemInput{
			{StockItemID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(3100)},
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !txn.Total.Equal(decimal.NewFromInt(3100)) {
		t.Errorf("Total = %s, want 3100", txn.Total)
	}
}

func TestLedger_SaleWithoutMarginCategoryBlocked(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	ctx := context.Background()

	// Customer 3 has no margin category; dynamic pricing must refuse rather
	// than guess.
	_, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 3,
		Type:       core.TxnSale,
		TxnDate:    testDate(15),
		Items: []core.LineItemInput{
			{StockItemID: 1, Quantity: 1},
		},
	})
	var cfgErr *core.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if got := stockQty(t, pool, 1); got != 100 {
		t.Errorf("stock must be untouched after rejected sale, got %d", got)
	}
}

func TestLedger_Payment(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
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

	_, err = ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID:       1,
		Type:             core.TxnPayment,
		TxnDate:          testDate(12),
		Amount:           decimal.NewFromInt(1000),
		PaymentReference: "UPI-12345",
	})
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	if got := customerBalance(t, pool, 1); !got.Equal(decimal.NewFromInt(2021)) {
		t.Errorf("balance = %s, want 2021", got)
	}
	// Payments never touch cylinders.
	if got := dueQty(t, pool, 1, "11.8kg"); got != 1 {
		t.Errorf("due = %d, want 1", got)
	}
	if got := stockQty(t, pool, 1); got != 99 {
		t.Errorf("stock = %d, want 99", got)
	}
}

func TestLedger_PaymentRejectsItems(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)

	_, err := ledger.Apply(context.Background(), core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnPayment,
		Amount:     decimal.NewFromInt(500),
		Items:      []core.LineItemInput{{StockItemID: 1, Quantity: 1}},
	})
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLedger_ReturnEmptyClampsDue(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	ctx := context.Background()

	// Customer returns cylinders the system never recorded as due. The
	// counter clamps at zero instead of going negative; stock still comes in.
	empty := core.FillEmpty
	txn, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 2,
		Type:       core.TxnReturnEmpty,
		TxnDate:    testDate(15),
		Items: []core.LineItemInput{
			{StockItemID: 1, Quantity: 3, ReturnedCondition: empty},
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !txn.Total.IsZero() {
		t.Errorf("RETURN_EMPTY total = %s, want 0", txn.Total)
	}
	if got := customerBalance(t, pool, 2); !got.IsZero() {
		t.Errorf("balance = %s, want 0", got)
	}
	if got := dueQty(t, pool, 2, "11.8kg"); got != 0 {
		t.Errorf("due = %d, want 0 (clamped)", got)
	}
	if got := stockQty(t, pool, 1); got != 103 {
		t.Errorf("stock = %d, want 103", got)
	}

	var fillState string
	if err := pool.QueryRow(ctx, "SELECT fill_state FROM stock_items WHERE id = 1").Scan(&fillState); err != nil {
		t.Fatalf("failed to read fill state: %v", err)
	}
	if fillState != "empty" {
		t.Errorf("fill_state = %s, want empty", fillState)
	}
}

func TestLedger_BuybackResolvesSoldPriceFromHistory(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
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

	txn, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnBuyback,
		TxnDate:    testDate(20),
		Items:      []core.LineItemInput{{StockItemID: 1, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("buyback failed: %v", err)
	}

	// Sold at 3021, default rate 0.6: buyback price 1812.6.
	wantPrice := decimal.RequireFromString("1812.6")
	if len(txn.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(txn.Items))
	}
	item := txn.Items[0]
	if item.OriginalSoldPrice == nil || !item.OriginalSoldPrice.Equal(decimal.NewFromInt(3021)) {
		t.Errorf("OriginalSoldPrice = %v, want 3021", item.OriginalSoldPrice)
	}
	if item.BuybackPrice == nil || !item.BuybackPrice.Equal(wantPrice) {
		t.Errorf("BuybackPrice = %v, want %s", item.BuybackPrice, wantPrice)
	}

	// 3021 - 1812.6 = 1208.4 still owed; cylinder back in, due cleared.
	if got := customerBalance(t, pool, 1); !got.Equal(decimal.RequireFromString("1208.4")) {
		t.Errorf("balance = %s, want 1208.4", got)
	}
	if got := dueQty(t, pool, 1, "11.8kg"); got != 0 {
		t.Errorf("due = %d, want 0", got)
	}
	if got := stockQty(t, pool, 1); got != 100 {
		t.Errorf("stock = %d, want 100", got)
	}
}

func TestLedger_BuybackWithoutHistoryRequiresManualPrice(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)

	// No sale of the 45.4kg product has ever happened.
	_, err := ledger.Apply(context.Background(), core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnBuyback,
		TxnDate:    testDate(15),
		Items:      []core.LineItemInput{{StockItemID: 2, Quantity: 1}},
	})
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLedger_AtomicityOnInsufficientStock(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	ctx := context.Background()

	// Second line exceeds stock; the first line's deduction must roll back
	// with everything else.
	_, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnSale,
		TxnDate:    testDate(15),
		Items: []core.LineItemInput{
			{StockItemID: 1, Quantity: 1},
			{StockItemID: 3, Quantity: 10},
		},
	})
	var stockErr *core.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.Available != 5 || stockErr.Requested != 10 {
		t.Errorf("stock error = %+v, want available 5 requested 10", stockErr)
	}

	if got := customerBalance(t, pool, 1); !got.IsZero() {
		t.Errorf("balance = %s, want 0 after rollback", got)
	}
	if got := stockQty(t, pool, 1); got != 100 {
		t.Errorf("stock item 1 = %d, want 100 after rollback", got)
	}
	if got := stockQty(t, pool, 3); got != 5 {
		t.Errorf("stock item 3 = %d, want 5 after rollback", got)
	}

	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("transaction count = %d, want 0 after rollback", count)
	}
}

func TestLedger_IdempotentSubmission(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	ctx := context.Background()

	req := core.ApplyTransactionRequest{
		CustomerID:     1,
		Type:           core.TxnSale,
		TxnDate:        testDate(15),
		IdempotencyKey: uuid.NewString(),
		Items:          []core.LineItemInput{{StockItemID: 1, Quantity: 1}},
	}

	first, err := ledger.Apply(ctx, req)
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	second, err := ledger.Apply(ctx, req)
	if err != nil {
		t.Fatalf("retried apply failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("retry created a new transaction: %d vs %d", first.ID, second.ID)
	}
	// Effects applied exactly once.
	if got := customerBalance(t, pool, 1); !got.Equal(decimal.NewFromInt(3021)) {
		t.Errorf("balance = %s, want 3021", got)
	}
	if got := stockQty(t, pool, 1); got != 99 {
		t.Errorf("stock = %d, want 99", got)
	}
}

func TestLedger_VoidReversesEffects(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	ctx := context.Background()

	txn, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID: 1,
		Type:       core.TxnSale,
		TxnDate:    testDate(15),
		Items:      []core.LineItemInput{{StockItemID: 1, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	voided, err := ledger.Void(ctx, txn.ID, "ops@depot")
	if err != nil {
		t.Fatalf("void failed: %v", err)
	}
	if !voided.IsVoided || voided.VoidedBy != "ops@depot" || voided.VoidedAt == nil {
		t.Errorf("void metadata incomplete: %+v", voided)
	}

	if got := customerBalance(t, pool, 1); !got.IsZero() {
		t.Errorf("balance = %s, want 0 after void", got)
	}
	if got := dueQty(t, pool, 1, "11.8kg"); got != 0 {
		t.Errorf("due = %d, want 0 after void", got)
	}
	if got := stockQty(t, pool, 1); got != 100 {
		t.Errorf("stock = %d, want 100 after void", got)
	}

	// Voiding twice is rejected.
	_, err = ledger.Void(ctx, txn.ID, "ops@depot")
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError on double void, got %v", err)
	}
}

func TestLedger_SequentialSeqNumbers(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	ctx := context.Background()

	for i, want := range []string{"TXN-000001", "TXN-000002", "TXN-000003"} {
		txn, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
			CustomerID: 1,
			Type:       core.TxnSale,
			TxnDate:    testDate(10 + i),
			Items:      []core.LineItemInput{{StockItemID: 1, Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("apply %d failed: %v", i, err)
		}
		if txn.SeqNumber != want {
			t.Errorf("SeqNumber = %s, want %s", txn.SeqNumber, want)
		}
	}
}

func TestLedger_ListCustomerTransactions(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ledger := newLedger(pool)
	ctx := context.Background()

	for day := 10; day <= 12; day++ {
		_, err := ledger.Apply(ctx, core.ApplyTransactionRequest{
			CustomerID: 1,
			Type:       core.TxnSale,
			TxnDate:    testDate(day),
			Items:      []core.LineItemInput{{StockItemID: 1, Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("apply on day %d failed: %v", day, err)
		}
	}

	all, err := ledger.GetCustomerTransactions(ctx, 1, nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(all))
	}
	// Newest first.
	if !all[0].TxnDate.After(all[2].TxnDate) {
		t.Error("transactions not ordered newest first")
	}

	asOf := testDate(11)
	bounded, err := ledger.GetCustomerTransactions(ctx, 1, &asOf)
	if err != nil {
		t.Fatalf("bounded list failed: %v", err)
	}
	if len(bounded) != 2 {
		t.Errorf("expected 2 transactions as of day 11, got %d", len(bounded))
	}
}
