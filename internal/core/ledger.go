package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// defaultBuybackRate is applied when a buyback line does not override the
// rate explicitly.
var defaultBuybackRate = decimal.RequireFromString("0.6")

// LineItemInput is one requested transaction line. For sales, a zero
// UnitPrice means "price dynamically from the daily price and the customer's
// margin"; a positive UnitPrice is a locked quote price and is used as-is,
// never recomputed. For buybacks, a zero OriginalSoldPrice means "resolve
// from sale history".
type LineItemInput struct {
	StockItemID       int
	Quantity          int64
	UnitPrice         decimal.Decimal
	OriginalSoldPrice decimal.Decimal
	BuybackRate       decimal.Decimal
	ReturnedCondition FillState
	RemainingKg       decimal.Decimal
}

// ApplyTransactionRequest describes one ledger mutation. Itemized types
// (SALE, BUYBACK, RETURN_EMPTY) carry Items; monetary types (PAYMENT,
// ADJUSTMENT, CREDIT_NOTE) carry Amount.
type ApplyTransactionRequest struct {
	CustomerID       int
	Type             TransactionType
	TxnDate          time.Time // zero value means now
	Amount           decimal.Decimal
	PaymentReference string
	Notes            string
	IdempotencyKey   string
	Items            []LineItemInput
}

// LedgerService is the only write path for customer balances, due counters
// and stock levels. Every mutation is one atomic unit of work: the
// transaction row, its items and all three aggregate updates land together or
// not at all.
type LedgerService interface {
	// Apply records a transaction and its aggregate effects. Submissions
	// with a previously seen idempotency key return the already-applied
	// transaction instead of double-applying.
	Apply(ctx context.Context, req ApplyTransactionRequest) (*Transaction, error)
	// Void reverses a transaction's aggregate effects and marks it voided.
	// Voiding twice is rejected.
	Void(ctx context.Context, transactionID int, actor string) (*Transaction, error)

	GetTransaction(ctx context.Context, transactionID int) (*Transaction, error)
	GetCustomerTransactions(ctx context.Context, customerID int, asOf *time.Time) ([]Transaction, error)
}

type ledgerService struct {
	pool    *pgxpool.Pool
	pricing PricingService
	history HistoryService
}

func NewLedgerService(pool *pgxpool.Pool, pricing PricingService, history HistoryService) LedgerService {
	return &ledgerService{pool: pool, pricing: pricing, history: history}
}

func (s *ledgerService) Apply(ctx context.Context, req ApplyTransactionRequest) (*Transaction, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	txnDate := req.TxnDate
	if txnDate.IsZero() {
		txnDate = time.Now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Replay protection: a known idempotency key means the submission was
	// already applied. Return it untouched.
	if req.IdempotencyKey != "" {
		var existingID int
		err = tx.QueryRow(ctx,
			"SELECT id FROM transactions WHERE idempotency_key = $1",
			req.IdempotencyKey,
		).Scan(&existingID)
		if err == nil {
			return s.GetTransaction(ctx, existingID)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	// Lock the customer aggregate row for the whole unit of work. This
	// serializes concurrent submissions against the same customer; writes to
	// different customers proceed in parallel.
	var customerName string
	var isActive bool
	var balance decimal.Decimal
	err = tx.QueryRow(ctx,
		"SELECT name, is_active, balance FROM customers WHERE id = $1 FOR UPDATE",
		req.CustomerID,
	).Scan(&customerName, &isActive, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("customer", req.CustomerID)
		}
		return nil, fmt.Errorf("failed to lock customer %d: %w", req.CustomerID, err)
	}
	if !isActive {
		return nil, validationf("customerId", "customer %s is deactivated", customerName)
	}

	lines, total, err := s.priceLines(ctx, tx, req, txnDate)
	if err != nil {
		return nil, err
	}

	seqNumber, err := nextSeqNumber(ctx, tx)
	if err != nil {
		return nil, err
	}

	var idemKey any
	if req.IdempotencyKey != "" {
		idemKey = req.IdempotencyKey
	}

	var txnID int
	err = tx.QueryRow(ctx, `
		INSERT INTO transactions (seq_number, customer_id, txn_type, txn_date, total, payment_reference, notes, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`, seqNumber, req.CustomerID, req.Type, txnDate, total, req.PaymentReference, req.Notes, idemKey).Scan(&txnID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent submission with the same key won the race. Drop
			// this attempt and return what it applied.
			_ = tx.Rollback(ctx)
			return s.getByIdempotencyKey(ctx, req.IdempotencyKey)
		}
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	for _, line := range lines {
		_, err = tx.Exec(ctx, `
			INSERT INTO transaction_items
				(transaction_id, stock_item_id, product_name, cylinder_type, quantity, unit_price, line_total,
				 original_sold_price, buyback_rate, buyback_price, returned_condition, remaining_kg)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, txnID, line.stockItemID, line.productName, line.cylinderType, line.quantity,
			line.unitPrice, line.lineTotal,
			line.originalSoldPrice, line.buybackRate, line.buybackPrice, line.returnedCondition, line.remainingKg)
		if err != nil {
			return nil, fmt.Errorf("failed to insert transaction item: %w", err)
		}
	}

	eff, _ := EffectFor(req.Type)
	if err := applyAggregates(ctx, tx, req.CustomerID, balance, total, lines, eff); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction %s: %w", seqNumber, err)
	}

	return s.GetTransaction(ctx, txnID)
}

func validateRequest(req ApplyTransactionRequest) error {
	if req.CustomerID <= 0 {
		return validationf("customerId", "customer id is required")
	}
	if !req.Type.Valid() {
		return validationf("type", "unknown transaction type %q", req.Type)
	}

	if req.Type.Itemized() {
		if len(req.Items) == 0 {
			return validationf("items", "%s requires at least one line item", req.Type)
		}
		for i, item := range req.Items {
			if item.StockItemID <= 0 {
				return validationf(fmt.Sprintf("items[%d].stockItemId", i), "stock item id is required")
			}
			if item.Quantity <= 0 {
				return validationf(fmt.Sprintf("items[%d].quantity", i), "quantity must be positive, got %d", item.Quantity)
			}
			if item.UnitPrice.IsNegative() {
				return validationf(fmt.Sprintf("items[%d].unitPrice", i), "unit price cannot be negative")
			}
			if item.ReturnedCondition != "" && !item.ReturnedCondition.Valid() {
				return validationf(fmt.Sprintf("items[%d].returnedCondition", i), "returned condition must be full, empty or partial, got %q", item.ReturnedCondition)
			}
			if item.RemainingKg.IsNegative() {
				return validationf(fmt.Sprintf("items[%d].remainingKg", i), "remaining kg cannot be negative")
			}
			if req.Type == TxnBuyback {
				if item.OriginalSoldPrice.IsNegative() {
					return validationf(fmt.Sprintf("items[%d].originalSoldPrice", i), "original sold price cannot be negative")
				}
				if item.BuybackRate.IsNegative() || item.BuybackRate.GreaterThan(decimal.NewFromInt(1)) {
					return validationf(fmt.Sprintf("items[%d].buybackRate", i), "buyback rate must be between 0 and 1, got %s", item.BuybackRate)
				}
			}
		}
		return nil
	}

	if len(req.Items) != 0 {
		return validationf("items", "%s is a monetary transaction and takes no line items", req.Type)
	}
	if !req.Amount.IsPositive() {
		return validationf("amount", "%s requires a positive amount, got %s", req.Type, req.Amount)
	}
	return nil
}

// pricedLine is a resolved, priced transaction line ready to persist.
// Pointer fields are NULL for non-buyback lines.
type pricedLine struct {
	stockItemID       int
	productName       string
	cylinderType      CylinderType
	quantity          int64
	unitPrice         decimal.Decimal
	lineTotal         decimal.Decimal
	originalSoldPrice *decimal.Decimal
	buybackRate       *decimal.Decimal
	buybackPrice      *decimal.Decimal
	returnedCondition *FillState
	remainingKg       *decimal.Decimal
}

// priceLines resolves and locks every referenced stock item, then prices each
// line per the transaction type. Returns the lines and the transaction total.
func (s *ledgerService) priceLines(ctx context.Context, tx pgx.Tx, req ApplyTransactionRequest, txnDate time.Time) ([]pricedLine, decimal.Decimal, error) {
	if !req.Type.Itemized() {
		return nil, req.Amount, nil
	}

	// The customer quote is resolved at most once per submission, and only
	// when some sale line asks for dynamic pricing.
	var quote *CustomerQuote

	var lines []pricedLine
	var total decimal.Decimal
	for i, item := range req.Items {
		var name string
		var cylinderType CylinderType
		err := tx.QueryRow(ctx,
			"SELECT name, cylinder_type FROM stock_items WHERE id = $1 AND is_active = true FOR UPDATE",
			item.StockItemID,
		).Scan(&name, &cylinderType)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, decimal.Zero, notFound("stock item", item.StockItemID)
			}
			return nil, decimal.Zero, fmt.Errorf("failed to lock stock item %d: %w", item.StockItemID, err)
		}

		line := pricedLine{
			stockItemID:  item.StockItemID,
			productName:  name,
			cylinderType: cylinderType,
			quantity:     item.Quantity,
		}
		if item.ReturnedCondition != "" {
			rc := item.ReturnedCondition
			line.returnedCondition = &rc
		}
		if item.RemainingKg.IsPositive() {
			kg := item.RemainingKg
			line.remainingKg = &kg
		}

		switch req.Type {
		case TxnSale:
			unitPrice := item.UnitPrice
			if unitPrice.IsZero() {
				if quote == nil {
					quote, err = s.pricing.QuoteForCustomerTx(ctx, tx, req.CustomerID, txnDate)
					if err != nil {
						return nil, decimal.Zero, err
					}
				}
				kg, err := cylinderType.Kilograms()
				if err != nil {
					return nil, decimal.Zero, configurationf("stock item %s: %v", name, err)
				}
				unitPrice = PriceForCapacity(quote.Quote.PricePerKg, kg)
			}
			line.unitPrice = unitPrice
			line.lineTotal = unitPrice.Mul(decimal.NewFromInt(item.Quantity))

		case TxnBuyback:
			soldPrice := item.OriginalSoldPrice
			if !soldPrice.IsPositive() {
				resolved, err := s.history.ResolveOriginalPriceTx(ctx, tx, req.CustomerID, name, cylinderType)
				if err != nil {
					return nil, decimal.Zero, err
				}
				if resolved.Origin == OriginNone {
					return nil, decimal.Zero, validationf(
						fmt.Sprintf("items[%d].originalSoldPrice", i),
						"no sale history for %s (%s); the original sold price must be entered manually", name, cylinderType)
				}
				soldPrice = resolved.Price
			}
			rate := item.BuybackRate
			if rate.IsZero() {
				rate = defaultBuybackRate
			}
			buybackPrice := soldPrice.Mul(rate)
			line.unitPrice = buybackPrice
			line.lineTotal = buybackPrice.Mul(decimal.NewFromInt(item.Quantity))
			line.originalSoldPrice = &soldPrice
			line.buybackRate = &rate
			line.buybackPrice = &buybackPrice

		case TxnReturnEmpty:
			// Returned empties carry no monetary value on the ledger.
			line.unitPrice = decimal.Zero
			line.lineTotal = decimal.Zero
		}

		total = total.Add(line.lineTotal)
		lines = append(lines, line)
	}
	return lines, total, nil
}

// applyAggregates applies the effect matrix to the customer balance, the
// per-type due counters and the stock levels. The customer row is already
// locked by the caller.
func applyAggregates(ctx context.Context, tx pgx.Tx, customerID int, balance, total decimal.Decimal, lines []pricedLine, eff AggregateEffect) error {
	if eff.Balance != 0 {
		newBalance := balance.Add(total.Mul(decimal.NewFromInt(int64(eff.Balance))))
		if _, err := tx.Exec(ctx,
			"UPDATE customers SET balance = $1 WHERE id = $2",
			newBalance, customerID,
		); err != nil {
			return fmt.Errorf("failed to update customer %d balance: %w", customerID, err)
		}
	}

	for _, line := range lines {
		if eff.Due != 0 {
			if err := bumpDueCounter(ctx, tx, customerID, line.cylinderType, line.quantity*int64(eff.Due)); err != nil {
				return err
			}
		}
		if eff.Stock != 0 {
			var fillState FillState
			if eff.Stock > 0 && line.returnedCondition != nil {
				fillState = *line.returnedCondition
			}
			if err := adjustStockTx(ctx, tx, line.stockItemID, line.quantity*int64(eff.Stock), fillState); err != nil {
				return err
			}
		}
	}
	return nil
}

// bumpDueCounter adjusts one (customer, cylinder type) due counter, clamped
// at zero. An over-return never wraps the counter negative; the anomaly
// surfaces in reconciliation instead.
func bumpDueCounter(ctx context.Context, tx pgx.Tx, customerID int, cylinderType CylinderType, delta int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO customer_due_counters (customer_id, cylinder_type, due_qty)
		VALUES ($1, $2, GREATEST($3, 0))
		ON CONFLICT (customer_id, cylinder_type)
		DO UPDATE SET due_qty = GREATEST(customer_due_counters.due_qty + $3, 0)
	`, customerID, cylinderType, delta)
	if err != nil {
		return fmt.Errorf("failed to update due counter for customer %d type %s: %w", customerID, cylinderType, err)
	}
	return nil
}

func nextSeqNumber(ctx context.Context, tx pgx.Tx) (string, error) {
	var n int64
	err := tx.QueryRow(ctx,
		"UPDATE transaction_sequences SET last_number = last_number + 1 WHERE id = 1 RETURNING last_number",
	).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("failed to advance transaction sequence: %w", err)
	}
	return fmt.Sprintf("TXN-%06d", n), nil
}

func (s *ledgerService) getByIdempotencyKey(ctx context.Context, key string) (*Transaction, error) {
	var id int
	err := s.pool.QueryRow(ctx,
		"SELECT id FROM transactions WHERE idempotency_key = $1", key,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction by idempotency key: %w", err)
	}
	return s.GetTransaction(ctx, id)
}

func (s *ledgerService) Void(ctx context.Context, transactionID int, actor string) (*Transaction, error) {
	if actor == "" {
		return nil, validationf("actor", "void requires the acting operator")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var customerID int
	var txnType TransactionType
	var total decimal.Decimal
	var isVoided bool
	var seqNumber string
	err = tx.QueryRow(ctx, `
		SELECT customer_id, txn_type, total, is_voided, seq_number
		FROM transactions WHERE id = $1 FOR UPDATE
	`, transactionID).Scan(&customerID, &txnType, &total, &isVoided, &seqNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("transaction", transactionID)
		}
		return nil, fmt.Errorf("failed to lock transaction %d: %w", transactionID, err)
	}
	if isVoided {
		return nil, validationf("transactionId", "transaction %s is already voided", seqNumber)
	}

	var balance decimal.Decimal
	err = tx.QueryRow(ctx,
		"SELECT balance FROM customers WHERE id = $1 FOR UPDATE", customerID,
	).Scan(&balance)
	if err != nil {
		return nil, fmt.Errorf("failed to lock customer %d: %w", customerID, err)
	}

	items, err := fetchItemsQ(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}

	// Reverse every effect the original application had. Due counters clamp
	// the same way in both directions; stock reversal can legitimately fail
	// when returned cylinders were since sold on.
	eff, _ := EffectFor(txnType)
	inverse := eff.Inverse()

	var lines []pricedLine
	for _, it := range items {
		lines = append(lines, pricedLine{
			stockItemID:  it.StockItemID,
			cylinderType: it.CylinderType,
			quantity:     it.Quantity,
		})
	}
	if err := applyAggregates(ctx, tx, customerID, balance, total, lines, inverse); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		"UPDATE transactions SET is_voided = true, voided_at = NOW(), voided_by = $1 WHERE id = $2",
		actor, transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark transaction %d voided: %w", transactionID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit void of %s: %w", seqNumber, err)
	}

	return s.GetTransaction(ctx, transactionID)
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *ledgerService) GetTransaction(ctx context.Context, transactionID int) (*Transaction, error) {
	var t Transaction
	var voidedBy *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, seq_number, customer_id, txn_type, txn_date, total,
		       COALESCE(payment_reference, ''), COALESCE(notes, ''), COALESCE(idempotency_key, ''),
		       is_voided, voided_at, voided_by, created_at
		FROM transactions
		WHERE id = $1
	`, transactionID).Scan(
		&t.ID, &t.SeqNumber, &t.CustomerID, &t.Type, &t.TxnDate, &t.Total,
		&t.PaymentReference, &t.Notes, &t.IdempotencyKey,
		&t.IsVoided, &t.VoidedAt, &voidedBy, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("transaction", transactionID)
		}
		return nil, fmt.Errorf("failed to fetch transaction %d: %w", transactionID, err)
	}
	if voidedBy != nil {
		t.VoidedBy = *voidedBy
	}

	items, err := fetchItemsQ(ctx, s.pool, transactionID)
	if err != nil {
		return nil, err
	}
	t.Items = items
	return &t, nil
}

func (s *ledgerService) GetCustomerTransactions(ctx context.Context, customerID int, asOf *time.Time) ([]Transaction, error) {
	query := `
		SELECT id, seq_number, customer_id, txn_type, txn_date, total,
		       COALESCE(payment_reference, ''), COALESCE(notes, ''), COALESCE(idempotency_key, ''),
		       is_voided, voided_at, voided_by, created_at
		FROM transactions
		WHERE customer_id = $1
	`
	args := []any{customerID}
	if asOf != nil {
		query += " AND txn_date <= $2"
		args = append(args, *asOf)
	}
	query += " ORDER BY txn_date DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions for customer %d: %w", customerID, err)
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		var t Transaction
		var voidedBy *string
		if err := rows.Scan(
			&t.ID, &t.SeqNumber, &t.CustomerID, &t.Type, &t.TxnDate, &t.Total,
			&t.PaymentReference, &t.Notes, &t.IdempotencyKey,
			&t.IsVoided, &t.VoidedAt, &voidedBy, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if voidedBy != nil {
			t.VoidedBy = *voidedBy
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// pgxRowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx (for Query).
type pgxRowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func fetchItemsQ(ctx context.Context, q pgxRowQuerier, transactionID int) ([]TransactionItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, transaction_id, stock_item_id, product_name, cylinder_type, quantity,
		       unit_price, line_total, original_sold_price, buyback_rate, buyback_price,
		       returned_condition, remaining_kg
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY id
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction items: %w", err)
	}
	defer rows.Close()

	var items []TransactionItem
	for rows.Next() {
		var it TransactionItem
		if err := rows.Scan(
			&it.ID, &it.TransactionID, &it.StockItemID, &it.ProductName, &it.CylinderType, &it.Quantity,
			&it.UnitPrice, &it.LineTotal, &it.OriginalSoldPrice, &it.BuybackRate, &it.BuybackPrice,
			&it.ReturnedCondition, &it.RemainingKg,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
