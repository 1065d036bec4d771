package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// reconcileEpsilon is the rounding tolerance under which a balance
// difference still counts as balanced.
var reconcileEpsilon = decimal.RequireFromString("0.01")

// DueDrift compares one cylinder type's recomputed due counter against the
// stored one.
type DueDrift struct {
	CylinderType CylinderType `json:"cylinder_type"`
	Calculated   int64        `json:"calculated"`
	Stored       int64        `json:"stored"`
	Drift        int64        `json:"drift"`
	IsBalanced   bool         `json:"is_balanced"`
}

type ReconciliationReport struct {
	CustomerID        int             `json:"customer_id"`
	AsOf              time.Time       `json:"as_of"`
	TransactionCount  int             `json:"transaction_count"`
	CalculatedBalance decimal.Decimal `json:"calculated_balance"`
	StoredBalance     decimal.Decimal `json:"stored_balance"`
	Difference        decimal.Decimal `json:"difference"`
	IsBalanced        bool            `json:"is_balanced"`
	PerTypeDrift      []DueDrift      `json:"per_type_drift"`
}

// RepairResult records an executed aggregate repair: the pre-repair report
// and which fields were overwritten.
type RepairResult struct {
	Report         *ReconciliationReport `json:"report"`
	RepairedFields []string              `json:"repaired_fields"`
	RepairedBy     string                `json:"repaired_by"`
	RepairedAt     time.Time             `json:"repaired_at"`
}

// ReconciliationService detects drift between the stored customer aggregates
// and the values recomputed by replaying the transaction log. The log is the
// source of truth; balance and due counters are cached derived state.
// Reconcile never writes. Repair is the one explicit, audited exception.
type ReconciliationService interface {
	// ReconcileCustomer replays every non-voided transaction up to asOf and
	// compares the recomputed balance and due counters against the stored
	// ones. Read-only and idempotent.
	ReconcileCustomer(ctx context.Context, customerID int, asOf time.Time) (*ReconciliationReport, error)
	// RepairCustomer overwrites the stored aggregates with the recomputed
	// values, recording who ran it and what changed. Operator-invoked only;
	// never triggered by a read.
	RepairCustomer(ctx context.Context, customerID int, actor string) (*RepairResult, error)
}

type reconciliationService struct {
	pool *pgxpool.Pool
}

func NewReconciliationService(pool *pgxpool.Pool) ReconciliationService {
	return &reconciliationService{pool: pool}
}

func (s *reconciliationService) ReconcileCustomer(ctx context.Context, customerID int, asOf time.Time) (*ReconciliationReport, error) {
	return reconcileQ(ctx, s.pool, s.pool, customerID, asOf)
}

func reconcileQ(ctx context.Context, q pgxQuerier, rq pgxRowQuerier, customerID int, asOf time.Time) (*ReconciliationReport, error) {
	var storedBalance decimal.Decimal
	err := q.QueryRow(ctx,
		"SELECT balance FROM customers WHERE id = $1", customerID,
	).Scan(&storedBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("customer", customerID)
		}
		return nil, fmt.Errorf("failed to fetch customer %d: %w", customerID, err)
	}

	calcBalance, calcDue, txnCount, err := replayCustomer(ctx, rq, customerID, asOf)
	if err != nil {
		return nil, err
	}

	storedDue, err := storedDueCounters(ctx, rq, customerID)
	if err != nil {
		return nil, err
	}

	// Union of cylinder types seen on either side, in stable order.
	typeSet := make(map[CylinderType]struct{})
	for ct := range calcDue {
		typeSet[ct] = struct{}{}
	}
	for ct := range storedDue {
		typeSet[ct] = struct{}{}
	}
	types := make([]CylinderType, 0, len(typeSet))
	for ct := range typeSet {
		types = append(types, ct)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var perType []DueDrift
	for _, ct := range types {
		calc, stored := calcDue[ct], storedDue[ct]
		perType = append(perType, DueDrift{
			CylinderType: ct,
			Calculated:   calc,
			Stored:       stored,
			Drift:        stored - calc,
			IsBalanced:   calc == stored,
		})
	}

	diff := storedBalance.Sub(calcBalance)
	return &ReconciliationReport{
		CustomerID:        customerID,
		AsOf:              asOf,
		TransactionCount:  txnCount,
		CalculatedBalance: calcBalance,
		StoredBalance:     storedBalance,
		Difference:        diff,
		IsBalanced:        diff.Abs().LessThanOrEqual(reconcileEpsilon),
		PerTypeDrift:      perType,
	}, nil
}

// replayCustomer re-derives the balance and due counters from the
// transaction log alone, applying the same effect matrix and the same
// clamp-at-zero rule as the write path. No reliance on stored aggregates.
func replayCustomer(ctx context.Context, q pgxRowQuerier, customerID int, asOf time.Time) (decimal.Decimal, map[CylinderType]int64, int, error) {
	rows, err := q.Query(ctx, `
		SELECT t.id, t.txn_type, t.total, ti.cylinder_type, ti.quantity
		FROM transactions t
		LEFT JOIN transaction_items ti ON ti.transaction_id = t.id
		WHERE t.customer_id = $1
		  AND NOT t.is_voided
		  AND t.txn_date <= $2
		ORDER BY t.txn_date, t.id, ti.id
	`, customerID, asOf)
	if err != nil {
		return decimal.Zero, nil, 0, fmt.Errorf("failed to query transaction log for customer %d: %w", customerID, err)
	}
	defer rows.Close()

	balance := decimal.Zero
	due := make(map[CylinderType]int64)
	seen := make(map[int]struct{})

	for rows.Next() {
		var txnID int
		var txnType TransactionType
		var total decimal.Decimal
		var cylinderType *CylinderType
		var quantity *int64
		if err := rows.Scan(&txnID, &txnType, &total, &cylinderType, &quantity); err != nil {
			return decimal.Zero, nil, 0, fmt.Errorf("failed to scan transaction log row: %w", err)
		}

		eff, ok := EffectFor(txnType)
		if !ok {
			return decimal.Zero, nil, 0, fmt.Errorf("transaction %d has unknown type %q", txnID, txnType)
		}

		// The join repeats the header once per item; apply the balance
		// effect only on first sight of each transaction.
		if _, dup := seen[txnID]; !dup {
			seen[txnID] = struct{}{}
			if eff.Balance != 0 {
				balance = balance.Add(total.Mul(decimal.NewFromInt(int64(eff.Balance))))
			}
		}

		if eff.Due != 0 && cylinderType != nil && quantity != nil {
			next := due[*cylinderType] + *quantity*int64(eff.Due)
			if next < 0 {
				next = 0
			}
			due[*cylinderType] = next
		}
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, nil, 0, fmt.Errorf("error iterating transaction log: %w", err)
	}
	return balance, due, len(seen), nil
}

func storedDueCounters(ctx context.Context, q pgxRowQuerier, customerID int) (map[CylinderType]int64, error) {
	rows, err := q.Query(ctx,
		"SELECT cylinder_type, due_qty FROM customer_due_counters WHERE customer_id = $1",
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due counters for customer %d: %w", customerID, err)
	}
	defer rows.Close()

	stored := make(map[CylinderType]int64)
	for rows.Next() {
		var ct CylinderType
		var qty int64
		if err := rows.Scan(&ct, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan due counter: %w", err)
		}
		stored[ct] = qty
	}
	return stored, rows.Err()
}

func (s *reconciliationService) RepairCustomer(ctx context.Context, customerID int, actor string) (*RepairResult, error) {
	if actor == "" {
		return nil, validationf("actor", "repair requires the acting operator")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the aggregate row so the repair serializes against the ledger
	// write path, then reconcile against the log as of now.
	var storedBalance decimal.Decimal
	err = tx.QueryRow(ctx,
		"SELECT balance FROM customers WHERE id = $1 FOR UPDATE", customerID,
	).Scan(&storedBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("customer", customerID)
		}
		return nil, fmt.Errorf("failed to lock customer %d: %w", customerID, err)
	}

	now := time.Now()
	report, err := reconcileQ(ctx, tx, tx, customerID, now)
	if err != nil {
		return nil, err
	}

	var repaired []string

	if !report.IsBalanced {
		if _, err := tx.Exec(ctx,
			"UPDATE customers SET balance = $1 WHERE id = $2",
			report.CalculatedBalance, customerID,
		); err != nil {
			return nil, fmt.Errorf("failed to repair balance for customer %d: %w", customerID, err)
		}
		if err := auditRepair(ctx, tx, customerID, "balance",
			report.StoredBalance.String(), report.CalculatedBalance.String(), actor); err != nil {
			return nil, err
		}
		repaired = append(repaired, "balance")
	}

	for _, drift := range report.PerTypeDrift {
		if drift.IsBalanced {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO customer_due_counters (customer_id, cylinder_type, due_qty)
			VALUES ($1, $2, $3)
			ON CONFLICT (customer_id, cylinder_type) DO UPDATE SET due_qty = EXCLUDED.due_qty
		`, customerID, drift.CylinderType, drift.Calculated); err != nil {
			return nil, fmt.Errorf("failed to repair due counter %s for customer %d: %w", drift.CylinderType, customerID, err)
		}
		field := "due:" + string(drift.CylinderType)
		if err := auditRepair(ctx, tx, customerID, field,
			fmt.Sprint(drift.Stored), fmt.Sprint(drift.Calculated), actor); err != nil {
			return nil, err
		}
		repaired = append(repaired, field)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit repair for customer %d: %w", customerID, err)
	}

	return &RepairResult{
		Report:         report,
		RepairedFields: repaired,
		RepairedBy:     actor,
		RepairedAt:     now,
	}, nil
}

func auditRepair(ctx context.Context, tx pgx.Tx, customerID int, field, stored, recomputed, actor string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO reconciliation_repairs (customer_id, field, stored_value, recomputed_value, repaired_by)
		VALUES ($1, $2, $3, $4, $5)
	`, customerID, field, stored, recomputed, actor)
	if err != nil {
		return fmt.Errorf("failed to record repair audit row: %w", err)
	}
	return nil
}
