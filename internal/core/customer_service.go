package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// CustomerService manages customer master data. Balance and due counters are
// owned by the ledger write path and are read-only here.
type CustomerService interface {
	CreateCustomer(ctx context.Context, name string, segment CustomerSegment, creditLimit decimal.Decimal, paymentTermsDays int, marginCategoryID *int) (*Customer, error)
	GetCustomer(ctx context.Context, id int) (*Customer, error)
	GetCustomers(ctx context.Context) ([]Customer, error)
	// DeactivateCustomer soft-deletes: customers with transaction history
	// are never destroyed.
	DeactivateCustomer(ctx context.Context, id int) error
	AssignMarginCategory(ctx context.Context, customerID, marginCategoryID int) error
}

type customerService struct {
	pool *pgxpool.Pool
}

func NewCustomerService(pool *pgxpool.Pool) CustomerService {
	return &customerService{pool: pool}
}

func (s *customerService) CreateCustomer(ctx context.Context, name string, segment CustomerSegment, creditLimit decimal.Decimal, paymentTermsDays int, marginCategoryID *int) (*Customer, error) {
	if name == "" {
		return nil, validationf("name", "customer name is required")
	}
	if !segment.Valid() {
		return nil, validationf("segment", "segment must be business or residential, got %q", segment)
	}
	if creditLimit.IsNegative() {
		return nil, validationf("creditLimit", "credit limit cannot be negative, got %s", creditLimit)
	}
	if paymentTermsDays < 0 {
		return nil, validationf("paymentTermsDays", "payment terms cannot be negative, got %d", paymentTermsDays)
	}
	if marginCategoryID != nil {
		var exists bool
		err := s.pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM margin_categories WHERE id = $1 AND is_active = true)",
			*marginCategoryID,
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("failed to verify margin category: %w", err)
		}
		if !exists {
			return nil, notFound("margin category", *marginCategoryID)
		}
	}

	var c Customer
	err := s.pool.QueryRow(ctx, `
		INSERT INTO customers (name, segment, credit_limit, payment_terms_days, margin_category_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, segment, credit_limit, payment_terms_days, balance, margin_category_id, is_active, created_at
	`, name, segment, creditLimit, paymentTermsDays, marginCategoryID).Scan(
		&c.ID, &c.Name, &c.Segment, &c.CreditLimit, &c.PaymentTermsDays,
		&c.Balance, &c.MarginCategoryID, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return &c, nil
}

func (s *customerService) GetCustomer(ctx context.Context, id int) (*Customer, error) {
	var c Customer
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, segment, credit_limit, payment_terms_days, balance, margin_category_id, is_active, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.Name, &c.Segment, &c.CreditLimit, &c.PaymentTermsDays,
		&c.Balance, &c.MarginCategoryID, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("customer", id)
		}
		return nil, fmt.Errorf("failed to fetch customer %d: %w", id, err)
	}

	counters, err := storedDueCounters(ctx, s.pool, id)
	if err != nil {
		return nil, err
	}
	for ct, qty := range counters {
		c.DueCounters = append(c.DueCounters, DueCounter{CylinderType: ct, DueQty: qty})
	}
	return &c, nil
}

func (s *customerService) GetCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, segment, credit_limit, payment_terms_days, balance, margin_category_id, is_active, created_at
		FROM customers
		WHERE is_active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Segment, &c.CreditLimit, &c.PaymentTermsDays,
			&c.Balance, &c.MarginCategoryID, &c.IsActive, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *customerService) DeactivateCustomer(ctx context.Context, id int) error {
	ct, err := s.pool.Exec(ctx,
		"UPDATE customers SET is_active = false WHERE id = $1", id,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate customer %d: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return notFound("customer", id)
	}
	return nil
}

func (s *customerService) AssignMarginCategory(ctx context.Context, customerID, marginCategoryID int) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM margin_categories WHERE id = $1 AND is_active = true)",
		marginCategoryID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to verify margin category: %w", err)
	}
	if !exists {
		return notFound("margin category", marginCategoryID)
	}

	ct, err := s.pool.Exec(ctx,
		"UPDATE customers SET margin_category_id = $1 WHERE id = $2",
		marginCategoryID, customerID,
	)
	if err != nil {
		return fmt.Errorf("failed to assign margin category: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return notFound("customer", customerID)
	}
	return nil
}
