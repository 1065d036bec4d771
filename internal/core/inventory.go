package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// adjustStockTx applies a signed quantity delta to one stock row inside the
// caller's transaction. The row is locked first; a decrement that would drive
// the quantity below zero is rejected with InsufficientStockError and nothing
// is written. fillState, when non-empty, overwrites the row's fill state
// (returned cylinders come back empty or partially filled).
func adjustStockTx(ctx context.Context, tx pgx.Tx, stockItemID int, delta int64, fillState FillState) error {
	var name string
	var quantity int64
	err := tx.QueryRow(ctx,
		"SELECT name, quantity FROM stock_items WHERE id = $1 FOR UPDATE",
		stockItemID,
	).Scan(&name, &quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("stock item", stockItemID)
		}
		return fmt.Errorf("failed to lock stock item %d: %w", stockItemID, err)
	}

	newQty := quantity + delta
	if newQty < 0 {
		return &InsufficientStockError{Product: name, Available: quantity, Requested: -delta}
	}

	if fillState != "" {
		_, err = tx.Exec(ctx,
			"UPDATE stock_items SET quantity = $1, fill_state = $2 WHERE id = $3",
			newQty, fillState, stockItemID)
	} else {
		_, err = tx.Exec(ctx,
			"UPDATE stock_items SET quantity = $1 WHERE id = $2",
			newQty, stockItemID)
	}
	if err != nil {
		return fmt.Errorf("failed to adjust stock item %d: %w", stockItemID, err)
	}
	return nil
}

// StockService manages the cylinder stock catalog. Quantities are mutated
// only by the ledger write path; this service covers catalog reads and
// onboarding of new trackable items.
type StockService interface {
	GetStockItems(ctx context.Context) ([]StockItem, error)
	GetStockItem(ctx context.Context, id int) (*StockItem, error)
	CreateStockItem(ctx context.Context, name string, cylinderType CylinderType, quantity int64, unitCost decimal.Decimal, fillState FillState) (*StockItem, error)
}

type stockService struct {
	pool *pgxpool.Pool
}

func NewStockService(pool *pgxpool.Pool) StockService {
	return &stockService{pool: pool}
}

func (s *stockService) GetStockItems(ctx context.Context) ([]StockItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, cylinder_type, quantity, unit_cost, fill_state, is_active
		FROM stock_items
		WHERE is_active = true
		ORDER BY name, cylinder_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock items: %w", err)
	}
	defer rows.Close()

	var items []StockItem
	for rows.Next() {
		var it StockItem
		if err := rows.Scan(&it.ID, &it.Name, &it.CylinderType, &it.Quantity, &it.UnitCost, &it.FillState, &it.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan stock item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *stockService) GetStockItem(ctx context.Context, id int) (*StockItem, error) {
	var it StockItem
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, cylinder_type, quantity, unit_cost, fill_state, is_active
		FROM stock_items
		WHERE id = $1
	`, id).Scan(&it.ID, &it.Name, &it.CylinderType, &it.Quantity, &it.UnitCost, &it.FillState, &it.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("stock item", id)
		}
		return nil, fmt.Errorf("failed to fetch stock item %d: %w", id, err)
	}
	return &it, nil
}

func (s *stockService) CreateStockItem(ctx context.Context, name string, cylinderType CylinderType, quantity int64, unitCost decimal.Decimal, fillState FillState) (*StockItem, error) {
	if name == "" {
		return nil, validationf("name", "stock item name is required")
	}
	if _, err := cylinderType.Kilograms(); err != nil {
		return nil, validationf("cylinderType", "%v", err)
	}
	if quantity < 0 {
		return nil, validationf("quantity", "opening quantity cannot be negative, got %d", quantity)
	}
	if unitCost.IsNegative() {
		return nil, validationf("unitCost", "unit cost cannot be negative, got %s", unitCost)
	}
	if fillState == "" {
		fillState = FillFull
	}
	if !fillState.Valid() {
		return nil, validationf("fillState", "fill state must be full, empty or partial, got %q", fillState)
	}

	var it StockItem
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stock_items (name, cylinder_type, quantity, unit_cost, fill_state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, cylinder_type, quantity, unit_cost, fill_state, is_active
	`, name, cylinderType, quantity, unitCost, fillState).Scan(
		&it.ID, &it.Name, &it.CylinderType, &it.Quantity, &it.UnitCost, &it.FillState, &it.IsActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stock item: %w", err)
	}
	return &it, nil
}
