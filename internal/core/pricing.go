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

// baseCylinderKg is the reference size the daily commodity price is quoted
// for. Cost per kilogram is always derived by dividing the daily price by
// this capacity.
var baseCylinderKg = decimal.RequireFromString("11.8")

var (
	standardKg   = decimal.RequireFromString("15")
	commercialKg = decimal.RequireFromString("45.4")
)

// PriceQuote holds the derived per-kilogram price and the sale prices for the
// current cylinder catalog.
type PriceQuote struct {
	BasePrice   decimal.Decimal `json:"base_price"`
	MarginPerKg decimal.Decimal `json:"margin_per_kg"`
	CostPerKg   decimal.Decimal `json:"cost_per_kg"`
	PricePerKg  decimal.Decimal `json:"price_per_kg"`
	Domestic    decimal.Decimal `json:"domestic_price"`   // 11.8 kg
	Standard    decimal.Decimal `json:"standard_price"`   // 15 kg
	Commercial  decimal.Decimal `json:"commercial_price"` // 45.4 kg
}

// ComputePrices derives per-size sale prices from the daily base price and a
// margin per kilogram. Pure; no lookups, no side effects, safe to call
// concurrently. The caller resolves the daily price and margin first.
func ComputePrices(baseUnitPrice, marginPerKg decimal.Decimal) (*PriceQuote, error) {
	if !baseUnitPrice.IsPositive() {
		return nil, validationf("basePrice", "base price must be positive, got %s", baseUnitPrice)
	}
	if marginPerKg.IsNegative() {
		return nil, validationf("marginPerKg", "margin per kg cannot be negative, got %s", marginPerKg)
	}

	costPerKg := baseUnitPrice.Div(baseCylinderKg)
	pricePerKg := costPerKg.Add(marginPerKg)

	return &PriceQuote{
		BasePrice:   baseUnitPrice,
		MarginPerKg: marginPerKg,
		CostPerKg:   costPerKg,
		PricePerKg:  pricePerKg,
		Domestic:    PriceForCapacity(pricePerKg, baseCylinderKg),
		Standard:    PriceForCapacity(pricePerKg, standardKg),
		Commercial:  PriceForCapacity(pricePerKg, commercialKg),
	}, nil
}

// PriceForCapacity prices an arbitrary cylinder capacity at the given
// per-kilogram rate, rounded half-up to the whole currency unit.
func PriceForCapacity(pricePerKg, kilograms decimal.Decimal) decimal.Decimal {
	return pricePerKg.Mul(kilograms).Round(0)
}

// CustomerQuote is a quote computed from a customer's assigned margin
// category and the daily price effective on a given date.
type CustomerQuote struct {
	CustomerID     int            `json:"customer_id"`
	MarginCategory MarginCategory `json:"margin_category"`
	PriceDate      time.Time      `json:"price_date"`
	Quote          PriceQuote     `json:"quote"`
}

// PricingService resolves pricing configuration (daily commodity price,
// margin categories) and produces quotes. Quote paths are read-only.
type PricingService interface {
	// QuoteForCustomer prices the catalog for a customer on a date using the
	// customer's assigned margin category. A missing margin category or a
	// missing daily price is a ConfigurationError, never a silent default.
	QuoteForCustomer(ctx context.Context, customerID int, onDate time.Time) (*CustomerQuote, error)
	// QuoteForCustomerTx is QuoteForCustomer within a caller-provided
	// transaction, used by the ledger write path for a consistent read.
	QuoteForCustomerTx(ctx context.Context, tx pgx.Tx, customerID int, onDate time.Time) (*CustomerQuote, error)

	// BasePriceOn returns the daily price effective on a date: the row for
	// that date, or the most recent prior row.
	BasePriceOn(ctx context.Context, onDate time.Time) (*DailyPrice, error)
	SetDailyPrice(ctx context.Context, date time.Time, basePrice decimal.Decimal, notes string) (*DailyPrice, error)

	GetMarginCategories(ctx context.Context) ([]MarginCategory, error)
}

type pricingService struct {
	pool *pgxpool.Pool
}

func NewPricingService(pool *pgxpool.Pool) PricingService {
	return &pricingService{pool: pool}
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared
// query helpers.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *pricingService) QuoteForCustomer(ctx context.Context, customerID int, onDate time.Time) (*CustomerQuote, error) {
	return quoteForCustomerQ(ctx, s.pool, customerID, onDate)
}

func (s *pricingService) QuoteForCustomerTx(ctx context.Context, tx pgx.Tx, customerID int, onDate time.Time) (*CustomerQuote, error) {
	return quoteForCustomerQ(ctx, tx, customerID, onDate)
}

func quoteForCustomerQ(ctx context.Context, q pgxQuerier, customerID int, onDate time.Time) (*CustomerQuote, error) {
	var name string
	var marginCategoryID *int
	err := q.QueryRow(ctx,
		"SELECT name, margin_category_id FROM customers WHERE id = $1",
		customerID,
	).Scan(&name, &marginCategoryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("customer", customerID)
		}
		return nil, fmt.Errorf("failed to fetch customer %d: %w", customerID, err)
	}
	if marginCategoryID == nil {
		return nil, configurationf("customer %s has no margin category assigned; quoting is blocked until one is set", name)
	}

	var mc MarginCategory
	err = q.QueryRow(ctx, `
		SELECT id, name, segment, margin_per_kg, is_active, display_order
		FROM margin_categories
		WHERE id = $1
	`, *marginCategoryID).Scan(&mc.ID, &mc.Name, &mc.Segment, &mc.MarginPerKg, &mc.IsActive, &mc.DisplayOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, configurationf("margin category %d assigned to customer %s no longer exists", *marginCategoryID, name)
		}
		return nil, fmt.Errorf("failed to fetch margin category %d: %w", *marginCategoryID, err)
	}
	if !mc.IsActive {
		return nil, configurationf("margin category %s is inactive; reassign customer %s before quoting", mc.Name, name)
	}

	daily, err := basePriceOnQ(ctx, q, onDate)
	if err != nil {
		return nil, err
	}

	quote, err := ComputePrices(daily.BasePrice, mc.MarginPerKg)
	if err != nil {
		return nil, err
	}

	return &CustomerQuote{
		CustomerID:     customerID,
		MarginCategory: mc,
		PriceDate:      daily.PriceDate,
		Quote:          *quote,
	}, nil
}

func (s *pricingService) BasePriceOn(ctx context.Context, onDate time.Time) (*DailyPrice, error) {
	return basePriceOnQ(ctx, s.pool, onDate)
}

func basePriceOnQ(ctx context.Context, q pgxQuerier, onDate time.Time) (*DailyPrice, error) {
	var dp DailyPrice
	err := q.QueryRow(ctx, `
		SELECT id, price_date, base_price, COALESCE(notes, '')
		FROM daily_prices
		WHERE price_date <= $1
		ORDER BY price_date DESC
		LIMIT 1
	`, onDate).Scan(&dp.ID, &dp.PriceDate, &dp.BasePrice, &dp.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, configurationf("no base price available on or before %s", onDate.Format("2006-01-02"))
		}
		return nil, fmt.Errorf("failed to fetch daily price: %w", err)
	}
	return &dp, nil
}

func (s *pricingService) SetDailyPrice(ctx context.Context, date time.Time, basePrice decimal.Decimal, notes string) (*DailyPrice, error) {
	if !basePrice.IsPositive() {
		return nil, validationf("basePrice", "base price must be positive, got %s", basePrice)
	}

	var dp DailyPrice
	err := s.pool.QueryRow(ctx, `
		INSERT INTO daily_prices (price_date, base_price, notes)
		VALUES ($1, $2, $3)
		ON CONFLICT (price_date) DO UPDATE SET base_price = EXCLUDED.base_price, notes = EXCLUDED.notes
		RETURNING id, price_date, base_price, COALESCE(notes, '')
	`, date, basePrice, notes).Scan(&dp.ID, &dp.PriceDate, &dp.BasePrice, &dp.Notes)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert daily price: %w", err)
	}
	return &dp, nil
}

func (s *pricingService) GetMarginCategories(ctx context.Context) ([]MarginCategory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, segment, margin_per_kg, is_active, display_order
		FROM margin_categories
		WHERE is_active = true
		ORDER BY display_order, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query margin categories: %w", err)
	}
	defer rows.Close()

	var categories []MarginCategory
	for rows.Next() {
		var mc MarginCategory
		if err := rows.Scan(&mc.ID, &mc.Name, &mc.Segment, &mc.MarginPerKg, &mc.IsActive, &mc.DisplayOrder); err != nil {
			return nil, fmt.Errorf("failed to scan margin category: %w", err)
		}
		categories = append(categories, mc)
	}
	return categories, rows.Err()
}
