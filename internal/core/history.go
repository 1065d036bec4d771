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

// PriceOrigin tags which lookup tier produced an original-price result.
type PriceOrigin string

const (
	// OriginDirect: the customer's own most recent non-voided sale of the
	// product.
	OriginDirect PriceOrigin = "direct"
	// OriginLastKnown: the most recent sale of the product to any customer.
	OriginLastKnown PriceOrigin = "lastKnown"
	// OriginNone: no price history exists; the caller must require a
	// manually entered price and must not guess one.
	OriginNone PriceOrigin = "none"
)

// OriginalPrice is the resolved "what was this cylinder sold for" answer used
// to seed buyback calculations. SeqNumber and TxnDate identify the
// originating sale for direct matches only.
type OriginalPrice struct {
	Price     decimal.Decimal `json:"price"`
	Origin    PriceOrigin     `json:"origin"`
	SeqNumber string          `json:"seq_number,omitempty"`
	TxnDate   *time.Time      `json:"txn_date,omitempty"`
}

// HistoryService resolves the historical sold price for a product and
// cylinder type. A buyback price is anchored to what this customer actually
// paid; only failing that does it fall back to market-wide precedent.
type HistoryService interface {
	ResolveOriginalPrice(ctx context.Context, customerID int, productName string, cylinderType CylinderType) (*OriginalPrice, error)
	ResolveOriginalPriceTx(ctx context.Context, tx pgx.Tx, customerID int, productName string, cylinderType CylinderType) (*OriginalPrice, error)
}

type historyService struct {
	pool *pgxpool.Pool
}

func NewHistoryService(pool *pgxpool.Pool) HistoryService {
	return &historyService{pool: pool}
}

func (s *historyService) ResolveOriginalPrice(ctx context.Context, customerID int, productName string, cylinderType CylinderType) (*OriginalPrice, error) {
	return resolveOriginalPriceQ(ctx, s.pool, customerID, productName, cylinderType)
}

func (s *historyService) ResolveOriginalPriceTx(ctx context.Context, tx pgx.Tx, customerID int, productName string, cylinderType CylinderType) (*OriginalPrice, error) {
	return resolveOriginalPriceQ(ctx, tx, customerID, productName, cylinderType)
}

func resolveOriginalPriceQ(ctx context.Context, q pgxQuerier, customerID int, productName string, cylinderType CylinderType) (*OriginalPrice, error) {
	if productName == "" {
		return nil, validationf("productName", "product name is required")
	}
	if cylinderType == "" {
		return nil, validationf("cylinderType", "cylinder type is required")
	}

	// Tier 1: this customer's own sale history. Partial, case-insensitive
	// product match; exact cylinder type; most recent first.
	var price decimal.Decimal
	var seqNumber string
	var txnDate time.Time
	err := q.QueryRow(ctx, `
		SELECT ti.unit_price, t.seq_number, t.txn_date
		FROM transaction_items ti
		JOIN transactions t ON t.id = ti.transaction_id
		WHERE t.customer_id = $1
		  AND t.txn_type = $2
		  AND NOT t.is_voided
		  AND ti.product_name ILIKE '%' || $3 || '%'
		  AND ti.cylinder_type = $4
		ORDER BY t.txn_date DESC, t.id DESC
		LIMIT 1
	`, customerID, TxnSale, productName, cylinderType).Scan(&price, &seqNumber, &txnDate)
	if err == nil {
		return &OriginalPrice{Price: price, Origin: OriginDirect, SeqNumber: seqNumber, TxnDate: &txnDate}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to search customer %d sale history: %w", customerID, err)
	}

	// Tier 2: the most recent sale of this product to any customer.
	err = q.QueryRow(ctx, `
		SELECT ti.unit_price
		FROM transaction_items ti
		JOIN transactions t ON t.id = ti.transaction_id
		WHERE t.txn_type = $1
		  AND NOT t.is_voided
		  AND ti.product_name ILIKE '%' || $2 || '%'
		  AND ti.cylinder_type = $3
		ORDER BY t.txn_date DESC, t.id DESC
		LIMIT 1
	`, TxnSale, productName, cylinderType).Scan(&price)
	if err == nil {
		return &OriginalPrice{Price: price, Origin: OriginLastKnown}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to search global sale history: %w", err)
	}

	return &OriginalPrice{Origin: OriginNone}, nil
}
