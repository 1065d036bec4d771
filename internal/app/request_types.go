package app

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gasdepot/internal/core"
)

// CreateCustomerRequest is the input for onboarding a customer. Decimal
// amounts travel as strings so JSON floats never touch money.
type CreateCustomerRequest struct {
	Name             string `json:"name" validate:"required"`
	Segment          string `json:"segment" validate:"required,oneof=business residential"`
	CreditLimit      string `json:"credit_limit"`
	PaymentTermsDays int    `json:"payment_terms_days" validate:"gte=0"`
	MarginCategoryID *int   `json:"margin_category_id"`
}

// TransactionLineRequest is a single line within a CreateTransactionRequest.
type TransactionLineRequest struct {
	StockItemID       int    `json:"stock_item_id" validate:"required,gt=0"`
	Quantity          int64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice         string `json:"unit_price"`          // empty means "price dynamically"
	OriginalSoldPrice string `json:"original_sold_price"` // buybacks: empty means "resolve from history"
	BuybackRate       string `json:"buyback_rate"`        // buybacks: empty means the default rate
	ReturnedCondition string `json:"returned_condition" validate:"omitempty,oneof=full empty partial"`
	RemainingKg       string `json:"remaining_kg"`
}

// CreateTransactionRequest is the input for recording a ledger transaction.
type CreateTransactionRequest struct {
	CustomerID       int                      `json:"customer_id" validate:"required,gt=0"`
	Type             string                   `json:"type" validate:"required"`
	TxnDate          string                   `json:"txn_date"` // RFC 3339; empty means now
	Amount           string                   `json:"amount"`   // monetary types only
	PaymentReference string                   `json:"payment_reference"`
	Notes            string                   `json:"notes"`
	IdempotencyKey   string                   `json:"idempotency_key"`
	Items            []TransactionLineRequest `json:"items" validate:"dive"`
}

// CreateStockItemRequest is the input for adding a trackable cylinder product.
type CreateStockItemRequest struct {
	Name         string `json:"name" validate:"required"`
	CylinderType string `json:"cylinder_type" validate:"required"`
	Quantity     int64  `json:"quantity" validate:"gte=0"`
	UnitCost     string `json:"unit_cost"`
	FillState    string `json:"fill_state" validate:"omitempty,oneof=full empty partial"`
}

// SetDailyPriceRequest is the input for recording the commodity price for one
// calendar date.
type SetDailyPriceRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	BasePrice string `json:"base_price" validate:"required"`
	Notes     string `json:"notes"`
}

// AssignMarginCategoryRequest is the input for (re)assigning a customer's
// margin category.
type AssignMarginCategoryRequest struct {
	MarginCategoryID int `json:"margin_category_id" validate:"required,gt=0"`
}

// parseDecimal parses an optional decimal string. Empty means zero, which the
// core layer treats as "not provided" where that is meaningful.
func parseDecimal(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &core.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%q is not a valid decimal amount", raw),
		}
	}
	return d, nil
}

// parseDate parses an optional timestamp, accepting RFC 3339 or a bare
// calendar date. The zero time means "not provided".
func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, &core.ValidationError{
		Field:   field,
		Message: fmt.Sprintf("%q is not a valid date; use RFC 3339 or YYYY-MM-DD", raw),
	}
}
