package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CustomerSegment string

const (
	SegmentBusiness    CustomerSegment = "business"
	SegmentResidential CustomerSegment = "residential"
)

func (s CustomerSegment) Valid() bool {
	return s == SegmentBusiness || s == SegmentResidential
}

// CylinderType identifies a cylinder size, e.g. "11.8kg", "15kg", "45.4kg".
// The pricing formula is size-agnostic: any "<capacity>kg" type prices the
// same way.
type CylinderType string

const (
	CylinderDomestic   CylinderType = "11.8kg"
	CylinderStandard   CylinderType = "15kg"
	CylinderCommercial CylinderType = "45.4kg"
)

// Kilograms parses the capacity out of the type identifier.
func (c CylinderType) Kilograms() (decimal.Decimal, error) {
	raw := strings.TrimSuffix(string(c), "kg")
	if raw == string(c) || raw == "" {
		return decimal.Zero, fmt.Errorf("cylinder type %q is not of the form \"<capacity>kg\"", c)
	}
	kg, err := decimal.NewFromString(raw)
	if err != nil || !kg.IsPositive() {
		return decimal.Zero, fmt.Errorf("cylinder type %q has no usable capacity", c)
	}
	return kg, nil
}

type Customer struct {
	ID               int              `json:"id"`
	Name             string           `json:"name"`
	Segment          CustomerSegment  `json:"segment"`
	CreditLimit      decimal.Decimal  `json:"credit_limit"`
	PaymentTermsDays int              `json:"payment_terms_days"`
	Balance          decimal.Decimal  `json:"balance"`
	MarginCategoryID *int             `json:"margin_category_id,omitempty"`
	IsActive         bool             `json:"is_active"`
	CreatedAt        time.Time        `json:"created_at"`
	DueCounters      []DueCounter     `json:"due_counters,omitempty"`
}

// DueCounter counts cylinders of one size currently out with a customer.
// Never negative; decrements clamp at zero.
type DueCounter struct {
	CylinderType CylinderType `json:"cylinder_type"`
	DueQty       int64        `json:"due_qty"`
}

type MarginCategory struct {
	ID           int             `json:"id"`
	Name         string          `json:"name"`
	Segment      CustomerSegment `json:"segment"`
	MarginPerKg  decimal.Decimal `json:"margin_per_kg"`
	IsActive     bool            `json:"is_active"`
	DisplayOrder int             `json:"display_order"`
}

// DailyPrice is the reference commodity price for the 11.8 kg base cylinder
// on one calendar date. Missing dates fall back to the most recent prior row.
type DailyPrice struct {
	ID        int             `json:"id"`
	PriceDate time.Time       `json:"price_date"`
	BasePrice decimal.Decimal `json:"base_price"`
	Notes     string          `json:"notes"`
}

type FillState string

const (
	FillFull    FillState = "full"
	FillEmpty   FillState = "empty"
	FillPartial FillState = "partial"
)

func (f FillState) Valid() bool {
	return f == FillFull || f == FillEmpty || f == FillPartial
}

type StockItem struct {
	ID           int             `json:"id"`
	Name         string          `json:"name"`
	CylinderType CylinderType    `json:"cylinder_type"`
	Quantity     int64           `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	FillState    FillState       `json:"fill_state"`
	IsActive     bool            `json:"is_active"`
}

type TransactionType string

const (
	TxnSale        TransactionType = "SALE"
	TxnPayment     TransactionType = "PAYMENT"
	TxnBuyback     TransactionType = "BUYBACK"
	TxnReturnEmpty TransactionType = "RETURN_EMPTY"
	TxnAdjustment  TransactionType = "ADJUSTMENT"
	TxnCreditNote  TransactionType = "CREDIT_NOTE"
)

func (t TransactionType) Valid() bool {
	_, ok := EffectFor(t)
	return ok
}

// Itemized reports whether the type carries cylinder line items. The other
// types are purely monetary and take an explicit amount instead.
func (t TransactionType) Itemized() bool {
	return t == TxnSale || t == TxnBuyback || t == TxnReturnEmpty
}

// Transaction is an immutable entry in a customer's commercial ledger.
// Total is always non-negative; direction is implied by the type. The only
// permitted mutation after creation is an explicit void, which reverses the
// aggregate effects.
type Transaction struct {
	ID               int               `json:"id"`
	SeqNumber        string            `json:"seq_number"`
	CustomerID       int               `json:"customer_id"`
	Type             TransactionType   `json:"type"`
	TxnDate          time.Time         `json:"txn_date"`
	Total            decimal.Decimal   `json:"total"`
	PaymentReference string            `json:"payment_reference,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	IdempotencyKey   string            `json:"idempotency_key,omitempty"`
	IsVoided         bool              `json:"is_voided"`
	VoidedAt         *time.Time        `json:"voided_at,omitempty"`
	VoidedBy         string            `json:"voided_by,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	Items            []TransactionItem `json:"items,omitempty"`
}

type TransactionItem struct {
	ID                int              `json:"id"`
	TransactionID     int              `json:"transaction_id"`
	StockItemID       int              `json:"stock_item_id"`
	ProductName       string           `json:"product_name"`
	CylinderType      CylinderType     `json:"cylinder_type"`
	Quantity          int64            `json:"quantity"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`
	LineTotal         decimal.Decimal  `json:"line_total"`
	OriginalSoldPrice *decimal.Decimal `json:"original_sold_price,omitempty"`
	BuybackRate       *decimal.Decimal `json:"buyback_rate,omitempty"`
	BuybackPrice      *decimal.Decimal `json:"buyback_price,omitempty"`
	ReturnedCondition *FillState       `json:"returned_condition,omitempty"`
	RemainingKg       *decimal.Decimal `json:"remaining_kg,omitempty"`
}
