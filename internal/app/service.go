package app

import (
	"context"
	"time"

	"gasdepot/internal/core"
)

// ApplicationService is the single interface the HTTP adapter calls. It
// decouples presentation from business logic; implementations contain no
// status codes and no display logic of any kind.
type ApplicationService interface {
	// CreateCustomer onboards a customer, optionally assigning a margin
	// category at creation time.
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*core.Customer, error)

	// GetCustomer returns one customer with its due counters attached.
	GetCustomer(ctx context.Context, id int) (*core.Customer, error)

	// ListCustomers returns all active customers.
	ListCustomers(ctx context.Context) (*CustomerListResult, error)

	// DeactivateCustomer soft-deletes a customer. History is never destroyed.
	DeactivateCustomer(ctx context.Context, id int) error

	// AssignMarginCategory sets the customer's pricing tier.
	AssignMarginCategory(ctx context.Context, customerID int, req AssignMarginCategoryRequest) error

	// QuoteForCustomer prices the cylinder catalog for a customer on a date.
	QuoteForCustomer(ctx context.Context, customerID int, onDate time.Time) (*core.CustomerQuote, error)

	// QuotePrices prices the catalog from an explicit base price and margin,
	// without touching customer or daily-price state.
	QuotePrices(ctx context.Context, basePrice, marginPerKg string) (*core.PriceQuote, error)

	// ResolveOriginalPrice answers "what was this cylinder sold for" from the
	// sale history, for seeding buyback prices.
	ResolveOriginalPrice(ctx context.Context, customerID int, productName string, cylinderType string) (*core.OriginalPrice, error)

	// CreateTransaction records one ledger transaction and applies its
	// aggregate effects atomically.
	CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*core.Transaction, error)

	// GetTransaction returns one transaction with its line items.
	GetTransaction(ctx context.Context, id int) (*core.Transaction, error)

	// VoidTransaction reverses a transaction's effects and marks it voided.
	VoidTransaction(ctx context.Context, id int, actor string) (*core.Transaction, error)

	// ListCustomerTransactions returns a customer's ledger, newest first,
	// optionally bounded by an as-of timestamp.
	ListCustomerTransactions(ctx context.Context, customerID int, asOf *time.Time) (*TransactionListResult, error)

	// ReconcileCustomer replays the transaction log and reports drift against
	// the stored aggregates. Read-only.
	ReconcileCustomer(ctx context.Context, customerID int, asOf time.Time) (*core.ReconciliationReport, error)

	// RepairCustomer overwrites drifted aggregates with recomputed values,
	// leaving an audit trail.
	RepairCustomer(ctx context.Context, customerID int, actor string) (*core.RepairResult, error)

	// ListStockItems returns the active cylinder catalog with quantities.
	ListStockItems(ctx context.Context) (*StockListResult, error)

	// CreateStockItem adds a trackable cylinder product.
	CreateStockItem(ctx context.Context, req CreateStockItemRequest) (*core.StockItem, error)

	// ListMarginCategories returns the active pricing tiers.
	ListMarginCategories(ctx context.Context) (*MarginCategoryListResult, error)

	// GetBasePrice returns the daily price effective on a date.
	GetBasePrice(ctx context.Context, onDate time.Time) (*core.DailyPrice, error)

	// SetDailyPrice records (or corrects) the commodity price for a date.
	SetDailyPrice(ctx context.Context, req SetDailyPriceRequest) (*core.DailyPrice, error)
}
