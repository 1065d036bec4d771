package app

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"gasdepot/internal/core"
)

type appService struct {
	validate  *validator.Validate
	customers core.CustomerService
	pricing   core.PricingService
	history   core.HistoryService
	ledger    core.LedgerService
	stock     core.StockService
	reconcile core.ReconciliationService
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	customers core.CustomerService,
	pricing core.PricingService,
	history core.HistoryService,
	ledger core.LedgerService,
	stock core.StockService,
	reconcile core.ReconciliationService,
) ApplicationService {
	return &appService{
		validate:  validator.New(),
		customers: customers,
		pricing:   pricing,
		history:   history,
		ledger:    ledger,
		stock:     stock,
		reconcile: reconcile,
	}
}

// checkStruct runs the declarative validation tags and converts the first
// failure into the core validation error the adapters already map.
func (s *appService) checkStruct(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &core.ValidationError{
			Field:   fe.Field(),
			Message: "failed validation on rule " + fe.Tag(),
		}
	}
	return err
}

func (s *appService) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*core.Customer, error) {
	if err := s.checkStruct(req); err != nil {
		return nil, err
	}
	creditLimit, err := parseDecimal("credit_limit", req.CreditLimit)
	if err != nil {
		return nil, err
	}
	return s.customers.CreateCustomer(ctx, req.Name, core.CustomerSegment(req.Segment),
		creditLimit, req.PaymentTermsDays, req.MarginCategoryID)
}

func (s *appService) GetCustomer(ctx context.Context, id int) (*core.Customer, error) {
	return s.customers.GetCustomer(ctx, id)
}

func (s *appService) ListCustomers(ctx context.Context) (*CustomerListResult, error) {
	customers, err := s.customers.GetCustomers(ctx)
	if err != nil {
		return nil, err
	}
	return &CustomerListResult{Customers: customers}, nil
}

func (s *appService) DeactivateCustomer(ctx context.Context, id int) error {
	return s.customers.DeactivateCustomer(ctx, id)
}

func (s *appService) AssignMarginCategory(ctx context.Context, customerID int, req AssignMarginCategoryRequest) error {
	if err := s.checkStruct(req); err != nil {
		return err
	}
	return s.customers.AssignMarginCategory(ctx, customerID, req.MarginCategoryID)
}

func (s *appService) QuoteForCustomer(ctx context.Context, customerID int, onDate time.Time) (*core.CustomerQuote, error) {
	return s.pricing.QuoteForCustomer(ctx, customerID, onDate)
}

func (s *appService) QuotePrices(ctx context.Context, basePrice, marginPerKg string) (*core.PriceQuote, error) {
	base, err := parseDecimal("base_price", basePrice)
	if err != nil {
		return nil, err
	}
	margin, err := parseDecimal("margin_per_kg", marginPerKg)
	if err != nil {
		return nil, err
	}
	return core.ComputePrices(base, margin)
}

func (s *appService) ResolveOriginalPrice(ctx context.Context, customerID int, productName, cylinderType string) (*core.OriginalPrice, error) {
	return s.history.ResolveOriginalPrice(ctx, customerID, productName, core.CylinderType(cylinderType))
}

func (s *appService) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*core.Transaction, error) {
	if err := s.checkStruct(req); err != nil {
		return nil, err
	}

	txnDate, err := parseDate("txn_date", req.TxnDate)
	if err != nil {
		return nil, err
	}
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		return nil, err
	}

	items := make([]core.LineItemInput, len(req.Items))
	for i, l := range req.Items {
		unitPrice, err := parseDecimal("items.unit_price", l.UnitPrice)
		if err != nil {
			return nil, err
		}
		soldPrice, err := parseDecimal("items.original_sold_price", l.OriginalSoldPrice)
		if err != nil {
			return nil, err
		}
		rate, err := parseDecimal("items.buyback_rate", l.BuybackRate)
		if err != nil {
			return nil, err
		}
		remainingKg, err := parseDecimal("items.remaining_kg", l.RemainingKg)
		if err != nil {
			return nil, err
		}
		items[i] = core.LineItemInput{
			StockItemID:       l.StockItemID,
			Quantity:          l.Quantity,
			UnitPrice:         unitPrice,
			OriginalSoldPrice: soldPrice,
			BuybackRate:       rate,
			ReturnedCondition: core.FillState(l.ReturnedCondition),
			RemainingKg:       remainingKg,
		}
	}

	return s.ledger.Apply(ctx, core.ApplyTransactionRequest{
		CustomerID:       req.CustomerID,
		Type:             core.TransactionType(req.Type),
		TxnDate:          txnDate,
		Amount:           amount,
		PaymentReference: req.PaymentReference,
		Notes:            req.Notes,
		IdempotencyKey:   req.IdempotencyKey,
		Items:            items,
	})
}

func (s *appService) GetTransaction(ctx context.Context, id int) (*core.Transaction, error) {
	return s.ledger.GetTransaction(ctx, id)
}

func (s *appService) VoidTransaction(ctx context.Context, id int, actor string) (*core.Transaction, error) {
	return s.ledger.Void(ctx, id, actor)
}

func (s *appService) ListCustomerTransactions(ctx context.Context, customerID int, asOf *time.Time) (*TransactionListResult, error) {
	txns, err := s.ledger.GetCustomerTransactions(ctx, customerID, asOf)
	if err != nil {
		return nil, err
	}
	return &TransactionListResult{CustomerID: customerID, Transactions: txns}, nil
}

func (s *appService) ReconcileCustomer(ctx context.Context, customerID int, asOf time.Time) (*core.ReconciliationReport, error) {
	return s.reconcile.ReconcileCustomer(ctx, customerID, asOf)
}

func (s *appService) RepairCustomer(ctx context.Context, customerID int, actor string) (*core.RepairResult, error) {
	return s.reconcile.RepairCustomer(ctx, customerID, actor)
}

func (s *appService) ListStockItems(ctx context.Context) (*StockListResult, error) {
	items, err := s.stock.GetStockItems(ctx)
	if err != nil {
		return nil, err
	}
	return &StockListResult{Items: items}, nil
}

func (s *appService) CreateStockItem(ctx context.Context, req CreateStockItemRequest) (*core.StockItem, error) {
	if err := s.checkStruct(req); err != nil {
		return nil, err
	}
	unitCost, err := parseDecimal("unit_cost", req.UnitCost)
	if err != nil {
		return nil, err
	}
	return s.stock.CreateStockItem(ctx, req.Name, core.CylinderType(req.CylinderType),
		req.Quantity, unitCost, core.FillState(req.FillState))
}

func (s *appService) ListMarginCategories(ctx context.Context) (*MarginCategoryListResult, error) {
	categories, err := s.pricing.GetMarginCategories(ctx)
	if err != nil {
		return nil, err
	}
	return &MarginCategoryListResult{Categories: categories}, nil
}

func (s *appService) GetBasePrice(ctx context.Context, onDate time.Time) (*core.DailyPrice, error) {
	return s.pricing.BasePriceOn(ctx, onDate)
}

func (s *appService) SetDailyPrice(ctx context.Context, req SetDailyPriceRequest) (*core.DailyPrice, error) {
	if err := s.checkStruct(req); err != nil {
		return nil, err
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return nil, err
	}
	basePrice, err := parseDecimal("base_price", req.BasePrice)
	if err != nil {
		return nil, err
	}
	return s.pricing.SetDailyPrice(ctx, date, basePrice, req.Notes)
}
