package app

import "gasdepot/internal/core"

// CustomerListResult is returned by ListCustomers.
type CustomerListResult struct {
	Customers []core.Customer `json:"customers"`
}

// TransactionListResult is returned by ListCustomerTransactions.
type TransactionListResult struct {
	CustomerID   int                `json:"customer_id"`
	Transactions []core.Transaction `json:"transactions"`
}

// StockListResult is returned by ListStockItems.
type StockListResult struct {
	Items []core.StockItem `json:"items"`
}

// MarginCategoryListResult is returned by ListMarginCategories.
type MarginCategoryListResult struct {
	Categories []core.MarginCategory `json:"categories"`
}
