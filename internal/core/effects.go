package core

// AggregateEffect describes how one transaction type moves the three derived
// aggregates. Balance applies the transaction total to the customer's ledger
// balance; Due and Stock apply per-item quantities to the cylinder due
// counters and the physical stock level. Each field is a sign: +1, -1 or 0.
//
// This table is the single source of truth for aggregate effects. Both the
// ledger write path and the reconciliation replay read it; there are no other
// per-type conditionals.
type AggregateEffect struct {
	Balance int
	Due     int
	Stock   int
}

var effectByType = map[TransactionType]AggregateEffect{
	TxnSale:        {Balance: +1, Due: +1, Stock: -1},
	TxnPayment:     {Balance: -1},
	TxnBuyback:     {Balance: -1, Due: -1, Stock: +1},
	TxnReturnEmpty: {Due: -1, Stock: +1},
	TxnAdjustment:  {Balance: -1},
	TxnCreditNote:  {Balance: -1},
}

// EffectFor returns the aggregate effect for a transaction type. The second
// return is false for unknown types.
func EffectFor(t TransactionType) (AggregateEffect, bool) {
	e, ok := effectByType[t]
	return e, ok
}

// Inverse returns the effect that undoes this one. Used by void.
func (e AggregateEffect) Inverse() AggregateEffect {
	return AggregateEffect{Balance: -e.Balance, Due: -e.Due, Stock: -e.Stock}
}
