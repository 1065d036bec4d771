package core

import "testing"

func TestEffectFor_Matrix(t *testing.T) {
	cases := []struct {
		txnType TransactionType
		want    AggregateEffect
	}{
		{TxnSale, AggregateEffect{Balance: +1, Due: +1, Stock: -1}},
		{TxnPayment, AggregateEffect{Balance: -1, Due: 0, Stock: 0}},
		{TxnBuyback, AggregateEffect{Balance: -1, Due: -1, Stock: +1}},
		{TxnReturnEmpty, AggregateEffect{Balance: 0, Due: -1, Stock: +1}},
		{TxnAdjustment, AggregateEffect{Balance: -1, Due: 0, Stock: 0}},
		{TxnCreditNote, AggregateEffect{Balance: -1, Due: 0, Stock: 0}},
	}
	for _, tc := range cases {
		eff, ok := EffectFor(tc.txnType)
		if !ok {
			t.Errorf("EffectFor(%s) not found", tc.txnType)
			continue
		}
		if eff != tc.want {
			t.Errorf("EffectFor(%s) = %+v, want %+v", tc.txnType, eff, tc.want)
		}
	}
}

func TestEffectFor_Unknown(t *testing.T) {
	if _, ok := EffectFor("REFUND"); ok {
		t.Error("EffectFor should reject unknown types")
	}
	if TransactionType("REFUND").Valid() {
		t.Error("unknown type must not be valid")
	}
}

func TestAggregateEffect_Inverse(t *testing.T) {
	for _, txnType := range []TransactionType{TxnSale, TxnPayment, TxnBuyback, TxnReturnEmpty, TxnAdjustment, TxnCreditNote} {
		eff, _ := EffectFor(txnType)
		inv := eff.Inverse()
		if inv.Balance != -eff.Balance || inv.Due != -eff.Due || inv.Stock != -eff.Stock {
			t.Errorf("Inverse of %s effect %+v = %+v; signs must all flip", txnType, eff, inv)
		}
	}
}

func TestTransactionType_Itemized(t *testing.T) {
	itemized := map[TransactionType]bool{
		TxnSale:        true,
		TxnBuyback:     true,
		TxnReturnEmpty: true,
		TxnPayment:     false,
		TxnAdjustment:  false,
		TxnCreditNote:  false,
	}
	for txnType, want := range itemized {
		if got := txnType.Itemized(); got != want {
			t.Errorf("%s.Itemized() = %v, want %v", txnType, got, want)
		}
	}
}
