package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// LedgerRow is one ledger entry as handed over by the table storage: a dated amount in a currency.
type LedgerRow struct {
	Date     civil.Date
	Currency Currency
	Value    decimal.Decimal
}

// ConvertedRow is a LedgerRow after conversion; its currency is implied by the conversion target.
type ConvertedRow struct {
	Date  civil.Date
	Value decimal.Decimal
}

// SeriesBounds describes the span and size of one cached pair.
type SeriesBounds struct {
	Pair    Pair
	Min     civil.Date
	Max     civil.Date
	RawRows int
}
