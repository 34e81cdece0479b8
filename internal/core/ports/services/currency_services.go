package services

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/SscSPs/mma_exchange/internal/core/domain"
	"github.com/shopspring/decimal"
)

// RateSource abstracts the remote daily reference-rate feed.
type RateSource interface {
	// Fetch returns the observations of currency against the base currency from from (inclusive)
	// up to today, or the full history when from is nil. Rates are already in
	// "base per foreign" terms.
	Fetch(ctx context.Context, currency domain.Currency, from *civil.Date) (domain.RawSeries, error)
}

// ExchangeRateReaderSvc defines point and range rate lookups.
type ExchangeRateReaderSvc interface {
	// Rate returns how many units of to one unit of from buys on date.
	Rate(from, to domain.Currency, date civil.Date) (float64, error)

	// Series returns the daily rates of from against to between start and end, inclusive.
	Series(from, to domain.Currency, start, end civil.Date) ([]domain.DailyRate, error)

	// Bounds returns the cached span of every tracked pair.
	Bounds() []domain.SeriesBounds

	// Today returns the engine's notion of the current day.
	Today() civil.Date
}

// ConversionSvc defines bulk conversion of ledger-shaped rows.
type ConversionSvc interface {
	// ConvertTable converts every row at its own date into to, preserving row order.
	ConvertTable(to domain.Currency, rows []domain.LedgerRow) ([]domain.ConvertedRow, error)

	// ConvertTableAt converts every row into to using the rates of a single valuation date.
	ConvertTableAt(to domain.Currency, rows []domain.LedgerRow, date civil.Date) ([]domain.ConvertedRow, error)

	// Total sums converted rows.
	Total(rows []domain.ConvertedRow) decimal.Decimal
}

// ExchangeRateLifecycleSvc defines the refresh and persistence surface of the engine.
type ExchangeRateLifecycleSvc interface {
	// Reload re-reads the cache, refreshes stale pairs and swaps the new state in.
	Reload(ctx context.Context) error

	// Save persists every raw series.
	Save(ctx context.Context) error
}

// ExchangeRateSvcFacade combines all exchange rate service interfaces.
type ExchangeRateSvcFacade interface {
	ExchangeRateReaderSvc
	ConversionSvc
	ExchangeRateLifecycleSvc
}
