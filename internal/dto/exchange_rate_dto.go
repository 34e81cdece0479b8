package dto

import (
	"cloud.google.com/go/civil"
	"github.com/SscSPs/mma_exchange/internal/core/domain"
)

// ExchangeRateQuery holds the optional query parameters of a point rate lookup.
type ExchangeRateQuery struct {
	Date string `form:"date" binding:"omitempty,datetime=2006-01-02"`
}

// ExchangeRateResponse defines the structure for API responses containing a single rate.
type ExchangeRateResponse struct {
	FromCurrencyCode string     `json:"fromCurrencyCode"`
	ToCurrencyCode   string     `json:"toCurrencyCode"`
	Date             civil.Date `json:"date"`
	Rate             float64    `json:"rate"`
}

// ToExchangeRateResponse builds the response for one looked-up rate.
func ToExchangeRateResponse(from, to domain.Currency, date civil.Date, rate float64) ExchangeRateResponse {
	return ExchangeRateResponse{
		FromCurrencyCode: from.String(),
		ToCurrencyCode:   to.String(),
		Date:             date,
		Rate:             rate,
	}
}

// ListExchangeRatesParams holds the query parameters of a rate history listing.
type ListExchangeRatesParams struct {
	Start     string `form:"start" binding:"required,datetime=2006-01-02"`
	End       string `form:"end" binding:"omitempty,datetime=2006-01-02"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=366"`
	PageToken string `form:"pageToken"`
}

// ListExchangeRatesResponse is one page of daily rates.
type ListExchangeRatesResponse struct {
	FromCurrencyCode string             `json:"fromCurrencyCode"`
	ToCurrencyCode   string             `json:"toCurrencyCode"`
	Rates            []domain.DailyRate `json:"rates"`
	NextToken        *string            `json:"nextToken,omitempty"`
}

// SeriesStatusResponse describes the cached span of one pair.
type SeriesStatusResponse struct {
	Pair             string     `json:"pair"`
	FromCurrencyCode string     `json:"fromCurrencyCode"`
	ToCurrencyCode   string     `json:"toCurrencyCode"`
	MinDate          civil.Date `json:"minDate"`
	MaxDate          civil.Date `json:"maxDate"`
	RawRows          int        `json:"rawRows"`
}

// StatusResponse lists every cached pair.
type StatusResponse struct {
	BaseCurrencyCode string                 `json:"baseCurrencyCode"`
	Today            civil.Date             `json:"today"`
	Series           []SeriesStatusResponse `json:"series"`
}

// ToStatusResponse converts engine bounds to the status DTO.
func ToStatusResponse(today civil.Date, bounds []domain.SeriesBounds) StatusResponse {
	series := make([]SeriesStatusResponse, len(bounds))
	for i, b := range bounds {
		series[i] = SeriesStatusResponse{
			Pair:             b.Pair.Key(),
			FromCurrencyCode: b.Pair.From.String(),
			ToCurrencyCode:   b.Pair.To.String(),
			MinDate:          b.Min,
			MaxDate:          b.Max,
			RawRows:          b.RawRows,
		}
	}
	return StatusResponse{
		BaseCurrencyCode: domain.Base.String(),
		Today:            today,
		Series:           series,
	}
}
