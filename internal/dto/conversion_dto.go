package dto

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/SscSPs/mma_exchange/internal/apperrors"
	"github.com/SscSPs/mma_exchange/internal/core/domain"
	"github.com/SscSPs/mma_exchange/internal/utils"
	"github.com/shopspring/decimal"
)

// LedgerRowRequest is one ledger-shaped input row.
type LedgerRowRequest struct {
	Date         string          `json:"date" binding:"required,datetime=2006-01-02"`
	CurrencyCode string          `json:"currencyCode" binding:"required,currency"`
	Value        decimal.Decimal `json:"value"`
}

// ConvertRequest defines the body of a bulk conversion.
// ValuationDate, when set, values every row at that single date instead of its own.
type ConvertRequest struct {
	ToCurrencyCode string             `json:"toCurrencyCode" binding:"required,currency"`
	ValuationDate  string             `json:"valuationDate" binding:"omitempty,datetime=2006-01-02"`
	Rows           []LedgerRowRequest `json:"rows" binding:"required,max=10000,dive"`
}

// ToDomain parses the request into the target currency, the ledger rows and the optional valuation date.
func (r ConvertRequest) ToDomain() (domain.Currency, []domain.LedgerRow, *civil.Date, error) {
	to, err := domain.ParseCurrency(r.ToCurrencyCode)
	if err != nil {
		return "", nil, nil, err
	}

	var valuation *civil.Date
	if r.ValuationDate != "" {
		d, err := civil.ParseDate(r.ValuationDate)
		if err != nil {
			return "", nil, nil, fmt.Errorf("%w: invalid valuationDate %q", apperrors.ErrValidation, r.ValuationDate)
		}
		valuation = &d
	}

	rows := make([]domain.LedgerRow, len(r.Rows))
	for i, row := range r.Rows {
		date, err := civil.ParseDate(row.Date)
		if err != nil {
			return "", nil, nil, fmt.Errorf("%w: row %d has invalid date %q", apperrors.ErrValidation, i, row.Date)
		}
		currency, err := domain.ParseCurrency(row.CurrencyCode)
		if err != nil {
			return "", nil, nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows[i] = domain.LedgerRow{Date: date, Currency: currency, Value: row.Value}
	}
	return to, rows, valuation, nil
}

// ConvertedRowResponse is one converted row, formatted with the target currency's precision.
type ConvertedRowResponse struct {
	Date  civil.Date `json:"date"`
	Value string     `json:"value"`
}

// ConvertResponse is the result of a bulk conversion, rows in input order.
type ConvertResponse struct {
	ToCurrencyCode string                 `json:"toCurrencyCode"`
	ValuationDate  *civil.Date            `json:"valuationDate,omitempty"`
	Rows           []ConvertedRowResponse `json:"rows"`
	Total          string                 `json:"total"`
}

// ToConvertResponse formats converted rows and their total in to.
func ToConvertResponse(to domain.Currency, valuation *civil.Date, rows []domain.ConvertedRow, total decimal.Decimal) ConvertResponse {
	out := make([]ConvertedRowResponse, len(rows))
	for i, row := range rows {
		out[i] = ConvertedRowResponse{
			Date:  row.Date,
			Value: utils.FormatWithCurrencyPrecision(row.Value, to),
		}
	}
	return ConvertResponse{
		ToCurrencyCode: to.String(),
		ValuationDate:  valuation,
		Rows:           out,
		Total:          utils.FormatWithCurrencyPrecision(total, to),
	}
}
