package domain

import (
	"fmt"
	"strings"

	"github.com/SscSPs/mma_exchange/internal/apperrors"
)

// Currency is an ISO 4217 code from the closed set of supported currencies.
type Currency string

const (
	EUR Currency = "EUR"
	USD Currency = "USD"
	GBP Currency = "GBP"
	CHF Currency = "CHF"
	JPY Currency = "JPY"
	SEK Currency = "SEK"
	NOK Currency = "NOK"
	DKK Currency = "DKK"
	PLN Currency = "PLN"
	CZK Currency = "CZK"
	CAD Currency = "CAD"
	AUD Currency = "AUD"
)

// Base is the reference currency every series is stored against.
// Base never has a series of its own; Base to Base is always 1.
const Base = EUR

var supported = []Currency{EUR, USD, GBP, CHF, JPY, SEK, NOK, DKK, PLN, CZK, CAD, AUD}

// precision is the number of minor units used when displaying amounts.
var precision = map[Currency]int{
	JPY: 0,
}

// Currencies returns every supported currency, base included, in a stable order.
func Currencies() []Currency {
	out := make([]Currency, len(supported))
	copy(out, supported)
	return out
}

// ForeignCurrencies returns every supported currency except Base.
func ForeignCurrencies() []Currency {
	out := make([]Currency, 0, len(supported)-1)
	for _, c := range supported {
		if c != Base {
			out = append(out, c)
		}
	}
	return out
}

// ParseCurrency parses a currency code case-insensitively.
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unsupported currency code '%s'", apperrors.ErrDataIntegrity, code)
	}
	return c, nil
}

// Valid reports whether c belongs to the supported set.
func (c Currency) Valid() bool {
	for _, s := range supported {
		if s == c {
			return true
		}
	}
	return false
}

// Precision returns the number of decimal places amounts in c are displayed with.
func (c Currency) Precision() int {
	if p, ok := precision[c]; ok {
		return p
	}
	return 2
}

func (c Currency) String() string {
	return string(c)
}
