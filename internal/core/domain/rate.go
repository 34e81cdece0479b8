package domain

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/SscSPs/mma_exchange/internal/apperrors"
)

// Pair is an ordered currency pair. Cached series are always (foreign, Base).
type Pair struct {
	From Currency
	To   Currency
}

// PairOf returns the cached pair for a foreign currency.
func PairOf(foreign Currency) Pair {
	return Pair{From: foreign, To: Base}
}

// Key is the concatenation of both codes, e.g. "USDEUR".
func (p Pair) Key() string {
	return string(p.From) + string(p.To)
}

// Inverse returns the pair with both sides swapped.
func (p Pair) Inverse() Pair {
	return Pair{From: p.To, To: p.From}
}

func (p Pair) String() string {
	return p.Key()
}

// RateObservation is a single day's rate in "units of To per one unit of From".
// Rate is nil only for the synthetic row appended before gap filling.
type RateObservation struct {
	Date civil.Date
	Rate *float64
}

// Observed builds an observation with a known rate.
func Observed(date civil.Date, rate float64) RateObservation {
	return RateObservation{Date: date, Rate: &rate}
}

// RawSeries is the as-observed, possibly sparse, history of one pair.
type RawSeries struct {
	Pair         Pair
	Observations []RateObservation
}

// Len returns the number of observations.
func (s RawSeries) Len() int {
	return len(s.Observations)
}

// IsEmpty reports whether the series has no observations.
func (s RawSeries) IsEmpty() bool {
	return len(s.Observations) == 0
}

// ExpandedSeries holds one rate per calendar day from Start to End, inclusive.
type ExpandedSeries struct {
	Pair  Pair
	Start civil.Date
	Rates []float64
}

// Len returns the number of days covered.
func (s ExpandedSeries) Len() int {
	return len(s.Rates)
}

// Min returns the first day covered.
func (s ExpandedSeries) Min() civil.Date {
	return s.Start
}

// Max returns the last day covered.
func (s ExpandedSeries) Max() civil.Date {
	if len(s.Rates) == 0 {
		return s.Start
	}
	return s.Start.AddDays(len(s.Rates) - 1)
}

// Contains reports whether date lies within [Min, Max].
func (s ExpandedSeries) Contains(date civil.Date) bool {
	return len(s.Rates) > 0 && !date.Before(s.Min()) && !date.After(s.Max())
}

// At returns the rate stored for date.
func (s ExpandedSeries) At(date civil.Date) (float64, error) {
	if len(s.Rates) == 0 {
		return 0, fmt.Errorf("%w: series %s is empty", apperrors.ErrDataIntegrity, s.Pair)
	}
	if date.Before(s.Min()) {
		return 0, fmt.Errorf("%w: %s is before the first cached day %s of %s",
			apperrors.ErrDateOutOfRange, date, s.Min(), s.Pair)
	}
	if date.After(s.Max()) {
		return 0, fmt.Errorf("%w: %s is after the last cached day %s of %s",
			apperrors.ErrDateOutOfRange, date, s.Max(), s.Pair)
	}
	idx := date.DaysSince(s.Start)
	if idx < 0 || idx >= len(s.Rates) {
		return 0, fmt.Errorf("%w: no rate for %s in %s", ErrMissingDate, date, s.Pair)
	}
	return s.Rates[idx], nil
}

// DailyRate is one day of an expanded series.
type DailyRate struct {
	Date civil.Date `json:"date"`
	Rate float64    `json:"rate"`
}

// ErrMissingDate is returned when a date inside the range has no stored rate.
var ErrMissingDate = fmt.Errorf("%w: missing date", apperrors.ErrDataIntegrity)
