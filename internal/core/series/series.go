// Package series holds the pure gap-filling and merging logic for daily rate series.
package series

import (
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/SscSPs/mma_exchange/internal/apperrors"
	"github.com/SscSPs/mma_exchange/internal/core/domain"
)

// Extremum selects the earliest or the latest date of a series.
type Extremum int

const (
	Min Extremum = iota
	Max
)

var (
	// ErrEmptySeries is returned when a series has no usable rows.
	ErrEmptySeries = fmt.Errorf("%w: series is empty", apperrors.ErrDataIntegrity)
	// ErrEmptyColumn is returned when a series holds no valid dates.
	ErrEmptyColumn = fmt.Errorf("%w: date column is empty or has no valid dates", apperrors.ErrDataIntegrity)
)

// ExtremeDate returns the minimum or maximum valid date present in raw.
func ExtremeDate(raw domain.RawSeries, which Extremum) (civil.Date, error) {
	var (
		best  civil.Date
		found bool
	)
	for _, o := range raw.Observations {
		if !o.Date.IsValid() {
			continue
		}
		if !found ||
			(which == Min && o.Date.Before(best)) ||
			(which == Max && o.Date.After(best)) {
			best = o.Date
			found = true
		}
	}
	if !found {
		return civil.Date{}, fmt.Errorf("%s: %w", raw.Pair, ErrEmptyColumn)
	}
	return best, nil
}

// Expand resamples raw onto a daily grid between its first and last date, forward-filling gaps.
// With addToday set and the last observation before today, a rate-less row for today is added
// first, so today always resolves to the last known rate.
func Expand(raw domain.RawSeries, addToday bool, today civil.Date) (domain.ExpandedSeries, error) {
	obs := validSorted(raw.Observations)
	if len(obs) == 0 {
		return domain.ExpandedSeries{}, fmt.Errorf("expanding %s: %w", raw.Pair, ErrEmptySeries)
	}

	if addToday && obs[len(obs)-1].Date.Before(today) {
		obs = append(obs, domain.RateObservation{Date: today})
	}

	start := obs[0].Date
	end := obs[len(obs)-1].Date
	days := end.DaysSince(start) + 1

	rates := make([]float64, days)
	known := make([]bool, days)
	for _, o := range obs {
		if o.Rate == nil {
			continue
		}
		idx := o.Date.DaysSince(start)
		rates[idx] = *o.Rate
		known[idx] = true
	}

	if !known[0] {
		return domain.ExpandedSeries{}, fmt.Errorf("%w: %s has no rate on its first day %s",
			apperrors.ErrDataIntegrity, raw.Pair, start)
	}
	for i := 1; i < days; i++ {
		if !known[i] {
			rates[i] = rates[i-1]
		}
	}

	return domain.ExpandedSeries{Pair: raw.Pair, Start: start, Rates: rates}, nil
}

// FromExpanded turns an expanded series back into a dense raw series.
func FromExpanded(e domain.ExpandedSeries) domain.RawSeries {
	obs := make([]domain.RateObservation, len(e.Rates))
	for i, r := range e.Rates {
		obs[i] = domain.Observed(e.Start.AddDays(i), r)
	}
	return domain.RawSeries{Pair: e.Pair, Observations: obs}
}

// Merge appends fetched to cached. Rows are ordered by date and a date present in both keeps
// the fetched rate, so re-fetching from the last cached day never produces duplicates.
func Merge(cached, fetched domain.RawSeries) domain.RawSeries {
	pair := cached.Pair
	if pair == (domain.Pair{}) {
		pair = fetched.Pair
	}

	byDate := make(map[civil.Date]domain.RateObservation, cached.Len()+fetched.Len())
	for _, o := range cached.Observations {
		byDate[o.Date] = o
	}
	for _, o := range fetched.Observations {
		if prev, ok := byDate[o.Date]; ok && o.Rate == nil && prev.Rate != nil {
			continue
		}
		byDate[o.Date] = o
	}

	merged := make([]domain.RateObservation, 0, len(byDate))
	for _, o := range byDate {
		merged = append(merged, o)
	}
	sortByDate(merged)
	return domain.RawSeries{Pair: pair, Observations: merged}
}

// Window returns the daily rates of e between start and end, both inclusive.
func Window(e domain.ExpandedSeries, start, end civil.Date) ([]domain.DailyRate, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", apperrors.ErrValidation, end, start)
	}
	if !e.Contains(start) || !e.Contains(end) {
		return nil, fmt.Errorf("%w: [%s, %s] is not within [%s, %s] of %s",
			apperrors.ErrDateOutOfRange, start, end, e.Min(), e.Max(), e.Pair)
	}
	from := start.DaysSince(e.Start)
	to := end.DaysSince(e.Start)
	out := make([]domain.DailyRate, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, domain.DailyRate{Date: e.Start.AddDays(i), Rate: e.Rates[i]})
	}
	return out, nil
}

func validSorted(in []domain.RateObservation) []domain.RateObservation {
	out := make([]domain.RateObservation, 0, len(in)+1)
	for _, o := range in {
		if o.Date.IsValid() {
			out = append(out, o)
		}
	}
	sortByDate(out)
	return out
}

func sortByDate(obs []domain.RateObservation) {
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].Date.Before(obs[j].Date)
	})
}
