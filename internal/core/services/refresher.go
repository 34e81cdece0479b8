package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/civil"
	"github.com/SscSPs/mma_exchange/internal/apperrors"
	"github.com/SscSPs/mma_exchange/internal/core/domain"
	portsrepo "github.com/SscSPs/mma_exchange/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/mma_exchange/internal/core/ports/services"
	"github.com/SscSPs/mma_exchange/internal/core/series"
)

// Refresher decides whether a cached series is stale and tops it up from the rate source.
type Refresher struct {
	BaseService
	source     portssvc.RateSource
	cache      portsrepo.RateCacheReader
	today      func() civil.Date
	allowStale bool
}

// NewRefresher creates a Refresher. today supplies the current calendar day.
func NewRefresher(source portssvc.RateSource, cache portsrepo.RateCacheReader, today func() civil.Date, allowStale bool) *Refresher {
	return &Refresher{
		source:     source,
		cache:      cache,
		today:      today,
		allowStale: allowStale,
	}
}

// Refresh fetches the observations after the last cached day when that day is before today and
// merges them into cached. The bool result reports whether the source was queried.
func (r *Refresher) Refresh(ctx context.Context, currency domain.Currency, cached domain.RawSeries) (domain.RawSeries, bool, error) {
	cachedMax, err := series.ExtremeDate(cached, series.Max)
	if err != nil {
		return cached, false, err
	}

	today := r.today()
	if !cachedMax.Before(today) {
		r.LogDebug(ctx, "Cached series is current",
			slog.String("currency", currency.String()),
			slog.String("cached_max", cachedMax.String()))
		return cached, false, nil
	}

	// The feed is queried from the last cached day inclusive; Merge collapses the repeated day.
	fetched, err := r.source.Fetch(ctx, currency, &cachedMax)
	if err != nil {
		return cached, true, fmt.Errorf("refreshing %s from %s: %w", currency, cachedMax, err)
	}
	fetched.Pair = domain.PairOf(currency)

	merged := series.Merge(cached, fetched)
	r.LogInfo(ctx, "Refreshed cached series",
		slog.String("currency", currency.String()),
		slog.String("from", cachedMax.String()),
		slog.Int("fetched_rows", fetched.Len()),
		slog.Int("total_rows", merged.Len()))
	return merged, true, nil
}

// LoadOrFetch returns the raw series of currency: the cached one refreshed when stale, or the
// full history from the source on a cache miss, an unreadable cache, or a failed refresh.
func (r *Refresher) LoadOrFetch(ctx context.Context, currency domain.Currency) (domain.RawSeries, error) {
	pair := domain.PairOf(currency)
	logAttrs := []any{slog.String("pair", pair.Key())}

	cached, err := r.cache.Load(ctx, pair)
	switch {
	case err == nil:
		refreshed, _, refreshErr := r.Refresh(ctx, currency, cached)
		if refreshErr == nil {
			return refreshed, nil
		}
		r.LogError(ctx, refreshErr, "Refresh failed, fetching full history", logAttrs...)
	case errors.Is(err, apperrors.ErrNotFound):
		r.LogInfo(ctx, "No cached series, fetching full history", logAttrs...)
		cached = domain.RawSeries{Pair: pair}
	default:
		r.LogError(ctx, err, "Cached series unreadable, fetching full history", logAttrs...)
		cached = domain.RawSeries{Pair: pair}
	}

	full, err := r.source.Fetch(ctx, currency, nil)
	if err != nil {
		if r.allowStale && !cached.IsEmpty() {
			r.LogWarn(ctx, "Full fetch failed, serving stale cached series",
				append(logAttrs, slog.String("error", err.Error()))...)
			return cached, nil
		}
		return domain.RawSeries{}, fmt.Errorf("fetching full history of %s: %w", currency, err)
	}
	full.Pair = pair

	return series.Merge(cached, full), nil
}
