package repositories

import (
	"context"

	"github.com/SscSPs/mma_exchange/internal/core/domain"
)

// RateCacheReader defines read operations for persisted raw rate series.
type RateCacheReader interface {
	// Load returns the last persisted raw series for pair.
	// It returns apperrors.ErrNotFound when nothing was ever saved for the pair.
	Load(ctx context.Context, pair domain.Pair) (domain.RawSeries, error)
}

// RateCacheWriter defines write operations for persisted raw rate series.
type RateCacheWriter interface {
	// Save persists the raw (non-expanded) series. An empty series is not written,
	// leaving any previously saved data untouched.
	Save(ctx context.Context, raw domain.RawSeries) error
}

// RateCacheRepositoryFacade combines all rate cache operations.
type RateCacheRepositoryFacade interface {
	RateCacheReader
	RateCacheWriter
}
