package ecb

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/SscSPs/mma_exchange/internal/core/domain"
	portssvc "github.com/SscSPs/mma_exchange/internal/core/ports/services"
	"github.com/SscSPs/mma_exchange/internal/middleware"
)

// loggingSource decorates a RateSource with logging
type loggingSource struct {
	logger *slog.Logger
	next   portssvc.RateSource
}

// NewLoggingSource returns a RateSource that logs every fetch of next.
// A request-scoped logger found in the context takes precedence over logger.
func NewLoggingSource(logger *slog.Logger, next portssvc.RateSource) portssvc.RateSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingSource{logger: logger, next: next}
}

func (s *loggingSource) Fetch(ctx context.Context, currency domain.Currency, from *civil.Date) (raw domain.RawSeries, err error) {
	defer func(begin time.Time) {
		logger := s.logger
		if ctxLogger, ok := middleware.LoggerFromCtx(ctx); ok {
			logger = ctxLogger
		}
		start := "full"
		if from != nil {
			start = from.String()
		}
		attrs := []any{
			slog.String("method", "fetch"),
			slog.String("currency", currency.String()),
			slog.String("from", start),
			slog.Int("rows", raw.Len()),
			slog.Duration("took", time.Since(begin)),
		}
		if err != nil {
			logger.Warn("Rate source fetch failed", append(attrs, slog.String("error", err.Error()))...)
			return
		}
		logger.Info("Rate source fetch", attrs...)
	}(time.Now())
	return s.next.Fetch(ctx, currency, from)
}
