package services

import (
	"context"
	"log/slog"

	portsrepo "github.com/SscSPs/mma_exchange/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/mma_exchange/internal/core/ports/services"
	"github.com/SscSPs/mma_exchange/internal/platform/config"
)

// NewServiceContainer builds and initializes the exchange engine from cfg, then wraps it in a
// service container. The concrete engine is returned alongside so the caller can schedule reloads.
func NewServiceContainer(ctx context.Context, cfg *config.Config, source portssvc.RateSource, repos portsrepo.RepositoryProvider, logger *slog.Logger) (*portssvc.ServiceContainer, *ExchangeEngine, error) {
	options := []EngineOption{
		WithAllowStale(cfg.AllowStaleRates),
		WithEngineLogger(logger),
	}
	if len(cfg.TrackedCurrencies) > 0 {
		options = append(options, WithCurrencies(cfg.TrackedCurrencies...))
	}

	engine, err := InitExchangeEngine(ctx, source, repos.RateCache, options...)
	if err != nil {
		return nil, nil, err
	}

	return &portssvc.ServiceContainer{ExchangeRate: engine}, engine, nil
}
