package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/SscSPs/mma_exchange/internal/apperrors"
	"github.com/SscSPs/mma_exchange/internal/core/domain"
	portsrepo "github.com/SscSPs/mma_exchange/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/mma_exchange/internal/core/ports/services"
	"github.com/SscSPs/mma_exchange/internal/core/series"
	"github.com/shopspring/decimal"
)

// ErrUnsupportedCurrency is returned when a currency has no cached series.
var ErrUnsupportedCurrency = fmt.Errorf("%w: no cached series for currency", apperrors.ErrDataIntegrity)

// pairState is the raw and gap-filled form of one cached pair.
type pairState struct {
	raw      domain.RawSeries
	expanded domain.ExpandedSeries
}

// ExchangeEngine answers historical rate and conversion queries from per-currency daily series
// stored against the base currency.
type ExchangeEngine struct {
	BaseService
	source     portssvc.RateSource
	cache      portsrepo.RateCacheRepositoryFacade
	currencies []domain.Currency
	today      func() civil.Date
	allowStale bool

	// reloadMu serializes Init and Reload.
	reloadMu sync.Mutex

	// mu guards state; Reload swaps state as a whole.
	mu    sync.RWMutex
	state map[domain.Pair]pairState
}

// EngineOption is a functional option for configuring the exchange engine
type EngineOption func(*ExchangeEngine)

// WithCurrencies restricts the tracked foreign currencies. The base currency is ignored.
func WithCurrencies(currencies ...domain.Currency) EngineOption {
	return func(e *ExchangeEngine) {
		tracked := make([]domain.Currency, 0, len(currencies))
		for _, c := range currencies {
			if c != domain.Base && c.Valid() {
				tracked = append(tracked, c)
			}
		}
		e.currencies = tracked
	}
}

// WithClock sets the function returning the current calendar day.
func WithClock(today func() civil.Date) EngineOption {
	return func(e *ExchangeEngine) {
		e.today = today
	}
}

// WithAllowStale lets initialization fall back to cached data when the source is unreachable.
func WithAllowStale(allow bool) EngineOption {
	return func(e *ExchangeEngine) {
		e.allowStale = allow
	}
}

// WithEngineLogger sets the logger used outside request scope.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *ExchangeEngine) {
		e.Logger = logger
	}
}

// NewExchangeEngine creates an engine that is not yet initialized; call Init before querying it.
func NewExchangeEngine(source portssvc.RateSource, cache portsrepo.RateCacheRepositoryFacade, options ...EngineOption) *ExchangeEngine {
	e := &ExchangeEngine{
		source:     source,
		cache:      cache,
		currencies: domain.ForeignCurrencies(),
		today:      func() civil.Date { return civil.DateOf(time.Now()) },
		state:      map[domain.Pair]pairState{},
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// InitExchangeEngine creates an engine and drives every tracked pair through load, refresh
// and expansion, then persists the raw series.
func InitExchangeEngine(ctx context.Context, source portssvc.RateSource, cache portsrepo.RateCacheRepositoryFacade, options ...EngineOption) (*ExchangeEngine, error) {
	e := NewExchangeEngine(source, cache, options...)
	if err := e.Init(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// NewExchangeEngineFromRaw builds an engine from already loaded raw series, expanding each up to
// today. It neither fetches nor persists anything.
func NewExchangeEngineFromRaw(raws []domain.RawSeries, options ...EngineOption) (*ExchangeEngine, error) {
	e := NewExchangeEngine(nil, nil, options...)
	today := e.today()
	currencies := make([]domain.Currency, 0, len(raws))
	for _, raw := range raws {
		expanded, err := series.Expand(raw, true, today)
		if err != nil {
			return nil, err
		}
		e.state[raw.Pair] = pairState{raw: raw, expanded: expanded}
		currencies = append(currencies, raw.Pair.From)
	}
	e.currencies = currencies
	return e, nil
}

// Ensure ExchangeEngine implements the ExchangeRateSvcFacade interface
var _ portssvc.ExchangeRateSvcFacade = (*ExchangeEngine)(nil)

// Init loads, refreshes and expands every tracked pair, then saves the raw series.
func (e *ExchangeEngine) Init(ctx context.Context) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	state, err := e.build(ctx)
	if err != nil {
		e.LogError(ctx, err, "Failed to initialize exchange engine")
		return err
	}

	e.mu.Lock()
	e.state = state
	e.mu.Unlock()

	e.LogInfo(ctx, "Exchange engine initialized", slog.Int("pairs", len(state)))
	return e.Save(ctx)
}

// Reload rebuilds the state from cache and source and swaps it in. On failure the
// current state stays in place.
func (e *ExchangeEngine) Reload(ctx context.Context) error {
	if e.source == nil || e.cache == nil {
		return fmt.Errorf("%w: engine has no rate source or cache to reload from", apperrors.ErrValidation)
	}
	return e.Init(ctx)
}

func (e *ExchangeEngine) build(ctx context.Context) (map[domain.Pair]pairState, error) {
	if e.source == nil || e.cache == nil {
		return nil, fmt.Errorf("%w: engine needs a rate source and a cache", apperrors.ErrValidation)
	}
	refresher := NewRefresher(e.source, e.cache, e.today, e.allowStale)
	refresher.Logger = e.Logger
	today := e.today()

	state := make(map[domain.Pair]pairState, len(e.currencies))
	for _, currency := range e.currencies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := refresher.LoadOrFetch(ctx, currency)
		if err != nil {
			return nil, fmt.Errorf("initializing %s: %w", currency, err)
		}
		expanded, err := series.Expand(raw, true, today)
		if err != nil {
			return nil, fmt.Errorf("expanding %s: %w", currency, err)
		}
		state[raw.Pair] = pairState{raw: raw, expanded: expanded}
		e.LogDebug(ctx, "Pair ready",
			slog.String("pair", raw.Pair.Key()),
			slog.Int("raw_rows", raw.Len()),
			slog.String("min", expanded.Min().String()),
			slog.String("max", expanded.Max().String()))
	}
	return state, nil
}

// Save persists the raw series of every pair. Every pair is attempted; failures are joined.
func (e *ExchangeEngine) Save(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	e.mu.RLock()
	raws := make([]domain.RawSeries, 0, len(e.state))
	for _, p := range e.sortedPairs() {
		raws = append(raws, e.state[p].raw)
	}
	e.mu.RUnlock()

	var errs []error
	for _, raw := range raws {
		if raw.IsEmpty() {
			continue
		}
		if err := e.cache.Save(ctx, raw); err != nil {
			e.LogError(ctx, err, "Failed to save raw series", slog.String("pair", raw.Pair.Key()))
			errs = append(errs, fmt.Errorf("saving %s: %w", raw.Pair, err))
		}
	}
	return errors.Join(errs...)
}

// Today returns the engine's current calendar day.
func (e *ExchangeEngine) Today() civil.Date {
	return e.today()
}

// readLock takes the read lock with every pair expanded up to today. Pairs built on an earlier
// day are carried forward from their raw series first; nothing is fetched.
func (e *ExchangeEngine) readLock() {
	today := e.today()
	e.mu.RLock()
	if !e.behindLocked(today) {
		return
	}
	e.mu.RUnlock()

	e.mu.Lock()
	e.rollForwardLocked(today)
	e.mu.Unlock()
	e.mu.RLock()
}

func (e *ExchangeEngine) behindLocked(today civil.Date) bool {
	for _, st := range e.state {
		if st.expanded.Max().Before(today) {
			return true
		}
	}
	return false
}

// rollForwardLocked must be called with the write lock held.
func (e *ExchangeEngine) rollForwardLocked(today civil.Date) {
	for p, st := range e.state {
		if !st.expanded.Max().Before(today) {
			continue
		}
		expanded, err := series.Expand(st.raw, true, today)
		if err != nil {
			e.LogError(context.Background(), err, "Failed to carry series forward", slog.String("pair", p.Key()))
			continue
		}
		e.state[p] = pairState{raw: st.raw, expanded: expanded}
		e.LogDebug(context.Background(), "Series carried forward",
			slog.String("pair", p.Key()), slog.String("max", expanded.Max().String()))
	}
}

// route is the closed set of ways a pair can be priced.
type route int

const (
	routeIdentity route = iota
	routeDirect
	routeInverse
	routeTriangulate
)

func (e *ExchangeEngine) resolve(from, to domain.Currency) (route, error) {
	if !from.Valid() {
		return 0, fmt.Errorf("%w: unsupported currency code '%s'", apperrors.ErrDataIntegrity, from)
	}
	if !to.Valid() {
		return 0, fmt.Errorf("%w: unsupported currency code '%s'", apperrors.ErrDataIntegrity, to)
	}
	if from == to {
		return routeIdentity, nil
	}
	pair := domain.Pair{From: from, To: to}
	if _, ok := e.state[pair]; ok {
		return routeDirect, nil
	}
	if _, ok := e.state[pair.Inverse()]; ok {
		return routeInverse, nil
	}
	if from != domain.Base && to != domain.Base {
		return routeTriangulate, nil
	}
	foreign := from
	if foreign == domain.Base {
		foreign = to
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, foreign)
}

// Rate returns how many units of to one unit of from buys on date.
func (e *ExchangeEngine) Rate(from, to domain.Currency, date civil.Date) (float64, error) {
	e.readLock()
	defer e.mu.RUnlock()
	return e.rateLocked(from, to, date)
}

func (e *ExchangeEngine) rateLocked(from, to domain.Currency, date civil.Date) (float64, error) {
	r, err := e.resolve(from, to)
	if err != nil {
		return 0, err
	}
	switch r {
	case routeIdentity:
		return 1.0, nil
	case routeTriangulate:
		// Every foreign series is stored against Base, so both legs are direct or inverse.
		toBase, err := e.leg(from, domain.Base, date)
		if err != nil {
			return 0, err
		}
		fromBase, err := e.leg(domain.Base, to, date)
		if err != nil {
			return 0, err
		}
		return toBase * fromBase, nil
	default:
		return e.leg(from, to, date)
	}
}

// leg prices a pair that has a direct or an inverse series.
func (e *ExchangeEngine) leg(from, to domain.Currency, date civil.Date) (float64, error) {
	pair := domain.Pair{From: from, To: to}
	if st, ok := e.state[pair]; ok {
		return st.expanded.At(date)
	}
	st, ok := e.state[pair.Inverse()]
	if !ok {
		foreign := from
		if foreign == domain.Base {
			foreign = to
		}
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, foreign)
	}
	rate, err := st.expanded.At(date)
	if err != nil {
		return 0, err
	}
	if rate == 0 {
		return 0, fmt.Errorf("%w: zero rate for %s on %s", apperrors.ErrDataIntegrity, pair.Inverse(), date)
	}
	return 1.0 / rate, nil
}

// Series returns the daily rates of from against to between start and end, inclusive.
func (e *ExchangeEngine) Series(from, to domain.Currency, start, end civil.Date) ([]domain.DailyRate, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", apperrors.ErrValidation, end, start)
	}
	e.readLock()
	defer e.mu.RUnlock()

	if r, err := e.resolve(from, to); err != nil {
		return nil, err
	} else if r == routeDirect {
		return series.Window(e.state[domain.Pair{From: from, To: to}].expanded, start, end)
	}

	out := make([]domain.DailyRate, 0, end.DaysSince(start)+1)
	for d := start; !d.After(end); d = d.AddDays(1) {
		rate, err := e.rateLocked(from, to, d)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.DailyRate{Date: d, Rate: rate})
	}
	return out, nil
}

// ConvertTable converts each row at its own date into to. Output order matches input order and
// any invalid row fails the whole conversion.
func (e *ExchangeEngine) ConvertTable(to domain.Currency, rows []domain.LedgerRow) ([]domain.ConvertedRow, error) {
	return e.convert(to, rows, nil)
}

// ConvertTableAt converts every row into to using the rates of date.
func (e *ExchangeEngine) ConvertTableAt(to domain.Currency, rows []domain.LedgerRow, date civil.Date) ([]domain.ConvertedRow, error) {
	return e.convert(to, rows, &date)
}

func (e *ExchangeEngine) convert(to domain.Currency, rows []domain.LedgerRow, at *civil.Date) ([]domain.ConvertedRow, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unsupported currency code '%s'", apperrors.ErrDataIntegrity, to)
	}
	e.readLock()
	defer e.mu.RUnlock()

	out := make([]domain.ConvertedRow, len(rows))
	for i, row := range rows {
		if !row.Date.IsValid() {
			return nil, fmt.Errorf("%w: row %d has no valid date", apperrors.ErrDataIntegrity, i)
		}
		date := row.Date
		if at != nil {
			date = *at
		}
		rate, err := e.rateLocked(row.Currency, to, date)
		if err != nil {
			return nil, fmt.Errorf("converting row %d: %w", i, err)
		}
		out[i] = domain.ConvertedRow{
			Date:  row.Date,
			Value: row.Value.Mul(decimal.NewFromFloat(rate)),
		}
	}
	return out, nil
}

// Total sums the values of converted rows.
func (e *ExchangeEngine) Total(rows []domain.ConvertedRow) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Value)
	}
	return total
}

// Bounds returns the cached span of every pair, ordered by pair key.
func (e *ExchangeEngine) Bounds() []domain.SeriesBounds {
	e.readLock()
	defer e.mu.RUnlock()

	out := make([]domain.SeriesBounds, 0, len(e.state))
	for _, p := range e.sortedPairs() {
		st := e.state[p]
		out = append(out, domain.SeriesBounds{
			Pair:    p,
			Min:     st.expanded.Min(),
			Max:     st.expanded.Max(),
			RawRows: st.raw.Len(),
		})
	}
	return out
}

// sortedPairs must be called with mu held.
func (e *ExchangeEngine) sortedPairs() []domain.Pair {
	pairs := make([]domain.Pair, 0, len(e.state))
	for p := range e.state {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key() < pairs[j].Key() })
	return pairs
}
