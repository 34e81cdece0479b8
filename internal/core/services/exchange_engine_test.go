package services_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/SscSPs/mma_exchange/internal/apperrors"
	"github.com/SscSPs/mma_exchange/internal/core/domain"
	"github.com/SscSPs/mma_exchange/internal/core/services"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// --- Mock RateSource ---
type MockRateSource struct {
	mock.Mock
}

func (m *MockRateSource) Fetch(ctx context.Context, currency domain.Currency, from *civil.Date) (domain.RawSeries, error) {
	args := m.Called(ctx, currency, from)
	return args.Get(0).(domain.RawSeries), args.Error(1)
}

// --- In-memory rate cache ---
type memoryRateCache struct {
	mu      sync.Mutex
	series  map[domain.Pair]domain.RawSeries
	loadErr map[domain.Pair]error
	saveErr error
	saves   int
}

func newMemoryRateCache(raws ...domain.RawSeries) *memoryRateCache {
	c := &memoryRateCache{series: map[domain.Pair]domain.RawSeries{}, loadErr: map[domain.Pair]error{}}
	for _, raw := range raws {
		c.series[raw.Pair] = raw
	}
	return c
}

func (c *memoryRateCache) Load(_ context.Context, pair domain.Pair) (domain.RawSeries, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.loadErr[pair]; ok {
		return domain.RawSeries{}, err
	}
	raw, ok := c.series[pair]
	if !ok {
		return domain.RawSeries{}, apperrors.NewNotFoundError("no cached series for " + pair.Key())
	}
	return raw, nil
}

func (c *memoryRateCache) Save(_ context.Context, raw domain.RawSeries) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	if raw.IsEmpty() {
		return nil
	}
	c.saves++
	c.series[raw.Pair] = raw
	return nil
}

func day(d int) civil.Date {
	return civil.Date{Year: 2024, Month: 1, Day: d}
}

func rawOf(currency domain.Currency, obs ...domain.RateObservation) domain.RawSeries {
	return domain.RawSeries{Pair: domain.PairOf(currency), Observations: obs}
}

func fixedClock(d civil.Date) func() civil.Date {
	return func() civil.Date { return d }
}

// --- Rate and conversion tests on a pre-built engine ---

func newTestEngine(t *testing.T) *services.ExchangeEngine {
	t.Helper()
	engine, err := services.NewExchangeEngineFromRaw([]domain.RawSeries{
		rawOf(domain.USD, domain.Observed(day(1), 0.90), domain.Observed(day(4), 0.92)),
		rawOf(domain.GBP, domain.Observed(day(1), 1/0.85), domain.Observed(day(3), 1.2)),
	}, services.WithClock(fixedClock(day(5))))
	require.NoError(t, err)
	return engine
}

func TestRate_Identity(t *testing.T) {
	engine := newTestEngine(t)
	for _, c := range domain.Currencies() {
		rate, err := engine.Rate(c, c, civil.Date{Year: 1999, Month: 1, Day: 1})
		require.NoError(t, err, c)
		assert.Equal(t, 1.0, rate)
	}
}

func TestRate_DirectAndForwardFilled(t *testing.T) {
	engine := newTestEngine(t)

	rate, err := engine.Rate(domain.USD, domain.EUR, day(2))
	require.NoError(t, err)
	assert.Equal(t, 0.90, rate)

	rate, err = engine.Rate(domain.USD, domain.EUR, day(5))
	require.NoError(t, err)
	assert.Equal(t, 0.92, rate, "today is carried forward from the last observation")
}

func TestRate_InverseConsistency(t *testing.T) {
	engine := newTestEngine(t)
	for d := 1; d <= 5; d++ {
		direct, err := engine.Rate(domain.USD, domain.EUR, day(d))
		require.NoError(t, err)
		inverse, err := engine.Rate(domain.EUR, domain.USD, day(d))
		require.NoError(t, err)
		assert.InDelta(t, 1.0/direct, inverse, 1e-12)
	}
}

func TestRate_Triangulation(t *testing.T) {
	engine := newTestEngine(t)

	eurGbp, err := engine.Rate(domain.EUR, domain.GBP, day(1))
	require.NoError(t, err)
	assert.InDelta(t, 0.85, eurGbp, 1e-12)

	rate, err := engine.Rate(domain.USD, domain.GBP, day(1))
	require.NoError(t, err)
	assert.InDelta(t, 0.765, rate, 1e-12)
}

func TestRate_OutOfRange(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Rate(domain.USD, domain.EUR, civil.Date{Year: 2023, Month: 12, Day: 31})
	assert.ErrorIs(t, err, apperrors.ErrDateOutOfRange)

	_, err = engine.Rate(domain.USD, domain.EUR, day(6))
	assert.ErrorIs(t, err, apperrors.ErrDateOutOfRange)

	_, err = engine.Rate(domain.USD, domain.GBP, day(6))
	assert.ErrorIs(t, err, apperrors.ErrDateOutOfRange, "triangulated legs are range checked too")
}

func TestRate_UnknownOrUntracked(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Rate(domain.Currency("XXX"), domain.EUR, day(1))
	assert.ErrorIs(t, err, apperrors.ErrDataIntegrity)

	_, err = engine.Rate(domain.CHF, domain.EUR, day(1))
	assert.ErrorIs(t, err, services.ErrUnsupportedCurrency)

	_, err = engine.Rate(domain.CHF, domain.USD, day(1))
	assert.ErrorIs(t, err, services.ErrUnsupportedCurrency)
}

func TestSeries(t *testing.T) {
	engine := newTestEngine(t)

	direct, err := engine.Series(domain.USD, domain.EUR, day(3), day(5))
	require.NoError(t, err)
	assert.Equal(t, []domain.DailyRate{
		{Date: day(3), Rate: 0.90},
		{Date: day(4), Rate: 0.92},
		{Date: day(5), Rate: 0.92},
	}, direct)

	cross, err := engine.Series(domain.USD, domain.GBP, day(1), day(2))
	require.NoError(t, err)
	require.Len(t, cross, 2)
	assert.InDelta(t, 0.765, cross[0].Rate, 1e-12)

	_, err = engine.Series(domain.USD, domain.EUR, day(5), day(3))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = engine.Series(domain.USD, domain.EUR, day(4), day(9))
	assert.ErrorIs(t, err, apperrors.ErrDateOutOfRange)
}

func TestConvertTable_RowCorrespondence(t *testing.T) {
	engine := newTestEngine(t)
	rows := []domain.LedgerRow{
		{Date: day(1), Currency: domain.USD, Value: decimal.NewFromInt(100)},
		{Date: day(4), Currency: domain.EUR, Value: decimal.NewFromInt(50)},
		{Date: day(2), Currency: domain.GBP, Value: decimal.RequireFromString("10.5")},
	}

	converted, err := engine.ConvertTable(domain.EUR, rows)
	require.NoError(t, err)
	require.Len(t, converted, len(rows))

	for i, row := range rows {
		rate, err := engine.Rate(row.Currency, domain.EUR, row.Date)
		require.NoError(t, err)
		assert.Equal(t, row.Date, converted[i].Date)
		assert.True(t, row.Value.Mul(decimal.NewFromFloat(rate)).Equal(converted[i].Value), "row %d", i)
	}

	total := engine.Total(converted)
	expected := converted[0].Value.Add(converted[1].Value).Add(converted[2].Value)
	assert.True(t, expected.Equal(total))
}

func TestConvertTableAt_UsesValuationDate(t *testing.T) {
	engine := newTestEngine(t)
	rows := []domain.LedgerRow{
		{Date: day(1), Currency: domain.USD, Value: decimal.NewFromInt(100)},
		{Date: day(2), Currency: domain.USD, Value: decimal.NewFromInt(100)},
	}

	converted, err := engine.ConvertTableAt(domain.EUR, rows, day(5))
	require.NoError(t, err)
	for i, row := range converted {
		assert.Equal(t, rows[i].Date, row.Date)
		assert.True(t, decimal.NewFromInt(100).Mul(decimal.NewFromFloat(0.92)).Equal(row.Value))
	}
}

func TestConvertTable_Failures(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.ConvertTable(domain.EUR, []domain.LedgerRow{
		{Date: day(1), Currency: domain.USD, Value: decimal.NewFromInt(1)},
		{Date: day(9), Currency: domain.USD, Value: decimal.NewFromInt(1)},
	})
	assert.ErrorIs(t, err, apperrors.ErrDateOutOfRange)

	_, err = engine.ConvertTable(domain.EUR, []domain.LedgerRow{
		{Currency: domain.USD, Value: decimal.NewFromInt(1)},
	})
	assert.ErrorIs(t, err, apperrors.ErrDataIntegrity)

	_, err = engine.ConvertTable(domain.Currency("ZZZ"), nil)
	assert.ErrorIs(t, err, apperrors.ErrDataIntegrity)

	empty, err := engine.ConvertTable(domain.EUR, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBounds(t *testing.T) {
	engine := newTestEngine(t)

	bounds := engine.Bounds()
	require.Len(t, bounds, 2)
	assert.Equal(t, domain.PairOf(domain.GBP), bounds[0].Pair)
	assert.Equal(t, day(1), bounds[0].Min)
	assert.Equal(t, day(5), bounds[0].Max)
	assert.Equal(t, 2, bounds[0].RawRows)
	assert.Equal(t, domain.PairOf(domain.USD), bounds[1].Pair)
}

func TestReload_WithoutSource(t *testing.T) {
	engine := newTestEngine(t)
	assert.ErrorIs(t, engine.Reload(context.Background()), apperrors.ErrValidation)
}

// --- Initialization tests ---

type ExchangeEngineInitTestSuite struct {
	suite.Suite
	ctx    context.Context
	source *MockRateSource
	today  civil.Date
}

func (suite *ExchangeEngineInitTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.source = new(MockRateSource)
	suite.today = day(10)
}

func (suite *ExchangeEngineInitTestSuite) options(extra ...services.EngineOption) []services.EngineOption {
	return append([]services.EngineOption{
		services.WithCurrencies(domain.USD),
		services.WithClock(fixedClock(suite.today)),
	}, extra...)
}

func (suite *ExchangeEngineInitTestSuite) TestInit_CacheMissFetchesFullHistoryAndSaves() {
	cache := newMemoryRateCache()
	full := rawOf(domain.USD, domain.Observed(day(2), 0.9), domain.Observed(day(9), 0.91))
	suite.source.On("Fetch", suite.ctx, domain.USD, (*civil.Date)(nil)).Return(full, nil).Once()

	engine, err := services.InitExchangeEngine(suite.ctx, suite.source, cache, suite.options()...)

	suite.Require().NoError(err)
	rate, err := engine.Rate(domain.USD, domain.EUR, suite.today)
	suite.Require().NoError(err)
	suite.Equal(0.91, rate)
	suite.Equal(1, cache.saves)
	suite.Equal(full.Observations, cache.series[domain.PairOf(domain.USD)].Observations)
	suite.source.AssertExpectations(suite.T())
}

func (suite *ExchangeEngineInitTestSuite) TestInit_CurrentCacheDoesNotFetch() {
	cache := newMemoryRateCache(rawOf(domain.USD, domain.Observed(day(1), 0.9), domain.Observed(day(10), 0.93)))

	engine, err := services.InitExchangeEngine(suite.ctx, suite.source, cache, suite.options()...)

	suite.Require().NoError(err)
	rate, err := engine.Rate(domain.USD, domain.EUR, day(10))
	suite.Require().NoError(err)
	suite.Equal(0.93, rate)
	suite.source.AssertNotCalled(suite.T(), "Fetch", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *ExchangeEngineInitTestSuite) TestInit_StaleCacheFetchesFromCachedMax() {
	cache := newMemoryRateCache(rawOf(domain.USD, domain.Observed(day(1), 0.9), domain.Observed(day(5), 0.91)))
	from := day(5)
	suite.source.On("Fetch", suite.ctx, domain.USD, &from).
		Return(rawOf(domain.USD, domain.Observed(day(5), 0.91), domain.Observed(day(8), 0.95)), nil).Once()

	engine, err := services.InitExchangeEngine(suite.ctx, suite.source, cache, suite.options()...)

	suite.Require().NoError(err)
	saved := cache.series[domain.PairOf(domain.USD)]
	suite.Len(saved.Observations, 3, "the repeated cached max day is merged")
	rate, err := engine.Rate(domain.USD, domain.EUR, day(10))
	suite.Require().NoError(err)
	suite.Equal(0.95, rate)
	suite.source.AssertExpectations(suite.T())
}

func (suite *ExchangeEngineInitTestSuite) TestInit_FailedRefreshFallsBackToFullFetch() {
	cache := newMemoryRateCache(rawOf(domain.USD, domain.Observed(day(3), 0.9)))
	from := day(3)
	suite.source.On("Fetch", suite.ctx, domain.USD, &from).
		Return(domain.RawSeries{}, apperrors.ErrSourceUnavailable).Once()
	suite.source.On("Fetch", suite.ctx, domain.USD, (*civil.Date)(nil)).
		Return(rawOf(domain.USD, domain.Observed(day(1), 0.88), domain.Observed(day(9), 0.94)), nil).Once()

	engine, err := services.InitExchangeEngine(suite.ctx, suite.source, cache, suite.options()...)

	suite.Require().NoError(err)
	bounds := engine.Bounds()
	suite.Require().Len(bounds, 1)
	suite.Equal(day(1), bounds[0].Min)
	suite.Equal(day(10), bounds[0].Max)
	suite.Equal(3, bounds[0].RawRows)
	suite.source.AssertExpectations(suite.T())
}

func (suite *ExchangeEngineInitTestSuite) TestInit_SourceDownFails() {
	cache := newMemoryRateCache(rawOf(domain.USD, domain.Observed(day(3), 0.9)))
	suite.source.On("Fetch", suite.ctx, domain.USD, mock.Anything).
		Return(domain.RawSeries{}, apperrors.ErrSourceUnavailable)

	_, err := services.InitExchangeEngine(suite.ctx, suite.source, cache, suite.options()...)

	suite.ErrorIs(err, apperrors.ErrSourceUnavailable)
	suite.Equal(0, cache.saves)
}

func (suite *ExchangeEngineInitTestSuite) TestInit_SourceDownServesStaleWhenAllowed() {
	cache := newMemoryRateCache(rawOf(domain.USD, domain.Observed(day(3), 0.9)))
	suite.source.On("Fetch", suite.ctx, domain.USD, mock.Anything).
		Return(domain.RawSeries{}, apperrors.ErrSourceUnavailable)

	engine, err := services.InitExchangeEngine(suite.ctx, suite.source, cache,
		suite.options(services.WithAllowStale(true))...)

	suite.Require().NoError(err)
	rate, err := engine.Rate(domain.USD, domain.EUR, suite.today)
	suite.Require().NoError(err)
	suite.Equal(0.9, rate, "stale rate is carried forward to today")
}

func (suite *ExchangeEngineInitTestSuite) TestInit_UnreadableCacheFetchesFullHistory() {
	cache := newMemoryRateCache()
	cache.loadErr[domain.PairOf(domain.USD)] = apperrors.ErrDataIntegrity
	suite.source.On("Fetch", suite.ctx, domain.USD, (*civil.Date)(nil)).
		Return(rawOf(domain.USD, domain.Observed(day(9), 0.94)), nil).Once()

	_, err := services.InitExchangeEngine(suite.ctx, suite.source, cache, suite.options()...)

	suite.Require().NoError(err)
	suite.source.AssertExpectations(suite.T())
}

func (suite *ExchangeEngineInitTestSuite) TestInit_SaveFailureIsReported() {
	cache := newMemoryRateCache(rawOf(domain.USD, domain.Observed(day(10), 0.9)))
	cache.saveErr = errors.New("disk full")

	_, err := services.InitExchangeEngine(suite.ctx, suite.source, cache, suite.options()...)

	suite.ErrorContains(err, "disk full")
}

func (suite *ExchangeEngineInitTestSuite) TestReload_FailureKeepsState() {
	cache := newMemoryRateCache(rawOf(domain.USD, domain.Observed(day(10), 0.9)))
	engine, err := services.InitExchangeEngine(suite.ctx, suite.source, cache, suite.options()...)
	suite.Require().NoError(err)

	cache.loadErr[domain.PairOf(domain.USD)] = apperrors.ErrDataIntegrity
	suite.source.On("Fetch", suite.ctx, domain.USD, (*civil.Date)(nil)).
		Return(domain.RawSeries{}, apperrors.ErrSourceUnavailable).Once()

	suite.Error(engine.Reload(suite.ctx))
	rate, err := engine.Rate(domain.USD, domain.EUR, day(10))
	suite.Require().NoError(err)
	suite.Equal(0.9, rate)
}

func TestExchangeEngineInitTestSuite(t *testing.T) {
	suite.Run(t, new(ExchangeEngineInitTestSuite))
}

func TestRate_TodayAfterDayChangeWithoutReload(t *testing.T) {
	now := day(5)
	engine, err := services.NewExchangeEngineFromRaw([]domain.RawSeries{
		rawOf(domain.USD, domain.Observed(day(1), 0.90)),
		rawOf(domain.GBP, domain.Observed(day(1), 1/0.85)),
	}, services.WithClock(func() civil.Date { return now }))
	require.NoError(t, err)

	_, err = engine.Rate(domain.USD, domain.EUR, engine.Today())
	require.NoError(t, err)

	now = day(6)

	rate, err := engine.Rate(domain.USD, domain.EUR, engine.Today())
	require.NoError(t, err)
	assert.Equal(t, 0.90, rate, "the new day carries the last observation forward")

	rate, err = engine.Rate(domain.USD, domain.GBP, day(6))
	require.NoError(t, err)
	assert.InDelta(t, 0.765, rate, 1e-12)

	rows, err := engine.ConvertTable(domain.EUR, []domain.LedgerRow{
		{Date: day(6), Currency: domain.USD, Value: decimal.NewFromInt(100)},
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(90).Equal(rows[0].Value), rows[0].Value.String())

	rates, err := engine.Series(domain.EUR, domain.USD, day(5), day(6))
	require.NoError(t, err)
	assert.Len(t, rates, 2)

	for _, b := range engine.Bounds() {
		assert.Equal(t, day(6), b.Max, b.Pair.Key())
	}
}

// slowSource records how many fetches overlap.
type slowSource struct {
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	fetches     atomic.Int32
}

func (s *slowSource) Fetch(_ context.Context, currency domain.Currency, _ *civil.Date) (domain.RawSeries, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.maxInFlight.Load()
		if n <= peak || s.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	s.fetches.Add(1)
	time.Sleep(10 * time.Millisecond)
	return rawOf(currency, domain.Observed(day(1), 0.9), domain.Observed(day(5), 0.91)), nil
}

func TestReload_Serialized(t *testing.T) {
	source := &slowSource{}
	engine := services.NewExchangeEngine(source, newMemoryRateCache(),
		services.WithCurrencies(domain.USD),
		services.WithClock(fixedClock(day(5))))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, engine.Reload(context.Background()))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, source.maxInFlight.Load(), "reloads must not overlap")
	assert.EqualValues(t, 1, source.fetches.Load(), "later reloads find a current cache")

	rate, err := engine.Rate(domain.USD, domain.EUR, day(5))
	require.NoError(t, err)
	assert.Equal(t, 0.91, rate)
}
