// Package ecb implements the rate source against the European Central Bank SDMX data API.
package ecb

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/SscSPs/mma_exchange/internal/apperrors"
	"github.com/SscSPs/mma_exchange/internal/core/domain"
	portssvc "github.com/SscSPs/mma_exchange/internal/core/ports/services"
)

const (
	DefaultBaseURL = "https://data-api.ecb.europa.eu"
	defaultTimeout = 10 * time.Second
	baseBackoff    = 500 * time.Millisecond

	colTimePeriod    = "TIME_PERIOD"
	colObsValue      = "OBS_VALUE"
	colCurrency      = "CURRENCY"
	colCurrencyDenom = "CURRENCY_DENOM"
)

// Client fetches daily reference rates. The feed quotes foreign units per euro; Fetch returns the
// reciprocal so every observation reads as euros per foreign unit.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

// ClientOption is an option for a new Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API root, e.g. for tests.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client. Its Timeout bounds every attempt.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-attempt timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: timeout}
	}
}

// WithMaxRetries sets how many times a failed attempt is retried.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff sets the delay before the first retry; it doubles on every further retry.
func WithBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		c.backoff = d
	}
}

// NewClient returns a new Client.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: 2,
		backoff:    baseBackoff,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

var _ portssvc.RateSource = (*Client)(nil)

// Fetch returns the daily series of currency against the euro starting at from, or the full
// history when from is nil. A 404 from the API means no observations and yields an empty series.
func (c *Client) Fetch(ctx context.Context, currency domain.Currency, from *civil.Date) (domain.RawSeries, error) {
	pair := domain.PairOf(currency)
	if currency == domain.Base || !currency.Valid() {
		return domain.RawSeries{}, fmt.Errorf("%w: no ECB series for '%s'", apperrors.ErrValidation, currency)
	}

	body, err := c.get(ctx, c.seriesURL(currency, from))
	if err != nil {
		if errors.Is(err, errNoData) {
			return domain.RawSeries{Pair: pair}, nil
		}
		return domain.RawSeries{}, err
	}

	obs, err := parseSeries(body, currency)
	if err != nil {
		return domain.RawSeries{}, err
	}
	return domain.RawSeries{Pair: pair, Observations: obs}, nil
}

func (c *Client) seriesURL(currency domain.Currency, from *civil.Date) string {
	q := url.Values{}
	q.Set("format", "csvdata")
	q.Set("detail", "dataonly")
	if from != nil {
		q.Set("startPeriod", from.String())
	}
	return fmt.Sprintf("%s/service/data/EXR/D.%s.%s.SP00.A?%s", c.baseURL, currency, domain.Base, q.Encode())
}

var errNoData = errors.New("no data for the requested range")

// retryableError marks failures worth another attempt: transport errors, 429 and 5xx.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	backoff := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", apperrors.ErrSourceUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		body, err := c.do(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		var retryable *retryableError
		if !errors.As(err, &retryable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: giving up after %d attempts: %v", apperrors.ErrSourceUnavailable, c.maxRetries+1, lastErr)
}

func (c *Client) do(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", apperrors.ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrSourceUnavailable, err)
		}
		return nil, &retryableError{err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNoData
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, &retryableError{err: fmt.Errorf("unexpected status %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status %s", apperrors.ErrSourceUnavailable, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("reading body: %w", err)}
	}
	return body, nil
}

// parseSeries reads the csvdata payload, locating columns by header name.
func parseSeries(body []byte, currency domain.Currency) ([]domain.RateObservation, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading ECB header: %v", apperrors.ErrDataIntegrity, err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF"))] = i
	}
	dateIdx, okDate := cols[colTimePeriod]
	valueIdx, okValue := cols[colObsValue]
	if !okDate || !okValue {
		return nil, fmt.Errorf("%w: ECB response lacks %s or %s columns", apperrors.ErrDataIntegrity, colTimePeriod, colObsValue)
	}
	curIdx, hasCur := cols[colCurrency]
	denomIdx, hasDenom := cols[colCurrencyDenom]

	var obs []domain.RateObservation
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading ECB row: %v", apperrors.ErrDataIntegrity, err)
		}
		if len(rec) <= dateIdx || len(rec) <= valueIdx {
			return nil, fmt.Errorf("%w: short ECB row %v", apperrors.ErrDataIntegrity, rec)
		}

		// The reciprocal below is only right when rows quote the requested currency per euro.
		if hasCur && len(rec) > curIdx && rec[curIdx] != string(currency) {
			return nil, fmt.Errorf("%w: ECB row quotes %s, expected %s", apperrors.ErrDataIntegrity, rec[curIdx], currency)
		}
		if hasDenom && len(rec) > denomIdx && rec[denomIdx] != string(domain.Base) {
			return nil, fmt.Errorf("%w: ECB row is denominated in %s, expected %s", apperrors.ErrDataIntegrity, rec[denomIdx], domain.Base)
		}

		rawValue := strings.TrimSpace(rec[valueIdx])
		if rawValue == "" || rawValue == "NaN" {
			continue
		}
		date, err := civil.ParseDate(strings.TrimSpace(rec[dateIdx]))
		if err != nil {
			return nil, fmt.Errorf("%w: bad ECB date %q", apperrors.ErrDataIntegrity, rec[dateIdx])
		}
		value, err := strconv.ParseFloat(rawValue, 64)
		if err != nil || value <= 0 || math.IsInf(value, 0) || math.IsNaN(value) {
			return nil, fmt.Errorf("%w: bad ECB value %q on %s", apperrors.ErrDataIntegrity, rawValue, date)
		}
		obs = append(obs, domain.Observed(date, 1.0/value))
	}

	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Date.Before(obs[j].Date) })
	return obs, nil
}
