// Package filecache persists raw rate series as one human-readable CSV file per currency pair.
package filecache

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/SscSPs/mma_exchange/internal/apperrors"
	"github.com/SscSPs/mma_exchange/internal/core/domain"
	portsrepo "github.com/SscSPs/mma_exchange/internal/core/ports/repositories"
)

const (
	dateColumn  = "date"
	valueColumn = "value"
)

// CSVRateCacheRepository stores each pair in {dir}/exchange_rate_{KEY}.csv with a "date,value" header.
type CSVRateCacheRepository struct {
	dir string
}

// NewCSVRateCacheRepository creates a repository rooted at dir.
func NewCSVRateCacheRepository(dir string) *CSVRateCacheRepository {
	return &CSVRateCacheRepository{dir: dir}
}

var _ portsrepo.RateCacheRepositoryFacade = (*CSVRateCacheRepository)(nil)

// Path returns the file a pair is stored in.
func (r *CSVRateCacheRepository) Path(pair domain.Pair) string {
	return filepath.Join(r.dir, fmt.Sprintf("exchange_rate_%s.csv", pair.Key()))
}

// Load reads the persisted raw series of pair.
func (r *CSVRateCacheRepository) Load(ctx context.Context, pair domain.Pair) (domain.RawSeries, error) {
	if err := ctx.Err(); err != nil {
		return domain.RawSeries{}, err
	}
	f, err := os.Open(r.Path(pair))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.RawSeries{}, apperrors.NewNotFoundError("no cached series for " + pair.Key())
		}
		return domain.RawSeries{}, fmt.Errorf("opening cached series %s: %w", pair, err)
	}
	defer f.Close()

	obs, err := readObservations(f)
	if err != nil {
		return domain.RawSeries{}, fmt.Errorf("reading cached series %s: %w", pair, err)
	}
	return domain.RawSeries{Pair: pair, Observations: obs}, nil
}

// Save writes raw atomically through a temporary file. Empty series are skipped.
func (r *CSVRateCacheRepository) Save(ctx context.Context, raw domain.RawSeries) error {
	if raw.IsEmpty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, "."+raw.Pair.Key()+"-*.csv")
	if err != nil {
		return fmt.Errorf("creating temporary cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if err := writeObservations(tmp, raw.Observations); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing cached series %s: %w", raw.Pair, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cached series %s: %w", raw.Pair, err)
	}
	if err := os.Rename(tmpName, r.Path(raw.Pair)); err != nil {
		return fmt.Errorf("replacing cached series %s: %w", raw.Pair, err)
	}
	return nil
}

func readObservations(rd io.Reader) ([]domain.RateObservation, error) {
	cr := csv.NewReader(rd)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header", apperrors.ErrDataIntegrity)
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDataIntegrity, err)
	}
	dateIdx, valueIdx := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case dateColumn:
			dateIdx = i
		case valueColumn:
			valueIdx = i
		}
	}
	if dateIdx < 0 || valueIdx < 0 {
		return nil, fmt.Errorf("%w: expected columns %q and %q, got %v",
			apperrors.ErrDataIntegrity, dateColumn, valueColumn, header)
	}

	var obs []domain.RateObservation
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrDataIntegrity, err)
		}
		date, err := civil.ParseDate(strings.TrimSpace(rec[dateIdx]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad date %q", apperrors.ErrDataIntegrity, line, rec[dateIdx])
		}
		o := domain.RateObservation{Date: date}
		if v := strings.TrimSpace(rec[valueIdx]); v != "" {
			rate, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: bad value %q", apperrors.ErrDataIntegrity, line, v)
			}
			o.Rate = &rate
		}
		obs = append(obs, o)
	}
	return obs, nil
}

func writeObservations(w io.Writer, obs []domain.RateObservation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{dateColumn, valueColumn}); err != nil {
		return err
	}
	for _, o := range obs {
		value := ""
		if o.Rate != nil {
			value = strconv.FormatFloat(*o.Rate, 'g', -1, 64)
		}
		if err := cw.Write([]string{o.Date.String(), value}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// NewRepositoryProvider returns the providers backed by CSV files under dir.
func NewRepositoryProvider(dir string) portsrepo.RepositoryProvider {
	return portsrepo.RepositoryProvider{
		RateCache: NewCSVRateCacheRepository(dir),
	}
}
