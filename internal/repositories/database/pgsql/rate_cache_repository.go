package pgsql

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/SscSPs/mma_exchange/internal/apperrors"
	"github.com/SscSPs/mma_exchange/internal/core/domain"
	portsrepo "github.com/SscSPs/mma_exchange/internal/core/ports/repositories"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	selectObservationsQuery = `
		SELECT observed_on, rate
		FROM fx_observations
		WHERE from_currency = $1 AND to_currency = $2
		ORDER BY observed_on;
	`
	upsertObservationQuery = `
		INSERT INTO fx_observations (from_currency, to_currency, observed_on, rate)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (from_currency, to_currency, observed_on)
		DO UPDATE SET rate = EXCLUDED.rate, updated_at = NOW();
	`
)

// PgxRateCacheRepository mirrors raw rate series into the fx_observations table.
type PgxRateCacheRepository struct {
	BaseRepository
}

var (
	_ portsrepo.RateCacheRepositoryFacade = (*PgxRateCacheRepository)(nil)
	_ portsrepo.TransactionManager        = (*PgxRateCacheRepository)(nil)
)

func newPgxRateCacheRepository(db *pgxpool.Pool) portsrepo.RateCacheRepositoryFacade {
	return &PgxRateCacheRepository{
		BaseRepository: BaseRepository{Pool: db},
	}
}

// Load retrieves every observation of pair ordered by date.
func (r *PgxRateCacheRepository) Load(ctx context.Context, pair domain.Pair) (domain.RawSeries, error) {
	rows, err := r.Pool.Query(ctx, selectObservationsQuery, pair.From.String(), pair.To.String())
	if err != nil {
		return domain.RawSeries{}, apperrors.NewAppError(http.StatusInternalServerError, "failed to query cached series", err)
	}
	defer rows.Close()

	out := domain.RawSeries{Pair: pair}
	for rows.Next() {
		var (
			observedOn time.Time
			rate       float64
		)
		if err := rows.Scan(&observedOn, &rate); err != nil {
			return domain.RawSeries{}, apperrors.NewAppError(http.StatusInternalServerError, "failed to scan cached observation", err)
		}
		out.Observations = append(out.Observations, domain.Observed(civil.DateOf(observedOn), rate))
	}
	if err := rows.Err(); err != nil {
		return domain.RawSeries{}, apperrors.NewAppError(http.StatusInternalServerError, "failed to read cached series", err)
	}

	if out.IsEmpty() {
		return domain.RawSeries{}, apperrors.NewNotFoundError("no cached series for " + pair.Key())
	}
	return out, nil
}

// Save upserts every observation of raw in a single transaction.
func (r *PgxRateCacheRepository) Save(ctx context.Context, raw domain.RawSeries) error {
	if raw.IsEmpty() {
		return nil
	}

	tx, err := r.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = r.Rollback(ctx, tx) }()

	batch := &pgx.Batch{}
	for _, o := range raw.Observations {
		if o.Rate == nil {
			continue
		}
		observedOn := o.Date.In(time.UTC)
		batch.Queue(upsertObservationQuery, raw.Pair.From.String(), raw.Pair.To.String(), observedOn, *o.Rate)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return apperrors.NewAppError(http.StatusInternalServerError, "failed to upsert cached series "+raw.Pair.Key(), err)
	}

	return r.Commit(ctx, tx)
}
