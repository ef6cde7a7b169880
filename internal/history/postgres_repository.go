package history

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL history repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the history tables if they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}
	return nil
}

// SaveAggregate inserts one aggregate row.
func (r *PostgresRepository) SaveAggregate(ctx context.Context, rec AggregateRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO aq_aggregates (
			id, bounds, source,
			city_aqi, mean_aqi, trimmed_mean, weighted_mean, min_aqi, max_aqi,
			valid_count, excluded_count, station_count,
			computed_at, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		rec.ID.String(),
		rec.Bounds,
		string(rec.Source),
		rec.CityAQI.Ptr(),
		rec.Mean.Ptr(),
		rec.TrimmedMean.Ptr(),
		rec.WeightedMean.Ptr(),
		rec.Min.Ptr(),
		rec.Max.Ptr(),
		rec.ValidCount,
		rec.ExcludedCount,
		rec.StationCount,
		rec.ComputedAt,
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert aggregate: %w", err)
	}
	return nil
}

// SaveForecast inserts one forecast row.
func (r *PostgresRepository) SaveForecast(ctx context.Context, rec ForecastRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO aq_forecasts (id, station, h6, h24, h48, h72, features, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rec.ID.String(),
		rec.Station,
		rec.H6.Ptr(),
		rec.H24.Ptr(),
		rec.H48.Ptr(),
		rec.H72.Ptr(),
		string(rec.Features),
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert forecast: %w", err)
	}
	return nil
}
