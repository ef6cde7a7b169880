package history

import (
	"context"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and for running without a database.
type InMemoryRepository struct {
	mu         sync.RWMutex
	aggregates []AggregateRecord
	forecasts  []ForecastRecord
}

// NewInMemoryRepository creates a new in-memory history repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// SaveAggregate stores one aggregate row.
func (r *InMemoryRepository) SaveAggregate(_ context.Context, rec AggregateRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aggregates = append(r.aggregates, rec)
	return nil
}

// SaveForecast stores one forecast row.
func (r *InMemoryRepository) SaveForecast(_ context.Context, rec ForecastRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forecasts = append(r.forecasts, rec)
	return nil
}

// Aggregates returns a copy of the stored aggregate rows, oldest first.
func (r *InMemoryRepository) Aggregates() []AggregateRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]AggregateRecord(nil), r.aggregates...)
}

// Forecasts returns a copy of the stored forecast rows, oldest first.
func (r *InMemoryRepository) Forecasts() []ForecastRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ForecastRecord(nil), r.forecasts...)
}
