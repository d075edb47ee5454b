package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"pulse/internal/aggregate/models"
	dErrors "pulse/pkg/domain-errors"
)

// PostgresStore persists aggregates in one table with the key columns
// first-class and the full record in a JSONB payload. Put upserts on the key,
// replacing the payload wholesale.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed aggregate store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Put overwrites the record for the aggregate's key.
func (s *PostgresStore) Put(ctx context.Context, agg *models.Aggregate) error {
	payload, err := json.Marshal(agg)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode aggregate")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO aggregates (entity_type, entity_id, period, window_start, last_updated, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_type, entity_id, period, window_start)
		DO UPDATE SET last_updated = EXCLUDED.last_updated, payload = EXCLUDED.payload`,
		agg.EntityType, agg.EntityID, string(agg.Period), agg.WindowStart.UTC(),
		agg.LastUpdated.UTC(), payload,
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "upsert aggregate")
	}
	return nil
}

// Get returns the aggregate for the key, or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, key models.Key) (*models.Aggregate, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM aggregates
		WHERE entity_type = $1 AND entity_id = $2 AND period = $3 AND window_start = $4`,
		key.EntityType, key.EntityID, string(key.Period), key.WindowStart.UTC(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get aggregate")
	}

	var agg models.Aggregate
	if err := json.Unmarshal(payload, &agg); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode aggregate")
	}
	return &agg, nil
}

// List returns aggregates for the entity and period whose windows start
// within [start, end), ordered by window start.
func (s *PostgresStore) List(ctx context.Context, entityType, entityID string, period models.Period, start, end time.Time) ([]models.Aggregate, error) {
	query := `
		SELECT payload FROM aggregates
		WHERE entity_type = $1 AND entity_id = $2 AND period = $3`
	args := []any{entityType, entityID, string(period)}
	if !start.IsZero() {
		args = append(args, start.UTC())
		query += " AND window_start >= $4"
	}
	if !end.IsZero() {
		args = append(args, end.UTC())
		if start.IsZero() {
			query += " AND window_start < $4"
		} else {
			query += " AND window_start < $5"
		}
	}
	query += " ORDER BY window_start ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list aggregates")
	}
	defer rows.Close()

	results := make([]models.Aggregate, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "scan aggregate row")
		}
		var agg models.Aggregate
		if err := json.Unmarshal(payload, &agg); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode aggregate")
		}
		results = append(results, agg)
	}
	return results, rows.Err()
}
