package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pulse/internal/event"
	dErrors "pulse/pkg/domain-errors"
)

// PostgresStore persists events in a single relational table. Query columns
// (timestamps, entity, type) are first-class; the full event document lives in
// a JSONB payload column so the schema never chases the event shape.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed event store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgInsertEvent = `
	INSERT INTO events (id, ts, entity_type, entity_id, session_id, event_type, retention_expiry, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO NOTHING`

// Insert writes the batch inside one transaction. Duplicate event ids are
// ignored so a retried client batch never double-counts.
func (s *PostgresStore) Insert(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "begin insert transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, pgInsertEvent)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "prepare event insert")
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		payload, err := json.Marshal(e)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "encode event payload")
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Timestamp.UTC(), e.EntityType, e.EntityID,
			e.SessionID, string(e.Type), e.Privacy.RetentionExpiry.UTC(), payload,
		); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "insert event")
		}
	}

	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "commit event insert")
	}
	return nil
}

// List returns matching events in timestamp order with offset pagination.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]event.Event, string, error) {
	offset, err := DecodeCursor(filter.Cursor)
	if err != nil {
		return nil, "", err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.EntityType != "" {
		where = append(where, "entity_type = "+arg(filter.EntityType))
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = "+arg(filter.EntityID))
	}
	if !filter.Start.IsZero() {
		where = append(where, "ts >= "+arg(filter.Start.UTC()))
	}
	if !filter.End.IsZero() {
		where = append(where, "ts < "+arg(filter.End.UTC()))
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = arg(string(t))
		}
		where = append(where, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := "SELECT payload FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	// Fetch one extra row to decide whether a next page exists.
	query += " ORDER BY ts ASC, id ASC LIMIT " + arg(limit+1) + " OFFSET " + arg(offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "list events")
	}
	defer rows.Close()

	results := make([]event.Event, 0, limit)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "scan event row")
		}
		var e event.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "decode event payload")
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "iterate event rows")
	}

	next := ""
	if len(results) > limit {
		results = results[:limit]
		next = EncodeCursor(offset + limit)
	}
	return results, next, nil
}

// ActiveEntities returns the distinct entities with events since the given time.
func (s *PostgresStore) ActiveEntities(ctx context.Context, since time.Time) ([]EntityRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT entity_type, entity_id FROM events
		WHERE ts >= $1 AND entity_id <> ''`, since.UTC())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list active entities")
	}
	defer rows.Close()

	refs := make([]EntityRef, 0)
	for rows.Next() {
		var ref EntityRef
		if err := rows.Scan(&ref.EntityType, &ref.EntityID); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "scan entity row")
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DeleteExpired removes events whose retention expiry falls before the cutoff.
func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE retention_expiry < $1`, before.UTC())
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "delete expired events")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "count expired deletions")
	}
	return int(n), nil
}
