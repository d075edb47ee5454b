package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"pulse/internal/event"
	dErrors "pulse/pkg/domain-errors"
)

// ClickHouseStore persists events in a columnar table for analytical reads.
// Inserts use the native batch protocol; the full document travels as a JSON
// string column next to the query columns.
type ClickHouseStore struct {
	conn clickhouse.Conn
}

// NewClickHouse creates a ClickHouse-backed event store.
func NewClickHouse(conn clickhouse.Conn) *ClickHouseStore {
	return &ClickHouseStore{conn: conn}
}

// Insert appends the batch using a prepared native batch.
func (s *ClickHouseStore) Insert(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO events (id, ts, entity_type, entity_id, session_id, event_type, retention_expiry, payload)`)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "prepare event batch")
	}

	for i := range events {
		e := &events[i]
		payload, err := json.Marshal(e)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "encode event payload")
		}
		if err := batch.Append(
			e.ID, e.Timestamp.UTC(), e.EntityType, e.EntityID,
			e.SessionID, string(e.Type), e.Privacy.RetentionExpiry.UTC(), string(payload),
		); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "append event to batch")
		}
	}

	if err := batch.Send(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "send event batch")
	}
	return nil
}

// List returns matching events in timestamp order with offset pagination.
func (s *ClickHouseStore) List(ctx context.Context, filter Filter) ([]event.Event, string, error) {
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
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if !filter.Start.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, filter.Start.UTC())
	}
	if !filter.End.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, filter.End.UTC())
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		where = append(where, "event_type IN (?)")
		args = append(args, types)
	}

	query := "SELECT payload FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY ts ASC, id ASC LIMIT %d OFFSET %d", limit+1, offset)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "list events")
	}
	defer rows.Close()

	results := make([]event.Event, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "scan event row")
		}
		var e event.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
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
func (s *ClickHouseStore) ActiveEntities(ctx context.Context, since time.Time) ([]EntityRef, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT entity_type, entity_id FROM events
		WHERE ts >= ? AND entity_id != ''`, since.UTC())
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

// DeleteExpired issues a lightweight delete for events past retention.
// ClickHouse applies the mutation asynchronously; the returned count is not
// available, so callers get zero with a nil error on success.
func (s *ClickHouseStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	err := s.conn.Exec(ctx,
		`DELETE FROM events WHERE retention_expiry < ?`, before.UTC())
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "delete expired events")
	}
	return 0, nil
}
