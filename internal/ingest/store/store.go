package store

import (
	"context"
	"encoding/base64"
	"strconv"
	"time"

	"pulse/internal/event"
	dErrors "pulse/pkg/domain-errors"
)

// ErrBadCursor signals an unparseable pagination token.
var ErrBadCursor = dErrors.New(dErrors.CodeBadRequest, "invalid pagination cursor")

// Filter narrows an event listing. Zero time bounds mean unbounded; an empty
// type list means all types.
type Filter struct {
	EntityType string
	EntityID   string
	Start      time.Time
	End        time.Time
	Types      []event.Type
	Limit      int
	Cursor     string
}

// Matches reports whether the event falls inside the filter, cursor aside.
func (f Filter) Matches(e *event.Event) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && !e.Timestamp.Before(f.End) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// EntityRef identifies one aggregation subject seen in the event stream.
type EntityRef struct {
	EntityType string
	EntityID   string
}

// Store is the durable, append-only record of accepted events.
//
// Error Contract:
//   - Insert returns nil on success or a wrapped error on infrastructure failure
//   - List returns ErrBadCursor for malformed cursors
//   - Events are only ever deleted by retention enforcement
type Store interface {
	Insert(ctx context.Context, events []event.Event) error
	List(ctx context.Context, filter Filter) ([]event.Event, string, error)
	ActiveEntities(ctx context.Context, since time.Time) ([]EntityRef, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// EncodeCursor builds the opaque pagination token for an offset.
func EncodeCursor(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.URLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// DecodeCursor parses an opaque pagination token back into an offset.
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, ErrBadCursor
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, ErrBadCursor
	}
	return offset, nil
}
