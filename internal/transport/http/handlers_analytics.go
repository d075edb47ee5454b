// Package http exposes the ingestion and query API. Handlers stay thin:
// decode, delegate to a service, translate domain errors.
package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	aggmodels "pulse/internal/aggregate/models"
	"pulse/internal/event"
	ingestservice "pulse/internal/ingest/service"
	ingeststore "pulse/internal/ingest/store"
	"pulse/internal/platform/middleware"
	"pulse/internal/query"
	dErrors "pulse/pkg/domain-errors"
	"pulse/pkg/httputil"
)

// Ingestor accepts event batches.
type Ingestor interface {
	IngestBatch(ctx context.Context, events []event.Event, clientIP string) ([]ingestservice.Result, error)
}

// Querier answers aggregate and event reads.
type Querier interface {
	GetAggregates(ctx context.Context, entityType, entityID string, period aggmodels.Period, start, end time.Time) ([]aggmodels.Aggregate, error)
	GetEvents(ctx context.Context, filter ingeststore.Filter) (*query.EventsPage, error)
}

// AnalyticsHandler serves the /analytics routes.
type AnalyticsHandler struct {
	ingest  Ingestor
	queries Querier
	logger  *slog.Logger
}

// NewAnalyticsHandler creates the analytics handler.
func NewAnalyticsHandler(ingest Ingestor, queries Querier, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{ingest: ingest, queries: queries, logger: logger}
}

// Register mounts analytics routes on the given router.
func (h *AnalyticsHandler) Register(r chi.Router) {
	r.Post("/analytics/batch", h.HandleBatch)
	r.Get("/analytics/aggregates", h.HandleGetAggregates)
	r.Get("/analytics/events", h.HandleGetEvents)
}

// HandleBatch ingests one event batch and echoes per-event acceptance.
func (h *AnalyticsHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[BatchRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	results, err := h.ingest.IngestBatch(ctx, req.Events, clientIP(r))
	if err != nil {
		h.logger.ErrorContext(ctx, "batch ingestion failed", "error", err, "request_id", requestID, "batch_size", len(req.Events))
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &BatchResponse{Results: results})
}

// HandleGetAggregates returns stored aggregates for an entity and period.
func (h *AnalyticsHandler) HandleGetAggregates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	q := r.URL.Query()

	period := aggmodels.Period(q.Get("period"))
	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	aggs, err := h.queries.GetAggregates(ctx, q.Get("entityType"), q.Get("entityId"), period, start, end)
	if err != nil {
		h.logger.ErrorContext(ctx, "get aggregates failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"aggregates": aggs})
}

// HandleGetEvents returns one page of raw events for an entity.
func (h *AnalyticsHandler) HandleGetEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	q := r.URL.Query()

	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer"))
			return
		}
	}

	var types []event.Type
	if raw := q.Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			types = append(types, event.Type(strings.TrimSpace(t)))
		}
	}

	page, err := h.queries.GetEvents(ctx, ingeststore.Filter{
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		Start:      start,
		End:        end,
		Types:      types,
		Limit:      limit,
		Cursor:     q.Get("cursor"),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "get events failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeBadRequest, "time parameters must be RFC 3339")
	}
	return t, nil
}

// clientIP extracts the originating address, preferring the first
// X-Forwarded-For hop set by the edge proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
