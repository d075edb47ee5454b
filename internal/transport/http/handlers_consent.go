package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	consentmodels "pulse/internal/consent/models"
	"pulse/internal/platform/middleware"
	dErrors "pulse/pkg/domain-errors"
	"pulse/pkg/httputil"
)

// ConsentService manages consent records server-side.
type ConsentService interface {
	Get(ctx context.Context, identity string) (*consentmodels.Record, error)
	Set(ctx context.Context, identity string, categories map[consentmodels.Category]bool, mechanism consentmodels.Mechanism) (*consentmodels.Record, error)
}

// ConsentHandler serves the /consent routes.
type ConsentHandler struct {
	consent ConsentService
	logger  *slog.Logger
}

// NewConsentHandler creates the consent handler.
func NewConsentHandler(consent ConsentService, logger *slog.Logger) *ConsentHandler {
	return &ConsentHandler{consent: consent, logger: logger}
}

// Register mounts consent routes on the given router.
func (h *ConsentHandler) Register(r chi.Router) {
	r.Post("/consent", h.HandleSetConsent)
	r.Get("/consent", h.HandleGetConsent)
}

// HandleSetConsent merges consent preferences for an identity.
func (h *ConsentHandler) HandleSetConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ConsentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	categories := make(map[consentmodels.Category]bool, len(req.Categories))
	for raw, granted := range req.Categories {
		cat := consentmodels.Category(raw)
		if !cat.IsValid() {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown consent category: "+raw))
			return
		}
		categories[cat] = granted
	}

	rec, err := h.consent.Set(ctx, req.Identity, categories, consentmodels.Mechanism(req.Mechanism))
	if err != nil {
		h.logger.ErrorContext(ctx, "set consent failed", "error", err, "request_id", requestID, "identity", req.Identity)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toConsentResponse(rec))
}

// HandleGetConsent returns the consent record for an identity.
func (h *ConsentHandler) HandleGetConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	identity := r.URL.Query().Get("identity")
	if identity == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "identity is required"))
		return
	}

	rec, err := h.consent.Get(ctx, identity)
	if err != nil {
		h.logger.ErrorContext(ctx, "get consent failed", "error", err, "request_id", requestID, "identity", identity)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toConsentResponse(rec))
}
