package http

import (
	"time"

	consentmodels "pulse/internal/consent/models"
	"pulse/internal/event"
	ingestservice "pulse/internal/ingest/service"
	"pulse/pkg/validation"
)

// BatchRequest is the ingestion payload: a batch of built events plus
// batch-level metadata stamped by the client transport.
type BatchRequest struct {
	Events    []event.Event `json:"events"`
	SessionID string        `json:"sessionId,omitempty"`
	UserID    string        `json:"userId,omitempty"`
	Count     int           `json:"count" validate:"min=0"`
	Timestamp time.Time     `json:"timestamp"`
}

// Validate implements httputil.Validatable.
func (r *BatchRequest) Validate() error {
	return validation.Validate(r)
}

// BatchResponse echoes per-event acceptance in input order.
type BatchResponse struct {
	Results []ingestservice.Result `json:"results"`
}

// ConsentRequest sets or merges consent preferences for an identity.
type ConsentRequest struct {
	Identity   string          `json:"identity" validate:"required,notblank"`
	Categories map[string]bool `json:"categories" validate:"required,min=1"`
	Mechanism  string          `json:"mechanism" validate:"omitempty,oneof=explicit implied legal_basis"`
}

// Normalize implements httputil.Normalizable.
func (r *ConsentRequest) Normalize() {
	if r.Mechanism == "" {
		r.Mechanism = string(consentmodels.MechanismExplicit)
	}
}

// Validate implements httputil.Validatable.
func (r *ConsentRequest) Validate() error {
	return validation.Validate(r)
}

// ConsentResponse is the stored consent state for an identity.
type ConsentResponse struct {
	Identity   string          `json:"identity"`
	Categories map[string]bool `json:"categories"`
	Mechanism  string          `json:"mechanism"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Withdrawn  bool            `json:"withdrawn"`
}

func toConsentResponse(rec *consentmodels.Record) *ConsentResponse {
	categories := make(map[string]bool, len(rec.Categories))
	for cat, granted := range rec.Categories {
		categories[string(cat)] = granted
	}
	return &ConsentResponse{
		Identity:   rec.Identity,
		Categories: categories,
		Mechanism:  string(rec.Mechanism),
		UpdatedAt:  rec.UpdatedAt,
		Withdrawn:  rec.Withdrawn,
	}
}
