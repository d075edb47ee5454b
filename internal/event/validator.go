package event

import (
	"fmt"
)

// Result is the outcome of validating an event. When Valid, Enriched is a
// copy with processing-state flags updated that replaces the original before
// enqueue.
type Result struct {
	Valid    bool
	Errors   []string
	Enriched Event
}

// Validator rejects structurally invalid events before they leave the
// process. Callers must not enqueue an invalid event, but must not crash the
// host application either: the contract is log-and-drop.
type Validator struct{}

// NewValidator constructs a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the hard structural requirements: non-empty name, non-empty
// session id, present timestamp, present privacy block. All failures are
// collected so a single pass reports every problem.
func (v *Validator) Validate(e Event) Result {
	var errs []string

	if e.Name == "" {
		errs = append(errs, "event name is required")
	}
	if e.SessionID == "" {
		errs = append(errs, "session id is required")
	}
	if e.Timestamp.IsZero() {
		errs = append(errs, "timestamp is required")
	}
	if len(e.Privacy.Consent) == 0 {
		errs = append(errs, "privacy consent snapshot is required")
	}
	if e.Type != "" && !e.Type.IsValid() {
		errs = append(errs, fmt.Sprintf("unknown event type: %s", e.Type))
	}

	if len(errs) > 0 {
		return Result{Valid: false, Errors: errs}
	}

	enriched := e
	if enriched.Type == "" {
		enriched.Type = TypeTrack
	}
	enriched.Processing.Validated = true
	enriched.Processing.Enriched = true
	return Result{Valid: true, Enriched: enriched}
}
