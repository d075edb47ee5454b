package models

import (
	"time"

	dErrors "pulse/pkg/domain-errors"
)

// Category labels a processing purpose a user approves or denies
// independently. Category binding allows selective withdrawal without
// affecting other flows.
type Category string

const (
	CategoryNecessary       Category = "necessary"
	CategoryAnalytics       Category = "analytics"
	CategoryMarketing       Category = "marketing"
	CategoryPersonalization Category = "personalization"
	CategoryFunctional      Category = "functional"
)

// ValidCategories is the single source of truth for all valid consent categories.
var ValidCategories = map[Category]bool{
	CategoryNecessary:       true,
	CategoryAnalytics:       true,
	CategoryMarketing:       true,
	CategoryPersonalization: true,
	CategoryFunctional:      true,
}

// IsValid checks if the category is one of the supported enum values.
func (c Category) IsValid() bool {
	return ValidCategories[c]
}

// Mechanism records how consent was collected.
type Mechanism string

const (
	MechanismExplicit   Mechanism = "explicit"
	MechanismImplied    Mechanism = "implied"
	MechanismLegalBasis Mechanism = "legal_basis"
)

// IsValid checks if the mechanism is one of the supported enum values.
func (m Mechanism) IsValid() bool {
	return m == MechanismExplicit || m == MechanismImplied || m == MechanismLegalBasis
}

// Record captures an identity's consent decisions across all categories.
//
// Invariants:
//   - CategoryNecessary is always true and cannot be withdrawn.
//   - Records are never physically deleted; withdrawal is a state transition
//     preserved for audit.
type Record struct {
	Identity    string
	Categories  map[Category]bool
	Mechanism   Mechanism
	UpdatedAt   time.Time
	Withdrawn   bool
	WithdrawnAt *time.Time
}

// NewRecord creates a Record with domain invariant checks applied.
func NewRecord(identity string, categories map[Category]bool, mechanism Mechanism, now time.Time) (*Record, error) {
	if identity == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "consent identity required")
	}
	if !mechanism.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid consent mechanism")
	}
	for cat := range categories {
		if !cat.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid consent category")
		}
	}
	r := &Record{
		Identity:   identity,
		Categories: cloneCategories(categories),
		Mechanism:  mechanism,
		UpdatedAt:  now,
	}
	r.Normalize()
	return r, nil
}

// Minimal returns a necessary-only record, used in degraded mode when the
// consent store is unreadable.
func Minimal(identity string, now time.Time) *Record {
	return &Record{
		Identity:   identity,
		Categories: map[Category]bool{CategoryNecessary: true},
		Mechanism:  MechanismLegalBasis,
		UpdatedAt:  now,
	}
}

// Normalize enforces the necessary-always-true invariant in place.
func (r *Record) Normalize() {
	if r.Categories == nil {
		r.Categories = make(map[Category]bool, 1)
	}
	r.Categories[CategoryNecessary] = true
}

// Has reports whether the given category is currently approved.
// CategoryNecessary is always approved.
func (r *Record) Has(cat Category) bool {
	if cat == CategoryNecessary {
		return true
	}
	if r == nil {
		return false
	}
	return r.Categories[cat]
}

// Merge applies the given category decisions on top of the existing record,
// stamping the update time. Attempts to withdraw the necessary category are
// ignored. Withdrawing any previously granted category marks the record
// withdrawn for audit purposes.
func (r *Record) Merge(updates map[Category]bool, mechanism Mechanism, now time.Time) {
	if r.Categories == nil {
		r.Categories = make(map[Category]bool, len(updates)+1)
	}
	for cat, approved := range updates {
		if cat == CategoryNecessary {
			continue
		}
		if r.Categories[cat] && !approved {
			r.Withdrawn = true
			withdrawnAt := now
			r.WithdrawnAt = &withdrawnAt
		}
		r.Categories[cat] = approved
	}
	r.Mechanism = mechanism
	r.UpdatedAt = now
	r.Normalize()
}

// Snapshot returns an independent copy of the category map, suitable for
// stamping onto an event's privacy block. Mutating the record afterwards must
// not alter snapshots already taken.
func (r *Record) Snapshot() map[Category]bool {
	if r == nil {
		return map[Category]bool{CategoryNecessary: true}
	}
	return cloneCategories(r.Categories)
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	copyRecord := *r
	copyRecord.Categories = cloneCategories(r.Categories)
	if r.WithdrawnAt != nil {
		at := *r.WithdrawnAt
		copyRecord.WithdrawnAt = &at
	}
	return &copyRecord
}

func cloneCategories(src map[Category]bool) map[Category]bool {
	dst := make(map[Category]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
