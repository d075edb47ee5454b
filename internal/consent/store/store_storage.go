package store

import (
	"context"
	"encoding/json"
	"time"

	"pulse/internal/consent/models"
	"pulse/internal/env"
	dErrors "pulse/pkg/domain-errors"
)

// ConsentKey is the single durable key holding the serialized consent record.
// It is read on SDK start and written on every consent update.
const ConsentKey = "cvplus_consent"

// StorageStore persists the consent record through the host environment's
// durable storage. It holds a single record, matching the one identity the
// client SDK runs as.
type StorageStore struct {
	storage env.Storage
}

// NewStorage constructs a consent store backed by host storage.
func NewStorage(storage env.Storage) *StorageStore {
	return &StorageStore{storage: storage}
}

type storedRecord struct {
	Identity    string                     `json:"identity"`
	Categories  map[models.Category]bool   `json:"categories"`
	Mechanism   models.Mechanism           `json:"mechanism"`
	UpdatedAt   time.Time                  `json:"updatedAt"`
	Withdrawn   bool                       `json:"withdrawn"`
	WithdrawnAt *time.Time                 `json:"withdrawnAt,omitempty"`
}

func (s *StorageStore) Get(_ context.Context, identity string) (*models.Record, error) {
	raw, ok, err := s.storage.Get(ConsentKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "read consent storage")
	}
	if !ok {
		return nil, ErrNotFound
	}

	var stored storedRecord
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		// Corrupt payload is indistinguishable from absent consent; treat it
		// as unreadable so the caller degrades to necessary-only.
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "decode consent record")
	}
	if stored.Identity != identity {
		return nil, ErrNotFound
	}

	record := &models.Record{
		Identity:    stored.Identity,
		Categories:  stored.Categories,
		Mechanism:   stored.Mechanism,
		UpdatedAt:   stored.UpdatedAt,
		Withdrawn:   stored.Withdrawn,
		WithdrawnAt: stored.WithdrawnAt,
	}
	record.Normalize()
	return record, nil
}

func (s *StorageStore) Save(_ context.Context, record *models.Record) error {
	payload, err := json.Marshal(storedRecord{
		Identity:    record.Identity,
		Categories:  record.Categories,
		Mechanism:   record.Mechanism,
		UpdatedAt:   record.UpdatedAt,
		Withdrawn:   record.Withdrawn,
		WithdrawnAt: record.WithdrawnAt,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode consent record")
	}
	if err := s.storage.Set(ConsentKey, string(payload)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "write consent storage")
	}
	return nil
}
