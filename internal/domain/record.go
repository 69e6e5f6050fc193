package domain

import (
	"errors"
	"time"
)

type SourceID string

type SourceRecord struct {
	ID          SourceID     `json:"id"`
	Name        string       `json:"name"`
	URL         string       `json:"url"`
	Status      SourceStatus `json:"status"`
	Size        int64        `json:"size"`
	ContentType string       `json:"contentType,omitempty"`
	Validators  Validators   `json:"validators"`
	LastError   string       `json:"lastError,omitempty"`
	Tags        []string     `json:"tags"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	CheckedAt   time.Time    `json:"checkedAt"`
}

// Validate checks domain invariants for SourceRecord.
func (r SourceRecord) Validate() error {
	if r.ID == "" {
		return errors.New("source id is required")
	}
	if r.URL == "" {
		return errors.New("source url is required")
	}
	if r.Size < 0 {
		return errors.New("size must not be negative")
	}
	switch r.Status {
	case SourceReady, SourceChanged, SourceError:
		// valid
	case "":
		return errors.New("status is required")
	default:
		return errors.New("invalid status: " + string(r.Status))
	}
	return nil
}
