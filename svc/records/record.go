package records

import (
	"errors"
	"time"
)

// MaxValueLength bounds a record value.
const MaxValueLength = 4096

var (
	ErrInvalidID    = errors.New("record id must be a positive integer")
	ErrInvalidValue = errors.New("record value is too long")
	ErrNoStore      = errors.New("records service has no storage gateway")
)

// Record is the replicated resource: an integer key with a text value. Version
// grows by one on every update.
type Record struct {
	ID        int64     `json:"id"`
	Value     string    `json:"value"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func validate(id int64, value string) error {
	if id <= 0 {
		return ErrInvalidID
	}
	if len(value) > MaxValueLength {
		return ErrInvalidValue
	}
	return nil
}
