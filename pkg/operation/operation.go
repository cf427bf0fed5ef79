package operation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Standard kinds for row-level writes. Domain-specific tags are allowed as long
// as they satisfy the kind pattern.
const (
	KindInsert = "insert"
	KindUpdate = "update"
	KindDelete = "delete"
)

// MaxKindLength bounds the symbolic operation name.
const MaxKindLength = 64

var kindPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.:-]*$`)

// Operation is the immutable record of a single committed local write.
// All fields are unexported; use the accessors. The payload is marshaled once
// at construction time so later encoding never has to touch user types.
type Operation struct {
	id          uuid.UUID
	kind        string
	payload     json.RawMessage
	origin      string
	committedAt time.Time
}

// Option configures optional operation metadata.
type Option func(*Operation)

// WithID overrides the generated operation id.
func WithID(id uuid.UUID) Option {
	return func(o *Operation) { o.id = id }
}

// WithOrigin records the replica that committed the write.
func WithOrigin(origin string) Option {
	return func(o *Operation) { o.origin = origin }
}

// WithCommittedAt overrides the commit timestamp (defaults to now).
func WithCommittedAt(t time.Time) Option {
	return func(o *Operation) { o.committedAt = normalizeTime(t) }
}

// New builds an operation of the given kind. The payload is encoded to JSON
// immediately; a payload that cannot be encoded is a schema error and is
// reported as ErrInvalidPayload.
func New(kind string, payload any, opts ...Option) (Operation, error) {
	if err := ValidateKind(kind); err != nil {
		return Operation{}, err
	}

	raw, err := canonicalPayload(payload)
	if err != nil {
		return Operation{}, err
	}

	op := Operation{
		id:          uuid.New(),
		kind:        kind,
		payload:     raw,
		committedAt: normalizeTime(time.Now()),
	}
	for _, opt := range opts {
		opt(&op)
	}

	return op, nil
}

// MustNew is like New but panics on error. Use it where the payload type is
// fixed at compile time and an encoding failure can only be a programming bug.
func MustNew(kind string, payload any, opts ...Option) Operation {
	op, err := New(kind, payload, opts...)
	if err != nil {
		panic(fmt.Sprintf("operation: %v", err))
	}
	return op
}

// ValidateKind reports whether kind is an acceptable operation name.
func ValidateKind(kind string) error {
	if kind == "" {
		return errors.Join(ErrInvalidKind, errors.New("kind is empty"))
	}
	if len(kind) > MaxKindLength {
		return errors.Join(ErrInvalidKind, fmt.Errorf("kind exceeds %d characters", MaxKindLength))
	}
	if !kindPattern.MatchString(kind) {
		return errors.Join(ErrInvalidKind, fmt.Errorf("kind %q contains invalid characters", kind))
	}
	return nil
}

func (o Operation) ID() uuid.UUID          { return o.id }
func (o Operation) Kind() string           { return o.kind }
func (o Operation) Origin() string         { return o.origin }
func (o Operation) CommittedAt() time.Time { return o.committedAt }

// InheritOrigin returns o with origin set when o carries none.
func (o Operation) InheritOrigin(origin string) Operation {
	if o.origin == "" {
		o.origin = origin
	}
	return o
}

// Payload returns a copy of the encoded payload.
func (o Operation) Payload() json.RawMessage {
	if o.payload == nil {
		return nil
	}
	out := make(json.RawMessage, len(o.payload))
	copy(out, o.payload)
	return out
}

// IsZero reports whether o was never constructed.
func (o Operation) IsZero() bool {
	return o.kind == "" && o.payload == nil
}

// String is used in log lines.
func (o Operation) String() string {
	return fmt.Sprintf("%s(%s)", o.kind, o.id)
}

// Equal compares two operations field by field; payloads are compared in
// canonical form so whitespace and key order never matter.
func Equal(a, b Operation) bool {
	if a.id != b.id || a.kind != b.kind || a.origin != b.origin {
		return false
	}
	if !a.committedAt.Equal(b.committedAt) {
		return false
	}
	return bytes.Equal(a.payload, b.payload)
}

// DecodePayload unmarshals the operation payload into v.
func DecodePayload(o Operation, v any) error {
	if o.payload == nil {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(o.payload, v); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	return nil
}

// canonicalPayload marshals v and re-compacts already-encoded JSON so that two
// equal payloads always produce identical bytes.
func canonicalPayload(v any) (json.RawMessage, error) {
	var raw []byte
	switch p := v.(type) {
	case nil:
		return nil, ErrEmptyPayload
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Join(ErrInvalidPayload, err)
		}
		raw = b
	}
	return canonicalize(raw)
}

// canonicalize decodes and re-encodes raw JSON. encoding/json sorts map keys,
// which gives a stable byte form for any JSON document.
func canonicalize(raw []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyPayload
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if dec.More() {
		return nil, errors.Join(ErrInvalidPayload, errors.New("trailing data after payload"))
	}

	if doc == nil {
		return nil, ErrEmptyPayload
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	return out, nil
}

// normalizeTime keeps timestamps comparable after a trip through any codec.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(time.Millisecond)
}
