package operation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns operations into transport messages and back.
// Implementations must round-trip every valid operation exactly.
type Codec interface {
	Name() string
	Marshal(op Operation) ([]byte, error)
	Unmarshal(data []byte) (Operation, error)
}

const (
	CodecJSON    = "json"
	CodecMsgPack = "msgpack"
)

var (
	// JSON is the default textual codec. Its output is valid UTF-8 and is the
	// only encoding accepted by text-only transports such as SNS.
	JSON Codec = jsonCodec{}
	// MsgPack is a compact binary codec for transports that carry raw bytes.
	MsgPack Codec = msgpackCodec{}
)

// CodecByName resolves a codec from configuration.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecJSON:
		return JSON, nil
	case CodecMsgPack, "messagepack":
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// jsonOperation is the JSON wire form. "operation" and "payload" are the
// fields every peer relies on; the rest are optional metadata.
type jsonOperation struct {
	ID          string          `json:"id,omitempty"`
	Operation   string          `json:"operation"`
	Payload     json.RawMessage `json:"payload"`
	Origin      string          `json:"origin,omitempty"`
	CommittedAt string          `json:"committed_at,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (o Operation) MarshalJSON() ([]byte, error) {
	if o.IsZero() {
		return nil, errors.Join(ErrMalformed, errors.New("zero operation"))
	}
	w := jsonOperation{
		Operation: o.kind,
		Payload:   o.payload,
		Origin:    o.origin,
	}
	if o.id != uuid.Nil {
		w.ID = o.id.String()
	}
	if !o.committedAt.IsZero() {
		w.CommittedAt = o.committedAt.Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. Messages carrying only
// {"operation","payload"} are accepted.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var w jsonOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Join(ErrMalformed, err)
	}

	op, err := fromWire(w.ID, w.Operation, w.Payload, w.Origin)
	if err != nil {
		return err
	}
	if w.CommittedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, w.CommittedAt)
		if err != nil {
			return errors.Join(ErrMalformed, err)
		}
		op.committedAt = normalizeTime(t)
	}

	*o = op
	return nil
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecJSON }

func (jsonCodec) Marshal(op Operation) ([]byte, error) {
	return json.Marshal(op)
}

func (jsonCodec) Unmarshal(data []byte) (Operation, error) {
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		if errors.Is(err, ErrMalformed) {
			return Operation{}, err
		}
		return Operation{}, errors.Join(ErrMalformed, err)
	}
	return op, nil
}

// msgpackOperation keeps the payload as canonical JSON bytes so the binary
// form decodes to exactly the same operation as the textual one.
type msgpackOperation struct {
	ID          string `msgpack:"id,omitempty"`
	Operation   string `msgpack:"operation"`
	Payload     []byte `msgpack:"payload"`
	Origin      string `msgpack:"origin,omitempty"`
	CommittedAt int64  `msgpack:"committed_at,omitempty"`
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return CodecMsgPack }

func (msgpackCodec) Marshal(op Operation) ([]byte, error) {
	if op.IsZero() {
		return nil, errors.Join(ErrMalformed, errors.New("zero operation"))
	}
	w := msgpackOperation{
		Operation: op.kind,
		Payload:   op.payload,
		Origin:    op.origin,
	}
	if op.id != uuid.Nil {
		w.ID = op.id.String()
	}
	if !op.committedAt.IsZero() {
		w.CommittedAt = op.committedAt.UnixMilli()
	}
	return msgpack.Marshal(&w)
}

func (msgpackCodec) Unmarshal(data []byte) (Operation, error) {
	var w msgpackOperation
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return Operation{}, errors.Join(ErrMalformed, err)
	}

	op, err := fromWire(w.ID, w.Operation, w.Payload, w.Origin)
	if err != nil {
		return Operation{}, err
	}
	if w.CommittedAt != 0 {
		op.committedAt = time.UnixMilli(w.CommittedAt).UTC()
	}
	return op, nil
}

func fromWire(id, kind string, payload []byte, origin string) (Operation, error) {
	if err := ValidateKind(kind); err != nil {
		return Operation{}, errors.Join(ErrMalformed, err)
	}

	raw, err := canonicalize(payload)
	if err != nil {
		return Operation{}, errors.Join(ErrMalformed, err)
	}

	op := Operation{kind: kind, payload: raw, origin: origin}
	if id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return Operation{}, errors.Join(ErrMalformed, fmt.Errorf("operation id: %w", err))
		}
		op.id = parsed
	}
	return op, nil
}
