package types

import (
	"bytes"
	"encoding/json"
)

// Payload is an opaque JSON document used for task results and shared
// context content. The core never interprets it; callers decode it into
// their own schema-validated types at the use site.
type Payload json.RawMessage

// NewPayload marshals v into a Payload.
func NewPayload(v any) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, NewError(ErrInvalidRequest, "payload is not serializable").WithCause(err)
	}
	return Payload(data), nil
}

// MustPayload marshals v into a Payload, panicking on failure. Intended for
// tests and static fixtures.
func MustPayload(v any) Payload {
	p, err := NewPayload(v)
	if err != nil {
		panic(err)
	}
	return p
}

// Decode unmarshals the payload into v.
func (p Payload) Decode(v any) error {
	if len(p) == 0 {
		return NewError(ErrInvalidRequest, "payload is empty")
	}
	if err := json.Unmarshal(p, v); err != nil {
		return NewError(ErrInvalidRequest, "payload does not match target schema").WithCause(err)
	}
	return nil
}

// IsZero reports whether the payload carries no document.
func (p Payload) IsZero() bool {
	return len(p) == 0 || bytes.Equal(p, []byte("null"))
}

// Clone returns an independent copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	copy(out, p)
	return out
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if p == nil {
		return NewError(ErrInvalidRequest, "payload target is nil")
	}
	*p = append((*p)[0:0], data...)
	return nil
}
