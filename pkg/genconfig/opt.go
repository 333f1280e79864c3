package genconfig

import (
	"bytes"
	"encoding/json"
)

// Opt is a tri-state field: unset, or set to an explicit value (which may
// equal the zero value or a global default). The zero Opt is unset.
type Opt[T any] struct {
	v   T
	set bool
}

// Some returns an Opt holding v.
func Some[T any](v T) Opt[T] {
	return Opt[T]{v: v, set: true}
}

// None returns an unset Opt.
func None[T any]() Opt[T] {
	return Opt[T]{}
}

// Get returns the value and whether it was set.
func (o Opt[T]) Get() (T, bool) {
	return o.v, o.set
}

// IsSet reports whether the value was set explicitly.
func (o Opt[T]) IsSet() bool { return o.set }

// IsZero reports whether the Opt is unset. It lets encoding/json drop unset
// fields tagged with omitzero.
func (o Opt[T]) IsZero() bool { return !o.set }

// Or returns the value when set, otherwise def.
func (o Opt[T]) Or(def T) T {
	if o.set {
		return o.v
	}
	return def
}

// Ptr returns a pointer to a copy of the value, or nil when unset.
func (o Opt[T]) Ptr() *T {
	if !o.set {
		return nil
	}
	v := o.v
	return &v
}

// MarshalJSON encodes an unset Opt as null.
func (o Opt[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}

// UnmarshalJSON treats null as unset.
func (o *Opt[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Opt[T]{}
		return nil
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*o = Some(v)
	return nil
}
