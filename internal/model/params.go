package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf8"
)

// Params is the ordered set of substitution values used to build one
// concrete URL from a Template. Two Params are the same request when
// they are structurally equal.
type Params []string

// Equal reports whether p and other hold the same values in the same order.
func (p Params) Equal(other Params) bool {
	return slices.Equal(p, other)
}

// Validate returns ErrInvalidParams if a value is not valid UTF-8. Such a
// value cannot be stored losslessly, so it would never be recognized as done.
func (p Params) Validate() error {
	for i, v := range p {
		if !utf8.ValidString(v) {
			return fmt.Errorf("%w: value %d (%q) is not valid UTF-8", ErrInvalidParams, i, v)
		}
	}
	return nil
}

// Key returns the canonical encoding of p, a JSON array of strings.
// Valid params produce equal keys exactly when they are equal.
func (p Params) Key() string {
	if p == nil {
		p = Params{}
	}
	// Marshalling a []string cannot fail.
	b, _ := json.Marshal([]string(p)) //nolint:errchkjson
	return string(b)
}

// Clone returns a copy of p that does not share its backing array.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return slices.Clone(p)
}
