package model

import (
	"encoding/hex"
	"encoding/json"
	"maps"
	"slices"

	"golang.org/x/crypto/sha3"
)

// Datum is one scraped record. The field names and values are defined by
// the extractor; the crawler only needs content equality and a stable
// serialization.
type Datum map[string]string

// Canonical returns the canonical serialization of d.
// encoding/json writes map keys in sorted order, so two content-equal
// records always serialize to the same bytes.
func (d Datum) Canonical() ([]byte, error) {
	if d == nil {
		d = Datum{}
	}
	return json.Marshal(map[string]string(d))
}

// Fingerprint returns the hex SHA3-256 digest of the canonical form.
func (d Datum) Fingerprint() (string, error) {
	b, err := d.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Keys returns the field names of d in sorted order.
func (d Datum) Keys() []string {
	return slices.Sorted(maps.Keys(d))
}

// SameKeys reports whether d and other have exactly the same field names.
func (d Datum) SameKeys(other Datum) bool {
	if len(d) != len(other) {
		return false
	}
	for k := range d {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}
