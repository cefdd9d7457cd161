package model

// Marker identifies a kind of page by a CSS selector query.
// When Contains is set, the text of at least one match must also contain it.
type Marker struct {
	// Selector is a CSS selector, for example "title" or "div.results".
	Selector string `yaml:"selector"`

	// Contains is an optional substring the matched text must contain.
	Contains string `yaml:"contains,omitempty"`
}

// IsZero reports whether the marker is unset.
func (m Marker) IsZero() bool {
	return m.Selector == ""
}

// ExtractRule describes how to turn a page into records.
// Each element matched by Item becomes one Datum whose fields are the
// trimmed text of the Fields selectors, evaluated relative to the item.
type ExtractRule struct {
	// Item selects the repeating element, for example "li.person".
	Item string `yaml:"item"`

	// Fields maps a record field name to a selector relative to Item.
	// An empty selector takes the text of the item itself. A selector
	// ending in "@attr" takes that attribute of the match instead.
	Fields map[string]string `yaml:"fields"`
}

// IsZero reports whether no extraction is configured.
func (r ExtractRule) IsZero() bool {
	return r.Item == "" && len(r.Fields) == 0
}
