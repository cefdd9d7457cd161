package model

import (
	"fmt"
	"strings"
)

// Template is an ordered sequence of URL fragments. A URL is built by
// writing fragment 0, then param 0, then fragment 1, and so on, so a
// template with n+1 fragments takes exactly n params. The trailing
// fragment may be empty.
type Template []string

// Slots returns the number of params the template expects.
func (t Template) Slots() int {
	if len(t) == 0 {
		return 0
	}
	return len(t) - 1
}

// Validate returns ErrEmptyTemplate if t has no fragments.
func (t Template) Validate() error {
	if len(t) == 0 {
		return ErrEmptyTemplate
	}
	return nil
}

// BuildURL interleaves the template fragments with params.
// It returns ErrArity when len(params) != len(t)-1.
func (t Template) BuildURL(params Params) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	if len(params) != t.Slots() {
		return "", fmt.Errorf("%w: got %d params, template expects %d", ErrArity, len(params), t.Slots())
	}
	if err := params.Validate(); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(t[0])
	for i, p := range params {
		sb.WriteString(p)
		sb.WriteString(t[i+1])
	}
	return sb.String(), nil
}
