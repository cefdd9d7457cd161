package crawler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/torcrawler/internal/model"
)

// ParamsSource yields params tuples in order.
//
//	for src.Next() {
//		use(src.Params())
//	}
//	if err := src.Err(); err != nil { ... }
type ParamsSource interface {
	Next() bool
	Params() model.Params
	Err() error
}

// SliceSource yields a fixed list of params.
type SliceSource struct {
	list []model.Params
	i    int
}

// NewSliceSource returns a source over list.
func NewSliceSource(list []model.Params) *SliceSource {
	return &SliceSource{list: list, i: -1}
}

// Next implements ParamsSource.
func (s *SliceSource) Next() bool {
	if s.i+1 >= len(s.list) {
		return false
	}
	s.i++
	return true
}

// Params implements ParamsSource.
func (s *SliceSource) Params() model.Params {
	return s.list[s.i]
}

// Err implements ParamsSource.
func (s *SliceSource) Err() error {
	return nil
}

// CSVSource yields one params tuple per CSV row. Blank lines are skipped
// and rows may have different lengths; a wrong row length surfaces as
// model.ErrArity when the URL is built.
type CSVSource struct {
	r      *csv.Reader
	params model.Params
	err    error
}

// NewCSVSource reads rows from r. Lines starting with '#' are comments.
func NewCSVSource(r io.Reader) *CSVSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	return &CSVSource{r: cr}
}

// Next implements ParamsSource.
func (s *CSVSource) Next() bool {
	if s.err != nil {
		return false
	}
	row, err := s.r.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = fmt.Errorf("failed to read params row: %w", err)
		}
		return false
	}
	params := model.Params(row)
	if err := params.Validate(); err != nil {
		line, _ := s.r.FieldPos(0)
		s.err = fmt.Errorf("params row on line %d: %w", line, err)
		return false
	}
	s.params = params
	return true
}

// Params implements ParamsSource.
func (s *CSVSource) Params() model.Params {
	return s.params
}

// Err implements ParamsSource.
func (s *CSVSource) Err() error {
	return s.err
}

// CombinationSource yields every string of a fixed length over an
// alphabet, each as a single-value params tuple, in lexicographic order
// of the alphabet. For alphabet "ab" and length 2 it yields aa, ab, ba, bb.
type CombinationSource struct {
	alphabet []rune
	idx      []int
	started  bool
	done     bool
}

// NewCombinationSource returns a source over alphabet^length. Duplicate
// runes in the alphabet are dropped. An empty alphabet or a length below
// one yields nothing.
func NewCombinationSource(alphabet string, length int) *CombinationSource {
	var runes []rune
	seen := make(map[rune]struct{})
	for _, r := range alphabet {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		runes = append(runes, r)
	}
	return &CombinationSource{
		alphabet: runes,
		idx:      make([]int, max(length, 0)),
		done:     len(runes) == 0 || length < 1,
	}
}

// Next implements ParamsSource.
func (s *CombinationSource) Next() bool {
	if s.done {
		return false
	}
	if !s.started {
		s.started = true
		return true
	}
	// Odometer increment from the last position.
	for i := len(s.idx) - 1; i >= 0; i-- {
		s.idx[i]++
		if s.idx[i] < len(s.alphabet) {
			return true
		}
		s.idx[i] = 0
	}
	s.done = true
	return false
}

// Params implements ParamsSource.
func (s *CombinationSource) Params() model.Params {
	var sb strings.Builder
	for _, i := range s.idx {
		sb.WriteRune(s.alphabet[i])
	}
	return model.Params{sb.String()}
}

// Err implements ParamsSource.
func (s *CombinationSource) Err() error {
	return nil
}

// Count returns how many tuples the source yields in total.
func (s *CombinationSource) Count() int {
	if len(s.alphabet) == 0 || len(s.idx) == 0 {
		return 0
	}
	n := 1
	for range s.idx {
		n *= len(s.alphabet)
	}
	return n
}
