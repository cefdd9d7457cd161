package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// Cursor is a lazy iterator over the decoded frames of a log file.
// It reads the file from the start and stops at the end of the file as it
// was when the cursor reached it. A missing file yields no values.
//
//	c, err := log.Entries()
//	if err != nil { ... }
//	defer c.Close()
//	for c.Next() {
//		use(c.Value())
//	}
//	if err := c.Err(); err != nil { ... }
type Cursor[T any] struct {
	f         *os.File
	r         *bufio.Reader
	decode    func([]byte) (T, error)
	value     T
	err       error
	done      bool
	truncated bool
}

// openCursor opens path for iteration.
func openCursor[T any](path string, decode func([]byte) (T, error)) (*Cursor[T], error) {
	f, err := os.Open(path) //nolint:gosec // user-provided log path
	if err != nil {
		if os.IsNotExist(err) {
			return &Cursor[T]{done: true, decode: decode}, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &Cursor[T]{
		f:      f,
		r:      bufio.NewReader(f),
		decode: decode,
	}, nil
}

// Next advances to the next value. It returns false at the end of the log
// or on error; check Err afterwards.
func (c *Cursor[T]) Next() bool {
	if c.done {
		return false
	}

	payload, err := readFrame(c.r)
	if err != nil {
		c.done = true
		switch {
		case errors.Is(err, io.EOF):
		case errors.Is(err, io.ErrUnexpectedEOF):
			c.truncated = true
		default:
			c.err = err
		}
		return false
	}

	v, err := c.decode(payload)
	if err != nil {
		c.done = true
		c.err = fmt.Errorf("%w: %w", ErrCorruptFrame, err)
		return false
	}
	c.value = v
	return true
}

// Value returns the value decoded by the last successful Next.
func (c *Cursor[T]) Value() T {
	return c.value
}

// Err returns the first error other than end of log.
func (c *Cursor[T]) Err() error {
	return c.err
}

// Truncated reports whether the log ended with an incomplete frame.
func (c *Cursor[T]) Truncated() bool {
	return c.truncated
}

// Close releases the underlying file.
func (c *Cursor[T]) Close() error {
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}
