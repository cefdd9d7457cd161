package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	// frameHeaderSize is the length prefix of every frame.
	frameHeaderSize = 4

	// maxFrameSize bounds a single payload so a damaged length prefix
	// cannot make the reader allocate gigabytes.
	maxFrameSize = 16 * 1024 * 1024
)

// encodeFrame returns payload prefixed with its length.
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload))) //nolint:gosec // bounded by maxFrameSize
	copy(buf[frameHeaderSize:], payload)
	return buf
}

// appendFrame appends one frame to path and syncs it before returning.
// The frame is written with a single Write call.
func appendFrame(path string, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d", len(payload), maxFrameSize)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) //nolint:gosec // user-provided log path
	if err != nil {
		return fmt.Errorf("failed to open %s for append: %w", path, err)
	}
	if _, err := f.Write(encodeFrame(payload)); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	return f.Close()
}

// writeFrames atomically replaces path with the given payloads.
func writeFrames(path string, payloads [][]byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, p := range payloads {
		if _, err := w.Write(encodeFrame(p)); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("failed to write temporary file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to flush temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// readFrame reads the next frame. It returns io.EOF at a clean end of
// file and io.ErrUnexpectedEOF when the last frame is incomplete.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("%w: length %d exceeds limit", ErrCorruptFrame, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// repairTail truncates path after its last complete frame.
// It returns true if a partial frame was dropped. A missing file is fine.
func repairTail(path string) (bool, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided log path
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}

	r := bufio.NewReader(f)
	var valid int64
	truncated := false
	for {
		payload, err := readFrame(r)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				truncated = true
				break
			}
			if errors.Is(err, io.EOF) {
				break
			}
			_ = f.Close()
			return false, err
		}
		valid += int64(frameHeaderSize + len(payload))
	}
	if err := f.Close(); err != nil {
		return false, err
	}

	if !truncated {
		return false, nil
	}
	if err := os.Truncate(path, valid); err != nil {
		return false, fmt.Errorf("failed to drop partial frame in %s: %w", path, err)
	}
	return true, nil
}
