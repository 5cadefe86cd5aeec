// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/deepsight/FATS/lib/clock"
	"github.com/deepsight/FATS/lib/codec"
)

// Event kinds.
const (
	// OpOpen records a fuzzed open: a mutated artifact was produced
	// and handed to the application.
	OpOpen = "open"

	// OpRelease records the release of a fuzzed handle and the
	// disposal of its artifact.
	OpRelease = "release"

	// OpError records a mutation pipeline failure. The open that
	// caused it was failed with an I/O error.
	OpError = "error"
)

// Event is one record in the fuzz journal.
type Event struct {
	// Timestamp is when the event was recorded, as nanoseconds since
	// the Unix epoch. Writer.Record stamps it.
	Timestamp int64 `cbor:"timestamp"`

	// Op is the event kind: open, release, or error.
	Op string `cbor:"op"`

	// Path is the mount-relative path of the file, with a leading
	// slash.
	Path string `cbor:"path"`

	// Digest is the lowercase hex BLAKE3 digest of the served
	// artifact. Empty for error events.
	Digest string `cbor:"digest,omitempty"`

	// Size is the artifact size in bytes.
	Size int64 `cbor:"size,omitempty"`

	// MutationNanos is how long the mutation tool ran.
	MutationNanos int64 `cbor:"mutation_nanos,omitempty"`

	// Detail carries the failure description for error events.
	Detail string `cbor:"detail,omitempty"`
}

// Writer appends events to a journal file as a deterministic CBOR
// stream. Safe for concurrent use; events from concurrent opens are
// interleaved whole, never torn.
type Writer struct {
	clock clock.Clock

	mu      sync.Mutex
	file    *os.File
	encoder *codec.Encoder
}

// NewWriter opens (creating if needed) the journal at path for
// appending. A nil clk uses the real clock.
func NewWriter(path string, clk clock.Clock) (*Writer, error) {
	if clk == nil {
		clk = clock.Real()
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	return &Writer{
		clock:   clk,
		file:    file,
		encoder: codec.NewEncoder(file),
	}, nil
}

// Record stamps the event with the current time and appends it.
func (w *Writer) Record(event Event) error {
	event.Timestamp = w.clock.Now().UnixNano()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return errors.New("journal is closed")
	}
	if err := w.encoder.Encode(event); err != nil {
		return fmt.Errorf("encoding journal event: %w", err)
	}
	return nil
}

// Close closes the journal file. Record calls after Close fail.
// Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Read decodes every event in the journal at path, in order. Triage
// tooling uses it to map an application crash back to the artifact
// that was being served.
func Read(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	defer file.Close()

	var events []Event
	decoder := codec.NewDecoder(file)
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return nil, fmt.Errorf("decoding journal %s: %w", path, err)
		}
		events = append(events, event)
	}
}
