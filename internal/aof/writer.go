// Package aof implements the append-only-file writer and background
// rewrite pipeline spec.md §4.8 (C8) describes, grounded on
// _examples/original_source/src/core/persistence/aof_rewriter.rs.
package aof

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Writer is the normal AOF writer: every accepted write is appended here.
// While a rewrite is in progress it also mirrors each write into a
// buffer the Rewriter drains in Phase C, per spec.md §4.8's "the event bus
// publisher MUST, for every write unit-of-work, both (a) publish it to the
// normal AOF writer and (b) append it to the rewrite buffer".
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File

	buffering bool
	buffer    [][]byte

	logger *zap.Logger
}

// NewWriter opens (creating if absent) the AOF file at path for append.
func NewWriter(path string, logger *zap.Logger) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("aof: opening %q: %w", path, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{path: path, file: f, logger: logger}, nil
}

// Append writes frame's already-encoded bytes to the live AOF file and, if
// a rewrite is in progress, also mirrors it into the rewrite buffer.
func (w *Writer) Append(encoded []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(encoded); err != nil {
		return fmt.Errorf("aof: writing to %q: %w", w.path, err)
	}
	if w.buffering {
		cp := append([]byte(nil), encoded...)
		w.buffer = append(w.buffer, cp)
	}
	return nil
}

// BeginBuffering switches the writer into mirroring mode, per Phase A/B.
func (w *Writer) BeginBuffering() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffering = true
	w.buffer = nil
}

// TakeBuffer snapshots everything mirrored since BeginBuffering (or the
// previous TakeBuffer call), per Phase C's "take ownership of the rewrite
// buffer." Buffering itself stays on: a write landing after this snapshot
// but before FinishRewrite's swap must still be captured rather than fall
// into the live file that is about to be replaced, so only FinishRewrite
// clears it.
func (w *Writer) TakeBuffer() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	buf := w.buffer
	w.buffer = nil
	return buf
}

// FinishRewrite implements Phase D as one critical section: it takes
// whatever was mirrored since the last TakeBuffer (writes that landed
// during Phase C's drain-to-temp), stops buffering, closes the live file,
// renames tempPath over it, reopens for append, and finally appends that
// residual directly to the freshly reopened file. Holding the lock across
// the whole sequence closes the window a split TakeBuffer/rename/reopen
// would leave open: without it, an Append arriving after buffering stops
// but before the rename would land in the file about to be discarded.
func (w *Writer) FinishRewrite(tempPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	residual := w.buffer
	w.buffer = nil
	w.buffering = false

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("aof: closing old file before swap: %w", err)
	}
	if err := os.Rename(tempPath, w.path); err != nil {
		return fmt.Errorf("aof: renaming %q over %q: %w", tempPath, w.path, err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("aof: reopening %q after swap: %w", w.path, err)
	}
	w.file = f

	for _, enc := range residual {
		if _, err := w.file.Write(enc); err != nil {
			return fmt.Errorf("aof: appending residual write after swap: %w", err)
		}
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
