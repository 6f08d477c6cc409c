package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"gridworld.ai/internal/sim/world"
)

const StepsPrefix = "steps"

var ErrStepLogClosed = errors.New("step log: closed")

// RunID names a run by its start time. Run ids sort in start order.
func RunID(start time.Time) string {
	return start.UTC().Format("20060102T150405.000Z")
}

// StepLog writes the entries of one run, one JSON line per step, to a single
// zstd file <dir>/steps-<run>.jsonl.zst. The file is created on the first write.
type StepLog struct {
	path string

	mu      sync.Mutex
	f       *os.File
	enc     *zstd.Encoder
	buf     *bufio.Writer
	closed  bool
	entries uint64
}

func NewStepLog(worldDir, runID string) *StepLog {
	return &StepLog{path: filepath.Join(worldDir, StepsPrefix, fmt.Sprintf("%s-%s.jsonl.zst", StepsPrefix, runID))}
}

func (l *StepLog) Path() string { return l.path }

func (l *StepLog) Entries() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries
}

// WriteStep appends e and flushes it through the encoder, so a crashed run
// keeps every step written before the crash.
func (l *StepLog) WriteStep(e world.StepLogEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrStepLogClosed
	}
	if l.buf == nil {
		if err := l.openLocked(); err != nil {
			return err
		}
	}
	if _, err := l.buf.Write(b); err != nil {
		return err
	}
	if err := l.buf.WriteByte('\n'); err != nil {
		return err
	}
	if err := l.buf.Flush(); err != nil {
		return err
	}
	if err := l.enc.Flush(); err != nil {
		return err
	}
	l.entries++
	return nil
}

func (l *StepLog) openLocked() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("step log: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f = f
	l.enc = enc
	l.buf = bufio.NewWriterSize(enc, 64*1024)
	return nil
}

// Close finishes the zstd frame. Later writes return ErrStepLogClosed.
func (l *StepLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.buf == nil {
		return nil
	}
	var errs []error
	if err := l.buf.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := l.enc.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := l.f.Close(); err != nil {
		errs = append(errs, err)
	}
	l.buf, l.enc, l.f = nil, nil, nil
	return errors.Join(errs...)
}
