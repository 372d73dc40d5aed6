package coldstate

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// writer is the trajectory log's single append-only file handle. Every
// append and every flush runs under one mutex: briefly during append,
// more coarsely during a full disk scan. Writes are additionally routed
// through a circuit breaker: a filesystem that starts failing every write
// (disk full, unmounted volume) trips the breaker so appends fail fast
// instead of blocking every caller behind repeated slow OS errors.
type writer struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	pending int

	flushThreshold int
	path           string

	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func newWriter(path string, flushThreshold int, logger *zap.Logger) (*writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("coldstate: open log: %w", err)
	}

	settings := gobreaker.Settings{
		Name:        "coldlog-writer",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("coldstate: writer circuit breaker state change",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	if flushThreshold <= 0 {
		flushThreshold = 1
	}

	return &writer{
		file:           f,
		buf:            bufio.NewWriter(f),
		flushThreshold: flushThreshold,
		path:           path,
		breaker:        gobreaker.NewCircuitBreaker(settings),
		logger:         logger,
	}, nil
}

// appendLine writes one encoded line (without trailing newline) and flushes
// once flushThreshold lines are pending.
func (w *writer) appendLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, err := w.breaker.Execute(func() (interface{}, error) {
		if _, err := w.buf.WriteString(line); err != nil {
			return nil, err
		}
		if err := w.buf.WriteByte('\n'); err != nil {
			return nil, err
		}
		w.pending++
		if w.pending >= w.flushThreshold {
			if err := w.buf.Flush(); err != nil {
				return nil, err
			}
			w.pending = 0
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("coldstate: append: %w", err)
	}
	return nil
}

// flush forces the buffer to the OS; not a durability guarantee (no fsync).
func (w *writer) flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// flushLocked is flush's body for callers that already hold w.mu - the
// trajectory-scan path locks w.mu for the whole scan (per spec: the scan
// may block concurrent appends) and must flush pending lines to the OS
// before reading the file without releasing that lock in between.
func (w *writer) flushLocked() error {
	_, err := w.breaker.Execute(func() (interface{}, error) {
		if err := w.buf.Flush(); err != nil {
			return nil, err
		}
		w.pending = 0
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("coldstate: flush: %w", err)
	}
	return nil
}

func (w *writer) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.buf.Flush()
	return w.file.Close()
}
