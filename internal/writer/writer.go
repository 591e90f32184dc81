// Package writer implements the buffered writer: the producer-consumer
// pipeline that decouples ingestion threads from a (possibly slow or
// intermittently failing) output sink, with an in-memory drop policy and
// a single background drain worker per Writer.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tuplestream/collector/internal/mbuffer"
	"github.com/tuplestream/collector/internal/outstream"
)

// State is the writer's lifecycle state.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by push operations on a writer that has already
// started draining or has closed.
var ErrClosed = errors.New("writer: closed")

// element wraps one queued data-lane buffer. The header re-offered to the
// sink on every drain attempt (spec §4.1's "header re-sending") is not
// stored here; drainLoop takes it from Writer.metaBody.
type element struct {
	buf *mbuffer.Buffer
}

// Writer is a bounded in-memory queue of MBuffers draining to a single
// outstream.Stream on a dedicated background goroutine. Producers push from
// arbitrarily many goroutines; only the mutex is ever held across a push —
// sink I/O happens exclusively on the drain worker (spec §4.1 "Concurrency").
type Writer struct {
	sink   outstream.Stream
	logger *slog.Logger
	metrics *Metrics

	queueCapacity int // max bytes outstanding in the data lane

	mu       sync.Mutex
	cond     *sync.Cond
	meta     *mbuffer.Buffer   // meta lane: once-per-connection preface, never dropped
	metaBody []byte            // last pushed meta payload, re-offered as header on every write
	data     []*mbuffer.Buffer // data lane queue, oldest first
	dataLen  int               // total unflushed bytes currently queued across data

	state   atomic.Int32
	drainWg sync.WaitGroup
}

// New creates a Writer draining into sink. queueCapacity bounds the total
// number of unflushed bytes the data lane may hold before the oldest
// buffer is dropped. The background drain worker starts immediately.
func New(sink outstream.Stream, queueCapacity int, logger *slog.Logger, metrics *Metrics) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics()
	}
	w := &Writer{
		sink:          sink,
		logger:        logger,
		metrics:       metrics,
		queueCapacity: queueCapacity,
		meta:          mbuffer.New(256),
	}
	w.cond = sync.NewCond(&w.mu)
	w.drainWg.Add(1)
	go w.drainLoop()
	return w
}

// State reports the writer's current lifecycle state.
func (w *Writer) State() State { return State(w.state.Load()) }

// Push appends n bytes (data) to the data lane, returning the number of
// bytes accepted. If accepting the full write would exceed queueCapacity,
// the oldest queued data buffers are dropped (never the meta lane) until
// there is room, and a warning is logged for each drop (spec's drop
// policy). A push larger than queueCapacity by itself is truncated to
// queueCapacity and the remainder is recorded as dropped.
func (w *Writer) Push(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.State() != StateRunning {
		return 0, ErrClosed
	}

	accept := data
	if len(accept) > w.queueCapacity {
		dropped := len(accept) - w.queueCapacity
		w.metrics.DroppedTotal.Add(float64(dropped))
		w.logger.Warn("writer: push larger than queue capacity, truncating",
			"requested", len(data), "capacity", w.queueCapacity, "dropped_bytes", dropped)
		accept = accept[:w.queueCapacity]
	}

	for w.dataLen+len(accept) > w.queueCapacity && len(w.data) > 0 {
		oldest := w.data[0]
		w.data = w.data[1:]
		w.dataLen -= oldest.Length()
		w.metrics.DroppedTotal.Add(float64(oldest.Length()))
		w.logger.Warn("writer: data lane full, dropping oldest buffer",
			"dropped_bytes", oldest.Length(), "capacity", w.queueCapacity)
	}

	buf := mbuffer.New(len(accept))
	buf.Write(accept)
	w.data = append(w.data, buf)
	w.dataLen += len(accept)
	w.metrics.QueueBytes.Set(float64(w.dataLen))

	w.cond.Signal()
	return len(accept), nil
}

// PushMeta replaces the meta-lane preface with data. Unlike Push, this
// always succeeds in full — it is the source-of-truth schema header and
// is never subject to the drop policy.
func (w *Writer) PushMeta(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.State() != StateRunning {
		return 0, ErrClosed
	}

	w.meta.Reset()
	n, err := w.meta.Write(data)
	if err != nil {
		return 0, fmt.Errorf("writer: push meta: %w", err)
	}
	w.metaBody = append([]byte{}, data...)
	w.cond.Signal()
	return n, nil
}

// GetWriteBuf returns the current tail data-lane buffer for zero-copy
// writes, allocating one if the queue is empty. If exclusive, other
// producers are blocked from pushing until UnlockBuf is called.
func (w *Writer) GetWriteBuf(exclusive bool) *mbuffer.Buffer {
	w.mu.Lock()
	if len(w.data) == 0 {
		buf := mbuffer.New(4096)
		w.data = append(w.data, buf)
	}
	buf := w.data[len(w.data)-1]
	if !exclusive {
		w.mu.Unlock()
	}
	// exclusive holds the lock until UnlockBuf releases it.
	return buf
}

// UnlockBuf releases an exclusive hold acquired via GetWriteBuf(true).
func (w *Writer) UnlockBuf() {
	w.cond.Signal()
	w.mu.Unlock()
}

// Close requests a drain-to-completion and blocks until the background
// worker has flushed the queue (or hit a terminal sink error) and exited.
// There is no abortive close (spec §5 "Cancellation").
func (w *Writer) Close() error {
	w.mu.Lock()
	if State(w.state.Load()) == StateClosed {
		w.mu.Unlock()
		return nil
	}
	w.state.Store(int32(StateDraining))
	w.cond.Broadcast()
	w.mu.Unlock()

	w.drainWg.Wait()
	return w.sink.Close()
}

// drainLoop is the sole consumer of the queue: it dequeues the front
// buffer (meta lane first whenever non-empty), writes it to the sink
// outside the lock, and retries partial writes by retaining the
// unwritten suffix at the front of the queue (spec's "Drain algorithm").
func (w *Writer) drainLoop() {
	defer w.drainWg.Done()
	ctx := context.Background()

	for {
		w.mu.Lock()
		for w.meta.Length() == 0 && len(w.data) == 0 && State(w.state.Load()) == StateRunning {
			w.cond.Wait()
		}

		shuttingDown := State(w.state.Load()) != StateRunning
		if w.meta.Length() == 0 && len(w.data) == 0 && shuttingDown {
			w.mu.Unlock()
			w.state.Store(int32(StateClosed))
			return
		}

		var buf *mbuffer.Buffer
		var header []byte
		isMeta := false
		if w.meta.Length() > 0 {
			buf = w.meta
			isMeta = true
			// The meta buffer IS the header; don't re-offer it as its own
			// prefix, or every Stream's "send header once, before data"
			// special case would write it to the sink twice back-to-back.
		} else {
			buf = w.data[0]
			header = w.metaBody
		}
		w.mu.Unlock()

		payload := append([]byte{}, buf.Unread()...)
		n, err := w.sink.Write(ctx, header, payload)

		w.mu.Lock()
		switch {
		case err != nil:
			// Permanent write failure: discard the element so the queue keeps
			// making progress rather than retrying forever against a dead sink.
			w.metrics.DrainErrorsTotal.Inc()
			w.logger.Warn("writer: drain write failed, discarding element",
				"meta", isMeta, "bytes", len(payload), "error", err)
			if isMeta {
				w.meta.Reset()
			} else {
				w.dataLen -= buf.Length()
				w.data = w.data[1:]
				w.metrics.QueueBytes.Set(float64(w.dataLen))
			}
		case n < len(payload):
			buf.MarkFlushed(n)
			if !isMeta {
				w.dataLen -= n
				w.metrics.QueueBytes.Set(float64(w.dataLen))
			}
			// Partial write: leave at the front of its lane for a retry.
		default:
			buf.MarkFlushed(n)
			if isMeta {
				w.meta.Reset()
			} else {
				w.dataLen -= buf.Length()
				w.data = w.data[1:]
				w.metrics.QueueBytes.Set(float64(w.dataLen))
			}
		}
		w.mu.Unlock()
	}
}
