package writer_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuplestream/collector/internal/writer"
)

// fakeSink mimics the real Stream implementations' preface latch: header is
// written at most once, on whichever call happens first, and every call's
// data is appended to one running byte stream — not recorded as a separate
// slice per call — so a test can assert on the exact bytes the wire would
// see instead of on writer.go's internal call shape.
type fakeSink struct {
	mu          sync.Mutex
	sent        []byte
	sentPreface bool
	writeCount  int
	failing     bool
	closed      bool
}

func (f *fakeSink) Write(_ context.Context, header, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return 0, errors.New("sink unavailable")
	}
	f.writeCount++
	if !f.sentPreface {
		f.sent = append(f.sent, header...)
		f.sentPreface = true
	}
	f.sent = append(f.sent, data...)
	return len(data), nil
}

func (f *fakeSink) Close() error { f.closed = true; return nil }

func (f *fakeSink) snapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte{}, f.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPushMetaThenDataDrainsMetaFirst(t *testing.T) {
	sink := &fakeSink{}
	w := writer.New(sink, 1024, nil, nil)
	defer w.Close()

	_, err := w.PushMeta([]byte("PREFACE"))
	require.NoError(t, err)
	_, err = w.Push([]byte("record-one"))
	require.NoError(t, err)

	waitFor(t, func() bool {
		return len(sink.snapshot()) > 0
	})

	require.NoError(t, w.Close())
	assert.Equal(t, "PREFACErecord-one", string(sink.snapshot()))
}

// TestMetaFlushDoesNotDuplicatePreface guards spec §8's sink-concatenation
// invariant: the preface must appear exactly once at the head of the
// stream, even though the meta lane's own flush call and every subsequent
// data-lane call both pass the current meta body to the sink.
func TestMetaFlushDoesNotDuplicatePreface(t *testing.T) {
	sink := &fakeSink{}
	w := writer.New(sink, 1024, nil, nil)
	defer w.Close()

	_, err := w.PushMeta([]byte("PREFACE"))
	require.NoError(t, err)
	_, err = w.Push([]byte("a"))
	require.NoError(t, err)
	_, err = w.Push([]byte("b"))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.Equal(t, "PREFACEab", string(sink.snapshot()))
	assert.Equal(t, 1, strings.Count(string(sink.snapshot()), "PREFACE"))
}

func TestPushExceedingCapacityDropsOldest(t *testing.T) {
	sink := &fakeSink{failing: true}
	w := writer.New(sink, 10, nil, nil)
	defer w.Close()

	n, err := w.Push([]byte("01234"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = w.Push([]byte("5678901234"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestPushLargerThanCapacityTruncates(t *testing.T) {
	sink := &fakeSink{failing: true}
	w := writer.New(sink, 4, nil, nil)
	defer w.Close()

	n, err := w.Push([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestZeroLengthPushIsNoop(t *testing.T) {
	sink := &fakeSink{}
	w := writer.New(sink, 16, nil, nil)
	defer w.Close()

	n, err := w.Push(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCloseDrainsToCompletion(t *testing.T) {
	sink := &fakeSink{}
	w := writer.New(sink, 1024, nil, nil)

	for i := 0; i < 5; i++ {
		_, err := w.Push([]byte("x"))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())
	assert.Equal(t, writer.StateClosed, w.State())
	assert.True(t, sink.closed)
}

func TestPushAfterCloseReturnsErrClosed(t *testing.T) {
	sink := &fakeSink{}
	w := writer.New(sink, 16, nil, nil)
	require.NoError(t, w.Close())

	_, err := w.Push([]byte("late"))
	assert.ErrorIs(t, err, writer.ErrClosed)
}
