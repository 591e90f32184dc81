package outstream_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuplestream/collector/internal/outstream"
)

func TestFileStreamWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.dat")

	fs, err := outstream.OpenFile(path, false)
	require.NoError(t, err)

	_, err = fs.Write(context.Background(), []byte("HEADER"), []byte("a"))
	require.NoError(t, err)
	_, err = fs.Write(context.Background(), []byte("HEADER"), []byte("b"))
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "HEADERab", string(got))
}

// TestFileStreamHeaderEqualToPayloadIsWrittenTwice documents why callers
// (writer.go's drainLoop) must never pass the same bytes as both header and
// data on one call: Stream implementations have no way to tell "this is the
// preface, already reflected in data" from "this is a genuine resend", so
// they write both arguments in full.
func TestFileStreamHeaderEqualToPayloadIsWrittenTwice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dup.dat")

	fs, err := outstream.OpenFile(path, false)
	require.NoError(t, err)

	_, err = fs.Write(context.Background(), []byte("PREFACE"), []byte("PREFACE"))
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PREFACEPREFACE", string(got))
}

func TestFileStreamFlushModeSyncsEveryWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flush.dat")

	fs, err := outstream.OpenFile(path, true)
	require.NoError(t, err)
	_, err = fs.Write(context.Background(), nil, []byte("record"))
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "record", string(got))
}

func TestTCPStreamRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		n, _ := io.ReadFull(conn, buf[:len("HELLOworld")])
		received <- buf[:n]
	}()

	s, err := outstream.DialTCP(context.Background(), ln.Addr().String())
	require.NoError(t, err)

	_, err = s.Write(context.Background(), []byte("HELLO"), []byte("world"))
	require.NoError(t, err)

	got := <-received
	assert.Equal(t, "HELLOworld", string(got))
	require.NoError(t, s.Close())
}

type recordingStream struct {
	writes [][]byte
	closed bool
}

func (r *recordingStream) Write(_ context.Context, header, data []byte) (int, error) {
	buf := append([]byte{}, header...)
	buf = append(buf, data...)
	r.writes = append(r.writes, buf)
	return len(data), nil
}
func (r *recordingStream) Close() error { r.closed = true; return nil }

func TestGzipStreamHeaderPassthroughThenCompresses(t *testing.T) {
	inner := &recordingStream{}
	gzStream := outstream.NewGzipStream(inner)

	_, err := gzStream.Write(context.Background(), []byte("PREFACE"), []byte("payload-one"))
	require.NoError(t, err)
	_, err = gzStream.Write(context.Background(), []byte("PREFACE"), []byte("payload-two"))
	require.NoError(t, err)
	require.NoError(t, gzStream.Close())

	require.True(t, len(inner.writes) >= 3) // header passthrough + 2 compressed chunks
	assert.Equal(t, "PREFACE", string(inner.writes[0]))

	var all bytes.Buffer
	for _, w := range inner.writes[1:] {
		all.Write(w)
	}
	zr, err := gzip.NewReader(&all)
	require.NoError(t, err)
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "payload-onepayload-two", string(decoded))
}

func TestResyncFindsGzipHeader(t *testing.T) {
	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	_, _ = zw.Write([]byte("hello"))
	_ = zw.Close()

	garbage := append([]byte("garbage-prefix-"), compressed.Bytes()...)

	r, err := outstream.Resync(bytes.NewReader(garbage))
	require.NoError(t, err)
	zr, err := gzip.NewReader(r)
	require.NoError(t, err)
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(decoded))
}

func TestResyncFindsEmptyBlockMarkerWhenEarlier(t *testing.T) {
	marker := []byte{0x00, 0x00, 0xff, 0xff}
	data := append(append([]byte("junk"), marker...), []byte("rest-of-stream")...)

	r, err := outstream.Resync(bytes.NewReader(data))
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, append(marker, []byte("rest-of-stream")...), got)
}

func TestResyncErrorsWhenNoMarkerFound(t *testing.T) {
	_, err := outstream.Resync(bytes.NewReader([]byte("no markers here")))
	require.Error(t, err)
}
