package outstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"sync"
)

// gzipHeaderMagic is the two-byte gzip magic number (RFC 1952 §2.3.1).
var gzipHeaderMagic = []byte{0x1f, 0x8b}

// emptyDeflateBlock is the byte sequence zlib emits for Z_SYNC_FLUSH with
// no pending data: an empty stored deflate block. The collector's resync
// scanner treats it as an alternate recovery point to a gzip header,
// per spec §9's resolution of the original TODO.
var emptyDeflateBlock = []byte{0x00, 0x00, 0xff, 0xff}

// GzipStream wraps another Stream, compressing every data payload written
// to it. On the first Write, the header is passed through to the inner
// stream uncompressed — so the inner stream (or a human inspecting the
// file) can read the plain-text preface — ahead of that call's compressed
// data; headers passed to later Writes are not written (spec §4.3).
type GzipStream struct {
	inner Stream

	mu       sync.Mutex
	gz       *gzip.Writer
	buf      bytes.Buffer
	switched bool
}

// NewGzipStream wraps inner in a compressing decorator.
func NewGzipStream(inner Stream) *GzipStream {
	return &GzipStream{inner: inner}
}

func (s *GzipStream) Write(ctx context.Context, header, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.switched {
		if len(header) > 0 {
			if _, err := s.inner.Write(ctx, nil, header); err != nil {
				return 0, fmt.Errorf("outstream: gzip header passthrough: %w", err)
			}
		}
		s.gz = gzip.NewWriter(&s.buf)
		s.switched = true
	}

	s.buf.Reset()
	n, err := s.gz.Write(data)
	if err != nil {
		return 0, fmt.Errorf("outstream: gzip compress: %w", err)
	}
	if err := s.gz.Flush(); err != nil {
		return 0, fmt.Errorf("outstream: gzip flush: %w", err)
	}
	if _, err := s.inner.Write(ctx, nil, s.buf.Bytes()); err != nil {
		return 0, fmt.Errorf("outstream: gzip inner write: %w", err)
	}
	return n, nil
}

// Close finishes the deflate stream (emitting the gzip trailer) and closes
// the inner stream.
func (s *GzipStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gz != nil {
		s.buf.Reset()
		if err := s.gz.Close(); err != nil {
			return fmt.Errorf("outstream: gzip finish: %w", err)
		}
		if s.buf.Len() > 0 {
			if _, err := s.inner.Write(context.Background(), nil, s.buf.Bytes()); err != nil {
				return fmt.Errorf("outstream: gzip final write: %w", err)
			}
		}
	}
	return s.inner.Close()
}

// Resync scans r for the earliest occurrence of either the gzip header
// magic (1F 8B) or the empty-deflate-block marker (00 00 FF FF), whichever
// appears first, and returns a reader positioned at that point. Used by
// offline tooling to recover a readable stream from a corrupted or
// truncated compressed capture (spec §4.3, §9).
func Resync(r io.Reader) (io.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("outstream: resync read: %w", err)
	}

	headerIdx := bytes.Index(data, gzipHeaderMagic)
	blockIdx := bytes.Index(data, emptyDeflateBlock)

	switch {
	case headerIdx < 0 && blockIdx < 0:
		return nil, fmt.Errorf("outstream: resync: no gzip header or empty-block marker found")
	case headerIdx < 0:
		return bytes.NewReader(data[blockIdx:]), nil
	case blockIdx < 0:
		return bytes.NewReader(data[headerIdx:]), nil
	case headerIdx <= blockIdx:
		return bytes.NewReader(data[headerIdx:]), nil
	default:
		return bytes.NewReader(data[blockIdx:]), nil
	}
}
