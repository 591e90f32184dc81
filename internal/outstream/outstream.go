// Package outstream implements the collector's sink abstraction (spec
// §4.3): the pluggable destination a BufferedWriter drains into. Network,
// file, and compressing sinks all share one small interface so the writer
// never needs to know which kind it's holding.
package outstream

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/tuplestream/collector/internal/uri"
)

// Stream is the sink capability the buffered writer drains into.
// Write is handed the data to persist and the current meta/header preface
// on every call (spec §4.1's "header re-sending"), so a sink that
// reconnects or re-frames its output (gzip) can re-emit the preface after
// a fault without the writer needing to know that happened.
type Stream interface {
	Write(ctx context.Context, header, data []byte) (int, error)
	Close() error
}

// Open dials or opens the sink named by dest. addr is the host:port to dial
// for "tcp"/"udp" destinations — callers typically build it from dest.Host
// and dest.Service resolved via uri.ResolveService. File destinations
// ignore addr and open dest.Host.
func Open(ctx context.Context, dest uri.Destination, addr string) (Stream, error) {
	switch {
	case dest.Scheme == "udp":
		return DialUDP(ctx, addr)
	case dest.Scheme == "flush":
		return OpenFile(dest.Host, true)
	case dest.Scheme == "file":
		return OpenFile(dest.Host, false)
	default: // tcp, or unknown-scheme-defaulted-to-tcp
		return DialTCP(ctx, addr)
	}
}

// TCPStream writes to a connected TCP socket. The meta header is written
// once, on the first Write call — TCP is a byte stream, so the preface
// only needs to be sent once per connection. A future reconnecting
// implementation would reset sentPreface on redial so the header gets
// re-emitted, per spec §4.1's "header re-sending".
type TCPStream struct {
	conn        net.Conn
	mu          sync.Mutex
	sentPreface bool
}

// DialTCP connects to addr and returns a Stream wrapping the connection.
func DialTCP(ctx context.Context, addr string) (*TCPStream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("outstream: dial tcp %s: %w", addr, err)
	}
	return &TCPStream{conn: conn}, nil
}

func (s *TCPStream) Write(_ context.Context, header, data []byte) (int, error) {
	s.mu.Lock()
	sendHeader := !s.sentPreface && len(header) > 0
	s.sentPreface = true
	s.mu.Unlock()

	if sendHeader {
		if _, err := s.conn.Write(header); err != nil {
			return 0, fmt.Errorf("outstream: tcp write header: %w", err)
		}
	}
	n, err := s.conn.Write(data)
	if err != nil {
		return n, fmt.Errorf("outstream: tcp write: %w", err)
	}
	return n, nil
}

func (s *TCPStream) Close() error { return s.conn.Close() }

// UDPStream writes each flush as a single datagram. header is prepended to
// the first datagram only (there is no persistent connection to re-frame),
// matching the spirit of a one-shot preface for connectionless sinks.
type UDPStream struct {
	conn        net.Conn
	mu          sync.Mutex
	sentPreface bool
}

// DialUDP connects a UDP socket to addr.
func DialUDP(ctx context.Context, addr string) (*UDPStream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("outstream: dial udp %s: %w", addr, err)
	}
	return &UDPStream{conn: conn}, nil
}

func (s *UDPStream) Write(_ context.Context, header, data []byte) (int, error) {
	s.mu.Lock()
	sendHeader := !s.sentPreface && len(header) > 0
	s.sentPreface = true
	s.mu.Unlock()

	payload := data
	if sendHeader {
		payload = append(append([]byte{}, header...), data...)
	}
	n, err := s.conn.Write(payload)
	if err != nil {
		return 0, fmt.Errorf("outstream: udp write: %w", err)
	}
	if sendHeader {
		n -= len(header)
	}
	return n, nil
}

func (s *UDPStream) Close() error { return s.conn.Close() }

// FileStream appends to a local file, optionally fsyncing after every
// write (the "flush" scheme from spec §3: "file but fsync per record").
type FileStream struct {
	f           *os.File
	flush       bool
	mu          sync.Mutex
	sentPreface bool
}

// OpenFile opens path for appending, creating it if necessary.
func OpenFile(path string, flush bool) (*FileStream, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("outstream: open file %s: %w", path, err)
	}
	return &FileStream{f: f, flush: flush}, nil
}

func (s *FileStream) Write(_ context.Context, header, data []byte) (int, error) {
	s.mu.Lock()
	sendHeader := !s.sentPreface && len(header) > 0
	s.sentPreface = true
	s.mu.Unlock()

	if sendHeader {
		if _, err := s.f.Write(header); err != nil {
			return 0, fmt.Errorf("outstream: file write header: %w", err)
		}
	}
	n, err := s.f.Write(data)
	if err != nil {
		return n, fmt.Errorf("outstream: file write: %w", err)
	}
	if s.flush {
		if err := s.f.Sync(); err != nil {
			return n, fmt.Errorf("outstream: file fsync: %w", err)
		}
	}
	return n, nil
}

func (s *FileStream) Close() error { return s.f.Close() }
