package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"os"

	"dirpush/internal/payload"
	"dirpush/internal/protocol"
	"dirpush/internal/telemetry"
	"dirpush/pkg/types"
)

// Session owns one outbound connection. For each file it compresses,
// checksums, frames, and writes; Finish emits the end-of-session
// sentinel. A session is not safe for concurrent use and does not
// retry: the first write failure poisons the whole run and the caller
// decides whether to start a fresh session.
type Session struct {
	conn     net.Conn
	w        *bufio.Writer
	level    int
	events   telemetry.Events
	progress func(types.ProgressUpdate)
}

// NewSession wraps an established connection. level is the gzip
// compression level; events may be nil for no telemetry.
func NewSession(conn net.Conn, level int, events telemetry.Events) *Session {
	if events == nil {
		events = telemetry.Nop{}
	}
	return &Session{
		conn:   conn,
		w:      bufio.NewWriter(conn),
		level:  level,
		events: events,
	}
}

// OnProgress installs a callback invoked after each payload chunk hits
// the wire. Used by the UI; the protocol does not depend on it.
func (s *Session) OnProgress(fn func(types.ProgressUpdate)) {
	s.progress = fn
}

// SendFile compresses and transmits one file. Compression and hashing
// complete before the first header byte is written, so an encode
// failure never leaves a partial frame on the wire.
func (s *Session) SendFile(absPath, relPath string) (types.FileRecord, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return types.FileRecord{}, fmt.Errorf("open %s: %w", absPath, err)
	}
	defer f.Close()

	enc, err := payload.Encode(f, s.level)
	if err != nil {
		return types.FileRecord{}, fmt.Errorf("encode %s: %w", relPath, err)
	}

	rec := types.FileRecord{
		RelPath:        relPath,
		OriginalSize:   enc.OriginalSize,
		CompressedSize: int64(len(enc.Data)),
		Checksum:       enc.Checksum,
	}

	hdr := protocol.Header{
		Checksum: rec.Checksum,
		Path:     rec.RelPath,
		Size:     rec.CompressedSize,
	}
	if err := protocol.WriteHeader(s.w, hdr); err != nil {
		return rec, fmt.Errorf("write header for %s: %w", relPath, err)
	}

	if err := s.writePayload(enc.Data); err != nil {
		return rec, fmt.Errorf("write payload for %s: %w", relPath, err)
	}
	if err := s.w.Flush(); err != nil {
		return rec, fmt.Errorf("flush %s: %w", relPath, err)
	}

	s.events.FileSent(rec)
	return rec, nil
}

// writePayload streams the compressed bytes in protocol-sized chunks,
// reporting progress after each one.
func (s *Session) writePayload(data []byte) error {
	total := uint64(len(data))
	r := bytes.NewReader(data)
	buf := make([]byte, protocol.CopyBufferSize)
	var sent uint64

	for sent < total {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := s.w.Write(buf[:n]); werr != nil {
				return werr
			}
			sent += uint64(n)
			if s.progress != nil {
				s.progress(types.ProgressUpdate{BytesSent: sent, TotalBytes: total})
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Finish writes the sentinel frame and flushes it. The connection is
// still open afterwards; callers Close when done.
func (s *Session) Finish() error {
	if err := protocol.WriteSentinel(s.w); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush sentinel: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
