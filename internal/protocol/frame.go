// Package protocol defines the on-wire layout of one file transfer
// unit and the end-of-session sentinel. It is pure encode/decode logic
// over io.Reader/io.Writer; it performs no network or file I/O of its
// own.
//
// Wire layout per frame, in order:
//
//	checksum : uint16 big-endian length + UTF-8 bytes (64 lower-case hex chars)
//	path     : uint16 big-endian length + UTF-8 bytes ("" marks end of session)
//	size     : int64 big-endian (bytes of compressed payload)
//	payload  : exactly size bytes
//
// The sentinel frame carries an empty checksum and an empty path and no
// further fields.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ChecksumHexLen is the length of a SHA-256 digest rendered as lower-case hex.
const ChecksumHexLen = 64

// MaxPathLen bounds the relative path field to keep a hostile peer from
// forcing large allocations before validation has seen the path.
const MaxPathLen = 4096

// CopyBufferSize is the chunk size used when moving payload bytes
// between the wire and payload buffers.
const CopyBufferSize = 8 * 1024

var (
	// ErrMalformedFrame indicates the stream ended or was corrupted
	// mid-frame; framing is unrecoverable for that connection.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrChecksumFormat indicates a checksum field that is not a
	// 64-character lower-case hex string.
	ErrChecksumFormat = errors.New("protocol: invalid checksum format")

	// ErrPathTooLong indicates a relative path field over MaxPathLen bytes.
	ErrPathTooLong = errors.New("protocol: path too long")

	// ErrNegativeSize indicates a frame declaring a negative payload length.
	ErrNegativeSize = errors.New("protocol: negative payload size")
)

// Header is the decoded fixed part of one frame: everything except the
// payload bytes.
type Header struct {
	Checksum string
	Path     string
	Size     int64
}

// Sentinel reports whether this header marks the clean end of a session.
func (h Header) Sentinel() bool {
	return h.Path == ""
}

// WriteHeader writes the checksum, path and size fields of one file frame.
func WriteHeader(w io.Writer, h Header) error {
	if err := validChecksum(h.Checksum); err != nil {
		return err
	}
	if h.Path == "" {
		return fmt.Errorf("protocol: file frame requires a non-empty path")
	}
	if len(h.Path) > MaxPathLen {
		return ErrPathTooLong
	}
	if h.Size < 0 {
		return ErrNegativeSize
	}

	if err := writeString(w, h.Checksum); err != nil {
		return err
	}
	if err := writeString(w, h.Path); err != nil {
		return err
	}
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(h.Size))
	if _, err := w.Write(size[:]); err != nil {
		return fmt.Errorf("write payload size: %w", err)
	}
	return nil
}

// WriteSentinel writes the end-of-session marker: an empty checksum
// followed by an empty path. No size or payload fields follow.
func WriteSentinel(w io.Writer) error {
	if err := writeString(w, ""); err != nil {
		return err
	}
	return writeString(w, "")
}

// ReadHeader reads the fixed part of the next frame.
//
// A clean end of stream before any header byte is reported as io.EOF so
// callers can treat disconnection at a frame boundary as normal
// termination. End of stream anywhere inside the header is reported as
// ErrMalformedFrame. When the path field is empty the returned header
// is the sentinel and no size field is consumed.
func ReadHeader(r io.Reader) (Header, error) {
	checksum, err := readString(r, ChecksumHexLen, ErrChecksumFormat, true)
	if err != nil {
		return Header{}, err
	}

	path, err := readString(r, MaxPathLen, ErrPathTooLong, false)
	if err != nil {
		return Header{}, err
	}
	if path == "" {
		// Sentinel: decoding stops here, the checksum field is unused.
		return Header{Path: ""}, nil
	}

	if err := validChecksum(checksum); err != nil {
		return Header{}, err
	}

	var size [8]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return Header{}, fmt.Errorf("%w: reading payload size: %v", ErrMalformedFrame, err)
	}
	n := int64(binary.BigEndian.Uint64(size[:]))
	if n < 0 {
		return Header{}, ErrNegativeSize
	}

	return Header{Checksum: checksum, Path: path, Size: n}, nil
}

// CopyPayload moves exactly size payload bytes from src to dst in
// CopyBufferSize chunks. A short read is a fatal framing error: the
// declared byte count must be satisfied even if the transport fragments
// delivery.
func CopyPayload(dst io.Writer, src io.Reader, size int64) error {
	buf := make([]byte, CopyBufferSize)
	remaining := size
	for remaining > 0 {
		chunk := int64(len(buf))
		if remaining < chunk {
			chunk = remaining
		}
		n, err := io.ReadFull(src, buf[:chunk])
		if err != nil {
			return fmt.Errorf("%w: payload short by %d bytes: %v", ErrMalformedFrame, remaining, err)
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
		remaining -= int64(n)
	}
	return nil
}

// writeString writes a uint16 big-endian length prefix followed by the
// UTF-8 bytes of s.
func writeString(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return ErrPathTooLong
	}
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(s)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if len(s) == 0 {
		return nil
	}
	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("write string field: %w", err)
	}
	return nil
}

// readString reads one length-prefixed string, never consuming bytes
// past the declared length. Declared lengths over maxLen fail with
// tooLong. When atBoundary is set, a clean EOF before the first prefix
// byte is passed through as io.EOF.
func readString(r io.Reader, maxLen int, tooLong error, atBoundary bool) (string, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if atBoundary && err == io.EOF {
			return "", io.EOF
		}
		return "", fmt.Errorf("%w: reading length prefix: %v", ErrMalformedFrame, err)
	}
	n := int(binary.BigEndian.Uint16(prefix[:]))
	if n == 0 {
		return "", nil
	}
	if n > maxLen {
		return "", tooLong
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: reading string field: %v", ErrMalformedFrame, err)
	}
	return string(buf), nil
}

// validChecksum verifies a 64-character lower-case hex digest.
func validChecksum(s string) error {
	if len(s) != ChecksumHexLen {
		return ErrChecksumFormat
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ErrChecksumFormat
		}
	}
	return nil
}
