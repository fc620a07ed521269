// Package payload compresses file contents for the wire and verifies
// their integrity on receipt. The checksum is always computed over the
// compressed bytes, so a receiver verifies before it ever feeds data to
// the decompressor.
package payload

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// DefaultCompressionLevel is used when the configuration does not set one.
const DefaultCompressionLevel = gzip.DefaultCompression

// ErrChecksumMismatch indicates the received payload does not hash to
// the digest the sender declared. This is a per-file condition, not a
// connection-fatal one.
var ErrChecksumMismatch = errors.New("payload: checksum mismatch")

// ChecksumError carries the expected and actual digests of a failed
// verification. It unwraps to ErrChecksumMismatch.
type ChecksumError struct {
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("payload: checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// Encoded is the result of compressing one file: the bytes that go on
// the wire plus the digest that frames them.
type Encoded struct {
	Data         []byte
	Checksum     string // lower-case hex SHA-256 of Data
	OriginalSize int64
}

// Encode streams r through a gzip writer, hashing the compressed output
// as it is produced. The source is read once and never buffered
// uncompressed.
func Encode(r io.Reader, level int) (*Encoded, error) {
	var buf bytes.Buffer
	hash := sha256.New()

	gz, err := gzip.NewWriterLevel(io.MultiWriter(&buf, hash), level)
	if err != nil {
		return nil, fmt.Errorf("create gzip writer: %w", err)
	}

	n, err := io.Copy(gz, r)
	if err != nil {
		gz.Close()
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("flush gzip stream: %w", err)
	}

	return &Encoded{
		Data:         buf.Bytes(),
		Checksum:     hex.EncodeToString(hash.Sum(nil)),
		OriginalSize: n,
	}, nil
}

// Digest returns the lower-case hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of the compressed bytes and compares it
// to the one the sender declared. On mismatch it returns a
// *ChecksumError; the caller must not decompress the data.
func Verify(data []byte, expected string) error {
	actual := Digest(data)
	if actual != expected {
		return &ChecksumError{Expected: expected, Actual: actual}
	}
	return nil
}

// Decompress inflates verified compressed bytes into w and returns the
// number of decompressed bytes written. Callers verify first;
// decompression trusts its input.
func Decompress(data []byte, w io.Writer) (int64, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("open gzip stream: %w", err)
	}

	n, err := io.Copy(w, gz)
	if err != nil {
		gz.Close()
		return n, fmt.Errorf("decompress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return n, fmt.Errorf("close gzip stream: %w", err)
	}
	return n, nil
}
