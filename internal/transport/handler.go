package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"dirpush/internal/config"
	"dirpush/internal/payload"
	"dirpush/internal/protocol"
	"dirpush/internal/telemetry"
	"dirpush/pkg/types"
)

// ErrPersist indicates a disk-level failure while writing a received
// file. Like a checksum mismatch, it is recoverable per-file under the
// skip policy.
var ErrPersist = errors.New("transport: persist failed")

// Handler owns one inbound connection end-to-end. It loops reading
// frames, verifies and decompresses each, and persists it beneath the
// root directory until the sentinel or disconnection. Handlers share
// nothing mutable; one listener spawns an independent Handler per
// accepted connection.
type Handler struct {
	root        string // absolute, pre-resolved; never changes per connection
	policy      config.ErrorPolicy
	readTimeout time.Duration
	events      telemetry.Events
}

// NewHandler creates a handler writing beneath root, which must be an
// absolute path. events may be nil for no telemetry.
func NewHandler(root string, policy config.ErrorPolicy, readTimeout time.Duration, events telemetry.Events) *Handler {
	if events == nil {
		events = telemetry.Nop{}
	}
	return &Handler{
		root:        root,
		policy:      policy,
		readTimeout: readTimeout,
		events:      events,
	}
}

// Serve processes one connection until the sentinel, a clean
// disconnect, or a fatal transport error. The connection is closed on
// every exit path. The returned error is nil for a clean end of
// session; it never reflects per-file conditions that the skip policy
// already handled.
func (h *Handler) Serve(conn net.Conn) error {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	h.events.SessionStarted(remote)

	r := bufio.NewReader(&idleReader{conn: conn, timeout: h.readTimeout})
	files := 0
	var fatal error

loop:
	for {
		hdr, err := protocol.ReadHeader(r)
		switch {
		case err == io.EOF:
			// Disconnect at a frame boundary is normal termination.
			break loop
		case err != nil:
			fatal = fmt.Errorf("read frame header: %w", err)
			break loop
		case hdr.Sentinel():
			break loop
		}

		err = h.receiveFile(r, hdr)
		if err == nil {
			files++
			continue
		}
		if !recoverable(err) {
			fatal = err
			break
		}
		if h.policy == config.PolicyAbort {
			fatal = fmt.Errorf("aborting connection on per-file error: %w", err)
			break
		}
	}

	h.events.SessionEnded(remote, files, fatal)
	return fatal
}

// receiveFile reads, verifies and persists a single frame's payload.
// Recoverable failures (mismatch, path violation, disk error) are
// reported through telemetry before being returned; the payload has
// been fully consumed either way, so the stream stays framed.
func (h *Handler) receiveFile(r io.Reader, hdr protocol.Header) error {
	var buf bytes.Buffer
	if err := protocol.CopyPayload(&buf, r, hdr.Size); err != nil {
		return err
	}

	rec := types.FileRecord{
		RelPath:        hdr.Path,
		CompressedSize: hdr.Size,
		Checksum:       hdr.Checksum,
	}

	// Verify before decompressing: the inflater only ever sees bytes
	// that hashed to the declared digest.
	if err := payload.Verify(buf.Bytes(), hdr.Checksum); err != nil {
		h.events.FileRejected(rec, err.Error())
		return err
	}

	target, err := ResolveTarget(h.root, hdr.Path)
	if err != nil {
		h.events.FileRejected(rec, err.Error())
		return err
	}

	if err := h.persist(target, buf.Bytes(), &rec); err != nil {
		h.events.FileRejected(rec, err.Error())
		return err
	}

	h.events.FileReceived(rec, target)
	return nil
}

// persist decompresses verified bytes into the resolved target,
// creating parent directories as needed. A failed write removes the
// partial file.
func (h *Handler) persist(target string, compressed []byte, rec *types.FileRecord) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: create parent directories for %s: %v", ErrPersist, target, err)
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrPersist, target, err)
	}

	n, err := payload.Decompress(compressed, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(target)
		return fmt.Errorf("%w: write %s: %v", ErrPersist, target, err)
	}

	rec.OriginalSize = n
	return nil
}

// recoverable reports whether err is a per-file condition the skip
// policy may swallow, as opposed to a fatal transport error.
func recoverable(err error) bool {
	return errors.Is(err, payload.ErrChecksumMismatch) ||
		errors.Is(err, ErrPathViolation) ||
		errors.Is(err, ErrPersist)
}

// idleReader bounds how long a slow or stalled client can hold the
// connection: the read deadline is refreshed before every read.
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	if r.timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			return 0, err
		}
	}
	return r.conn.Read(p)
}
