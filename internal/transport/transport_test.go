package transport

import (
	"bytes"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirpush/internal/config"
	"dirpush/internal/payload"
	"dirpush/internal/protocol"
	"dirpush/internal/telemetry"
	"dirpush/pkg/types"
)

// recorder captures telemetry events for assertions.
type recorder struct {
	mu       sync.Mutex
	started  int
	ended    int
	received []types.FileRecord
	rejected []string // rejection reasons
	sent     []types.FileRecord
}

func (r *recorder) SessionStarted(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recorder) SessionEnded(string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended++
}

func (r *recorder) FileSent(rec types.FileRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, rec)
}

func (r *recorder) FileReceived(rec types.FileRecord, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, rec)
}

func (r *recorder) FileRejected(_ types.FileRecord, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, reason)
}

// startHandler wires a handler to one end of an in-memory pipe and
// serves it in the background.
func startHandler(t *testing.T, root string, policy config.ErrorPolicy, events *recorder) (net.Conn, <-chan error) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	var ev telemetry.Events
	if events != nil {
		ev = events
	}
	h := NewHandler(root, policy, 5*time.Second, ev)

	errCh := make(chan error, 1)
	go func() { errCh <- h.Serve(server) }()
	return client, errCh
}

func waitServe(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("handler did not terminate")
		return nil
	}
}

func TestEmptySessionSentinelOnly(t *testing.T) {
	root := t.TempDir()
	events := &recorder{}
	conn, errCh := startHandler(t, root, config.PolicySkip, events)

	sess := NewSession(conn, gzip.DefaultCompression, nil)
	require.NoError(t, sess.Finish())

	require.NoError(t, waitServe(t, errCh))
	assert.Equal(t, 1, events.started)
	assert.Equal(t, 1, events.ended)
	assert.Empty(t, events.received)
}

func TestMultiFileSession(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()
	contents := map[string]string{
		"top.txt":        "first file",
		"a/nested.txt":   "second file, a bit longer",
		"a/b/deep.txt":   "third",
		"a/b/empty.乱码":   "", // zero-byte file with a non-ASCII name
		"c/last file.md": "path with a space",
	}
	for rel, body := range contents {
		writeFile(t, srcRoot, rel, body)
	}

	events := &recorder{}
	conn, errCh := startHandler(t, dstRoot, config.PolicySkip, events)

	sess := NewSession(conn, gzip.DefaultCompression, events)
	files, err := DiscoverFiles(srcRoot)
	require.NoError(t, err)
	require.Len(t, files, len(contents))

	for _, f := range files {
		rec, err := sess.SendFile(f.AbsPath, f.RelPath)
		require.NoError(t, err)
		assert.Equal(t, int64(len(contents[f.RelPath])), rec.OriginalSize)
	}
	require.NoError(t, sess.Finish())
	require.NoError(t, waitServe(t, errCh))

	for rel, body := range contents {
		got, err := os.ReadFile(filepath.Join(dstRoot, filepath.FromSlash(rel)))
		require.NoError(t, err, "missing %s", rel)
		assert.Equal(t, body, string(got), "content mismatch for %s", rel)
	}
	assert.Len(t, events.received, len(contents))
	assert.Len(t, events.sent, len(contents))
	assert.Empty(t, events.rejected)
}

func TestCorruptedPayloadSkipped(t *testing.T) {
	dstRoot := t.TempDir()
	events := &recorder{}
	conn, errCh := startHandler(t, dstRoot, config.PolicySkip, events)

	// A frame whose payload was flipped after hashing.
	enc, err := payload.Encode(bytes.NewReader([]byte("soon to be corrupted")), gzip.DefaultCompression)
	require.NoError(t, err)
	corrupted := append([]byte(nil), enc.Data...)
	corrupted[len(corrupted)/2] ^= 0x01

	require.NoError(t, protocol.WriteHeader(conn, protocol.Header{
		Checksum: enc.Checksum,
		Path:     "bad.txt",
		Size:     int64(len(corrupted)),
	}))
	_, err = conn.Write(corrupted)
	require.NoError(t, err)

	// A healthy frame on the same connection must still land.
	good, err := payload.Encode(bytes.NewReader([]byte("still fine")), gzip.DefaultCompression)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteHeader(conn, protocol.Header{
		Checksum: good.Checksum,
		Path:     "good.txt",
		Size:     int64(len(good.Data)),
	}))
	_, err = conn.Write(good.Data)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteSentinel(conn))

	require.NoError(t, waitServe(t, errCh))

	_, err = os.Stat(filepath.Join(dstRoot, "bad.txt"))
	assert.True(t, os.IsNotExist(err), "corrupted file must not be written")

	got, err := os.ReadFile(filepath.Join(dstRoot, "good.txt"))
	require.NoError(t, err)
	assert.Equal(t, "still fine", string(got))

	require.Len(t, events.rejected, 1)
	assert.Contains(t, events.rejected[0], "expected "+enc.Checksum)
}

func TestCorruptedPayloadAbortPolicy(t *testing.T) {
	dstRoot := t.TempDir()
	conn, errCh := startHandler(t, dstRoot, config.PolicyAbort, nil)

	enc, err := payload.Encode(bytes.NewReader([]byte("abort me")), gzip.DefaultCompression)
	require.NoError(t, err)
	corrupted := append([]byte(nil), enc.Data...)
	corrupted[0] ^= 0x01

	require.NoError(t, protocol.WriteHeader(conn, protocol.Header{
		Checksum: enc.Checksum,
		Path:     "bad.txt",
		Size:     int64(len(corrupted)),
	}))
	_, err = conn.Write(corrupted)
	require.NoError(t, err)

	err = waitServe(t, errCh)
	assert.ErrorIs(t, err, payload.ErrChecksumMismatch)
}

func TestPathEscapeRejected(t *testing.T) {
	base := t.TempDir()
	dstRoot := filepath.Join(base, "out")
	require.NoError(t, os.MkdirAll(dstRoot, 0o755))

	events := &recorder{}
	conn, errCh := startHandler(t, dstRoot, config.PolicySkip, events)

	enc, err := payload.Encode(bytes.NewReader([]byte("break out")), gzip.DefaultCompression)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteHeader(conn, protocol.Header{
		Checksum: enc.Checksum,
		Path:     "../outside.txt",
		Size:     int64(len(enc.Data)),
	}))
	_, err = conn.Write(enc.Data)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteSentinel(conn))

	require.NoError(t, waitServe(t, errCh))

	_, err = os.Stat(filepath.Join(base, "outside.txt"))
	assert.True(t, os.IsNotExist(err), "no write may land outside the root")
	require.Len(t, events.rejected, 1)
	assert.Contains(t, events.rejected[0], "../outside.txt")
}

func TestTruncatedPayloadFatal(t *testing.T) {
	dstRoot := t.TempDir()
	conn, errCh := startHandler(t, dstRoot, config.PolicySkip, nil)

	enc, err := payload.Encode(bytes.NewReader(bytes.Repeat([]byte("x"), 4096)), gzip.DefaultCompression)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteHeader(conn, protocol.Header{
		Checksum: enc.Checksum,
		Path:     "cut.txt",
		Size:     int64(len(enc.Data)),
	}))
	// Deliver only part of the declared payload, then drop the link.
	_, err = conn.Write(enc.Data[:10])
	require.NoError(t, err)
	conn.Close()

	err = waitServe(t, errCh)
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)

	_, err = os.Stat(filepath.Join(dstRoot, "cut.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestDisconnectAtFrameBoundaryIsClean(t *testing.T) {
	dstRoot := t.TempDir()
	conn, errCh := startHandler(t, dstRoot, config.PolicySkip, nil)

	// Close without sending anything: a clean EOF before any header.
	conn.Close()
	assert.NoError(t, waitServe(t, errCh))
}

func TestIdleClientTimesOut(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	h := NewHandler(t.TempDir(), config.PolicySkip, 50*time.Millisecond, nil)
	errCh := make(chan error, 1)
	go func() { errCh <- h.Serve(server) }()

	// Write nothing; the read deadline must fire.
	err := waitServe(t, errCh)
	assert.Error(t, err)
}

func TestLargeFileOverTCP(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	big := make([]byte, 3<<20)
	rng := rand.New(rand.NewSource(7))
	rng.Read(big)
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "big.bin"), big, 0o644))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	errCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		h := NewHandler(dstRoot, config.PolicySkip, 5*time.Second, nil)
		errCh <- h.Serve(conn)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	sess := NewSession(conn, gzip.BestSpeed, nil)

	var updates int
	sess.OnProgress(func(types.ProgressUpdate) { updates++ })

	rec, err := sess.SendFile(filepath.Join(srcRoot, "big.bin"), "big.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(len(big)), rec.OriginalSize)
	require.NoError(t, sess.Finish())
	require.NoError(t, sess.Close())

	require.NoError(t, waitServe(t, errCh))
	assert.Greater(t, updates, 1, "a multi-megabyte payload crosses several chunks")

	got, err := os.ReadFile(filepath.Join(dstRoot, "big.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(big, got), "large payload must survive chunking byte for byte")
}

func TestSendFileEncodeFailureLeavesWireClean(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sess := NewSession(client, gzip.DefaultCompression, nil)
	_, err := sess.SendFile(filepath.Join(t.TempDir(), "missing.txt"), "missing.txt")
	require.Error(t, err)

	// Nothing may have been framed: the server side must still see a
	// clean sentinel-terminated session.
	done := make(chan error, 1)
	go func() {
		_, err := protocol.ReadHeader(server)
		done <- err
	}()
	require.NoError(t, sess.Finish())

	hdrErr := <-done
	require.NoError(t, hdrErr)
}
