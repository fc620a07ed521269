package app

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirpush/internal/config"
)

// freePort grabs an ephemeral port and releases it for the app to bind.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server never started listening on %s", addr)
}

func testConfig(t *testing.T, srcDir, outDir string) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	port := freePort(t)
	cfg.Client.Host = "127.0.0.1"
	cfg.Client.Port = port
	cfg.Client.SourceDir = srcDir
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = port
	cfg.Server.OutputDir = outDir
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestSenderReceiverEndToEnd(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	cfg := testConfig(t, srcDir, outDir)

	contents := map[string]string{
		"readme.md":      "hello",
		"data/a.txt":     "alpha",
		"data/sub/b.txt": "bravo",
	}
	for rel, body := range contents {
		full := filepath.Join(srcDir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	receiver := NewReceiverApp(cfg, nil)
	recvDone := make(chan error, 1)
	go func() { recvDone <- receiver.Run(ctx, &ReceiverOptions{}) }()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	waitForListener(t, addr)

	sender := NewSenderApp(cfg, nil, nil)
	require.NoError(t, sender.Run(ctx, &SenderOptions{}))

	// Give the handler a moment to drain the session it just served.
	require.Eventually(t, func() bool {
		for rel, body := range contents {
			got, err := os.ReadFile(filepath.Join(outDir, filepath.FromSlash(rel)))
			if err != nil || string(got) != body {
				return false
			}
		}
		return true
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-recvDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not shut down")
	}
}

func TestSenderEmptySourceSendsSentinelOnly(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	cfg := testConfig(t, srcDir, outDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	receiver := NewReceiverApp(cfg, nil)
	recvDone := make(chan error, 1)
	go func() { recvDone <- receiver.Run(ctx, &ReceiverOptions{}) }()
	waitForListener(t, net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)))

	sender := NewSenderApp(cfg, nil, nil)
	require.NoError(t, sender.Run(ctx, &SenderOptions{}))

	cancel()
	select {
	case err := <-recvDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not shut down")
	}

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSenderFailsWithoutServer(t *testing.T) {
	srcDir := t.TempDir()
	cfg := testConfig(t, srcDir, t.TempDir())

	sender := NewSenderApp(cfg, nil, nil)
	err := sender.Run(context.Background(), &SenderOptions{})
	assert.Error(t, err)
}

func TestSenderRejectsMissingSource(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "absent"), t.TempDir())

	sender := NewSenderApp(cfg, nil, nil)
	err := sender.Run(context.Background(), &SenderOptions{})
	assert.Error(t, err)
}
