package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"dirpush/internal/config"
	"dirpush/internal/telemetry"
	"dirpush/internal/transport"
	"dirpush/internal/ui"
)

// SenderOptions configures the sender application behavior
type SenderOptions struct {
	SourceDir string // optional: overrides the configured source directory
}

// SenderApp implements the push-client application logic: discover
// files under the source root, stream each over one TCP session, then
// terminate with the sentinel.
type SenderApp struct {
	config   *config.Config
	events   telemetry.Events
	progress *ui.ProgressUI
}

// NewSenderApp creates a new sender application. events and progress
// may be nil.
func NewSenderApp(cfg *config.Config, events telemetry.Events, progress *ui.ProgressUI) *SenderApp {
	if events == nil {
		events = telemetry.Nop{}
	}
	return &SenderApp{
		config:   cfg,
		events:   events,
		progress: progress,
	}
}

// Run starts the sender application with the given options. A single
// failed write aborts the whole run; there is no per-file retry.
func (s *SenderApp) Run(ctx context.Context, opts *SenderOptions) error {
	src := opts.SourceDir
	if src == "" {
		src = s.config.Client.SourceDir
	}
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source path %s is not a directory", src)
	}

	files, err := transport.DiscoverFiles(src)
	if err != nil {
		return fmt.Errorf("discover files: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"source": src,
		"files":  len(files),
	}).Info("Starting push session")

	addr := net.JoinHostPort(s.config.Client.Host, strconv.Itoa(s.config.Client.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}

	sess := transport.NewSession(conn, s.config.Client.CompressionLevel, s.events)
	defer sess.Close()

	if s.progress != nil {
		sess.OnProgress(s.progress.Update)
	}

	start := time.Now()
	var bytesSent int64

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.progress != nil {
			s.progress.BeginFile(f.RelPath)
		}
		rec, err := sess.SendFile(f.AbsPath, f.RelPath)
		if err != nil {
			return fmt.Errorf("send %s: %w", f.RelPath, err)
		}
		if s.progress != nil {
			s.progress.FinishFile()
		}
		bytesSent += rec.CompressedSize
	}

	if err := sess.Finish(); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}

	elapsed := time.Since(start)
	logrus.WithFields(logrus.Fields{
		"files":      len(files),
		"bytes_sent": bytesSent,
		"elapsed":    elapsed,
	}).Info("Push session complete")
	if s.progress != nil {
		s.progress.ShowTransferSummary(len(files), bytesSent, elapsed)
	}
	return nil
}
