package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"dirpush/internal/config"
	"dirpush/internal/telemetry"
	"dirpush/internal/transport"
)

// ReceiverOptions configures the receiver application behavior
type ReceiverOptions struct {
	OutputDir string // optional: overrides the configured output root
}

// ReceiverApp implements the receive-server application logic: listen
// continuously and fan out one connection handler goroutine per
// accepted client.
type ReceiverApp struct {
	config *config.Config
	events telemetry.Events
}

// NewReceiverApp creates a new receiver application. events may be nil.
func NewReceiverApp(cfg *config.Config, events telemetry.Events) *ReceiverApp {
	if events == nil {
		events = telemetry.Nop{}
	}
	return &ReceiverApp{
		config: cfg,
		events: events,
	}
}

// Run listens until ctx is cancelled. Per-connection errors are logged
// and never stop the listener; in-flight handlers are drained before
// returning.
func (r *ReceiverApp) Run(ctx context.Context, opts *ReceiverOptions) error {
	out := opts.OutputDir
	if out == "" {
		out = r.config.Server.OutputDir
	}
	root, err := filepath.Abs(out)
	if err != nil {
		return fmt.Errorf("resolve output root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create output root: %w", err)
	}

	addr := net.JoinHostPort(r.config.Server.Host, strconv.Itoa(r.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"addr": ln.Addr().String(),
		"root": root,
	}).Info("Server listening")

	// Cancellation closes the listener, which unblocks Accept.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				break
			}
			logrus.WithError(err).Warn("Accept failed")
			continue
		}

		handler := transport.NewHandler(root, r.config.Server.ErrorPolicy, r.config.Server.ReadTimeout, r.events)
		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			if err := handler.Serve(c); err != nil {
				logrus.WithFields(logrus.Fields{
					"remote": c.RemoteAddr().String(),
				}).WithError(err).Error("Connection failed")
			}
		}(conn)
	}

	logrus.Info("Server shutting down, waiting for active connections")
	wg.Wait()
	return nil
}
