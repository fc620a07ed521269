// Package telemetry defines the event hooks the transfer core emits.
// The core behaves identically whether a real implementation or Nop is
// installed.
package telemetry

import (
	"github.com/sirupsen/logrus"

	"dirpush/pkg/types"
)

// Events receives notifications about session boundaries and per-file
// outcomes. Implementations must be safe for use from a single
// connection goroutine; the core never calls them concurrently for the
// same session.
type Events interface {
	SessionStarted(remote string)
	SessionEnded(remote string, files int, err error)
	FileSent(rec types.FileRecord)
	FileReceived(rec types.FileRecord, target string)
	FileRejected(rec types.FileRecord, reason string)
}

// Nop discards all events.
type Nop struct{}

func (Nop) SessionStarted(string) {}

func (Nop) SessionEnded(string, int, error) {}

func (Nop) FileSent(types.FileRecord) {}

func (Nop) FileReceived(types.FileRecord, string) {}

func (Nop) FileRejected(types.FileRecord, string) {}

// Log emits every event as a structured log line.
type Log struct {
	Logger *logrus.Logger
}

// NewLog returns a logging Events implementation backed by logger, or
// the standard logger when nil.
func NewLog(logger *logrus.Logger) *Log {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Log{Logger: logger}
}

func (l *Log) SessionStarted(remote string) {
	l.Logger.WithField("remote", remote).Info("Session started")
}

func (l *Log) SessionEnded(remote string, files int, err error) {
	entry := l.Logger.WithFields(logrus.Fields{
		"remote": remote,
		"files":  files,
	})
	if err != nil {
		entry.WithError(err).Warn("Session ended with error")
		return
	}
	entry.Info("Session ended")
}

func (l *Log) FileSent(rec types.FileRecord) {
	l.Logger.WithFields(logrus.Fields{
		"path":            rec.RelPath,
		"original_size":   rec.OriginalSize,
		"compressed_size": rec.CompressedSize,
	}).Info("File sent")
}

func (l *Log) FileReceived(rec types.FileRecord, target string) {
	l.Logger.WithFields(logrus.Fields{
		"path":            rec.RelPath,
		"target":          target,
		"compressed_size": rec.CompressedSize,
	}).Info("File received")
}

func (l *Log) FileRejected(rec types.FileRecord, reason string) {
	l.Logger.WithFields(logrus.Fields{
		"path":   rec.RelPath,
		"reason": reason,
	}).Warn("File rejected")
}
