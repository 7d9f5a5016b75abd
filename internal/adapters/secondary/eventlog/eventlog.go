// Package eventlog writes the operator-facing JSONL event stream and reads it
// back for the history views.
package eventlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"model-uploader/internal/core/ports/output"
)

const (
	keyTime   = "ts"
	keyEvent  = "event"
	keyLevel  = "level"
	keyLogger = "logger"
)

type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var DefaultRotation = RotationConfig{MaxSizeMB: 10, MaxBackups: 5, MaxAgeDays: 30}

// Log is a ports.EventLog writing one JSON object per line.
type Log struct {
	logger *log.Logger
	closer io.Closer
	name   string
}

// Open appends to the rotating file at path.
func Open(path string, rotation RotationConfig) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   rotation.Compress,
	}
	l := New(w, "uploader")
	l.closer = w
	return l, nil
}

func New(w io.Writer, name string) *Log {
	logger := log.New()
	logger.SetOutput(w)
	logger.SetLevel(log.InfoLevel)
	logger.SetFormatter(&log.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: log.FieldMap{
			log.FieldKeyTime:  keyTime,
			log.FieldKeyMsg:   keyEvent,
			log.FieldKeyLevel: keyLevel,
		},
	})
	return &Log{logger: logger, name: name}
}

func (l *Log) Info(event string, fields map[string]any) {
	l.entry(fields).Info(event)
}

func (l *Log) Warn(event string, fields map[string]any) {
	l.entry(fields).Warn(event)
}

func (l *Log) Error(event string, fields map[string]any) {
	l.entry(fields).Error(event)
}

func (l *Log) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Log) entry(fields map[string]any) *log.Entry {
	f := make(log.Fields, len(fields)+1)
	for k, v := range fields {
		f[k] = v
	}
	f[keyLogger] = l.name
	return l.logger.WithFields(f)
}

var _ ports.EventLog = (*Log)(nil)
