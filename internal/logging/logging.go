package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// TimeFormat is the timestamp layout of every log line.
const TimeFormat = "2006-01-02 15:04:05.000"

// New returns a logger writing human readable, timestamped lines to w.
func New(w io.Writer, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	// ConsoleWriter reparses the timestamp field; keep sub-second precision.
	zerolog.TimeFieldFormat = time.RFC3339Nano
	out := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		TimeFormat: TimeFormat,
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// File is an append-only log sink. There is no rotation.
type File struct {
	f *os.File
}

func OpenFile(path string) (*File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &File{f: f}, nil
}

func (l *File) Write(p []byte) (int, error) {
	return l.f.Write(p)
}

func (l *File) Close() error {
	if err := l.f.Sync(); err != nil {
		_ = l.f.Close()
		return err
	}
	return l.f.Close()
}

// Setup opens the log file and builds the process logger. When tee is set the
// same lines also go to stderr.
func Setup(path string, debug bool, tee bool) (zerolog.Logger, io.Closer, error) {
	file, err := OpenFile(path)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	var w io.Writer = file
	if tee {
		w = io.MultiWriter(file, os.Stderr)
	}
	return New(w, debug), file, nil
}
