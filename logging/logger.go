package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how the process logs.
type Options struct {
	System   string // event source written on every line
	File     string // rotated log file; empty means stderr
	Level    string
	Location *time.Location
}

// LineFormatter renders one entry per line:
//
//	Date: 2025-10-15, Time: 09:00:01, Event Source: remindx, Event Type: INFO, Event ID: ..., Message: ..., task_id=T1
type LineFormatter struct {
	System   string
	Location *time.Location
}

func (f *LineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	ts := entry.Time.In(loc)
	fmt.Fprintf(b, "Date: %s, Time: %s, ", ts.Format("2006-01-02"), ts.Format("15:04:05"))
	fmt.Fprintf(b, "Event Source: %s, ", f.System)
	fmt.Fprintf(b, "Event Type: %s, ", strings.ToUpper(entry.Level.String()))
	fmt.Fprintf(b, "Event ID: %s, ", uuid.New().String())
	fmt.Fprintf(b, "Message: %s", entry.Message)
	for _, k := range sortedKeys(entry.Data) {
		fmt.Fprintf(b, ", %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// New builds the process logger. A configured file is rotated by lumberjack.
func New(opts Options) (*logrus.Logger, error) {
	logger := logrus.New()
	var out io.Writer = os.Stderr
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		out = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	logger.SetOutput(out)
	system := opts.System
	if system == "" {
		system = "remindx"
	}
	logger.SetFormatter(&LineFormatter{System: system, Location: opts.Location})

	level := logrus.InfoLevel
	if opts.Level != "" {
		lvl, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = lvl
	}
	logger.SetLevel(level)
	return logger, nil
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sortedKeys(data logrus.Fields) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
