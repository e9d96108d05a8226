// Package logging sets up the application's rolling log file.
//
// Every component keeps using a plain *log.Logger with a bracketed prefix;
// this package only decides where those loggers write. Output goes to
// {dir}/logs/tally.log, rotated by size, and is mirrored to stderr.
package logging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DirName is the log directory under the data directory.
	DirName = "logs"
	// FileName is the active log file.
	FileName = "tally.log"

	defaultMaxSizeMB = 5
	defaultMaxFiles  = 3

	// DefaultReadLimit caps how much of the log ReadLogs returns.
	DefaultReadLimit = 256 * 1024
)

// RotationConfig controls the rolling file.
type RotationConfig struct {
	File      string
	MaxSizeMB int
	MaxFiles  int
}

// Path returns the active log file for a data directory.
func Path(dataDir string) string {
	return filepath.Join(dataDir, DirName, FileName)
}

// NewRotatingWriter returns a size-rotated writer for cfg.File.
func NewRotatingWriter(cfg RotationConfig) (*lumberjack.Logger, error) {
	if cfg.File == "" {
		return nil, errors.New("rotation file path must not be empty")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = defaultMaxSizeMB
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = defaultMaxFiles
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		Compress:   false,
	}, nil
}

// Sink fans log output out to the rolling file and an optional console.
type Sink struct {
	file *lumberjack.Logger
	out  io.Writer
}

// Open creates a Sink writing to cfg.File and, when console is non-nil, to
// console as well.
func Open(cfg RotationConfig, console io.Writer) (*Sink, error) {
	file, err := NewRotatingWriter(cfg)
	if err != nil {
		return nil, err
	}

	out := io.Writer(file)
	if console != nil {
		out = io.MultiWriter(file, console)
	}
	return &Sink{file: file, out: out}, nil
}

// Logger returns a logger for component, e.g. Logger("bootstrap") prefixes
// every line with "[bootstrap] ".
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the combined output.
func (s *Sink) Writer() io.Writer {
	return s.out
}

// Path returns the active log file.
func (s *Sink) Path() string {
	return s.file.Filename
}

// Close closes the log file.
func (s *Sink) Close() error {
	return s.file.Close()
}

// ReadLogs returns the tail of the active log file, at most limit bytes
// (DefaultReadLimit when limit <= 0). A missing file reads as empty.
func ReadLogs(path string, limit int64) (string, error) {
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	f, err := os.Open(path) // #nosec G304 - path derived from the data directory
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat log file: %w", err)
	}

	offset := int64(0)
	if info.Size() > limit {
		offset = info.Size() - limit
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to seek log file: %w", err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("failed to read log file: %w", err)
	}

	// Drop the partial first line of a truncated tail.
	if offset > 0 {
		for i, b := range data {
			if b == '\n' {
				data = data[i+1:]
				break
			}
		}
	}
	return string(data), nil
}
