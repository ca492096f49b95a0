package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config 日志配置
type Config struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text | json
	Output string `yaml:"output" toml:"output"` // 文件路径，空则 stderr
}

var (
	mu   sync.RWMutex
	base = newDefault()
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Init replaces the shared logger. It may be called again, e.g. from tests.
func Init(cfg Config) error {
	l := newDefault()
	l.SetLevel(parseLevel(cfg.Level))

	switch strings.ToLower(cfg.Format) {
	case "", "text":
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format %q", cfg.Format)
	}

	if cfg.Output != "" {
		f, err := openLogFile(cfg.Output)
		if err != nil {
			return errors.Wrapf(err, "open log file %s", cfg.Output)
		}
		l.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	mu.Lock()
	base = l
	mu.Unlock()
	return nil
}

// L returns the shared logger.
func L() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return L().WithField("component", name)
}

// Discard returns an entry that drops everything, for tests and benchmarks.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// parseLevel 解析日志级别，未知值按 info 处理
func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}
