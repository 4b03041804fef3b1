package logsink

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const RunLogName = "production.log"

// NewRunLogger returns the run-wide logger writing to out and to a rotating
// production.log under logDir. The returned closer releases the file.
func NewRunLogger(logDir, level string, out io.Writer) (*logrus.Logger, io.Closer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}
	file := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, RunLogName),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	l := logrus.New()
	l.SetFormatter(newFormatter())
	l.SetOutput(io.MultiWriter(out, file))
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		l.WithField("level", level).Warn("Invalid log level, using info")
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l, file, nil
}

func newFormatter() *logrus.TextFormatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	}
}

// Sink is a per-script log file attached to a copy of the run logger.
// Entries go to the run output and to the file until Close detaches the file.
type Sink struct {
	path   string
	file   *os.File
	base   io.Writer
	logger *logrus.Logger
	entry  *logrus.Entry

	once     sync.Once
	closeErr error
}

// Open attaches an append-only file at path to a logger derived from run.
func Open(path string, run *logrus.Logger, fields logrus.Fields) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetFormatter(newFormatter())
	l.SetLevel(run.GetLevel())
	l.SetOutput(io.MultiWriter(run.Out, file))

	return &Sink{
		path:   path,
		file:   file,
		base:   run.Out,
		logger: l,
		entry:  l.WithFields(fields),
	}, nil
}

func (s *Sink) Logger() logrus.FieldLogger { return s.entry }

func (s *Sink) Path() string { return s.path }

// Close detaches the file from the logger and closes it. Only the first call
// does any work; later calls return the first result.
func (s *Sink) Close() error {
	s.once.Do(func() {
		s.logger.SetOutput(s.base)
		s.closeErr = s.file.Close()
	})
	return s.closeErr
}
