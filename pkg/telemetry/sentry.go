package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/blue-mimo/image-labelling/pkg/build"
	"github.com/getsentry/sentry-go"
	logging "github.com/ipfs/go-log/v2"
)

// SentryConfig configures error reporting. An empty DSN disables it.
type SentryConfig struct {
	DSN         string
	Environment string
}

// InitSentry initializes the Sentry client. It returns a function that flushes
// buffered events and should be deferred by the caller.
func InitSentry(cfg SentryConfig) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     build.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

type SentryExceptionCaptureFunc func(err error) *sentry.EventID

// eventLogger is a go-log logger with structured methods.
type eventLogger interface {
	logging.StandardLogger
	Errorw(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
}

// SentryLogger is a logger that sends error messages to Sentry for error and
// fatal logs.
type SentryLogger struct {
	system           string
	log              eventLogger
	captureException SentryExceptionCaptureFunc
}

func (s *SentryLogger) capture(level logging.LogLevel, err error) {
	if getLevel(s.system) <= level {
		s.captureException(err)
	}
}

func (s *SentryLogger) Debug(args ...any) {
	s.log.Debug(args...)
}

func (s *SentryLogger) Debugf(format string, args ...any) {
	s.log.Debugf(format, args...)
}

func (s *SentryLogger) Info(args ...any) {
	s.log.Info(args...)
}

func (s *SentryLogger) Infof(format string, args ...any) {
	s.log.Infof(format, args...)
}

func (s *SentryLogger) Infow(msg string, keysAndValues ...any) {
	s.log.Infow(msg, keysAndValues...)
}

func (s *SentryLogger) Warn(args ...any) {
	s.log.Warn(args...)
}

func (s *SentryLogger) Warnf(format string, args ...any) {
	s.log.Warnf(format, args...)
}

func (s *SentryLogger) Warnw(msg string, keysAndValues ...any) {
	s.log.Warnw(msg, keysAndValues...)
}

func (s *SentryLogger) Error(args ...any) {
	s.capture(logging.LevelError, fmt.Errorf(formatString(len(args)), args...))
	s.log.Error(args...)
}

func (s *SentryLogger) Errorf(format string, args ...any) {
	s.capture(logging.LevelError, fmt.Errorf(format, args...))
	s.log.Errorf(format, args...)
}

// Errorw reports the message with its key value pairs appended.
func (s *SentryLogger) Errorw(msg string, keysAndValues ...any) {
	s.capture(logging.LevelError, fmt.Errorf("%s%s", msg, formatPairs(keysAndValues)))
	s.log.Errorw(msg, keysAndValues...)
}

func (s *SentryLogger) Fatal(args ...any) {
	s.capture(logging.LevelFatal, fmt.Errorf(formatString(len(args)), args...))
	s.log.Fatal(args...)
}

func (s *SentryLogger) Fatalf(format string, args ...any) {
	s.capture(logging.LevelFatal, fmt.Errorf(format, args...))
	s.log.Fatalf(format, args...)
}

func (s *SentryLogger) Panic(args ...any) {
	s.capture(logging.LevelPanic, fmt.Errorf(formatString(len(args)), args...))
	s.log.Panic(args...)
}

func (s *SentryLogger) Panicf(format string, args ...any) {
	s.capture(logging.LevelPanic, fmt.Errorf(format, args...))
	s.log.Panicf(format, args...)
}

// NewSentryLogger returns a logger that sends error messages to Sentry for
// error, panic and fatal logs.
//
// Note: call [InitSentry] before using the returned logger.
func NewSentryLogger(system string) *SentryLogger {
	return &SentryLogger{
		system:           system,
		log:              logging.Logger(system),
		captureException: sentry.CaptureException,
	}
}

// formatString gets a format string for the specified number of arguments.
func formatString(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat(" %+v", n)[1:]
}

func formatPairs(keysAndValues []any) string {
	var sb strings.Builder
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&sb, " %v=%+v", keysAndValues[i], keysAndValues[i+1])
	}
	return sb.String()
}

// getLevel gets the configured log level for the passed subsystem.
func getLevel(system string) logging.LogLevel {
	cfg := logging.GetConfig()
	lvl, ok := cfg.SubsystemLevels[system]
	if !ok {
		return cfg.Level
	}
	return lvl
}
