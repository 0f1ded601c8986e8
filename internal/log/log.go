// Package log is a thin structured-logging wrapper around logrus, kept to
// the same call-site shape as the teacher's pkg/logger (Debug/Info/Warn/
// Error/Fatal) but replacing its hand-rolled ANSI colorizer with leveled,
// field-based logging.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel sets the minimum level logged, by name ("debug", "info", "warn",
// "error"). Unrecognized names are ignored.
func SetLevel(name string) {
	if lvl, err := logrus.ParseLevel(name); err == nil {
		base.SetLevel(lvl)
	}
}

// Fields is a set of structured key/value pairs attached to a log line.
type Fields = logrus.Fields

// With returns an entry carrying the given fields, for call sites that want
// to attach structured context (peer id, endpoint, sequence number) rather
// than interpolate it into the message.
func With(fields Fields) *logrus.Entry {
	return base.WithFields(fields)
}

func Debug(format string, args ...interface{}) { base.Debugf(format, args...) }
func Info(format string, args ...interface{})  { base.Infof(format, args...) }
func Warn(format string, args ...interface{})  { base.Warnf(format, args...) }
func Error(format string, args ...interface{}) { base.Errorf(format, args...) }
func Fatal(format string, args ...interface{}) { base.Fatalf(format, args...) }
