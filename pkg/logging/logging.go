// Package logging builds the logrus logger shared by the gateway components.
//
// Components accept a logrus.FieldLogger and never construct their own
// logger; the composition root builds one with New and injects it.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options controls logger construction.
type Options struct {
	// Level is a logrus level name ("debug", "info", ...). Defaults to info.
	Level string

	// Unstructured selects the text formatter instead of JSON.
	Unstructured bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// New creates a logger from opts. An unknown level falls back to info.
func New(opts Options) *logrus.Logger {
	log := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)

	level, err := logrus.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if opts.Unstructured {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	return log
}

// Discard returns a logger that drops everything. Components use it when
// constructed without a logger.
func Discard() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// OrDiscard returns log, or a discarding logger when log is nil.
func OrDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return Discard()
	}
	return log
}
