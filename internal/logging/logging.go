// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Setup sets the standard logger's level and output. An empty file with
// discard set drops all log output, which keeps the terminal UI clean.
// The returned closer releases the log file, if any.
func Setup(level, file string, discard bool) (io.Closer, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	switch {
	case file != "":
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %s", file)
		}
		log.SetOutput(f)
		return f, nil
	case discard:
		log.SetOutput(io.Discard)
	default:
		log.SetOutput(os.Stderr)
	}
	return nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// RunEntry returns an entry tagged with a fresh run id.
func RunEntry() *log.Entry {
	return log.WithField("run_id", uuid.NewString())
}
