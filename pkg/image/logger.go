package image

import (
	"fmt"
	"log/slog"
	"strings"
)

// badgerLogger adapts badger's printf-style logger onto slog. Info and
// debug chatter from badger is only forwarded when verbose is set.
type badgerLogger struct {
	log     *slog.Logger
	verbose bool
}

func newBadgerLogger(log *slog.Logger, verbose bool) *badgerLogger {
	return &badgerLogger{log: log.With("component", "badger"), verbose: verbose}
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(line(format, args))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(line(format, args))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	if l.verbose {
		l.log.Info(line(format, args))
	}
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	if l.verbose {
		l.log.Debug(line(format, args))
	}
}

func line(format string, args []any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
