package logging

// Logger is the minimal logging surface localforge's packages depend on.
// Trimmed to what is actually called from the request/discovery/engine
// paths so a future backend (e.g. a slog adapter) only has four methods to
// implement, not logrus's full surface.
type Logger interface {
	// WithField creates a derived logger carrying an additional field on
	// every subsequent line, used to tag the CLI's root logger with its
	// component name.
	WithField(key string, value interface{}) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}
