package file

import "log/slog"

type options struct {
	logger   *slog.Logger
	compress bool
}

func defaultOptions() options {
	return options{logger: slog.Default(), compress: true}
}

// Option configures a store
type Option func(*options)

// WithLogger sets the logger used by the store
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCompression enables or disables gzip for entity files
func WithCompression(enabled bool) Option {
	return func(o *options) {
		o.compress = enabled
	}
}
