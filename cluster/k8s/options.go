package k8s

import "log/slog"

// Option configures an Elector.
type Option func(*Elector)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Elector) { e.logger = l }
}

// WithLeaseName sets the Lease object name used for leader election.
// Default: "courier-leader".
func WithLeaseName(name string) Option {
	return func(e *Elector) { e.leaseName = name }
}
