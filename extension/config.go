package extension

import "github.com/xraph/courier"

// Config holds configuration for the courier Forge extension.
type Config struct {
	// DisableRoutes disables the registration of HTTP routes.
	// Useful when embedding courier for background processing only.
	DisableRoutes bool `default:"false" json:"disable_routes"`

	// DisableMigrate disables auto-migration on start.
	DisableMigrate bool `default:"false" json:"disable_migrate"`

	// RequireConfig makes Register fail when no config key is present.
	RequireConfig bool `json:"-"`

	// StoreName selects a named store.Store from the DI container. Empty
	// resolves the default one.
	StoreName string `json:"store_name"`

	// Courier overrides the queue policy. Zero fields keep their defaults.
	Courier courier.Config `json:"courier"`
}

// mergeCourierConfig overlays the non-zero fields of override on base.
func mergeCourierConfig(base, override courier.Config) courier.Config {
	if override.Concurrency > 0 {
		base.Concurrency = override.Concurrency
	}
	if len(override.Topics) > 0 {
		base.Topics = override.Topics
	}
	if override.VisibilityTimeout > 0 {
		base.VisibilityTimeout = override.VisibilityTimeout
	}
	if override.MaxRetries > 0 {
		base.MaxRetries = override.MaxRetries
	}
	if override.BackoffPolicy != "" {
		base.BackoffPolicy = override.BackoffPolicy
	}
	if override.BackoffInitial > 0 {
		base.BackoffInitial = override.BackoffInitial
	}
	if override.BackoffMax > 0 {
		base.BackoffMax = override.BackoffMax
	}
	if override.ExecutionTimeout > 0 {
		base.ExecutionTimeout = override.ExecutionTimeout
	}
	if override.PollInterval > 0 {
		base.PollInterval = override.PollInterval
	}
	if override.ShutdownTimeout > 0 {
		base.ShutdownTimeout = override.ShutdownTimeout
	}
	if override.MaxPending > 0 {
		base.MaxPending = override.MaxPending
	}
	return base
}
