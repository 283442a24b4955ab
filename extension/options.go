package extension

import (
	"log/slog"

	"github.com/xraph/courier"
	"github.com/xraph/courier/account"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/mail"
	mw "github.com/xraph/courier/middleware"
	"github.com/xraph/courier/queue"
)

// ExtOption configures the courier Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend. Without it the extension
// resolves a store.Store from the DI container.
func WithStore(s courier.Storer) ExtOption {
	return func(e *Extension) {
		e.store = s
	}
}

// WithConcurrency sets the number of worker goroutines per topic.
func WithConcurrency(n int) ExtOption {
	return func(e *Extension) {
		e.courierOpts = append(e.courierOpts, courier.WithConcurrency(n))
	}
}

// WithTopics sets the topics the worker pool consumes.
func WithTopics(topics []string) ExtOption {
	return func(e *Extension) {
		e.courierOpts = append(e.courierOpts, courier.WithTopics(topics))
	}
}

// WithExtension registers a lifecycle hook extension.
func WithExtension(x ext.Extension) ExtOption {
	return func(e *Extension) {
		e.exts = append(e.exts, x)
	}
}

// WithMiddleware adds job middleware to the engine.
func WithMiddleware(m mw.Middleware) ExtOption {
	return func(e *Extension) {
		e.mws = append(e.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy.
func WithBackoff(b backoff.Strategy) ExtOption {
	return func(e *Extension) {
		e.bo = b
	}
}

// WithNotifier sets the cross-process wake-up channel for blocked workers.
func WithNotifier(n queue.Notifier) ExtOption {
	return func(e *Extension) {
		e.notifier = n
	}
}

// WithMailSender registers the welcome email handler with s.
func WithMailSender(s mail.Sender) ExtOption {
	return func(e *Extension) {
		e.sender = s
	}
}

// WithTokenIssuer sets the login token issuer.
func WithTokenIssuer(t *account.TokenIssuer) ExtOption {
	return func(e *Extension) {
		e.tokens = t
	}
}

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithDisableRoutes disables the registration of HTTP routes.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) {
		e.config.DisableRoutes = true
	}
}

// WithDisableMigrate disables auto-migration on start.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}

// WithRequireConfig requires config to be present in the app config.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) ExtOption {
	return func(e *Extension) {
		e.config.RequireConfig = require
	}
}

// WithStoreName resolves the named store.Store from the DI container.
func WithStoreName(name string) ExtOption {
	return func(e *Extension) {
		e.config.StoreName = name
	}
}

// WithLogger sets the structured logger for the engine.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = l
	}
}
