// Package extension provides the Forge extension adapter for courier.
//
// It mounts the courier engine into a Forge application: the store is taken
// from an option or resolved from the DI container, the engine is provided
// back into the container, and the account and admin routes are registered
// on the app router.
//
// Configuration can be provided programmatically via ExtOption functions
// or via the app config under the "extensions.courier" or "courier" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/courier"
	"github.com/xraph/courier/account"
	"github.com/xraph/courier/api"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/mail"
	mw "github.com/xraph/courier/middleware"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/store"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "courier"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "User accounts with an at-least-once welcome email queue"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

var _ forge.Extension = (*Extension)(nil)

// Extension adapts courier as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config      Config
	eng         *engine.Engine
	apiHandler  *api.API
	logger      *slog.Logger
	store       courier.Storer
	courierOpts []courier.Option
	exts        []ext.Extension
	mws         []mw.Middleware
	bo          backoff.Strategy
	notifier    queue.Notifier
	sender      mail.Sender
	tokens      *account.TokenIssuer
}

// New creates a courier Forge extension with the given options.
func New(opts ...ExtOption) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine. It is nil until Register is called.
func (e *Extension) Engine() *engine.Engine { return e.eng }

// API returns the API handler.
func (e *Extension) API() *api.API { return e.apiHandler }

// Register implements [forge.Extension]. It builds the engine and
// optionally registers HTTP routes.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.init(fapp); err != nil {
		return err
	}

	if err := vessel.Provide(fapp.Container(), func() (*engine.Engine, error) {
		return e.eng, nil
	}); err != nil {
		return fmt.Errorf("courier: register engine in container: %w", err)
	}

	return nil
}

func (e *Extension) init(fapp forge.App) error {
	if e.store == nil {
		s, err := e.resolveStore(fapp)
		if err != nil {
			return fmt.Errorf("courier: %w", err)
		}
		e.store = s
	}

	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := mergeCourierConfig(courier.DefaultConfig(), e.config.Courier)
	opts := make([]courier.Option, 0, len(e.courierOpts)+3)
	opts = append(opts, courier.WithConfig(cfg))
	opts = append(opts, e.courierOpts...)
	opts = append(opts, courier.WithStore(e.store), courier.WithLogger(logger))

	d, err := courier.New(opts...)
	if err != nil {
		return fmt.Errorf("courier: create dispatcher: %w", err)
	}

	engOpts := make([]engine.Option, 0, len(e.exts)+len(e.mws)+5)
	engOpts = append(engOpts, engine.WithMetricFactory(fapp.Metrics()))
	for _, x := range e.exts {
		engOpts = append(engOpts, engine.WithExtension(x))
	}
	for _, m := range e.mws {
		engOpts = append(engOpts, engine.WithMiddleware(m))
	}
	if e.bo != nil {
		engOpts = append(engOpts, engine.WithBackoff(e.bo))
	}
	if e.notifier != nil {
		engOpts = append(engOpts, engine.WithNotifier(e.notifier))
	}
	if e.sender != nil {
		engOpts = append(engOpts, engine.WithMailSender(e.sender))
	}
	if e.tokens != nil {
		engOpts = append(engOpts, engine.WithTokenIssuer(e.tokens))
	}

	e.eng, err = engine.Build(d, engOpts...)
	if err != nil {
		return fmt.Errorf("courier: build engine: %w", err)
	}

	e.apiHandler = api.New(e.eng, fapp.Router())
	if !e.config.DisableRoutes {
		e.apiHandler.RegisterRoutes(fapp.Router())
	}

	return nil
}

// Start begins job processing and runs auto-migration if enabled.
func (e *Extension) Start(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("courier: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.eng.Store().Migrate(ctx); err != nil {
			return fmt.Errorf("courier: migration failed: %w", err)
		}
	}

	if err := e.eng.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop drains the worker pool and closes the store.
func (e *Extension) Stop(ctx context.Context) error {
	if e.eng == nil {
		e.MarkStopped()
		return nil
	}
	err := e.eng.Stop(ctx)
	e.MarkStopped()
	return err
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("courier: extension not initialized")
	}
	return e.eng.Store().Ping(ctx)
}

// Handler returns the HTTP handler for all API routes, for use outside Forge.
func (e *Extension) Handler() http.Handler {
	if e.apiHandler == nil {
		return http.NotFoundHandler()
	}
	return e.apiHandler.Handler()
}

// RegisterRoutes registers all courier API routes into a Forge router.
func (e *Extension) RegisterRoutes(router forge.Router) {
	if e.apiHandler != nil {
		e.apiHandler.RegisterRoutes(router)
	}
}

func (e *Extension) loadConfiguration() error {
	programmatic := e.config

	fileConfig, loaded := e.tryLoadFromConfigFile()
	if !loaded {
		if programmatic.RequireConfig {
			return errors.New("courier: configuration is required but not found; " +
				"ensure 'extensions.courier' or 'courier' key exists in your config")
		}
		return nil
	}

	e.config = mergeConfigurations(fileConfig, programmatic)

	e.Logger().Debug("courier: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("store_name", e.config.StoreName),
	)
	return nil
}

func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	for _, key := range []string{"extensions.courier", "courier"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("courier: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		return cfg, true
	}
	return Config{}, false
}

// mergeConfigurations lets programmatic flags win when set and fills the
// remaining gaps from the file config.
func mergeConfigurations(file, programmatic Config) Config {
	if programmatic.DisableRoutes {
		file.DisableRoutes = true
	}
	if programmatic.DisableMigrate {
		file.DisableMigrate = true
	}
	if file.StoreName == "" {
		file.StoreName = programmatic.StoreName
	}
	file.Courier = mergeCourierConfig(file.Courier, programmatic.Courier)
	return file
}

func (e *Extension) resolveStore(fapp forge.App) (store.Store, error) {
	if e.config.StoreName != "" {
		s, err := vessel.InjectNamed[store.Store](fapp.Container(), e.config.StoreName)
		if err != nil {
			return nil, fmt.Errorf("store %q not found in container: %w", e.config.StoreName, err)
		}
		return s, nil
	}
	s, err := vessel.Inject[store.Store](fapp.Container())
	if err != nil {
		return nil, fmt.Errorf("%w: no store option and none in container: %v", courier.ErrNoStore, err)
	}
	return s, nil
}
