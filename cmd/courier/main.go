// Command courier runs the user account API together with the welcome
// email worker pool.
//
// Configuration is read from the environment:
//
//	COURIER_STORE=redis \
//	COURIER_REDIS_URL=redis://localhost:6379/0 \
//	COURIER_VISIBILITY_TIMEOUT=30s \
//	COURIER_MAX_RETRIES=3 \
//	COURIER_BACKOFF_POLICY=exponential_jitter \
//	COURIER_BACKOFF_INITIAL=1s \
//	COURIER_BACKOFF_MAX=1m \
//	COURIER_JWT_SECRET=change-me \
//	courier
//
// Then:
//
//	curl -X POST http://localhost:8080/api/users/register \
//	  -H "Content-Type: application/json" \
//	  -d '{"email":"user@example.com","password":"secret"}'
//
//	curl http://localhost:8080/v1/stats
//
// Set COURIER_DLQ_RETENTION to purge old dead letters on a schedule. With
// several replicas, COURIER_LEADER_ELECTION=redis or k8s keeps the purge
// on a single process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/courier"
	"github.com/xraph/courier/account"
	"github.com/xraph/courier/api"
	audithook "github.com/xraph/courier/audit_hook"
	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/mail"
	"github.com/xraph/courier/queue"
)

func main() {
	if err := run(); err != nil {
		slog.Error("courier exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close(logger)

	if err := b.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if b.notifier != nil {
		if err := b.notifier.Start(ctx); err != nil {
			return fmt.Errorf("start notifier: %w", err)
		}
	}

	sender, err := newSender(cfg, logger)
	if err != nil {
		return err
	}

	d, err := courier.New(
		courier.WithConfig(cfg.courierConfig()),
		courier.WithStore(b.store),
		courier.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	engOpts := []engine.Option{
		engine.WithMailSender(sender),
		engine.WithTokenIssuer(account.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)),
	}
	if b.notifier != nil {
		engOpts = append(engOpts, engine.WithNotifier(b.notifier))
	}
	if cfg.AuditLog {
		recorder := audithook.NewSlogRecorder(logger.With(slog.String("component", "audit")))
		engOpts = append(engOpts, engine.WithExtension(audithook.New(recorder, audithook.WithLogger(logger))))
	}
	if cfg.TopicRateLimit > 0 {
		limits := make([]queue.LimitConfig, 0, len(cfg.Topics))
		for _, t := range cfg.Topics {
			limits = append(limits, queue.LimitConfig{Topic: t, RateLimit: cfg.TopicRateLimit})
		}
		engOpts = append(engOpts, engine.WithLimits(limits...))
	}

	if cfg.DLQRetention > 0 {
		elector, closeElector, err := newElector(cfg, logger)
		if err != nil {
			return err
		}
		if closeElector != nil {
			defer func() { _ = closeElector() }()
		}
		engOpts = append(engOpts,
			engine.WithElector(elector),
			engine.WithDLQRetention(cfg.DLQRetentionSchedule, cfg.DLQRetention),
		)
	}

	eng, err := engine.Build(d, engOpts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(eng, nil).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	logger.Info("courier running",
		slog.String("addr", cfg.HTTPAddr),
		slog.String("store", cfg.Store),
		slog.Any("topics", cfg.Topics),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		return shutdown(shutdownCtx, srv, eng, b, logger)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("goodbye")
	return nil
}

// shutdown stops the HTTP server, drains the worker pool, then closes the
// notifier and the engine.
func shutdown(ctx context.Context, srv *http.Server, eng *engine.Engine, b *backend, logger *slog.Logger) error {
	httpErr := srv.Shutdown(ctx)
	// Drain first so in-flight nacks still publish wake-ups. The notifier
	// holds a store connection, so it closes before the store.
	drainErr := eng.Pool().Stop(ctx)
	b.closeNotifier(logger)
	engErr := eng.Stop(ctx)
	return errors.Join(httpErr, drainErr, engErr)
}

func newSender(cfg envConfig, logger *slog.Logger) (mail.Sender, error) {
	if cfg.SMTPAddr == "" {
		logger.Warn("COURIER_SMTP_ADDR not set, welcome emails are logged only")
		return mail.NewLogSender(logger), nil
	}
	s, err := mail.NewSMTPSender(mail.SMTPConfig{
		Addr:     cfg.SMTPAddr,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		Subject:  cfg.SMTPSubject,
	})
	if err != nil {
		return nil, fmt.Errorf("smtp sender: %w", err)
	}
	return s, nil
}
