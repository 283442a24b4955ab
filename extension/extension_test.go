package extension_test

import (
	"context"
	"errors"
	"testing"
	"time"

	forgetesting "github.com/xraph/forge/testing"

	"github.com/xraph/courier"
	"github.com/xraph/courier/extension"
	"github.com/xraph/courier/mail"
	"github.com/xraph/courier/store/memory"
)

func TestExtension_Metadata(t *testing.T) {
	ext := extension.New()

	if ext.Name() != extension.ExtensionName {
		t.Errorf("Name() = %q, want %q", ext.Name(), extension.ExtensionName)
	}
	if ext.Description() != extension.ExtensionDescription {
		t.Errorf("Description() = %q, want %q", ext.Description(), extension.ExtensionDescription)
	}
	if ext.Version() != extension.ExtensionVersion {
		t.Errorf("Version() = %q, want %q", ext.Version(), extension.ExtensionVersion)
	}
	if deps := ext.Dependencies(); len(deps) != 0 {
		t.Errorf("Dependencies() = %v, want empty", deps)
	}
}

func TestExtension_Register(t *testing.T) {
	ext := extension.New(extension.WithStore(memory.New()))
	fapp := forgetesting.NewTestApp("test-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ext.Engine() == nil {
		t.Fatal("expected engine to be initialized after Register")
	}
	if ext.API() == nil {
		t.Fatal("expected API handler to be initialized after Register")
	}
}

func TestExtension_Lifecycle(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithConcurrency(2),
		extension.WithTopics([]string{courier.TopicEmail}),
	)
	fapp := forgetesting.NewTestApp("lifecycle-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	if err := ext.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ext.Health(ctx); err != nil {
		t.Errorf("Health: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := ext.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestExtension_RegisterSendsWelcomeEmail(t *testing.T) {
	sender := mail.NewLogSender(nil)
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithMailSender(sender),
		extension.WithConfig(extension.Config{
			Courier: courier.Config{
				VisibilityTimeout: 2 * time.Second,
				ExecutionTimeout:  time.Second,
				PollInterval:      50 * time.Millisecond,
			},
		}),
	)
	fapp := forgetesting.NewTestApp("welcome-app", "0.1.0")
	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	if err := ext.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		_ = ext.Stop(stopCtx)
	}()

	if _, err := ext.Engine().Accounts().Register(ctx, "new@example.com", "hunter22"); err != nil {
		t.Fatalf("Register user: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if sent := sender.Sent(); len(sent) == 1 {
			if sent[0] != "new@example.com" {
				t.Errorf("sent to %q, want new@example.com", sent[0])
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("welcome email was not sent")
}

func TestExtension_StartBeforeRegister(t *testing.T) {
	if err := extension.New().Start(context.Background()); err == nil {
		t.Fatal("expected error when starting before Register")
	}
}

func TestExtension_HealthBeforeRegister(t *testing.T) {
	if err := extension.New().Health(context.Background()); err == nil {
		t.Fatal("expected error when checking health before Register")
	}
}

func TestExtension_StopBeforeRegister(t *testing.T) {
	if err := extension.New().Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Register should be no-op, got: %v", err)
	}
}

func TestExtension_RegisterNoStore(t *testing.T) {
	ext := extension.New()
	fapp := forgetesting.NewTestApp("no-store-app", "0.1.0")

	err := ext.Register(fapp)
	if err == nil {
		t.Fatal("expected error when registering without a store")
	}
	if !errors.Is(err, courier.ErrNoStore) {
		t.Errorf("expected ErrNoStore, got %v", err)
	}
}

func TestExtension_InvalidCourierConfig(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithConfig(extension.Config{
			Courier: courier.Config{BackoffPolicy: "sometimes"},
		}),
	)
	fapp := forgetesting.NewTestApp("bad-config-app", "0.1.0")

	if err := ext.Register(fapp); !errors.Is(err, courier.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestExtension_DisableRoutes(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithDisableRoutes(),
	)
	fapp := forgetesting.NewTestApp("no-routes-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ext.Engine() == nil {
		t.Fatal("expected engine even with DisableRoutes")
	}
}

func TestExtension_DisableMigrate(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithDisableMigrate(),
	)
	fapp := forgetesting.NewTestApp("no-migrate-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	if err := ext.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := ext.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestExtension_Handler(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithDisableRoutes(),
	)
	fapp := forgetesting.NewTestApp("handler-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ext.Handler() == nil {
		t.Fatal("expected non-nil handler")
	}
}

func TestExtension_HandlerBeforeRegister(t *testing.T) {
	if extension.New().Handler() == nil {
		t.Fatal("expected non-nil handler even before Register")
	}
}
