package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/odvcencio/inteldesk/pkg/api"
	"github.com/odvcencio/inteldesk/pkg/bus"
	"github.com/odvcencio/inteldesk/pkg/config"
	"github.com/odvcencio/inteldesk/pkg/delivery"
	"github.com/odvcencio/inteldesk/pkg/directory"
	"github.com/odvcencio/inteldesk/pkg/feed"
	"github.com/odvcencio/inteldesk/pkg/logging"
	"github.com/odvcencio/inteldesk/pkg/remote"
	"github.com/odvcencio/inteldesk/pkg/storage"
	"github.com/odvcencio/inteldesk/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

var (
	loadConfigFn     = config.Load
	loadConfigFromFn = config.LoadFromPath
)

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = loadConfigFromFn(path)
	} else {
		cfg, err = loadConfigFn()
	}
	if err != nil {
		return nil, withExitCode(err, exitConfig)
	}
	return cfg, nil
}

// process holds what every long-running command sets up from config.
type process struct {
	log    *logging.Logger
	tracer *telemetry.TracerProvider
}

func startProcess(cfg *config.Config) (*process, error) {
	log, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: logging.Format(cfg.Logging.Format),
		Output: stderr,
	})
	if err != nil {
		return nil, withExitCode(err, exitConfig)
	}
	for _, warning := range cfg.ValidationWarnings() {
		log.Warn("config warning", "warning", warning)
	}

	p := &process{log: log}
	if cfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider(cfg.Tracing.ServiceName, version, stderr)
		if err != nil {
			return nil, err
		}
		p.tracer = tp
	}
	return p, nil
}

func (p *process) close() {
	if p.tracer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.tracer.Shutdown(ctx); err != nil {
		p.log.Warn("trace flush failed", "error", err.Error())
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func connectBus(cfg *config.Config, log *logging.Logger) (*bus.NATSBus, error) {
	b, err := bus.NewNATSBus(cfg.BusOptions(), log)
	if err != nil {
		return nil, withExitCode(fmt.Errorf("connect to %s: %w", cfg.Bus.URL, err), exitBus)
	}
	return b, nil
}

// openStore opens the directory database and applies an optional fixture.
func openStore(ctx context.Context, dbPath string, fixture *storage.Fixture) (*storage.Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to ensure data directory: %w", err)
	}
	store, err := storage.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory: %w", err)
	}
	if fixture != nil {
		if err := store.Seed(ctx, fixture); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

// runDirectory answers lookups and actions on b until ctx is done. started,
// when set, runs once the responder is subscribed.
func runDirectory(ctx context.Context, store *storage.Store, b bus.MessageBus, log *logging.Logger, started func()) error {
	if err := logSchema(store, log); err != nil {
		return err
	}
	responder := directory.NewResponder(b, store, log)
	store.AddObserver(responder)
	if err := responder.Start(ctx); err != nil {
		return withExitCode(err, exitBus)
	}
	log.Info("directory serving", "queue", directory.QueueGroup)
	if started != nil {
		started()
	}

	<-ctx.Done()
	log.Info("directory stopping")
	return responder.Close()
}

// logSchema reports the directory schema version and its applied migrations.
func logSchema(store *storage.Store, log *logging.Logger) error {
	version, err := store.GetSchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	history, err := store.GetMigrationHistory()
	if err != nil {
		return fmt.Errorf("read migration history: %w", err)
	}
	names := make([]string, 0, len(history))
	for _, m := range history {
		names = append(names, fmt.Sprintf("%d:%s", m.Version, m.Name))
	}
	log.Info("directory schema", "version", version, "migrations", names)
	return nil
}

type consoleOptions struct {
	address        string
	allowedOrigins []string
	operations     []string
}

// runConsole runs the coordination service and its HTTP API until ctx is
// done or the listener fails.
func runConsole(ctx context.Context, cfg *config.Config, b bus.MessageBus, log *logging.Logger, opts consoleOptions) error {
	client := remote.New(b, cfg.RemoteConfig(), log)
	svc := delivery.New(cfg.DeliveryConfig(), feed.New(b, log), client,
		delivery.WithActions(client),
		delivery.WithLogger(log),
	)
	defer svc.Close()
	svc.Start(ctx)

	for _, operationID := range opts.operations {
		if err := svc.SubscribeForOperation(operationID); err != nil {
			return fmt.Errorf("subscribe %s: %w", operationID, err)
		}
	}

	server := api.NewServer(svc, api.ServerConfig{
		Address:        opts.address,
		AllowedOrigins: opts.allowedOrigins,
	}, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("console stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Closing the service first ends open websocket streams so Shutdown
	// does not wait on them.
	_ = svc.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
