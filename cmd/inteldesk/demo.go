package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/inteldesk/pkg/bus"
	"github.com/odvcencio/inteldesk/pkg/storage"
)

const demoOperation = "op-harbor"

// runDemoCommand runs the directory and the console in one process over the
// in-memory bus, seeded with the bundled demo fixture.
func runDemoCommand(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "load configuration from this file only")
	bind := fs.String("bind", "", "address for the HTTP API (default from config)")
	operation := fs.String("operation", demoOperation, "operation to subscribe at startup (empty for none)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(*bind); v != "" {
		cfg.API.Bind = v
	}

	p, err := startProcess(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	fixture, err := storage.ParseFixture(storage.DemoFixture)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "inteldesk-demo-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(ctx, filepath.Join(dir, "directory.db"), fixture)
	if err != nil {
		return err
	}
	defer store.Close()

	b := bus.NewMemoryBus()
	defer b.Close()

	var operations []string
	if v := strings.TrimSpace(*operation); v != "" {
		operations = append(operations, v)
	}

	p.log.Info("demo starting", "address", cfg.API.Bind, "operations", operations)

	// The directory must be answering before the console subscribes.
	dirCtx, stopDirectory := context.WithCancel(ctx)
	defer stopDirectory()
	ready := make(chan struct{})
	g, gctx := errgroup.WithContext(dirCtx)
	g.Go(func() error {
		return runDirectory(gctx, store, b, p.log, func() { close(ready) })
	})
	select {
	case <-ready:
	case <-gctx.Done():
		return g.Wait()
	}

	consoleErr := runConsole(ctx, cfg, b, p.log, consoleOptions{
		address:        cfg.API.Bind,
		allowedOrigins: cfg.API.AllowedOrigins,
		operations:     operations,
	})
	stopDirectory()
	if err := g.Wait(); err != nil && consoleErr == nil {
		return err
	}
	return consoleErr
}
