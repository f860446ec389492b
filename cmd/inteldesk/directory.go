package main

import (
	"flag"
	"strings"

	"github.com/odvcencio/inteldesk/pkg/config"
	"github.com/odvcencio/inteldesk/pkg/storage"
)

func runDirectoryCommand(args []string) error {
	fs := flag.NewFlagSet("directory", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "load configuration from this file only")
	dbPath := fs.String("db", "", "directory database path (default from config)")
	seed := fs.String("seed", "", "YAML fixture to load before serving")
	natsURL := fs.String("nats", "", "NATS server URL (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(*dbPath); v != "" {
		cfg.Directory.DBPath = v
	}
	if v := strings.TrimSpace(*seed); v != "" {
		cfg.Directory.SeedFile = v
	}
	if v := strings.TrimSpace(*natsURL); v != "" {
		cfg.Bus.URL = v
	}

	var fixture *storage.Fixture
	if cfg.Directory.SeedFile != "" {
		fixture, err = storage.LoadFixture(cfg.Directory.SeedFile)
		if err != nil {
			return withExitCode(err, exitConfig)
		}
	}

	p, err := startProcess(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(ctx, config.ResolveDBPath(cfg), fixture)
	if err != nil {
		return err
	}
	defer store.Close()

	b, err := connectBus(cfg, p.log)
	if err != nil {
		return err
	}
	defer b.Close()

	return runDirectory(ctx, store, b, p.log, nil)
}
