package main

import (
	"flag"
	"strings"
)

func runServeCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "load configuration from this file only")
	bind := fs.String("bind", "", "address for the HTTP API (default from config)")
	natsURL := fs.String("nats", "", "NATS server URL (default from config)")
	var (
		origins    []string
		operations []string
	)
	fs.Var(&stringListValue{target: &origins}, "allow-origin", "additional websocket Origin pattern (repeatable, accepts comma-separated list)")
	fs.Var(&stringListValue{target: &operations}, "operation", "operation to subscribe at startup (repeatable)")
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
	if v := strings.TrimSpace(*natsURL); v != "" {
		cfg.Bus.URL = v
	}
	if err := cfg.Validate(); err != nil {
		return withExitCode(err, exitConfig)
	}

	p, err := startProcess(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	b, err := connectBus(cfg, p.log)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, stop := signalContext()
	defer stop()

	return runConsole(ctx, cfg, b, p.log, consoleOptions{
		address:        cfg.API.Bind,
		allowedOrigins: append(append([]string{}, cfg.API.AllowedOrigins...), origins...),
		operations:     operations,
	})
}
