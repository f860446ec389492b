package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/inteldesk/pkg/config"
)

func runConfigCommand(args []string) error {
	subCmd := "show"
	if len(args) > 0 {
		subCmd = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("config "+subCmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "load configuration from this file only")

	switch subCmd {
	case "show", "check":
	default:
		return fmt.Errorf("unknown config command: %s (use show or check)", subCmd)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if subCmd == "check" {
		return runConfigCheck(*configFile)
	}
	return runConfigShow(*configFile)
}

func runConfigShow(path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = stdout.Write(data)
	return err
}

func runConfigCheck(path string) error {
	fmt.Fprintln(stdout, "Checking inteldesk configuration...")
	fmt.Fprintln(stdout)

	if path != "" {
		reportConfigFile(path)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			reportConfigFile(filepath.Join(home, ".inteldesk", "config.yaml"))
		}
		reportConfigFile(filepath.Join(".inteldesk", "config.yaml"))
	}
	fmt.Fprintln(stdout)

	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Fprintln(stdout, "✗ Configuration is invalid")
		return err
	}
	fmt.Fprintln(stdout, "✓ Configuration is valid")
	fmt.Fprintf(stdout, "  Bus:       %s\n", cfg.Bus.URL)
	fmt.Fprintf(stdout, "  API:       %s\n", cfg.API.Bind)
	fmt.Fprintf(stdout, "  Directory: %s\n", config.ResolveDBPath(cfg))

	warnings := cfg.ValidationWarnings()
	if len(warnings) > 0 {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Warnings:")
		for _, w := range warnings {
			fmt.Fprintf(stdout, "  ⚠ %s\n", w)
		}
	}
	return nil
}

func reportConfigFile(path string) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stdout, "✓ Config file: %s\n", path)
	} else {
		fmt.Fprintf(stdout, "  Config file: %s (not found)\n", path)
	}
}
