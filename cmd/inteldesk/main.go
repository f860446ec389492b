package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(dispatch(os.Args[1:]))
}

func dispatch(args []string) int {
	if len(args) == 0 {
		printHelp()
		return 0
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion()
		return 0
	case "--help", "-h", "help":
		printHelp()
		return 0
	case "serve":
		return runCommand(runServeCommand, args[1:])
	case "directory":
		return runCommand(runDirectoryCommand, args[1:])
	case "demo":
		return runCommand(runDemoCommand, args[1:])
	case "config":
		return runCommand(runConfigCommand, args[1:])
	default:
		if strings.HasPrefix(args[0], "-") {
			fmt.Fprintf(stderr, "Error: unknown flag: %s\n", args[0])
		} else {
			fmt.Fprintf(stderr, "Error: unknown command: %s\n", args[0])
		}
		fmt.Fprintln(stderr, "Run 'inteldesk --help' for usage.")
		return exitFailure
	}
}

func runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return 0
}

func printHelp() {
	fmt.Fprintln(stdout, "inteldesk - intel delivery coordination console")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "USAGE:")
	fmt.Fprintln(stdout, "  inteldesk <command> [flags]")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "COMMANDS:")
	fmt.Fprintln(stdout, "  serve [--bind host:port] [--operation id]")
	fmt.Fprintln(stdout, "                                   Run the coordination console against the NATS bus")
	fmt.Fprintln(stdout, "  directory [--db path] [--seed file]")
	fmt.Fprintln(stdout, "                                   Serve the entity directory on the NATS bus")
	fmt.Fprintln(stdout, "  demo [--bind host:port]          Run directory and console in one process on demo data")
	fmt.Fprintln(stdout, "  config show                      Print the effective configuration")
	fmt.Fprintln(stdout, "  config check                     Validate the configuration")
	fmt.Fprintln(stdout, "  version                          Print version information")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "CONFIGURATION:")
	fmt.Fprintln(stdout, "  ~/.inteldesk/config.yaml, ./.inteldesk/config.yaml, then INTELDESK_* environment")
	fmt.Fprintln(stdout, "  variables. Every command accepts --config <path> to load a single file instead.")
}

func printVersion() {
	fmt.Fprintf(stdout, "inteldesk %s\n", version)
	if commit != "unknown" {
		fmt.Fprintf(stdout, "  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Fprintf(stdout, "  Built:      %s\n", buildDate)
	}
	fmt.Fprintf(stdout, "  Go version: %s\n", runtime.Version())
}

type stringListValue struct {
	target *[]string
}

func (s *stringListValue) String() string {
	if s == nil || s.target == nil {
		return ""
	}
	return strings.Join(*s.target, ",")
}

func (s *stringListValue) Set(value string) error {
	if s.target == nil {
		return fmt.Errorf("no target slice configured")
	}
	for _, part := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		*s.target = append(*s.target, trimmed)
	}
	return nil
}
