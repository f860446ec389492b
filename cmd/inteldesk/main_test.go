package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/inteldesk/pkg/bus"
	"github.com/odvcencio/inteldesk/pkg/errors"
	"github.com/odvcencio/inteldesk/pkg/logging"
	"github.com/odvcencio/inteldesk/pkg/remote"
	"github.com/odvcencio/inteldesk/pkg/storage"
)

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr := stdout, stderr
	stdout, stderr = &out, &errOut
	t.Cleanup(func() {
		stdout, stderr = prevOut, prevErr
	})
	return &out, &errOut
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestHelpAndVersion(t *testing.T) {
	out, _ := captureOutput(t)

	assert.Equal(t, 0, dispatch([]string{"help"}))
	assert.Contains(t, out.String(), "COMMANDS:")

	out.Reset()
	assert.Equal(t, 0, dispatch([]string{"--version"}))
	assert.True(t, strings.HasPrefix(out.String(), "inteldesk "+version))
}

func TestUnknownCommand(t *testing.T) {
	_, errOut := captureOutput(t)

	assert.Equal(t, exitFailure, dispatch([]string{"bogus"}))
	assert.Contains(t, errOut.String(), "unknown command: bogus")

	errOut.Reset()
	assert.Equal(t, exitFailure, dispatch([]string{"--bogus"}))
	assert.Contains(t, errOut.String(), "unknown flag: --bogus")
}

func TestFlagHelpExitsCleanly(t *testing.T) {
	captureOutput(t)
	assert.Equal(t, 0, dispatch([]string{"serve", "-h"}))
	assert.Equal(t, 0, dispatch([]string{"directory", "-h"}))
}

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", fmt.Errorf("boom"), exitFailure},
		{"explicit", withExitCode(fmt.Errorf("boom"), exitBus), exitBus},
		{"config code", errors.New(errors.ErrCodeConfigInvalid, "bad"), exitConfig},
		{"transport code", errors.New(errors.ErrCodeTransport, "down"), exitBus},
		{"wrapped explicit", fmt.Errorf("outer: %w", withExitCode(fmt.Errorf("inner"), exitConfig)), exitConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeForError(tt.err))
		})
	}
}

func TestConfigShow(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	out, _ := captureOutput(t)
	path := writeConfigFile(t, "bus:\n  url: nats://desk-bus:4222\n")

	require.Equal(t, 0, dispatch([]string{"config", "show", "--config", path}))
	assert.Contains(t, out.String(), "url: nats://desk-bus:4222")
	assert.Contains(t, out.String(), "sweep_interval: 1m0s")
}

func TestConfigCheck(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	out, errOut := captureOutput(t)

	valid := writeConfigFile(t, "api:\n  bind: 0.0.0.0:8480\n")
	require.Equal(t, 0, dispatch([]string{"config", "check", "--config", valid}))
	assert.Contains(t, out.String(), "✓ Configuration is valid")
	assert.Contains(t, out.String(), "SECURITY:")

	out.Reset()
	invalid := writeConfigFile(t, "coordination:\n  sweep_interval: 10ms\n")
	assert.Equal(t, exitConfig, dispatch([]string{"config", "check", "--config", invalid}))
	assert.Contains(t, out.String(), "✗ Configuration is invalid")
	assert.Contains(t, errOut.String(), "Error:")

	assert.Equal(t, exitFailure, dispatch([]string{"config", "edit"}))
}

func TestStringListValue(t *testing.T) {
	var got []string
	v := &stringListValue{target: &got}
	require.NoError(t, v.Set("a, b,,c"))
	require.NoError(t, v.Set("d"))
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
	assert.Equal(t, "a,b,c,d", v.String())

	assert.Error(t, (&stringListValue{}).Set("x"))
}

func TestRunDirectoryServesUntilCanceled(t *testing.T) {
	fixture, err := storage.ParseFixture(storage.DemoFixture)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, filepath.Join(t.TempDir(), "nested", "directory.db"), fixture)
	require.NoError(t, err)
	defer store.Close()

	b := bus.NewMemoryBus()
	defer b.Close()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- runDirectory(ctx, store, b, logging.Nop(), func() { close(started) })
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("directory did not start")
	}

	cfg := remote.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.RateLimit = 0
	client := remote.New(b, cfg, nil)
	op, err := client.Operation(ctx, "op-harbor")
	require.NoError(t, err)
	assert.Equal(t, "Harbor Flood Response", op.Title)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("directory did not stop")
	}
}

func TestLogSchemaReportsMigrations(t *testing.T) {
	store, err := openStore(context.Background(), filepath.Join(t.TempDir(), "directory.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	var buf bytes.Buffer
	log, err := logging.New(logging.Options{Level: "info", Format: logging.FormatJSON, Output: &buf})
	require.NoError(t, err)

	require.NoError(t, logSchema(store, log))
	assert.Contains(t, buf.String(), `"msg":"directory schema"`)
	assert.Contains(t, buf.String(), `"version":3`)
	assert.Contains(t, buf.String(), "3:open_deliveries_index")
}
