package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/projectorctl/internal/auth"
	"github.com/nerrad567/projectorctl/internal/device"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // tcp listener
	ln.Close()
	return port
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("PROJECTORCTL_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("PROJECTORCTL_CONFIG", writeConfig(t, `
database:
  path: ""
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "database.path is required") {
		t.Fatalf("run() error = %v, want database.path validation error", err)
	}
}

func TestRun_StartupAndShutdown(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	t.Setenv("PROJECTORCTL_CONFIG", writeConfig(t, fmt.Sprintf(`
daemon:
  shutdown_grace: 1s
database:
  path: %q
api:
  host: 127.0.0.1
  port: %d
logging:
  level: error
  format: text
  output: stderr
discovery:
  udev: {enabled: false}
  serial: {enabled: false}
  mdns: {enabled: false}
profiles:
  path: ""
`, filepath.Join(dir, "projectorctl.db"), port)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("health status = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("API never came up: %v (run: %v)", err, <-done)
		}
		select {
		case err := <-done:
			t.Fatalf("run() exited early: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("PROJECTORCTL_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("PROJECTORCTL_CONFIG", "/etc/projectorctl/config.yaml")
	if got := getConfigPath(); got != "/etc/projectorctl/config.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestHashKey(t *testing.T) {
	var out bytes.Buffer
	if err := hashKey(strings.NewReader("rack-key\n"), &out); err != nil {
		t.Fatalf("hashKey() error = %v", err)
	}
	hash := strings.TrimSpace(out.String())
	ok, err := auth.VerifyKey("rack-key", hash)
	if err != nil || !ok {
		t.Errorf("VerifyKey() = %v, %v for %q", ok, err, hash)
	}

	if err := hashKey(strings.NewReader("\n"), &out); err == nil {
		t.Error("hashKey(empty) error = nil")
	}
}

type recordingSink struct {
	events []device.Event
}

func (r *recordingSink) DeviceEvent(ev device.Event) {
	r.events = append(r.events, ev)
}

func TestTeeEvents(t *testing.T) {
	in := make(chan device.Event, 2)
	out := make(chan device.Event, 2)
	sink := &recordingSink{}

	in <- device.Event{Kind: device.Arrived, Device: device.Device{ID: "static:a"}}
	in <- device.Event{Kind: device.Removed, Device: device.Device{ID: "static:a"}}
	close(in)

	if err := teeEvents(context.Background(), in, out, []deviceSink{sink}); err != nil {
		t.Fatalf("teeEvents() error = %v", err)
	}
	if len(sink.events) != 2 || len(out) != 2 {
		t.Fatalf("sink got %d, out got %d, want 2 and 2", len(sink.events), len(out))
	}
	if ev := <-out; ev.Kind != device.Arrived {
		t.Errorf("first event = %v", ev.Kind)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := teeEvents(ctx, make(chan device.Event), out, nil); err != nil {
		t.Errorf("teeEvents(cancelled) error = %v", err)
	}
}
