package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "footfall.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"-version"}, &out); err != nil {
		t.Fatalf("run -version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "footfall-host ") {
		t.Errorf("unexpected version output %q", out.String())
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "transport:\n  mode: tcp-dial\n")
	err := run(context.Background(), []string{"-config", path}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "sensor-only") {
		t.Fatalf("expected a role validation error, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	path := writeConfig(t, `
transport:
  listen: 127.0.0.1:0
http:
  listen: 127.0.0.1:0
shutdown:
  timeout: 1s
`)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := run(ctx, []string{"-config", path, "-no-video"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if d := time.Since(start); d > 3*time.Second {
		t.Errorf("shutdown took %v", d)
	}
}

func TestRunReleasesSensorPortWhenHTTPListenFails(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	free, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	sensorAddr := free.Addr().String()
	free.Close()

	path := writeConfig(t, "transport:\n  listen: "+sensorAddr+"\nhttp:\n  listen: "+busy.Addr().String()+"\n")
	err = run(context.Background(), []string{"-config", path}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "http listen") {
		t.Fatalf("expected an http listen error, got %v", err)
	}

	ln, err := net.Listen("tcp", sensorAddr)
	if err != nil {
		t.Fatalf("sensor port still held after failed startup: %v", err)
	}
	ln.Close()
}
