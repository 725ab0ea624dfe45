package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"-version"}, &out); err != nil {
		t.Fatalf("run -version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "footfall-sensor ") {
		t.Errorf("unexpected version output %q", out.String())
	}
}

func TestRunUnknownFlag(t *testing.T) {
	if err := run(context.Background(), []string{"-listen", ":1"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected an error for an unknown flag")
	}
}

// The host is never reachable here; the sensor keeps retrying until the
// context ends and then shuts down cleanly.
func TestRunWithoutHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensor.yaml")
	body := "transport:\n  dial: 127.0.0.1:1\nvideo:\n  width: 64\n  height: 48\nshutdown:\n  timeout: 1s\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := run(ctx, []string{"-config", path}, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
}
