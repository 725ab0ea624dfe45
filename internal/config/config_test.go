package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall/internal/transport"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(RoleHost, "")
	require.NoError(t, err)
	assert.Equal(t, ModeTCPListen, cfg.Transport.Mode)
	assert.Equal(t, ":1237", cfg.Transport.Listen)
	assert.Equal(t, 5*time.Second, cfg.Transport.Backoff)
	assert.Equal(t, 1280, cfg.Heatmap.Width)
	assert.Equal(t, 25, cfg.Heatmap.Short.Radius)
	assert.Equal(t, 0.02, cfg.Stability.Tolerance)
	assert.Equal(t, 30, cfg.Trace.Length)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Listen)

	sensor, err := Load(RoleSensor, "")
	require.NoError(t, err)
	assert.Equal(t, ModeTCPDial, sensor.Transport.Mode)
	assert.Empty(t, sensor.HTTP.Listen)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "footfall.yaml")
	yaml := `
transport:
  mode: serial
  serial_path: /dev/ttyUSB0
  serial:
    baud_rate: 115200
  backoff: 2s
render:
  horizon: long
  sensitivity: 60
  annotator: blur
heatmap:
  short:
    radius: 30
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("FOOTFALL_RENDER__SENSITIVITY", "75")
	t.Setenv("FOOTFALL_SHUTDOWN__TIMEOUT", "1s")

	cfg, err := Load(RoleSensor, path)
	require.NoError(t, err)
	assert.Equal(t, ModeSerial, cfg.Transport.Mode)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Transport.SerialPath)
	assert.Equal(t, 115200, cfg.Transport.Serial.BaudRate)
	assert.Equal(t, 8, cfg.Transport.Serial.DataBits, "unset nested keys keep defaults")
	assert.Equal(t, 2*time.Second, cfg.Transport.Backoff)
	assert.Equal(t, "long", cfg.Render.Horizon)
	assert.Equal(t, "blur", cfg.Render.Annotator)
	assert.Equal(t, 75.0, cfg.Render.Sensitivity, "env overrides file")
	assert.Equal(t, time.Second, cfg.Shutdown.Timeout)
	assert.Equal(t, 30, cfg.Heatmap.Short.Radius)
	assert.Equal(t, 28.0, cfg.Heatmap.Short.Intensity)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(RoleHost, filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		role   Role
		mutate func(*Config)
	}{
		{"listen on sensor", RoleSensor, func(c *Config) { c.Transport.Mode = ModeTCPListen }},
		{"dial on host", RoleHost, func(c *Config) { c.Transport.Mode = ModeTCPDial }},
		{"pcap without file", RoleHost, func(c *Config) { c.Transport.Mode = ModePCAP }},
		{"unknown mode", RoleHost, func(c *Config) { c.Transport.Mode = "carrier-pigeon" }},
		{"bad parity", RoleHost, func(c *Config) { c.Transport.Mode = ModeSerial; c.Transport.Serial.Parity = "X" }},
		{"sensitivity too low", RoleHost, func(c *Config) { c.Render.Sensitivity = 10 }},
		{"bad horizon", RoleHost, func(c *Config) { c.Render.Horizon = "decade" }},
		{"bad annotator", RoleHost, func(c *Config) { c.Render.Annotator = "halo" }},
		{"trace too long", RoleHost, func(c *Config) { c.Trace.Length = 31 }},
		{"tolerance zero", RoleHost, func(c *Config) { c.Stability.Tolerance = 0 }},
		{"bad video source", RoleHost, func(c *Config) { c.Video.Source = "vhs" }},
		{"zero shutdown", RoleHost, func(c *Config) { c.Shutdown.Timeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(tt.role)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate(tt.role))
		})
	}

	host := Default(RoleHost)
	assert.NoError(t, host.Validate(RoleHost))
}

func TestTransportConfig_Endpoint(t *testing.T) {
	cfg := Default(RoleHost).Transport
	ep, err := cfg.Endpoint()
	require.NoError(t, err)
	assert.IsType(t, &transport.TCPListener{}, ep)

	cfg.Mode = ModeSerial
	ep, err = cfg.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "serial "+transport.DefaultSerialPath, ep.Name())

	cfg.Mode = ModePCAP
	cfg.PCAPFile = filepath.Join(t.TempDir(), "missing.pcap")
	_, err = cfg.Endpoint()
	assert.Error(t, err)
}
