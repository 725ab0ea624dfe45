package transport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// DefaultSerialPath is the USB gadget serial device on the sensor board.
const DefaultSerialPath = "/dev/ttyGS0"

// PortOptions describes the line settings for a serial endpoint.
type PortOptions struct {
	BaudRate int    `koanf:"baud_rate" json:"baud_rate"`
	DataBits int    `koanf:"data_bits" json:"data_bits"`
	StopBits int    `koanf:"stop_bits" json:"stop_bits"`
	Parity   string `koanf:"parity" json:"parity"`
}

// Normalize validates the options and fills defaults (9600 8N1).
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 9600
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch p := strings.TrimSpace(strings.ToUpper(opts.Parity)); p {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	return opts, nil
}

// String renders the options in the usual "9600 8N1" form.
func (o PortOptions) String() string {
	n, err := o.Normalize()
	if err != nil {
		return "invalid"
	}
	return fmt.Sprintf("%d %d%s%d", n.BaudRate, n.DataBits, n.Parity, n.StopBits)
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{BaudRate: opts.BaudRate, DataBits: opts.DataBits}
	switch opts.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// SerialPorter is the part of a serial port the endpoint uses. A read that
// times out returns 0, nil.
type SerialPorter interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// SerialOpener opens a port; tests substitute it.
type SerialOpener func(path string, mode *serial.Mode) (SerialPorter, error)

// OpenSerial opens a real device.
func OpenSerial(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}

// SerialEndpoint opens a serial device. The port is reopened after every
// failure, matching devices that disappear when the USB gadget resets.
type SerialEndpoint struct {
	Path    string
	Options PortOptions
	Opener  SerialOpener
}

// NewSerialEndpoint validates opts and returns an endpoint for path.
func NewSerialEndpoint(path string, opts PortOptions) (*SerialEndpoint, error) {
	if path == "" {
		path = DefaultSerialPath
	}
	n, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	return &SerialEndpoint{Path: path, Options: n, Opener: OpenSerial}, nil
}

// Name implements Endpoint.
func (s *SerialEndpoint) Name() string { return "serial " + s.Path }

// Open implements Endpoint.
func (s *SerialEndpoint) Open(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode, err := s.Options.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := s.Opener(s.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s (%s): %v", ErrTransport, s.Path, s.Options, err)
	}
	return port, nil
}
