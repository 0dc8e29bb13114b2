// Package serialline is the device transport: a serial port opened for one
// decode wait or one write, then closed again.
package serialline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/bc-dunia/serversnitch/internal/protocol"
)

const (
	// DefaultBaudRate matches the device firmware.
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds a single read from the port.
	DefaultReadTimeout = 5 * time.Second

	readChunkSize = 256
	maxLineBytes  = 4096
)

// Port is the subset of serial.Port the transport uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// OpenFunc opens a named port. Tests replace it with a fake.
type OpenFunc func(name string, mode *serial.Mode) (Port, error)

func openSerial(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// Options configures a Line.
type Options struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
	Open        OpenFunc
}

// Line is the serial link to the device.
type Line struct {
	name        string
	mode        *serial.Mode
	readTimeout time.Duration
	open        OpenFunc
}

// New creates a Line. The port is not opened until it is used.
func New(opts Options) *Line {
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.Open == nil {
		opts.Open = openSerial
	}
	return &Line{
		name: opts.Port,
		mode: &serial.Mode{
			BaudRate: opts.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		readTimeout: opts.ReadTimeout,
		open:        opts.Open,
	}
}

// Name returns the port name.
func (l *Line) Name() string {
	return l.name
}

// Check opens and closes the port once, failing when the device is absent.
func (l *Line) Check() error {
	p, err := l.openPort()
	if err != nil {
		return err
	}
	return p.Close()
}

// OpenReader opens the port for reading lines. The caller must Close the
// returned reader.
func (l *Line) OpenReader() (protocol.LineReader, error) {
	p, err := l.openPort()
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(l.readTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", l.name, err)
	}
	return &lineReader{port: p, chunk: make([]byte, readChunkSize)}, nil
}

// Write sends msg to the device as is, without a line terminator.
func (l *Line) Write(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := l.openPort()
	if err != nil {
		return err
	}
	if _, err := io.WriteString(p, msg); err != nil {
		p.Close()
		return fmt.Errorf("write to %s: %w", l.name, err)
	}
	return p.Close()
}

func (l *Line) openPort() (Port, error) {
	if l.name == "" {
		return nil, errors.New("serial port name is empty")
	}
	p, err := l.open(l.name, l.mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", l.name, err)
	}
	return p, nil
}

// AvailablePorts lists the serial ports present on the host.
func AvailablePorts() ([]string, error) {
	return serial.GetPortsList()
}

type lineReader struct {
	port  Port
	buf   []byte
	chunk []byte
}

// ReadLine returns the next line. A read period that ends with a partial line
// returns what arrived so far; one that received nothing returns
// protocol.ErrReadTimeout.
func (r *lineReader) ReadLine() (string, error) {
	for {
		if i := bytes.IndexByte(r.buf, '\n'); i >= 0 {
			line := string(r.buf[:i])
			r.buf = r.buf[i+1:]
			return strings.TrimRight(line, "\r"), nil
		}
		if len(r.buf) >= maxLineBytes {
			return r.flush(), nil
		}

		n, err := r.port.Read(r.chunk)
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
		}
		if err != nil {
			return "", err
		}
		if n > 0 {
			continue
		}

		if len(r.buf) > 0 {
			return r.flush(), nil
		}
		return "", protocol.ErrReadTimeout
	}
}

func (r *lineReader) flush() string {
	line := strings.TrimRight(string(r.buf), "\r")
	r.buf = r.buf[:0]
	return line
}

func (r *lineReader) Close() error {
	return r.port.Close()
}
