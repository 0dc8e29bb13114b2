package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultMarker identifies trigger lines among everything else the device prints.
	DefaultMarker = "configsnitch"
	// FieldDelimiter separates fields on every protocol line.
	FieldDelimiter = "!"
)

// LineReader reads newline-terminated lines from an open device channel.
// ReadLine returns the line without its terminator, or an error wrapping
// ErrReadTimeout when no full line arrived within one read period.
type LineReader interface {
	ReadLine() (string, error)
	Close() error
}

// LineSource opens the device channel for reading. The channel is held only
// for one Decoder.Next call.
type LineSource interface {
	OpenReader() (LineReader, error)
}

// DecoderOptions configures a Decoder.
type DecoderOptions struct {
	// Marker is the substring identifying trigger lines. Default: DefaultMarker.
	Marker string

	// MaxWait bounds one Next call. Zero waits until the context is done.
	MaxWait time.Duration

	// OnDiscard is called with every line skipped for lacking the marker.
	OnDiscard func(line string)
}

// Decoder turns raw device lines into DeviceMessages.
type Decoder struct {
	src       LineSource
	marker    string
	maxWait   time.Duration
	onDiscard func(string)
	now       func() time.Time
}

// NewDecoder creates a decoder reading from src.
func NewDecoder(src LineSource, opts DecoderOptions) *Decoder {
	marker := opts.Marker
	if marker == "" {
		marker = DefaultMarker
	}
	return &Decoder{
		src:       src,
		marker:    marker,
		maxWait:   opts.MaxWait,
		onDiscard: opts.OnDiscard,
		now:       time.Now,
	}
}

// Next blocks until a trigger line arrives and returns it decoded.
//
// Lines without the marker are discarded. Next returns ErrWaitTimeout once
// MaxWait elapses, a *MalformedLineError for an undecodable trigger line, and
// ctx.Err() when the context is done. Read timeouts of the underlying reader
// only cause the deadline and context to be rechecked.
func (d *Decoder) Next(ctx context.Context) (DeviceMessage, error) {
	r, err := d.src.OpenReader()
	if err != nil {
		return DeviceMessage{}, fmt.Errorf("open device line: %w", err)
	}
	defer r.Close()

	var deadline time.Time
	if d.maxWait > 0 {
		deadline = d.now().Add(d.maxWait)
	}

	for {
		if err := ctx.Err(); err != nil {
			return DeviceMessage{}, err
		}
		if !deadline.IsZero() && !d.now().Before(deadline) {
			return DeviceMessage{}, ErrWaitTimeout
		}

		line, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			return DeviceMessage{}, fmt.Errorf("read device line: %w", err)
		}

		if !strings.Contains(line, d.marker) {
			if d.onDiscard != nil {
				d.onDiscard(line)
			}
			continue
		}
		return ParseLine(line)
	}
}

// ParseLine decodes a trigger line. Field 1 is the command code and field 2
// the device EUI; anything after is ignored.
func ParseLine(line string) (DeviceMessage, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), FieldDelimiter)
	if len(fields) < 3 {
		return DeviceMessage{}, &MalformedLineError{
			Line:   line,
			Reason: fmt.Sprintf("expected at least 3 fields, got %d", len(fields)),
		}
	}

	cmd, code, err := ParseCommand(fields[1])
	if err != nil {
		return DeviceMessage{}, &MalformedLineError{Line: line, Reason: "non-numeric command", Err: err}
	}

	return DeviceMessage{
		Command: cmd,
		Code:    code,
		EUI:     strings.TrimSpace(fields[2]),
	}, nil
}
