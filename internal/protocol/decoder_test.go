package protocol

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type readResult struct {
	line string
	err  error
}

type fakeReader struct {
	results []readResult
	closed  bool
	reads   int
}

func (r *fakeReader) ReadLine() (string, error) {
	r.reads++
	if len(r.results) == 0 {
		return "", io.EOF
	}
	res := r.results[0]
	r.results = r.results[1:]
	return res.line, res.err
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeSource struct {
	reader  *fakeReader
	openErr error
	opens   int
}

func (s *fakeSource) OpenReader() (LineReader, error) {
	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.reader, nil
}

func lines(ls ...string) []readResult {
	out := make([]readResult, 0, len(ls))
	for _, l := range ls {
		out = append(out, readResult{line: l})
	}
	return out
}

func TestDecoderNextExtractsCommandAndEUI(t *testing.T) {
	src := &fakeSource{reader: &fakeReader{results: lines("noisexxconfigsnitchyy!2!AA:BB:CC")}}
	d := NewDecoder(src, DecoderOptions{})

	msg, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if msg.Command != CommandSendToAPI || msg.Code != 2 || msg.EUI != "AA:BB:CC" {
		t.Errorf("Next = %+v, want send_to_api/2/AA:BB:CC", msg)
	}
	if !src.reader.closed {
		t.Error("reader should be closed after Next returns")
	}
}

func TestDecoderSkipsLinesWithoutMarker(t *testing.T) {
	var discarded []string
	src := &fakeSource{reader: &fakeReader{results: lines(
		"boot ok",
		"rssi=-71",
		"",
		"configsnitch!3!0011223344556677\r\n",
	)}}
	d := NewDecoder(src, DecoderOptions{OnDiscard: func(l string) { discarded = append(discarded, l) }})

	msg, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if msg.Command != CommandCheckInternet || msg.EUI != "0011223344556677" {
		t.Errorf("Next = %+v", msg)
	}
	if len(discarded) != 3 {
		t.Errorf("discarded %d lines, want 3", len(discarded))
	}
}

func TestDecoderKeepsWaitingAcrossReadTimeouts(t *testing.T) {
	src := &fakeSource{reader: &fakeReader{results: []readResult{
		{err: ErrReadTimeout},
		{err: ErrReadTimeout},
		{line: "configsnitch!1!EUI1"},
	}}}
	d := NewDecoder(src, DecoderOptions{})

	msg, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if msg.Command != CommandBufferUntilInternet {
		t.Errorf("Command = %v, want buffer_until_internet", msg.Command)
	}
	if src.reader.reads != 3 {
		t.Errorf("reads = %d, want 3", src.reader.reads)
	}
}

func TestDecoderMaxWait(t *testing.T) {
	results := make([]readResult, 100)
	for i := range results {
		results[i] = readResult{err: ErrReadTimeout}
	}
	src := &fakeSource{reader: &fakeReader{results: results}}
	d := NewDecoder(src, DecoderOptions{MaxWait: 30 * time.Second})

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time {
		clock = clock.Add(5 * time.Second)
		return clock
	}

	_, err := d.Next(context.Background())
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
	if src.reader.reads >= 100 {
		t.Errorf("decoder should stop at the deadline, read %d times", src.reader.reads)
	}
	if !src.reader.closed {
		t.Error("reader should be closed after timeout")
	}
}

func TestDecoderContextCancelled(t *testing.T) {
	src := &fakeSource{reader: &fakeReader{results: lines("configsnitch!1!A")}}
	d := NewDecoder(src, DecoderOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Next(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecoderOpenError(t *testing.T) {
	openErr := errors.New("no such device")
	d := NewDecoder(&fakeSource{openErr: openErr}, DecoderOptions{})

	_, err := d.Next(context.Background())
	if !errors.Is(err, openErr) {
		t.Fatalf("expected open error to be wrapped, got %v", err)
	}
}

func TestDecoderReadErrorPropagates(t *testing.T) {
	d := NewDecoder(&fakeSource{reader: &fakeReader{}}, DecoderOptions{})

	_, err := d.Next(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestDecoderCustomMarker(t *testing.T) {
	src := &fakeSource{reader: &fakeReader{results: lines("configsnitch!1!A", "hello!2!B")}}
	d := NewDecoder(src, DecoderOptions{Marker: "hello"})

	msg, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if msg.EUI != "B" {
		t.Errorf("EUI = %q, want B", msg.EUI)
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		want      DeviceMessage
		malformed bool
	}{
		{"buffer", "configsnitch!1!EUI", DeviceMessage{Command: CommandBufferUntilInternet, Code: 1, EUI: "EUI"}, false},
		{"extra fields ignored", "x configsnitch!3!EUI!trailing!more", DeviceMessage{Command: CommandCheckInternet, Code: 3, EUI: "EUI"}, false},
		{"unknown code", "configsnitch!7!EUI", DeviceMessage{Command: CommandUnrecognized, Code: 7, EUI: "EUI"}, false},
		{"zero code", "configsnitch!0!EUI", DeviceMessage{Command: CommandUnrecognized, Code: 0, EUI: "EUI"}, false},
		{"spaces around code", "configsnitch! 2 !EUI", DeviceMessage{Command: CommandSendToAPI, Code: 2, EUI: "EUI"}, false},
		{"non-numeric", "configsnitch!two!EUI", DeviceMessage{}, true},
		{"too few fields", "configsnitch!2", DeviceMessage{}, true},
		{"empty code", "configsnitch!!EUI", DeviceMessage{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if tt.malformed {
				var mle *MalformedLineError
				if !errors.As(err, &mle) {
					t.Fatalf("expected MalformedLineError, got %v", err)
				}
				if mle.Line != tt.line {
					t.Errorf("error line = %q, want %q", mle.Line, tt.line)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLine failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseLine = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	if CommandSendToAPI.String() != "send_to_api" {
		t.Errorf("unexpected String: %s", CommandSendToAPI)
	}
	if Command(42).String() != "unrecognized" {
		t.Errorf("unknown command should print as unrecognized, got %s", Command(42))
	}
}

func TestFormatConnectivity(t *testing.T) {
	if got := FormatConnectivity(true, false); got != "serverconnection!True!False" {
		t.Errorf("FormatConnectivity(true, false) = %q", got)
	}
	if got := FormatConnectivity(false, true); got != "serverconnection!False!True" {
		t.Errorf("FormatConnectivity(false, true) = %q", got)
	}
}
