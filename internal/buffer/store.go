package buffer

import (
	"context"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/bc-dunia/serversnitch/internal/agent"
)

// Store persists the queue contents so buffered records survive a restart.
type Store interface {
	// Load returns the persisted records, head first. An empty store returns
	// no records and no error.
	Load(ctx context.Context) ([]agent.TelemetryRecord, error)

	// Replace overwrites the persisted records with recs.
	Replace(ctx context.Context, recs []agent.TelemetryRecord) error

	io.Closer
}

// Store kinds accepted by configuration.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Capture times keep nanoseconds and zone; the default unix-seconds
	// encoding would round them.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("buffer: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("buffer: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshalRecord(rec agent.TelemetryRecord) ([]byte, error) {
	data, err := encMode.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

func unmarshalRecord(data []byte) (agent.TelemetryRecord, error) {
	var rec agent.TelemetryRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return agent.TelemetryRecord{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
