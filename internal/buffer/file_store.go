package buffer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/bc-dunia/serversnitch/internal/agent"
)

// FileStore keeps the queue as a zstd-compressed CBOR snapshot on local disk.
// Every Replace rewrites the snapshot through a temporary file and a rename,
// so a crash leaves either the old or the new snapshot.
type FileStore struct {
	path string
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// NewFileStore creates a store at path. The parent directory is created if
// missing.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create buffer directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &FileStore{path: path, enc: enc, dec: dec}, nil
}

// Path returns the snapshot location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file is an empty store.
func (s *FileStore) Load(ctx context.Context) ([]agent.TelemetryRecord, error) {
	compressed, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read buffer snapshot: %w", err)
	}

	raw, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress buffer snapshot: %w", err)
	}

	var entries [][]byte
	if err := decMode.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode buffer snapshot: %w", err)
	}

	recs := make([]agent.TelemetryRecord, 0, len(entries))
	for _, e := range entries {
		rec, err := unmarshalRecord(e)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Replace atomically rewrites the snapshot with recs.
func (s *FileStore) Replace(ctx context.Context, recs []agent.TelemetryRecord) error {
	entries := make([][]byte, 0, len(recs))
	for _, rec := range recs {
		data, err := marshalRecord(rec)
		if err != nil {
			return err
		}
		entries = append(entries, data)
	}

	raw, err := encMode.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode buffer snapshot: %w", err)
	}
	compressed := s.enc.EncodeAll(raw, nil)

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		return fmt.Errorf("write temporary snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temporary snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temporary snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace buffer snapshot: %w", err)
	}
	return nil
}

// Close releases the compressor state.
func (s *FileStore) Close() error {
	s.dec.Close()
	return s.enc.Close()
}
