package finanzgw

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"net/http"
	"sort"
)

var ErrBucketNotFound = errors.New("cache bucket not found")

// Storage holds named cache buckets plus the record of which version last
// completed activation.
type Storage interface {
	// Open returns the bucket called name, creating it if absent.
	Open(ctx context.Context, name string) (Bucket, error)
	// Lookup returns the bucket called name or ErrBucketNotFound.
	Lookup(ctx context.Context, name string) (Bucket, error)
	Names(ctx context.Context) ([]string, error)
	// Delete removes the bucket and all of its entries. It reports whether
	// the bucket existed.
	Delete(ctx context.Context, name string) (bool, error)

	ActiveVersion(ctx context.Context) (string, error)
	SetActiveVersion(ctx context.Context, version string) error

	Close() error
}

// Bucket maps request keys to stored responses.
type Bucket interface {
	Name() string
	Match(ctx context.Context, key string) (CachedResponse, bool, error)
	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, entries map[string]CachedResponse) error
	Keys(ctx context.Context) ([]string, error)
}

// OpenStorage builds the driver selected by cfg.Driver.
func OpenStorage(ctx context.Context, cfg StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case DriverLevelDB:
		return newLevelDBStorage(cfg.LevelDB.Path)
	case DriverMemory:
		return NewMemoryStorage(), nil
	case DriverS3:
		return newS3StorageFromConfig(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ---- encoding ----

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}

func init() {
	gob.Register(http.Header{})
}
