package finanzgw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	n:<bucket>             bucket marker (creation time, RFC 3339)
//	e:<bucket>\x00<key>    entry (gob CachedResponse)
//	meta:active            version that last completed activation
const (
	ldbNamePrefix  = "n:"
	ldbEntryPrefix = "e:"
	ldbActiveKey   = "meta:active"
)

type levelDBStorage struct {
	db *leveldb.DB
}

func newLevelDBStorage(path string) (*levelDBStorage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &levelDBStorage{db: db}, nil
}

func ldbNameKey(name string) []byte { return []byte(ldbNamePrefix + name) }

func ldbBucketPrefix(name string) []byte { return []byte(ldbEntryPrefix + name + "\x00") }

func ldbEntryKey(name, key string) []byte {
	return append(ldbBucketPrefix(name), key...)
}

func (s *levelDBStorage) Open(_ context.Context, name string) (Bucket, error) {
	ok, err := s.db.Has(ldbNameKey(name), nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		created := []byte(time.Now().UTC().Format(time.RFC3339))
		if err := s.db.Put(ldbNameKey(name), created, nil); err != nil {
			return nil, err
		}
	}
	return &levelDBBucket{db: s.db, name: name}, nil
}

func (s *levelDBStorage) Lookup(_ context.Context, name string) (Bucket, error) {
	ok, err := s.db.Has(ldbNameKey(name), nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBucketNotFound
	}
	return &levelDBBucket{db: s.db, name: name}, nil
}

func (s *levelDBStorage) Names(context.Context) ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(ldbNamePrefix)), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(it.Key()[len(ldbNamePrefix):]))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *levelDBStorage) Delete(_ context.Context, name string) (bool, error) {
	existed, err := s.db.Has(ldbNameKey(name), nil)
	if err != nil {
		return false, err
	}

	batch := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix(ldbBucketPrefix(name)), nil)
	for it.Next() {
		k := make([]byte, len(it.Key()))
		copy(k, it.Key())
		batch.Delete(k)
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	batch.Delete(ldbNameKey(name))

	if err := s.db.Write(batch, nil); err != nil {
		return false, err
	}
	return existed, nil
}

func (s *levelDBStorage) ActiveVersion(context.Context) (string, error) {
	b, err := s.db.Get([]byte(ldbActiveKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *levelDBStorage) SetActiveVersion(_ context.Context, version string) error {
	return s.db.Put([]byte(ldbActiveKey), []byte(version), nil)
}

func (s *levelDBStorage) Close() error {
	return s.db.Close()
}

type levelDBBucket struct {
	db   *leveldb.DB
	name string
}

func (b *levelDBBucket) Name() string { return b.name }

func (b *levelDBBucket) Match(_ context.Context, key string) (CachedResponse, bool, error) {
	raw, err := b.db.Get(ldbEntryKey(b.name, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return CachedResponse{}, false, nil
	}
	if err != nil {
		return CachedResponse{}, false, err
	}
	var ent CachedResponse
	if err := decodeGob(raw, &ent); err != nil {
		return CachedResponse{}, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return ent, true, nil
}

// PutAll writes all entries in one batch, which leveldb applies atomically.
func (b *levelDBBucket) PutAll(_ context.Context, entries map[string]CachedResponse) error {
	batch := new(leveldb.Batch)
	for _, key := range sortedKeys(entries) {
		raw, err := encodeGob(entries[key])
		if err != nil {
			return fmt.Errorf("encode %q: %w", key, err)
		}
		batch.Put(ldbEntryKey(b.name, key), raw)
	}
	return b.db.Write(batch, nil)
}

func (b *levelDBBucket) Keys(context.Context) ([]string, error) {
	prefix := ldbBucketPrefix(b.name)
	it := b.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(it.Key()[len(prefix):]))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
