package finanzgw

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3API is the subset of *s3.Client the S3 driver calls.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Object layout under prefix:
//
//	<bucket>/.bucket           marker
//	<bucket>/e/<base64url key> entry (gob CachedResponse)
//	.active                    version that last completed activation
const (
	s3MarkerName  = ".bucket"
	s3EntryDir    = "e/"
	s3ActiveName  = ".active"
	s3DeleteBatch = 1000
)

type s3Storage struct {
	client s3API
	bucket string
	prefix string
}

func newS3StorageFromConfig(ctx context.Context, cfg S3Config) (*s3Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3Storage(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Storage(client s3API, bucket, prefix string) *s3Storage {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &s3Storage{client: client, bucket: bucket, prefix: prefix}
}

func (s *s3Storage) bucketDir(name string) string { return s.prefix + name + "/" }

func (s *s3Storage) put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	return err
}

// get returns (nil, nil) when the object does not exist.
func (s *s3Storage) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isS3NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func (s *s3Storage) list(ctx context.Context, prefix, delimiter string) (keys, dirs []string, _ error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		in.Delimiter = aws.String(delimiter)
	}
	p := s3.NewListObjectsV2Paginator(s.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		for _, cp := range page.CommonPrefixes {
			dirs = append(dirs, aws.ToString(cp.Prefix))
		}
	}
	return keys, dirs, nil
}

func (s *s3Storage) deleteKeys(ctx context.Context, keys []string) error {
	for len(keys) > 0 {
		n := min(len(keys), s3DeleteBatch)
		ids := make([]types.ObjectIdentifier, 0, n)
		for _, k := range keys[:n] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return err
		}
		// Quiet mode answers 200 and lists only the objects it kept.
		if len(out.Errors) > 0 {
			errs := make([]error, 0, len(out.Errors))
			for _, e := range out.Errors {
				errs = append(errs, fmt.Errorf("delete %s: %s: %s",
					aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message)))
			}
			return errors.Join(errs...)
		}
		keys = keys[n:]
	}
	return nil
}

func (s *s3Storage) Open(ctx context.Context, name string) (Bucket, error) {
	marker := s.bucketDir(name) + s3MarkerName
	raw, err := s.get(ctx, marker)
	if err != nil {
		return nil, fmt.Errorf("s3 open %q: %w", name, err)
	}
	if raw == nil {
		created := []byte(time.Now().UTC().Format(time.RFC3339))
		if err := s.put(ctx, marker, created); err != nil {
			return nil, fmt.Errorf("s3 create %q: %w", name, err)
		}
	}
	return &s3Bucket{store: s, name: name}, nil
}

func (s *s3Storage) Lookup(ctx context.Context, name string) (Bucket, error) {
	raw, err := s.get(ctx, s.bucketDir(name)+s3MarkerName)
	if err != nil {
		return nil, fmt.Errorf("s3 lookup %q: %w", name, err)
	}
	if raw == nil {
		return nil, ErrBucketNotFound
	}
	return &s3Bucket{store: s, name: name}, nil
}

func (s *s3Storage) Names(ctx context.Context) ([]string, error) {
	_, dirs, err := s.list(ctx, s.prefix, "/")
	if err != nil {
		return nil, fmt.Errorf("s3 list buckets: %w", err)
	}
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		out = append(out, strings.TrimSuffix(strings.TrimPrefix(d, s.prefix), "/"))
	}
	return out, nil
}

func (s *s3Storage) Delete(ctx context.Context, name string) (bool, error) {
	keys, _, err := s.list(ctx, s.bucketDir(name), "")
	if err != nil {
		return false, fmt.Errorf("s3 list %q: %w", name, err)
	}
	if len(keys) == 0 {
		return false, nil
	}
	if err := s.deleteKeys(ctx, keys); err != nil {
		return false, fmt.Errorf("s3 delete %q: %w", name, err)
	}
	return true, nil
}

func (s *s3Storage) ActiveVersion(ctx context.Context) (string, error) {
	raw, err := s.get(ctx, s.prefix+s3ActiveName)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *s3Storage) SetActiveVersion(ctx context.Context, version string) error {
	return s.put(ctx, s.prefix+s3ActiveName, []byte(version))
}

func (s *s3Storage) Close() error { return nil }

type s3Bucket struct {
	store *s3Storage
	name  string
}

func (b *s3Bucket) Name() string { return b.name }

func (b *s3Bucket) entryKey(key string) string {
	return b.store.bucketDir(b.name) + s3EntryDir + base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (b *s3Bucket) Match(ctx context.Context, key string) (CachedResponse, bool, error) {
	raw, err := b.store.get(ctx, b.entryKey(key))
	if err != nil {
		return CachedResponse{}, false, err
	}
	if raw == nil {
		return CachedResponse{}, false, nil
	}
	var ent CachedResponse
	if err := decodeGob(raw, &ent); err != nil {
		return CachedResponse{}, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return ent, true, nil
}

// PutAll uploads entries one by one and removes the uploaded ones again if
// any upload fails. Entries that existed before are not restored.
func (b *s3Bucket) PutAll(ctx context.Context, entries map[string]CachedResponse) error {
	encoded := make(map[string][]byte, len(entries))
	for key, ent := range entries {
		raw, err := encodeGob(ent)
		if err != nil {
			return fmt.Errorf("encode %q: %w", key, err)
		}
		encoded[b.entryKey(key)] = raw
	}

	written := make([]string, 0, len(encoded))
	for _, objKey := range sortedKeys(encoded) {
		if err := b.store.put(ctx, objKey, encoded[objKey]); err != nil {
			if rbErr := b.store.deleteKeys(context.WithoutCancel(ctx), written); rbErr != nil {
				return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			return err
		}
		written = append(written, objKey)
	}
	return nil
}

func (b *s3Bucket) Keys(ctx context.Context) ([]string, error) {
	dir := b.store.bucketDir(b.name) + s3EntryDir
	objKeys, _, err := b.store.list(ctx, dir, "")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(objKeys))
	for _, k := range objKeys {
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(k, dir))
		if err != nil {
			continue
		}
		out = append(out, string(raw))
	}
	return out, nil
}
