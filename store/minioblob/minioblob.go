// Package minioblob is an S3-compatible BlobStore adapter for chunk blobs,
// backed by the minio client. It is one of several viable production
// backends for the abstract BlobStore contract; the engine itself never
// imports this package directly, matching the design's stance that
// concrete backends are external collaborators wired in by the embedding
// service.
package minioblob

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/chainidx/finalidx/core"
)

const notExistErrCode = "NoSuchKey"

// Store persists each blob as an object named hex(key) in bucket.
type Store struct {
	client *minio.Client
	bucket string
}

func New(client *minio.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

func objectName(key []byte) string { return hex.EncodeToString(key) }

func (s *Store) Put(ctx context.Context, key, value []byte) error {
	name := objectName(key)
	existing, found, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if found {
		if bytes.Equal(existing, value) {
			return nil
		}
		return &core.CorruptionError{Message: "minioblob: differing bytes at existing key", Key: name}
	}
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(value), int64(len(value)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("minioblob: put %s: %w", name, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	name := objectName(key)
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("minioblob: get %s: %w", name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == notExistErrCode {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("minioblob: read %s: %w", name, err)
	}
	return data, true, nil
}

func (s *Store) Delete(ctx context.Context, key []byte) error {
	name := objectName(key)
	err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == notExistErrCode {
			return nil
		}
		return fmt.Errorf("minioblob: remove %s: %w", name, err)
	}
	return nil
}
