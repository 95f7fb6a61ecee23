// Package storage answers existence and removal questions about output files
// through gocloud.dev blob buckets, so the same task runs against a local
// filesystem, GCS, S3 or an in-memory bucket in tests.
package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/twitter/condortask/common/log/tags"
	"github.com/twitter/condortask/domain"
)

// BlobStore maps absolute file names under Root onto keys of a bucket.
// With URL "file:///hadoop/cms/store" and Root "/hadoop/cms/store", the file
// "/hadoop/cms/store/user/x/output_1.root" is the key "user/x/output_1.root".
type BlobStore struct {
	bucket *blob.Bucket
	root   string
}

var _ domain.Storage = (*BlobStore)(nil)

// OpenBlobStore opens a bucket by URL (file://, gs://, s3://, mem://).
func OpenBlobStore(ctx context.Context, url, root string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "open bucket %s", url)
	}
	return NewBlobStore(bucket, root), nil
}

// NewBlobStore wraps an already open bucket.
func NewBlobStore(bucket *blob.Bucket, root string) *BlobStore {
	return &BlobStore{bucket: bucket, root: path.Clean("/" + root)}
}

// Key converts a file name to its bucket key.
func (s *BlobStore) Key(name string) string {
	p := path.Clean("/" + name)
	if s.root != "/" && (p == s.root || strings.HasPrefix(p, s.root+"/")) {
		p = strings.TrimPrefix(p, s.root)
	}
	return strings.TrimPrefix(p, "/")
}

// Name is the inverse of Key.
func (s *BlobStore) Name(key string) string {
	return path.Join(s.root, key)
}

func (s *BlobStore) Exists(ctx context.Context, name string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, s.Key(name))
	if err != nil {
		return false, errors.Wrapf(err, "stat %s", name)
	}
	return ok, nil
}

// Remove deletes name. A missing file is not an error.
func (s *BlobStore) Remove(ctx context.Context, name string) error {
	err := s.bucket.Delete(ctx, s.Key(name))
	if gcerrors.Code(err) == gcerrors.NotFound {
		log.WithFields(log.Fields{tags.File: name}).Debug("remove: already gone")
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "remove %s", name)
	}
	return nil
}

// List returns the names of all files directly or recursively under dir, in key order.
func (s *BlobStore) List(ctx context.Context, dir string) ([]string, error) {
	prefix := s.Key(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var names []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "list %s", dir)
		}
		if obj.IsDir {
			continue
		}
		names = append(names, s.Name(obj.Key))
	}
	return names, nil
}

// Write stores data under name. Used to seed local stores and tests.
func (s *BlobStore) Write(ctx context.Context, name string, data []byte) error {
	return errors.Wrapf(s.bucket.WriteAll(ctx, s.Key(name), data, nil), "write %s", name)
}

func (s *BlobStore) Close() error {
	return s.bucket.Close()
}
