package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

func newMemStore(root string) *BlobStore {
	return NewBlobStore(memblob.OpenBucket(nil), root)
}

func TestBlobStore_Keys(t *testing.T) {
	s := newMemStore("/hadoop/cms/store")
	assert.Equal(t, "user/x/output_1.root", s.Key("/hadoop/cms/store/user/x/output_1.root"))
	assert.Equal(t, "other/output_1.root", s.Key("/other/output_1.root"))
	assert.Equal(t, "hadoop/cms/storeX/a", s.Key("/hadoop/cms/storeX/a"))
	assert.Equal(t, "/hadoop/cms/store/user/x", s.Name("user/x"))

	rooted := newMemStore("")
	assert.Equal(t, "a/b.root", rooted.Key("/a/b.root"))
}

func TestBlobStore_ExistsRemove(t *testing.T) {
	ctx := context.Background()
	s := newMemStore("/store")
	defer s.Close()

	name := "/store/user/x/output_1.root"
	ok, err := s.Exists(ctx, name)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Write(ctx, name, []byte("data")))
	ok, err = s.Exists(ctx, name)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Remove(ctx, name))
	ok, _ = s.Exists(ctx, name)
	assert.False(t, ok)

	// removing twice is fine
	assert.NoError(t, s.Remove(ctx, name))
}

func TestBlobStore_List(t *testing.T) {
	ctx := context.Background()
	s := newMemStore("/store")
	for _, n := range []string{"/store/ds/b.root", "/store/ds/a.root", "/store/ds/sub/c.txt", "/store/dsx/d.root"} {
		require.NoError(t, s.Write(ctx, n, []byte("x")))
	}

	names, err := s.List(ctx, "/store/ds")
	require.NoError(t, err)
	assert.Equal(t, []string{"/store/ds/a.root", "/store/ds/b.root", "/store/ds/sub/c.txt"}, names)
}
