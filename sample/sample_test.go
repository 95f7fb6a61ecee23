package sample

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/twitter/condortask/domain"
	"github.com/twitter/condortask/storage"
)

func TestStaticSample(t *testing.T) {
	ctx := context.Background()
	s := NewStaticSample("/A/B/C", "gt1", []domain.File{{Name: "a", Events: 3}, {Name: "b", Events: 4}})
	files, _ := s.Files(ctx)
	assert.Len(t, files, 2)
	n, _ := s.NEvents(ctx)
	assert.Equal(t, int64(7), n)
	gt, _ := s.GlobalTag(ctx)
	assert.Equal(t, "gt1", gt)

	// callers can't mutate the sample through the returned slice
	files[0].Name = "changed"
	again, _ := s.Files(ctx)
	assert.Equal(t, "a", again[0].Name)

	s.SetFiles(append(again, domain.File{Name: "c", Events: 1}))
	n, _ = s.NEvents(ctx)
	assert.Equal(t, int64(8), n)
}

func TestDirectorySample(t *testing.T) {
	ctx := context.Background()
	store := storage.NewBlobStore(memblob.OpenBucket(nil), "/hadoop")
	for _, n := range []string{
		"/hadoop/cms/store/ds/b.root",
		"/hadoop/cms/store/ds/a.root",
		"/hadoop/cms/store/ds/notes.txt",
		"/hadoop/cms/store/ds/sub/c.root",
	} {
		require.NoError(t, store.Write(ctx, n, []byte("x")))
	}

	_, err := NewDirectorySample("", "/hadoop/cms/store/ds", store)
	assert.Error(t, err)

	s, err := NewDirectorySample("/Dir/Sample/USER", "/hadoop/cms/store/ds", store)
	require.NoError(t, err)
	files, err := s.Files(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.File{
		{Name: "/hadoop/cms/store/ds/a.root", Events: domain.UnknownEvents},
		{Name: "/hadoop/cms/store/ds/b.root", Events: domain.UnknownEvents},
	}, files)

	s.StripPrefix = "/hadoop/cms"
	files, _ = s.Files(ctx)
	assert.Equal(t, "/store/ds/a.root", files[0].Name)

	n, _ := s.NEvents(ctx)
	assert.Equal(t, int64(0), n)
	gt, _ := s.GlobalTag(ctx)
	assert.Equal(t, DefaultGlobalTag, gt)
}
