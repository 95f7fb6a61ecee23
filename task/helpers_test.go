package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/twitter/condortask/condor"
	"github.com/twitter/condortask/domain"
	"github.com/twitter/condortask/persist"
	"github.com/twitter/condortask/sample"
	"github.com/twitter/condortask/storage"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// countingSample counts Files calls on top of a StaticSample.
type countingSample struct {
	*sample.StaticSample
	mu      sync.Mutex
	queries int
}

func newCountingSample(files []domain.File) *countingSample {
	return &countingSample{StaticSample: sample.NewStaticSample("/Test/Sample/USER", "gt_test", files)}
}

func (s *countingSample) Files(ctx context.Context) ([]domain.File, error) {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()
	return s.StaticSample.Files(ctx)
}

func (s *countingSample) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

func inputFiles(events ...int64) []domain.File {
	files := make([]domain.File, 0, len(events))
	for i, n := range events {
		files = append(files, domain.File{Name: fmt.Sprintf("/store/in/f%02d.root", i), Events: n})
	}
	return files
}

func writeExecutable(t *testing.T) string {
	t.Helper()
	exe := filepath.Join(t.TempDir(), "run.sh")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\necho hi\n"), 0755))
	return exe
}

func baseConfig(t *testing.T) Config {
	return Config{
		Tag:        "v1",
		Executable: writeExecutable(t),
		BaseDir:    t.TempDir(),
		OutputDir:  "/store/out",
	}
}

type fixture struct {
	sample    *countingSample
	scheduler *condor.FakeClient
	store     *storage.BlobStore
	persistor *persist.MemoryPersistor
}

func newFixture(files []domain.File) *fixture {
	fake := condor.NewFakeClient()
	fake.Now = func() time.Time { return testNow }
	return &fixture{
		sample:    newCountingSample(files),
		scheduler: fake,
		store:     storage.NewBlobStore(memblob.OpenBucket(nil), "/"),
		persistor: persist.NewMemoryPersistor(),
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Sample:    f.sample,
		Scheduler: f.scheduler,
		Storage:   f.store,
		Persistor: f.persistor,
		Now:       func() time.Time { return testNow },
	}
}

func (f *fixture) newTask(t *testing.T, cfg Config) *Task {
	t.Helper()
	task, err := New(context.Background(), cfg, f.deps())
	require.NoError(t, err)
	return task
}

func (f *fixture) writeOutput(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, f.store.Write(context.Background(), name, []byte("root")))
}

func indices(m domain.IOMapping) []int {
	var out []int
	for _, e := range m {
		out = append(out, e.Output.Index)
	}
	return out
}
