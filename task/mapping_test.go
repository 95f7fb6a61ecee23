package task

import (
	"context"
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/condortask/domain"
)

func TestUpdateMapping_InitialChunking(t *testing.T) {
	f := newFixture(inputFiles(10, 10, 10, 5))
	cfg := baseConfig(t)
	cfg.EventsPerOutput = 20
	task := f.newTask(t, cfg)

	m := task.Mapping()
	require.Len(t, m, 2)
	assert.Equal(t, []int{1, 2}, indices(m))
	assert.Equal(t, "/store/out/output_1.root", m[0].Output.Name)
	assert.Equal(t, int64(20), m[0].Output.Events)
	assert.Equal(t, int64(15), m[1].Output.Events)
	assert.Equal(t, domain.Unsubmitted, m[1].Output.Status)
}

func TestUpdateMapping_Idempotent(t *testing.T) {
	f := newFixture(inputFiles(1, 1, 1))
	cfg := baseConfig(t)
	cfg.OpenDataset = true
	cfg.FilesPerOutput = 1
	task := f.newTask(t, cfg)
	before := task.Mapping()

	added, err := task.UpdateMapping(context.Background(), MappingOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	if !reflect.DeepEqual(before, task.Mapping()) {
		t.Errorf("Expected unchanged mapping, got %v", task.Mapping())
	}
}

func TestUpdateMapping_ClosedDatasetNotRequeried(t *testing.T) {
	f := newFixture(inputFiles(1, 1))
	task := f.newTask(t, baseConfig(t))
	assert.Equal(t, 1, f.sample.Queries())

	f.sample.SetFiles(inputFiles(1, 1, 1))
	added, err := task.UpdateMapping(context.Background(), MappingOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 1, f.sample.Queries())

	// an explicit requery picks up the new file
	added, err = task.UpdateMapping(context.Background(), MappingOptions{Requery: true})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, f.sample.Queries())
	assert.Equal(t, []int{1, 2, 3}, indices(task.Mapping()))
}

func TestUpdateMapping_RequeryClosedDatasetPolicy(t *testing.T) {
	f := newFixture(inputFiles(1))
	cfg := baseConfig(t)
	cfg.RequeryClosedDataset = true
	task := f.newTask(t, cfg)

	f.sample.SetFiles(inputFiles(1, 1))
	added, err := task.UpdateMapping(context.Background(), MappingOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, f.sample.Queries())
}

func TestUpdateMapping_OpenDatasetHoldsPartialChunk(t *testing.T) {
	f := newFixture(inputFiles(1, 1, 1))
	cfg := baseConfig(t)
	cfg.OpenDataset = true
	cfg.FilesPerOutput = 2
	task := f.newTask(t, cfg)
	m := task.Mapping()
	require.Len(t, m, 1)
	assert.Len(t, m[0].Inputs, 2)

	// the dataset grows; the held-back file is packed with the new one
	f.sample.SetFiles(inputFiles(1, 1, 1, 1))
	added, err := task.UpdateMapping(context.Background(), MappingOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	m = task.Mapping()
	assert.Equal(t, []string{"/store/in/f02.root", "/store/in/f03.root"},
		[]string{m[1].Inputs[0].Name, m[1].Inputs[1].Name})

	f.sample.SetFiles(inputFiles(1, 1, 1, 1, 1))
	added, _ = task.UpdateMapping(context.Background(), MappingOptions{})
	assert.Equal(t, 0, added)
	added, _ = task.UpdateMapping(context.Background(), MappingOptions{Flush: true})
	assert.Equal(t, 1, added)
	assert.Equal(t, []int{1, 2, 3}, indices(task.Mapping()))
}

func TestUpdateMapping_InputsNeverRepeated(t *testing.T) {
	f := newFixture(inputFiles(1, 2, 3, 4, 5))
	cfg := baseConfig(t)
	cfg.OpenDataset = true
	cfg.EventsPerOutput = 4
	task := f.newTask(t, cfg)
	for i := 0; i < 3; i++ {
		task.UpdateMapping(context.Background(), MappingOptions{Flush: true})
	}
	seen := map[string]bool{}
	for _, e := range task.Mapping() {
		for _, in := range e.Inputs {
			if seen[in.Name] {
				t.Errorf("Input %s mapped twice", in.Name)
			}
			seen[in.Name] = true
		}
	}
	assert.Len(t, seen, 5)
	assert.NoError(t, task.Mapping().Validate())
}

func TestUpdateMapping_MaxJobs(t *testing.T) {
	f := newFixture(inputFiles(1, 1, 1, 1, 1))
	cfg := baseConfig(t)
	cfg.MaxJobs = 3
	task := f.newTask(t, cfg)
	assert.Len(t, task.Mapping(), 3)

	added, err := task.UpdateMapping(context.Background(), MappingOptions{Requery: true})
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestUpdateMapping_Override(t *testing.T) {
	f := newFixture(inputFiles(1, 1))
	task := f.newTask(t, baseConfig(t))
	override := [][]domain.File{
		{{Name: "/store/x/a.root", Events: 3}, {Name: "/store/x/b.root", Events: 4}},
		{},
		{{Name: "/store/x/c.root", Events: 5}},
	}
	added, err := task.UpdateMapping(context.Background(), MappingOptions{Override: override})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	m := task.Mapping()
	assert.Equal(t, []int{1, 2, 3, 4}, indices(m))
	assert.Equal(t, int64(7), m[2].Output.Events)
}

func TestUpdateMapping_SplitWithinFiles(t *testing.T) {
	f := newFixture(inputFiles(0, 0))
	cfg := baseConfig(t)
	cfg.SplitWithinFiles = true
	cfg.TotalEvents = 1000
	cfg.EventsPerOutput = 300
	task := f.newTask(t, cfg)
	m := task.Mapping()
	require.Len(t, m, 3)
	for _, e := range m {
		assert.Len(t, e.Inputs, 2)
	}

	cfg.TotalEvents = 0
	cfg.BaseDir = t.TempDir()
	_, err := New(context.Background(), cfg, newFixture(inputFiles(1)).deps())
	assert.Equal(t, ErrSplitWithinFiles, errors.Cause(err))
}

func TestUpdateMapping_IndicesSurviveRestart(t *testing.T) {
	f := newFixture(inputFiles(1, 1))
	cfg := baseConfig(t)
	cfg.OpenDataset = true
	task := f.newTask(t, cfg)
	require.NoError(t, task.Backup(context.Background()))

	// a new process over the same persisted state
	f.sample.SetFiles(inputFiles(1, 1, 1))
	restarted := f.newTask(t, cfg)
	assert.Equal(t, []int{1, 2, 3}, indices(restarted.Mapping()))
	assert.NoError(t, restarted.Mapping().Validate())
}

func TestUpdateMapping_ReadOnlyBuildsNothing(t *testing.T) {
	f := newFixture(inputFiles(1, 1))
	cfg := baseConfig(t)
	cfg.ReadOnly = true
	task := f.newTask(t, cfg)
	assert.Empty(t, task.Mapping())
	assert.Equal(t, 0, f.sample.Queries())
}
