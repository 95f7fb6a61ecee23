package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/condortask/task"
)

const sampleYAML = `
scheduler:
  user: cmsuser
  query_timeout: 90s
  query_retries: 5
  submit_rate: 2.5
catalog:
  url: http://catalog.example/api
  cache_ttl: 10m
optimizer:
  good_sites: [T2_US_UCSD, T2_US_MIT]
driver:
  tick_rate: 15m
  concurrency: 8
  summary_file: /tmp/web/summary.json
tasks:
  - sample:
      dataset: /A/B/MINIAODSIM
    tag: v7
    kind: cmssw
    pset: pset.py
    executable: exe.sh
    events_per_output: 100000
    min_completion_fraction: 0.95
    max_held: 3h
    use_optimizer: true
  - sample:
      type: directory
      dataset: /Private/Sample/USER
      location: /hadoop/cms/store/user/me/private
    tag: v1
    executable: exe.sh
    files_per_output: 5
  - sample:
      dataset: /Fixed/Files/USER
      files:
        - {name: /store/a.root, nevents: 10}
        - {name: /store/b.root, nevents: 20}
    tag: v2
    executable: exe.sh
    open_dataset: true
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "cmsuser", c.Scheduler.User)
	assert.Equal(t, 90*time.Second, c.Scheduler.QueryTimeout)
	assert.Equal(t, uint64(5), c.Scheduler.QueryRetries)
	assert.Equal(t, 10*time.Minute, c.Catalog.CacheTTL)
	assert.Equal(t, []string{"T2_US_UCSD", "T2_US_MIT"}, c.Optimizer.GoodSites)
	assert.Equal(t, 15*time.Minute, c.Driver.TickRate)
	assert.Equal(t, DefaultStorageURL, c.Storage.URL)

	require.Len(t, c.Tasks, 3)
	t0 := c.Tasks[0]
	assert.Equal(t, SampleCatalog, t0.Sample.Type)
	assert.Equal(t, task.KindCMSSW, t0.Kind)
	assert.Equal(t, int64(100000), t0.EventsPerOutput)
	assert.Equal(t, 0.95, t0.MinCompletionFraction)
	assert.Equal(t, 3*time.Hour, t0.MaxHeld)
	assert.True(t, t0.UseOptimizer)

	assert.Equal(t, SampleDirectory, c.Tasks[1].Sample.Type)
	assert.Equal(t, int64(5), c.Tasks[1].FilesPerOutput)

	t2 := c.Tasks[2]
	assert.Equal(t, SampleStatic, t2.Sample.Type)
	require.Len(t, t2.Sample.Files, 2)
	assert.Equal(t, int64(20), t2.Sample.Files[1].Events)
	assert.True(t, t2.OpenDataset)

	assert.Contains(t, c.String(), "dataset: /A/B/MINIAODSIM")
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"no tasks":     `scheduler: {user: x}`,
		"no dataset":   "tasks:\n  - tag: v1\n    sample: {type: static}\n",
		"no catalog":   "tasks:\n  - tag: v1\n    sample: {dataset: /A/B/C}\n",
		"bad type":     "tasks:\n  - tag: v1\n    sample: {dataset: /A/B/C, type: ftp}\n",
		"no location":  "tasks:\n  - tag: v1\n    sample: {dataset: /A/B/C, type: directory}\n",
		"bad fraction": "tasks:\n  - tag: v1\n    min_completion_fraction: 2\n    sample: {dataset: /A/B/C, type: static}\n",
		"not yaml":     "tasks: [",
		"missing tag":  "tasks:\n  - sample: {dataset: /A/B/C, type: static}\n",
	}
	for name, text := range cases {
		_, err := Parse([]byte(text))
		if errors.Cause(err) != ErrInvalidConfig {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestText(t *testing.T) {
	inline := `{"tasks": []}`
	data, err := Text(inline)
	require.NoError(t, err)
	assert.Equal(t, inline, string(data))

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.Tasks, 3)

	_, err = Text("/does/not/exist.yaml")
	assert.True(t, strings.Contains(err.Error(), "exist.yaml"))
}
