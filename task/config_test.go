package task

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/twitter/condortask/condor"
)

func TestConfig_Defaults(t *testing.T) {
	c := Config{Tag: "v1"}.WithDefaults()
	assert.Equal(t, KindCondor, c.Kind)
	assert.Equal(t, 1.0, c.MinCompletionFraction)
	assert.Equal(t, int64(DefaultFilesPerOutput), c.FilesPerOutput)
	assert.Equal(t, "output.root", c.OutputName)
	assert.Equal(t, "ProjectMetis", c.SpecialDir)
	assert.Equal(t, DefaultScramArch, c.ScramArch)
	assert.Equal(t, DefaultMaxRunning, c.MaxRunning)
	assert.Equal(t, DefaultMaxHeld, c.MaxHeld)
	assert.Equal(t, condor.DefaultSites, c.Sites)
	assert.NoError(t, c.Validate())

	// an events bound alone leaves the files bound off
	c = Config{Tag: "v1", EventsPerOutput: 100}.WithDefaults()
	assert.Equal(t, int64(0), c.FilesPerOutput)
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		err  error
	}{
		{"no tag", Config{}, ErrMissingTag},
		{"fraction too big", Config{Tag: "v1", MinCompletionFraction: 1.5}, ErrInvalidCompletionFraction},
		{"fraction negative", Config{Tag: "v1", MinCompletionFraction: -0.1}, ErrInvalidCompletionFraction},
		{"no bounds", Config{Tag: "v1", FilesPerOutput: -1, EventsPerOutput: -1}, ErrInvalidChunking},
		{"bad unique name", Config{Tag: "v1", UniqueName: `has "quotes"`}, ErrInvalidUniqueName},
		{"bad kind", Config{Tag: "v1", Kind: "merge"}, ErrUnknownKind},
	}
	for _, c := range cases {
		err := c.cfg.WithDefaults().Validate()
		if errors.Cause(err) != c.err {
			t.Errorf("%s: expected %v, got %v", c.name, c.err, err)
		}
	}
}

func TestUniqueNameAndOutputDir(t *testing.T) {
	assert.Equal(t, "CondorTask_A_B_MINIAODSIM_v3", UniqueNameFor(KindCondor, "/A/B/MINIAODSIM", "v3"))
	assert.Equal(t, "CMSSWTask_A_B_MINIAODSIM_v3", UniqueNameFor(KindCMSSW, "/A/B/MINIAODSIM", "v3"))

	c := Config{Tag: "v3", OutputRoot: "/hadoop/cms/store/user/me"}.WithDefaults()
	assert.Equal(t, "/hadoop/cms/store/user/me/ProjectMetis/A_B_MINIAODSIM_v3", c.DefaultOutputDir("/A/B/MINIAODSIM"))
}

func TestNew_ConfigurationErrors(t *testing.T) {
	f := newFixture(inputFiles(1, 2))
	ctx := context.Background()

	deps := f.deps()
	deps.Sample = nil
	_, err := New(ctx, baseConfig(t), deps)
	assert.Equal(t, ErrMissingSample, err)

	_, err = New(ctx, Config{Tag: "v1", BaseDir: t.TempDir()}, f.deps())
	assert.Equal(t, ErrMissingExecutable, errors.Cause(err))

	cfg := baseConfig(t)
	cfg.Kind = KindCMSSW
	_, err = New(ctx, cfg, f.deps())
	assert.Equal(t, ErrMissingPset, errors.Cause(err))

	cfg = baseConfig(t)
	cfg.Tag = ""
	_, err = New(ctx, cfg, f.deps())
	assert.Equal(t, ErrMissingTag, errors.Cause(err))
}

func TestNew_DerivedNamesAndGlobalTag(t *testing.T) {
	f := newFixture(inputFiles(1))
	cfg := baseConfig(t)
	cfg.OutputDir = ""
	cfg.OutputRoot = "/store/user/me"
	task := f.newTask(t, cfg)

	assert.Equal(t, "CondorTask_Test_Sample_USER_v1", task.UniqueName())
	assert.Equal(t, "/store/user/me/ProjectMetis/Test_Sample_USER_v1", task.OutputDir())
	assert.Equal(t, "gt_test", task.GlobalTag())

	cfg.GlobalTag = "explicit_gt"
	cfg.BaseDir = t.TempDir()
	f2 := newFixture(inputFiles(1))
	assert.Equal(t, "explicit_gt", f2.newTask(t, cfg).GlobalTag())
}
