package task

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/condortask/domain"
)

func TestCondorVariant_PrepareInputs(t *testing.T) {
	dir := t.TempDir()
	tarfile := filepath.Join(dir, "code.tar.gz")
	require.NoError(t, os.WriteFile(tarfile, []byte("tar"), 0644))

	cfg := baseConfig(t)
	cfg.Tarfile = tarfile
	info := Info{UniqueName: "u", TaskDir: filepath.Join(dir, "tasks", "u"), Config: cfg}

	staged, err := CondorVariant{}.PrepareInputs(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(info.TaskDir, "executable.sh"), staged.Executable)
	assert.Equal(t, filepath.Join(info.TaskDir, "package.tar.gz"), staged.Package)
	assert.Empty(t, staged.Pset)

	st, err := os.Stat(staged.Executable)
	require.NoError(t, err)
	assert.NotZero(t, st.Mode()&0100, "staged executable should be executable")
	data, _ := os.ReadFile(staged.Package)
	assert.Equal(t, "tar", string(data))
}

func TestCondorVariant_MissingExecutableFile(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Executable = "/does/not/exist.sh"
	_, err := CondorVariant{}.PrepareInputs(context.Background(), Info{TaskDir: t.TempDir(), Config: cfg})
	assert.Error(t, err)
}

func TestCMSSWVariant(t *testing.T) {
	dir := t.TempDir()
	pset := filepath.Join(dir, "cfg.py")
	require.NoError(t, os.WriteFile(pset, []byte("process = cms.Process(\"X\")\n"), 0644))
	tarfile := filepath.Join(dir, "package.tar.gz")
	require.NoError(t, os.WriteFile(tarfile, []byte("tar"), 0644))

	cfg := baseConfig(t)
	cfg.Kind = KindCMSSW
	cfg.Pset = pset
	cfg.Tarfile = tarfile
	cfg.CMSSWVersion = "CMSSW_10_2_5"
	cfg = cfg.WithDefaults()
	info := Info{UniqueName: "u", TaskDir: filepath.Join(dir, "task"), GlobalTag: "102X_v1", Config: cfg}

	v := CMSSWVariant{}
	require.NoError(t, v.Validate(cfg))
	staged, err := v.PrepareInputs(context.Background(), info)
	require.NoError(t, err)
	assert.FileExists(t, staged.Package)
	data, err := os.ReadFile(staged.Pset)
	require.NoError(t, err)
	body := string(data)
	assert.True(t, strings.HasPrefix(body, "process = cms.Process"))
	assert.Contains(t, body, `process.GlobalTag.globaltag = "102X_v1"`)
	assert.Contains(t, body, `cms.untracked.string("output.root")`)

	entry := domain.IOEntry{Output: &domain.EventsFile{Index: 3}}
	args := v.BuildSubmissionArguments(info, entry, []string{"/out", "output", "a,b", "3"})
	assert.Equal(t, []string{"/out", "output", "a,b", "3", "pset.py", "CMSSW_10_2_5", DefaultScramArch, "-1"}, args)
}

func TestCMSSWVariant_Validate(t *testing.T) {
	full := Config{Executable: "exe.sh", Pset: "pset.py", Tarfile: "package.tar.gz", CMSSWVersion: "CMSSW_10_2_5"}
	require.NoError(t, CMSSWVariant{}.Validate(full))

	for _, tc := range []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"executable", func(c *Config) { c.Executable = "" }, ErrMissingExecutable},
		{"pset", func(c *Config) { c.Pset = "" }, ErrMissingPset},
		{"tarfile", func(c *Config) { c.Tarfile = "" }, ErrMissingTarfile},
		{"cmssw version", func(c *Config) { c.CMSSWVersion = "" }, ErrMissingCMSSWVersion},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := full
			tc.modify(&cfg)
			assert.Equal(t, tc.want, CMSSWVariant{}.Validate(cfg))
		})
	}
}

func TestVariantFor(t *testing.T) {
	v, err := VariantFor(KindCMSSW)
	require.NoError(t, err)
	assert.Equal(t, KindCMSSW, v.Kind())
	_, err = VariantFor("merge")
	assert.Error(t, err)
}
