package task

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/condortask/common/log/tags"
	"github.com/twitter/condortask/domain"
)

const (
	stagedExecutable = "executable.sh"
	stagedPackage    = "package.tar.gz"
	stagedPset       = "pset.py"
)

// Info is the read-only view of a task that variants work from.
type Info struct {
	UniqueName string
	TaskDir    string
	OutputDir  string
	GlobalTag  string
	Config     Config
}

// Staged are the files PrepareInputs placed in the task directory. Empty paths were not staged.
type Staged struct {
	Executable string
	Package    string
	Pset       string
}

// Variant is what distinguishes one kind of task from another. The reconciliation
// engine is shared; a variant only stages inputs, shapes job arguments and reacts
// to completion.
type Variant interface {
	Kind() Kind

	// Validate reports missing options the variant needs.
	Validate(cfg Config) error

	// PrepareInputs runs once per task, before the first submission.
	PrepareInputs(ctx context.Context, info Info) (Staged, error)

	// BuildSubmissionArguments extends base, which is
	// [output dir, output name without extension, comma-joined inputs, index].
	BuildSubmissionArguments(info Info, entry domain.IOEntry, base []string) []string

	// Finalize runs on every pass that ends with the task complete.
	Finalize(ctx context.Context, info Info) error
}

// VariantFor returns the built-in variant of kind.
func VariantFor(kind Kind) (Variant, error) {
	switch kind {
	case KindCondor, "":
		return CondorVariant{}, nil
	case KindCMSSW:
		return CMSSWVariant{}, nil
	}
	return nil, errors.Wrapf(ErrUnknownKind, "%q", kind)
}

// CondorVariant runs an arbitrary executable over each chunk.
type CondorVariant struct{}

var _ Variant = CondorVariant{}

func (CondorVariant) Kind() Kind { return KindCondor }

func (CondorVariant) Validate(cfg Config) error {
	if cfg.Executable == "" {
		return ErrMissingExecutable
	}
	return nil
}

func (CondorVariant) PrepareInputs(ctx context.Context, info Info) (Staged, error) {
	return stageCommon(info)
}

func (CondorVariant) BuildSubmissionArguments(info Info, entry domain.IOEntry, base []string) []string {
	c := info.Config
	return append(base, c.CMSSWVersion, c.ScramArch, c.Arguments)
}

func (CondorVariant) Finalize(ctx context.Context, info Info) error { return nil }

// CMSSWVariant runs cmsRun with a parameter set staged next to the executable.
type CMSSWVariant struct{}

var _ Variant = CMSSWVariant{}

func (CMSSWVariant) Kind() Kind { return KindCMSSW }

func (CMSSWVariant) Validate(cfg Config) error {
	if cfg.Executable == "" {
		return ErrMissingExecutable
	}
	if cfg.Pset == "" {
		return ErrMissingPset
	}
	if cfg.Tarfile == "" {
		return ErrMissingTarfile
	}
	if cfg.CMSSWVersion == "" {
		return ErrMissingCMSSWVersion
	}
	return nil
}

func (CMSSWVariant) PrepareInputs(ctx context.Context, info Info) (Staged, error) {
	staged, err := stageCommon(info)
	if err != nil {
		return staged, err
	}
	staged.Pset = filepath.Join(info.TaskDir, stagedPset)
	if err := copyFile(info.Config.Pset, staged.Pset, 0644); err != nil {
		return staged, err
	}
	if err := appendPsetOverrides(staged.Pset, info); err != nil {
		return staged, err
	}
	return staged, nil
}

func (CMSSWVariant) BuildSubmissionArguments(info Info, entry domain.IOEntry, base []string) []string {
	c := info.Config
	// -1 processes every event of the inputs
	return append(base, stagedPset, c.CMSSWVersion, c.ScramArch, "-1")
}

func (CMSSWVariant) Finalize(ctx context.Context, info Info) error { return nil }

func appendPsetOverrides(pset string, info Info) error {
	f, err := os.OpenFile(pset, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "opening %s", pset)
	}
	defer f.Close()

	lines := "\n# Overrides added at staging\n"
	if info.GlobalTag != "" {
		lines += fmt.Sprintf("if hasattr(process, \"GlobalTag\"): process.GlobalTag.globaltag = %q\n", info.GlobalTag)
	}
	lines += fmt.Sprintf("if hasattr(process, \"out\"): process.out.fileName = cms.untracked.string(%q)\n", path.Base(info.Config.OutputName))
	if _, err := f.WriteString(lines); err != nil {
		return errors.Wrapf(err, "writing %s", pset)
	}
	return nil
}

func stageCommon(info Info) (Staged, error) {
	var staged Staged
	if err := os.MkdirAll(info.TaskDir, 0755); err != nil {
		return staged, errors.Wrapf(err, "creating %s", info.TaskDir)
	}
	staged.Executable = filepath.Join(info.TaskDir, stagedExecutable)
	if err := copyFile(info.Config.Executable, staged.Executable, 0755); err != nil {
		return staged, err
	}
	if info.Config.Tarfile != "" {
		staged.Package = filepath.Join(info.TaskDir, stagedPackage)
		if err := copyFile(info.Config.Tarfile, staged.Package, 0644); err != nil {
			return staged, err
		}
	}
	log.WithFields(log.Fields{
		tags.Task:    info.UniqueName,
		"executable": staged.Executable,
		"package":    staged.Package,
	}).Info("Staged task inputs")
	return staged, nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "opening %s", src)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return errors.Wrapf(err, "creating %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copying %s to %s", src, dst)
	}
	return errors.Wrapf(out.Close(), "closing %s", dst)
}
