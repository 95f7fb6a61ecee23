package task

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/twitter/condortask/condor"
)

// Kind selects the variant a task runs as.
type Kind string

const (
	KindCondor Kind = "condor"
	KindCMSSW  Kind = "cmssw"
)

// namePrefix is the first component of a derived unique name.
func (k Kind) namePrefix() string {
	if k == KindCMSSW {
		return "CMSSWTask"
	}
	return "CondorTask"
}

const (
	DefaultMinCompletionFraction = 1.0
	DefaultFilesPerOutput        = 1
	DefaultOutputName            = "output.root"
	DefaultSpecialDir            = "ProjectMetis"
	DefaultBaseDir               = "."
	DefaultScramArch             = "slc6_amd64_gcc530"
	DefaultMaxRunning            = 32 * time.Hour
	DefaultMaxHeld               = 5 * time.Hour

	// completionEpsilon is how far below 1 the completion fraction must be before
	// stragglers are torn down.
	completionEpsilon = 1e-3
)

// Config holds every recognized task option. Zero values take the defaults above.
type Config struct {
	Tag        string `yaml:"tag"`
	UniqueName string `yaml:"unique_name"`
	Kind       Kind   `yaml:"kind"`

	// OpenDataset marks a sample that may still grow.
	OpenDataset bool `yaml:"open_dataset"`

	// Chunking bounds; a value <= 0 disables the bound. With neither set,
	// FilesPerOutput is DefaultFilesPerOutput.
	FilesPerOutput  int64 `yaml:"files_per_output"`
	EventsPerOutput int64 `yaml:"events_per_output"`

	SplitWithinFiles bool  `yaml:"split_within_files"`
	TotalEvents      int64 `yaml:"total_nevents"`

	// MaxJobs > 0 caps the number of outputs in the mapping.
	MaxJobs int `yaml:"max_jobs"`

	MinCompletionFraction float64 `yaml:"min_completion_fraction"`

	// RequeryClosedDataset makes UpdateMapping ask a closed, already mapped
	// sample for new files.
	RequeryClosedDataset bool `yaml:"requery_closed_dataset"`

	OutputName string `yaml:"output_name"`
	OutputDir  string `yaml:"output_dir"`
	OutputRoot string `yaml:"output_root"`
	SpecialDir string `yaml:"special_dir"`
	BaseDir    string `yaml:"base_dir"`

	Executable           string   `yaml:"executable"`
	Tarfile              string   `yaml:"tarfile"`
	AdditionalInputFiles []string `yaml:"additional_input_files"`
	Arguments            string   `yaml:"arguments"`
	CMSSWVersion         string   `yaml:"cmssw_version"`
	ScramArch            string   `yaml:"scram_arch"`
	Pset                 string   `yaml:"pset"`
	GlobalTag            string   `yaml:"global_tag"`

	MaxRunning time.Duration `yaml:"max_running"`
	MaxHeld    time.Duration `yaml:"max_held"`

	// ReadOnly tasks observe and summarize but never prepare, submit, remove or save.
	ReadOnly bool `yaml:"read_only"`

	// Sites is the comma-joined desired site list used when the optimizer is off.
	Sites        string `yaml:"sites"`
	UseOptimizer bool   `yaml:"use_optimizer"`
}

// WithDefaults fills unset options.
func (c Config) WithDefaults() Config {
	if c.Kind == "" {
		c.Kind = KindCondor
	}
	if c.MinCompletionFraction == 0 {
		c.MinCompletionFraction = DefaultMinCompletionFraction
	}
	if c.FilesPerOutput == 0 && c.EventsPerOutput == 0 {
		c.FilesPerOutput = DefaultFilesPerOutput
	}
	if c.OutputName == "" {
		c.OutputName = DefaultOutputName
	}
	if c.OutputRoot == "" {
		c.OutputRoot = path.Join("/hadoop/cms/store/user", os.Getenv("USER"))
	}
	if c.SpecialDir == "" {
		c.SpecialDir = DefaultSpecialDir
	}
	if c.BaseDir == "" {
		c.BaseDir = DefaultBaseDir
	}
	if c.ScramArch == "" {
		c.ScramArch = DefaultScramArch
	}
	if c.MaxRunning == 0 {
		c.MaxRunning = DefaultMaxRunning
	}
	if c.MaxHeld == 0 {
		c.MaxHeld = DefaultMaxHeld
	}
	if c.Sites == "" {
		c.Sites = condor.DefaultSites
	}
	return c
}

// Validate checks the options that don't depend on the sample.
func (c Config) Validate() error {
	if c.Tag == "" {
		return ErrMissingTag
	}
	switch c.Kind {
	case KindCondor, KindCMSSW:
	default:
		return errors.Wrapf(ErrUnknownKind, "%q", c.Kind)
	}
	if c.MinCompletionFraction <= 0 || c.MinCompletionFraction > 1 {
		return errors.Wrapf(ErrInvalidCompletionFraction, "got %v", c.MinCompletionFraction)
	}
	if c.FilesPerOutput <= 0 && c.EventsPerOutput <= 0 && !c.SplitWithinFiles {
		return ErrInvalidChunking
	}
	if c.UniqueName != "" {
		if err := validateUniqueName(c.UniqueName); err != nil {
			return err
		}
	}
	return nil
}

// relaxedCompletion reports whether stragglers may be torn down.
func (c Config) relaxedCompletion() bool {
	return c.MinCompletionFraction < 1-completionEpsilon
}

// DatasetDirName turns "/A/B/C" into "A_B_C".
func DatasetDirName(dataset string) string {
	return strings.TrimLeft(strings.ReplaceAll(dataset, "/", "_"), "_")
}

// UniqueNameFor derives the scheduler label of a task, e.g. CondorTask_A_B_C_v1.
func UniqueNameFor(kind Kind, dataset, tag string) string {
	return fmt.Sprintf("%s_%s_%s", kind.namePrefix(), DatasetDirName(dataset), tag)
}

// DefaultOutputDir is {OutputRoot}/{SpecialDir}/{dataset dir}_{tag}.
func (c Config) DefaultOutputDir(dataset string) string {
	return path.Join(c.OutputRoot, c.SpecialDir, fmt.Sprintf("%s_%s", DatasetDirName(dataset), c.Tag))
}

// The name is matched in ClassAd string literals and used as a directory name.
func validateUniqueName(name string) error {
	if name == "" || strings.ContainsAny(name, "\"'\\/ \t\n") {
		return errors.Wrapf(ErrInvalidUniqueName, "%q", name)
	}
	return nil
}
