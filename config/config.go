// Package config reads the YAML file describing a whole run: the scheduler, storage,
// catalog, optimizer and driver settings plus the tasks to drive. JSON is accepted too,
// being valid YAML.
package config

import (
	"os"
	"regexp"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/twitter/condortask/domain"
	"github.com/twitter/condortask/task"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

const (
	SampleStatic    = "static"
	SampleDirectory = "directory"
	SampleCatalog   = "catalog"

	DefaultStorageURL  = "file:///"
	DefaultStorageRoot = "/"
	DefaultHTTPAddr    = "localhost:9091"
)

type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Driver    DriverConfig    `yaml:"driver"`
	HTTP      HTTPConfig      `yaml:"http"`
	Tasks     []TaskConfig    `yaml:"tasks"`
}

type SchedulerConfig struct {
	User          string        `yaml:"user"`
	QueryTimeout  time.Duration `yaml:"query_timeout"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	RemoveTimeout time.Duration `yaml:"remove_timeout"`
	QueryRetries  uint64        `yaml:"query_retries"`
	SubmitRate    float64       `yaml:"submit_rate"`
	SubmitBurst   int           `yaml:"submit_burst"`
	SubmitDir     string        `yaml:"submit_dir"`
	Proxy         string        `yaml:"proxy"`

	// DryRun drives an in-memory scheduler instead of the condor tools.
	DryRun bool `yaml:"dry_run"`
}

// StorageConfig locates outputs. URL is a gocloud.dev bucket URL such as
// file:///hadoop/cms/store, gs://bucket or s3://bucket; Root is the file name
// prefix that maps onto the bucket's top level.
type StorageConfig struct {
	URL  string `yaml:"url"`
	Root string `yaml:"root"`
}

type CatalogConfig struct {
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	ReplicaTTL time.Duration `yaml:"replica_ttl"`
	CacheSize  int           `yaml:"cache_size"`
}

type OptimizerConfig struct {
	GoodSites []string `yaml:"good_sites"`
}

type DriverConfig struct {
	TickRate    time.Duration `yaml:"tick_rate"`
	Concurrency int           `yaml:"concurrency"`
	MaxTicks    int           `yaml:"max_ticks"`
	SummaryFile string        `yaml:"summary_file"`
}

type HTTPConfig struct {
	// Addr of the admin server; empty disables it.
	Addr string `yaml:"addr"`
}

// SampleConfig picks and configures a task's data source.
type SampleConfig struct {
	Type        string        `yaml:"type"`
	Dataset     string        `yaml:"dataset"`
	Location    string        `yaml:"location"`
	Glob        string        `yaml:"glob"`
	GlobalTag   string        `yaml:"global_tag"`
	StripPrefix string        `yaml:"strip_prefix"`
	Files       []domain.File `yaml:"files"`
}

type TaskConfig struct {
	Sample      SampleConfig `yaml:"sample"`
	task.Config `yaml:",inline"`
}

// Text returns the config text for a flag value: the contents of the file it names,
// or the value itself when it is inline YAML or JSON.
func Text(flag string) ([]byte, error) {
	if looksInline.MatchString(flag) {
		log.Debug("Using inline config")
		return []byte(flag), nil
	}
	data, err := os.ReadFile(flag)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", flag)
	}
	return data, nil
}

var looksInline = regexp.MustCompile(`^\s*[{\[]|\n`)

// Load reads, defaults and validates a config from a file name or inline text.
func Load(flag string) (*Config, error) {
	data, err := Text(flag)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "parsing: %v", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyDefaults fills unset run-level options. Task options are defaulted by task.New.
func (c *Config) ApplyDefaults() {
	if c.Storage.URL == "" {
		c.Storage.URL = DefaultStorageURL
	}
	if c.Storage.Root == "" {
		c.Storage.Root = DefaultStorageRoot
	}
	for i := range c.Tasks {
		if c.Tasks[i].Sample.Type == "" {
			c.Tasks[i].Sample.Type = SampleCatalog
			if len(c.Tasks[i].Sample.Files) > 0 {
				c.Tasks[i].Sample.Type = SampleStatic
			}
		}
	}
}

func (c *Config) Validate() error {
	if len(c.Tasks) == 0 {
		return errors.Wrap(ErrInvalidConfig, "no tasks")
	}
	for i, t := range c.Tasks {
		s := t.Sample
		if s.Dataset == "" {
			return errors.Wrapf(ErrInvalidConfig, "task %d: sample has no dataset", i)
		}
		switch s.Type {
		case SampleStatic:
		case SampleDirectory:
			if s.Location == "" {
				return errors.Wrapf(ErrInvalidConfig, "task %d: directory sample has no location", i)
			}
		case SampleCatalog:
			if c.Catalog.URL == "" {
				return errors.Wrapf(ErrInvalidConfig, "task %d: catalog sample but no catalog url", i)
			}
		default:
			return errors.Wrapf(ErrInvalidConfig, "task %d: unknown sample type %q", i, s.Type)
		}
		if err := t.Config.WithDefaults().Validate(); err != nil {
			return errors.Wrapf(ErrInvalidConfig, "task %d (%s): %v", i, s.Dataset, err)
		}
	}
	return nil
}

func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(out)
}
