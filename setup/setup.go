// Package setup builds a run's object graph from a config.Config: the scheduler
// client, the storage bucket, the catalog client, one task per configured sample,
// and the driver over them.
package setup

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocloud.dev/blob"

	"github.com/twitter/condortask/common/log/tags"
	"github.com/twitter/condortask/common/os/exec"
	"github.com/twitter/condortask/common/stats"
	"github.com/twitter/condortask/condor"
	"github.com/twitter/condortask/config"
	"github.com/twitter/condortask/driver"
	"github.com/twitter/condortask/optimizer"
	"github.com/twitter/condortask/sample"
	"github.com/twitter/condortask/storage"
	"github.com/twitter/condortask/task"
)

// Options override pieces of the graph that are normally built from the config.
type Options struct {
	Exec      exec.OsExec
	Scheduler condor.Client
	Bucket    *blob.Bucket
	Stats     stats.StatsReceiver

	// ReadOnly forces every task read-only, as for summary and inspection commands.
	ReadOnly bool
}

// Env is a built run. Close releases the storage bucket.
type Env struct {
	Config    *config.Config
	Stats     stats.StatsReceiver
	Scheduler condor.Client
	Store     *storage.BlobStore
	Catalog   *sample.CatalogClient
	Tasks     []*task.Task
	Driver    *driver.Driver
}

// Build constructs every task in cfg and a driver over them. Any task failing to
// construct fails the build.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Env, error) {
	env := &Env{Config: cfg, Stats: opts.Stats}
	if env.Stats == nil {
		env.Stats = stats.NilStatsReceiver()
	}

	env.Scheduler = opts.Scheduler
	if env.Scheduler == nil {
		env.Scheduler = newScheduler(cfg.Scheduler, opts.Exec, env.Stats)
	}

	if opts.Bucket != nil {
		env.Store = storage.NewBlobStore(opts.Bucket, cfg.Storage.Root)
	} else {
		s, err := storage.OpenBlobStore(ctx, cfg.Storage.URL, cfg.Storage.Root)
		if err != nil {
			return nil, err
		}
		env.Store = s
	}

	if cfg.Catalog.URL != "" {
		env.Catalog = sample.NewCatalogClient(sample.CatalogConfig{
			URL:        cfg.Catalog.URL,
			Timeout:    cfg.Catalog.Timeout,
			MaxRetries: cfg.Catalog.MaxRetries,
			CacheTTL:   cfg.Catalog.CacheTTL,
			ReplicaTTL: cfg.Catalog.ReplicaTTL,
			CacheSize:  cfg.Catalog.CacheSize,
		}, env.Stats)
	}

	var opt *optimizer.Optimizer
	if len(cfg.Optimizer.GoodSites) > 0 {
		opt = optimizer.NewOptimizer(cfg.Optimizer.GoodSites, nil)
	}

	dts := make([]driver.Task, 0, len(cfg.Tasks))
	for i, tc := range cfg.Tasks {
		smp, err := env.newSample(tc.Sample)
		if err != nil {
			env.Close()
			return nil, errors.Wrapf(err, "task %d", i)
		}
		deps := task.Deps{
			Sample:    smp,
			Scheduler: env.Scheduler,
			Storage:   env.Store,
			Optimizer: opt,
			Stats:     env.Stats,
		}
		if env.Catalog != nil {
			deps.Replicas = env.Catalog
		}
		tcfg := tc.Config
		if opts.ReadOnly {
			tcfg.ReadOnly = true
		}
		t, err := task.New(ctx, tcfg, deps)
		if err != nil {
			env.Close()
			return nil, errors.Wrapf(err, "task %d (%s)", i, tc.Sample.Dataset)
		}
		log.WithFields(log.Fields{tags.Task: t.UniqueName(), tags.Dataset: tc.Sample.Dataset}).Debug("Built task")
		env.Tasks = append(env.Tasks, t)
		dts = append(dts, t)
	}

	d, err := driver.New(dts, driver.Config{
		TickRate:    cfg.Driver.TickRate,
		Concurrency: cfg.Driver.Concurrency,
		MaxTicks:    cfg.Driver.MaxTicks,
		SummaryFile: cfg.Driver.SummaryFile,
	}, env.Stats)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Driver = d
	return env, nil
}

func newScheduler(sc config.SchedulerConfig, ex exec.OsExec, stat stats.StatsReceiver) condor.Client {
	if sc.DryRun {
		log.Info("Dry run: jobs go to an in-memory scheduler")
		return condor.NewFakeClient()
	}
	if ex == nil {
		ex = exec.NewOsExec()
	}
	return condor.NewCLIClient(ex, condor.Config{
		User:          sc.User,
		QueryTimeout:  sc.QueryTimeout,
		SubmitTimeout: sc.SubmitTimeout,
		RemoveTimeout: sc.RemoveTimeout,
		QueryRetries:  sc.QueryRetries,
		SubmitRate:    sc.SubmitRate,
		SubmitBurst:   sc.SubmitBurst,
		SubmitDir:     sc.SubmitDir,
		Proxy:         sc.Proxy,
	}, stat)
}

func (e *Env) newSample(sc config.SampleConfig) (sample.Sample, error) {
	switch sc.Type {
	case config.SampleStatic:
		return sample.NewStaticSample(sc.Dataset, sc.GlobalTag, sc.Files), nil
	case config.SampleDirectory:
		s, err := sample.NewDirectorySample(sc.Dataset, sc.Location, e.Store)
		if err != nil {
			return nil, err
		}
		if sc.Glob != "" {
			s.Glob = sc.Glob
		}
		if sc.GlobalTag != "" {
			s.Tag = sc.GlobalTag
		}
		s.StripPrefix = sc.StripPrefix
		return s, nil
	case config.SampleCatalog:
		if e.Catalog == nil {
			return nil, errors.Wrap(config.ErrInvalidConfig, "catalog sample without a catalog url")
		}
		s := sample.NewCatalogSample(sc.Dataset, e.Catalog)
		s.Tag = sc.GlobalTag
		return s, nil
	}
	return nil, errors.Wrapf(config.ErrInvalidConfig, "unknown sample type %q", sc.Type)
}

// Close releases the storage bucket.
func (e *Env) Close() error {
	if e.Store == nil {
		return nil
	}
	return e.Store.Close()
}
