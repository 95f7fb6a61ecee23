// Package driver runs many tasks against one scheduler. Each tick processes every
// incomplete task, several at a time; a failing or panicking task is logged and
// counted without affecting the others.
package driver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/twitter/condortask/common/log/tags"
	"github.com/twitter/condortask/common/stats"
	"github.com/twitter/condortask/task"
)

const (
	DefaultTickRate    = 10 * time.Minute
	DefaultConcurrency = 4
)

// ErrDuplicateTask means two tasks share a unique name and would claim each other's jobs.
var ErrDuplicateTask = errors.New("duplicate task unique name")

// Task is what the driver needs from a task. *task.Task implements it.
type Task interface {
	UniqueName() string
	Config() task.Config
	UpdateMapping(ctx context.Context, opts task.MappingOptions) (int, error)
	Process(ctx context.Context) error
	Complete() bool
	Summary(ctx context.Context) task.Summary
}

var _ Task = (*task.Task)(nil)

type Config struct {
	// TickRate is the pause between ticks.
	TickRate time.Duration

	// Concurrency bounds how many tasks are processed at once.
	Concurrency int

	// MaxTicks > 0 stops Run after that many ticks.
	MaxTicks int

	// SummaryFile, when set, receives a JSON array of task summaries after every tick.
	SummaryFile string
}

func (c Config) withDefaults() Config {
	if c.TickRate <= 0 {
		c.TickRate = DefaultTickRate
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

type Driver struct {
	cfg   Config
	tasks []Task
	stat  stats.StatsReceiver

	mu        sync.Mutex
	summaries []task.Summary
	ticks     int
}

// New rejects task lists with repeated unique names.
func New(tasks []Task, cfg Config, stat stats.StatsReceiver) (*Driver, error) {
	seen := map[string]bool{}
	for _, t := range tasks {
		if seen[t.UniqueName()] {
			return nil, errors.Wrapf(ErrDuplicateTask, "%q", t.UniqueName())
		}
		seen[t.UniqueName()] = true
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Driver{cfg: cfg.withDefaults(), tasks: tasks, stat: stat.Scope("driver")}, nil
}

// StepResult describes one tick.
type StepResult struct {
	TickID     string
	Processed  int
	Failed     int
	Incomplete int
}

func newTickID() string {
	for {
		if id, err := uuid.NewV4(); err == nil {
			return id.String()
		}
	}
}

// Step processes every incomplete task once and refreshes the summaries.
func (d *Driver) Step(ctx context.Context) StepResult {
	defer d.stat.Latency(stats.DriverTickLatency_ms).Time().Stop()
	d.stat.Counter(stats.DriverTickCounter).Inc(1)

	res := StepResult{TickID: newTickID()}
	logger := log.WithFields(log.Fields{tags.Tick: res.TickID})

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for _, t := range d.tasks {
		t := t
		if d.isComplete(t, logger) {
			continue
		}
		g.Go(func() error {
			err := d.processOne(ctx, t, logger)
			mu.Lock()
			defer mu.Unlock()
			res.Processed++
			if err != nil {
				res.Failed++
			}
			return nil
		})
	}
	g.Wait()

	d.mu.Lock()
	previous := make(map[string]task.Summary, len(d.summaries))
	for _, s := range d.summaries {
		previous[s.UniqueName] = s
	}
	d.mu.Unlock()

	summaries := make([]task.Summary, 0, len(d.tasks))
	for _, t := range d.tasks {
		s, complete := d.summarizeOne(ctx, t, previous[t.UniqueName()], logger)
		if !complete {
			res.Incomplete++
		}
		summaries = append(summaries, s)
	}
	d.stat.Gauge(stats.DriverIncompleteTasksGauge).Update(int64(res.Incomplete))

	d.mu.Lock()
	d.summaries = summaries
	d.ticks++
	d.mu.Unlock()

	if d.cfg.SummaryFile != "" {
		if err := writeSummaries(d.cfg.SummaryFile, summaries); err != nil {
			logger.WithFields(log.Fields{"err": err}).Warn("Couldn't write summary file")
		}
	}
	logger.WithFields(log.Fields{
		"processed":  res.Processed,
		"failed":     res.Failed,
		"incomplete": res.Incomplete,
	}).Info("Tick done")
	return res
}

func (d *Driver) processOne(ctx context.Context, t Task, logger *log.Entry) (err error) {
	logger = logger.WithFields(log.Fields{tags.Task: t.UniqueName()})
	defer func() {
		if r := recover(); r != nil {
			d.recovered(logger, r)
			err = errors.Errorf("panic: %v", r)
		}
	}()

	cfg := t.Config()
	if cfg.OpenDataset && !cfg.ReadOnly {
		if _, err := t.UpdateMapping(ctx, task.MappingOptions{}); err != nil {
			d.stat.Counter(stats.DriverTaskFailureCounter).Inc(1)
			logger.WithFields(log.Fields{"err": err}).Error("Couldn't update mapping")
			return err
		}
	}
	if err := t.Process(ctx); err != nil {
		d.stat.Counter(stats.DriverTaskFailureCounter).Inc(1)
		logger.WithFields(log.Fields{"err": err}).Error("Task processing failed")
		return err
	}
	return nil
}

// isComplete treats a task whose Complete panics as incomplete; processOne then isolates it.
func (d *Driver) isComplete(t Task, logger *log.Entry) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			d.recovered(logger.WithFields(log.Fields{tags.Task: t.UniqueName()}), r)
			done = false
		}
	}()
	return t.Complete()
}

// summarizeOne keeps the task's previous summary when summarizing panics.
func (d *Driver) summarizeOne(ctx context.Context, t Task, prev task.Summary, logger *log.Entry) (s task.Summary, complete bool) {
	defer func() {
		if r := recover(); r != nil {
			d.recovered(logger.WithFields(log.Fields{tags.Task: t.UniqueName()}), r)
			if prev.UniqueName == "" {
				prev.UniqueName = t.UniqueName()
			}
			s, complete = prev, prev.Complete
		}
	}()
	complete = t.Complete()
	return t.Summary(ctx), complete
}

func (d *Driver) recovered(logger *log.Entry, r interface{}) {
	d.stat.Counter(stats.DriverTaskPanicCounter).Inc(1)
	logger.WithFields(log.Fields{"panic": r, "stack": string(debug.Stack())}).Error("Task panicked")
}

// Run steps until every task is complete, MaxTicks is reached or ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.TickRate)
	defer ticker.Stop()
	for n := 1; ; n++ {
		res := d.Step(ctx)
		if res.Incomplete == 0 {
			log.WithFields(log.Fields{"tasks": len(d.tasks)}).Info("All tasks complete")
			return nil
		}
		if d.cfg.MaxTicks > 0 && n >= d.cfg.MaxTicks {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Summaries returns the summaries of the last tick.
func (d *Driver) Summaries() []task.Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]task.Summary(nil), d.summaries...)
}

// Ticks counts completed steps.
func (d *Driver) Ticks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ticks
}

func writeSummaries(path string, summaries []task.Summary) error {
	data, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding summaries")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "renaming %s", tmp)
}
