// Package task reconciles a task's input->output mapping against the jobs the
// scheduler reports for it. Each Process call stages inputs once, queries the
// scheduler, submits or removes jobs per output, applies the completion policy
// and saves the task's state.
package task

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/condortask/common/log/tags"
	"github.com/twitter/condortask/common/stats"
	"github.com/twitter/condortask/condor"
	"github.com/twitter/condortask/domain"
	"github.com/twitter/condortask/optimizer"
	"github.com/twitter/condortask/persist"
	"github.com/twitter/condortask/sample"
)

// Deps are the collaborators of a Task. Sample, Scheduler and Storage are required.
type Deps struct {
	Sample    sample.Sample
	Scheduler condor.Client
	Storage   domain.Storage

	// Persistor defaults to a file in the task directory.
	Persistor persist.Persistor

	// Optimizer is used when Config.UseOptimizer is set, with replica locations from Replicas.
	Optimizer *optimizer.Optimizer
	Replicas  optimizer.ReplicaSource

	// Variant defaults to the built-in variant for Config.Kind.
	Variant Variant

	Stats stats.StatsReceiver
	Now   func() time.Time
}

// Task owns one sample's mapping and submission history. Calls are serialized; a task
// never reconciles with itself concurrently.
type Task struct {
	mu sync.Mutex

	cfg        Config
	uniqueName string
	taskDir    string
	outputDir  string

	sample    sample.Sample
	scheduler condor.Client
	storage   domain.Storage
	persistor persist.Persistor
	optimizer *optimizer.Optimizer
	replicas  optimizer.ReplicaSource
	variant   Variant
	stat      stats.StatsReceiver
	now       func() time.Time
	logger    *log.Entry

	state persist.State

	// live is the last query result, keyed by output index, kept current with this
	// pass's submissions and removals. liveFresh is set by a pass and cleared by Summary.
	live      map[int]domain.JobRecord
	liveFresh bool
}

// New validates cfg, restores any saved state and, unless read-only, builds the
// initial mapping. Configuration errors are returned unwrapped or wrapped with
// pkg/errors so errors.Cause gives the named error.
func New(ctx context.Context, cfg Config, deps Deps) (*Task, error) {
	if deps.Sample == nil {
		return nil, ErrMissingSample
	}
	if deps.Scheduler == nil || deps.Storage == nil {
		return nil, errors.New("task needs a scheduler client and a storage backend")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	variant := deps.Variant
	if variant == nil {
		v, err := VariantFor(cfg.Kind)
		if err != nil {
			return nil, err
		}
		variant = v
	}
	if !cfg.ReadOnly {
		if err := variant.Validate(cfg); err != nil {
			return nil, err
		}
	}

	dataset := deps.Sample.DatasetName()
	if cfg.UniqueName == "" {
		cfg.UniqueName = UniqueNameFor(variant.Kind(), dataset, cfg.Tag)
		if err := validateUniqueName(cfg.UniqueName); err != nil {
			return nil, err
		}
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = cfg.DefaultOutputDir(dataset)
	}

	t := &Task{
		cfg:        cfg,
		uniqueName: cfg.UniqueName,
		taskDir:    filepath.Join(cfg.BaseDir, "tasks", cfg.UniqueName),
		outputDir:  cfg.OutputDir,
		sample:     deps.Sample,
		scheduler:  deps.Scheduler,
		storage:    deps.Storage,
		persistor:  deps.Persistor,
		replicas:   deps.Replicas,
		variant:    variant,
		stat:       deps.Stats,
		now:        deps.Now,
		state:      persist.State{SubmissionHistory: domain.SubmissionHistory{}},
		live:       map[int]domain.JobRecord{},
	}
	if cfg.UseOptimizer {
		o := optimizer.NewOptimizer(nil, nil)
		if deps.Optimizer != nil {
			shared := *deps.Optimizer
			o = &shared
		}
		// job logs live under this task's directory
		if o.Logs == nil {
			o.Logs = &optimizer.LogSiteReader{LogDir: t.logDir()}
		}
		t.optimizer = o
	}
	if t.stat == nil {
		t.stat = stats.NilStatsReceiver()
	}
	t.stat = t.stat.Scope("task", t.uniqueName)
	if t.now == nil {
		t.now = time.Now
	}
	t.logger = log.WithFields(log.Fields{tags.Task: t.uniqueName})
	if t.persistor == nil {
		p, err := persist.NewFilePersistor(t.taskDir)
		if err != nil {
			return nil, err
		}
		t.persistor = p
	}

	if err := t.load(ctx); err != nil {
		return nil, err
	}
	if t.state.GlobalTag == "" {
		t.state.GlobalTag = cfg.GlobalTag
	}
	if t.state.GlobalTag == "" {
		gt, err := t.sample.GlobalTag(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "fetching global tag")
		}
		t.state.GlobalTag = gt
	}

	t.logger.WithFields(log.Fields{tags.Dataset: dataset}).Info("Instantiated task")
	if !cfg.ReadOnly {
		if _, err := t.UpdateMapping(ctx, MappingOptions{}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Task) load(ctx context.Context) error {
	s, err := t.persistor.Load(ctx)
	if err == persist.ErrNoState {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "loading state of %s", t.uniqueName)
	}
	if err := s.Mapping.Validate(); err != nil {
		return errors.Wrapf(err, "saved mapping of %s", t.uniqueName)
	}
	if s.SubmissionHistory == nil {
		s.SubmissionHistory = domain.SubmissionHistory{}
	}
	t.state = *s
	t.logger.WithFields(log.Fields{"outputs": len(s.Mapping)}).Info("Restored task state")
	return nil
}

// Backup saves the task's state. Read-only tasks never save.
func (t *Task) Backup(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.backup(ctx)
}

func (t *Task) backup(ctx context.Context) error {
	if t.cfg.ReadOnly {
		return nil
	}
	return errors.Wrapf(t.persistor.Save(ctx, &t.state), "saving state of %s", t.uniqueName)
}

func (t *Task) info() Info {
	return Info{
		UniqueName: t.uniqueName,
		TaskDir:    t.taskDir,
		OutputDir:  t.outputDir,
		GlobalTag:  t.state.GlobalTag,
		Config:     t.cfg,
	}
}

func (t *Task) logDir() string { return filepath.Join(t.taskDir, "logs") }

// Process runs one full pass: stage inputs, reconcile, apply the completion policy,
// finalize when complete and save state.
func (t *Task) Process(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.stat.Latency(stats.TaskProcessLatency_ms).Time().Stop()

	if !t.state.PreparedInputs && !t.cfg.ReadOnly {
		staged, err := t.variant.PrepareInputs(ctx, t.info())
		if err != nil {
			return errors.Wrapf(err, "preparing inputs of %s", t.uniqueName)
		}
		t.state.ExecutablePath = staged.Executable
		t.state.PackagePath = staged.Package
		t.state.PsetPath = staged.Pset
		t.state.PreparedInputs = true
	}

	if err := t.run(ctx); err != nil {
		return err
	}
	if err := t.tryToComplete(ctx); err != nil {
		return err
	}
	done, total := t.counts()
	t.stat.Gauge(stats.TaskOutputsGauge).Update(int64(total))
	t.stat.Gauge(stats.TaskDoneOutputsGauge).Update(int64(done))
	t.stat.GaugeFloat(stats.TaskFractionDoneGauge).Update(t.fraction())

	if t.complete() {
		if err := t.variant.Finalize(ctx, t.info()); err != nil {
			return errors.Wrapf(err, "finalizing %s", t.uniqueName)
		}
	}
	if err := t.backup(ctx); err != nil {
		return err
	}
	t.logger.WithFields(log.Fields{"done": done, "outputs": total}).Info("Ended processing")
	return nil
}

// Run is a single reconciliation pass without staging, completion or saving.
func (t *Task) Run(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run(ctx)
}

func (t *Task) queryLive(ctx context.Context) (map[int]domain.JobRecord, error) {
	jobs, err := t.scheduler.Query(ctx, condor.QueryRequest{
		Labels: map[string]string{condor.TaskLabel: t.uniqueName},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "querying jobs of %s", t.uniqueName)
	}
	live := make(map[int]domain.JobRecord, len(jobs))
	for _, j := range jobs {
		if prev, ok := live[j.JobNum]; ok {
			t.logger.WithFields(log.Fields{tags.Index: j.JobNum, tags.JobID: j.ID, "other": prev.ID}).
				Warn("More than one live job for an output")
			if t.isLatest(j.JobNum, prev.ID) {
				continue
			}
		}
		live[j.JobNum] = j
	}
	return live, nil
}

// isLatest reports whether id is the most recent submission for index.
func (t *Task) isLatest(index int, id string) bool {
	last, ok := t.state.SubmissionHistory.Last(index)
	return ok && last.ID == id
}

func (t *Task) run(ctx context.Context) error {
	live, err := t.queryLive(ctx)
	if err != nil {
		return err
	}
	t.live = live
	t.liveFresh = true

	var pending []domain.IOEntry
	for _, entry := range t.state.Mapping {
		out := entry.Output
		job, onScheduler := live[out.Index]

		exists, err := t.storage.Exists(ctx, out.Name)
		if err != nil {
			t.stat.Counter(stats.TaskStorageErrorCounter).Inc(1)
			t.logger.WithFields(log.Fields{tags.Index: out.Index, tags.File: out.Name, "err": err}).
				Warn("Couldn't check output, skipping it this pass")
			continue
		}
		if exists && !onScheduler {
			if out.Status != domain.Done {
				t.stat.Counter(stats.TaskOutputDoneCounter).Inc(1)
				t.logger.WithFields(log.Fields{tags.Index: out.Index}).Debug("Output exists, marking done")
			}
			out.Status = domain.Done
			continue
		}
		if !onScheduler {
			if out.Status == domain.Done {
				t.logger.WithFields(log.Fields{tags.Index: out.Index, tags.File: out.Name}).
					Warn("Output marked done is gone, resubmitting")
				out.Status = domain.Unsubmitted
			}
			pending = append(pending, entry)
			continue
		}
		t.handleJob(ctx, out, job)
	}

	if len(pending) > 0 && !t.cfg.ReadOnly {
		t.submitAll(ctx, pending)
	}
	return nil
}

func (t *Task) handleJob(ctx context.Context, out *domain.EventsFile, job domain.JobRecord) {
	if job.Site != "" && t.state.SubmissionHistory.SetSite(out.Index, job.ID, job.Site) {
		t.logger.WithFields(log.Fields{tags.Index: out.Index, tags.JobID: job.ID, tags.Site: job.Site}).
			Debug("Recorded job site")
	}

	elapsed := job.Elapsed(t.now())
	logger := t.logger.WithFields(log.Fields{
		tags.Index:   out.Index,
		tags.JobID:   job.ID,
		tags.Elapsed: elapsed.Round(time.Second).String(),
	})

	switch job.Status {
	case domain.JobRunning:
		out.Status = domain.Running
		logger.Debug("Job running")
		if elapsed > t.cfg.MaxRunning && t.remove(ctx, logger, job.ID) {
			delete(t.live, out.Index)
			logger.Info("Removed job running too long")
			t.stat.Counter(stats.TaskLongRunningRemovedCounter).Inc(1)
			out.Status = domain.LongRunningRemoved
		}
	case domain.JobHeld:
		out.Status = domain.Held
		logger.WithFields(log.Fields{"hold_reason": job.HoldReason}).Debug("Job held")
		if elapsed > t.cfg.MaxHeld && t.remove(ctx, logger, job.ID) {
			delete(t.live, out.Index)
			logger.Info("Removed job held too long")
			t.stat.Counter(stats.TaskHeldRemovedCounter).Inc(1)
			out.Status = domain.HeldAndRemoved
		}
	default:
		out.Status = domain.Idle
		logger.Debug("Job idle")
	}
}

func (t *Task) remove(ctx context.Context, logger *log.Entry, ids ...string) bool {
	if t.cfg.ReadOnly {
		return false
	}
	if err := t.scheduler.Remove(ctx, ids); err != nil {
		logger.WithFields(log.Fields{"err": err}).Warn("Couldn't remove job")
		return false
	}
	return true
}

func (t *Task) submitAll(ctx context.Context, pending []domain.IOEntry) {
	selections := t.selectSites(ctx, pending)
	for _, entry := range pending {
		sites := t.cfg.Sites
		if sel, ok := selections[entry.Output.Index]; ok {
			if sel.Err != nil {
				t.stat.Counter(stats.TaskNoSitesCounter).Inc(1)
				t.logger.WithFields(log.Fields{tags.Index: entry.Output.Index, "err": sel.Err}).
					Error("No site to submit to, not submitting")
				continue
			}
			sites = strings.Join(sel.Sites, ",")
		}
		t.submit(ctx, entry, sites)
	}
}

func (t *Task) selectSites(ctx context.Context, pending []domain.IOEntry) map[int]optimizer.Selection {
	if t.optimizer == nil {
		return nil
	}
	replicas := domain.ReplicaMap{}
	if t.replicas != nil {
		r, err := t.replicas.Replicas(ctx, t.sample.DatasetName())
		if err != nil {
			t.logger.WithFields(log.Fields{"err": err}).Warn("Couldn't get file replicas, ignoring locality")
		} else {
			replicas = r
		}
	}
	ps := make([]optimizer.Pending, 0, len(pending))
	for _, e := range pending {
		ps = append(ps, optimizer.Pending{
			Index:   e.Output.Index,
			Output:  e.Output.Name,
			Inputs:  e.Inputs,
			History: t.state.SubmissionHistory[e.Output.Index],
		})
	}
	out := map[int]optimizer.Selection{}
	for _, sel := range t.optimizer.SelectSites(ctx, replicas, ps) {
		out[sel.Index] = sel
	}
	return out
}

// baseArguments are the job arguments every variant starts from.
func (t *Task) baseArguments(entry domain.IOEntry) []string {
	names := make([]string, 0, len(entry.Inputs))
	for _, f := range entry.Inputs {
		names = append(names, f.Name)
	}
	stem := strings.TrimSuffix(t.cfg.OutputName, filepath.Ext(t.cfg.OutputName))
	return []string{t.outputDir, stem, strings.Join(names, ","), strconv.Itoa(entry.Output.Index)}
}

func (t *Task) submit(ctx context.Context, entry domain.IOEntry, sites string) {
	out := entry.Output
	var inputFiles []string
	if t.state.PackagePath != "" {
		inputFiles = append(inputFiles, t.state.PackagePath)
	}
	if t.state.PsetPath != "" {
		inputFiles = append(inputFiles, t.state.PsetPath)
	}
	inputFiles = append(inputFiles, t.cfg.AdditionalInputFiles...)

	req := condor.SubmitRequest{
		Executable: t.state.ExecutablePath,
		Arguments:  t.variant.BuildSubmissionArguments(t.info(), entry, t.baseArguments(entry)),
		InputFiles: inputFiles,
		LogDir:     t.logDir(),
		Labels: map[string]string{
			condor.TaskLabel:   t.uniqueName,
			condor.JobNumLabel: strconv.Itoa(out.Index),
		},
		Sites: sites,
	}
	logger := t.logger.WithFields(log.Fields{tags.Index: out.Index, tags.Site: sites})

	res, err := t.scheduler.Submit(ctx, req)
	if err != nil || !res.Succeeded {
		t.stat.Counter(stats.TaskSubmitFailureCounter).Inc(1)
		logger.WithFields(log.Fields{"err": err}).Warn("Submission failed, will retry next pass")
		return
	}

	site := ""
	if !strings.Contains(sites, ",") {
		site = sites
	}
	t.state.SubmissionHistory.Append(out.Index, domain.Submission{ID: res.ID, Site: site, SubmittedAt: t.now()})
	t.live[out.Index] = domain.JobRecord{
		ID:            res.ID,
		Status:        domain.JobIdle,
		EnteredStatus: t.now(),
		TaskName:      t.uniqueName,
		JobNum:        out.Index,
		Site:          site,
	}
	out.Status = domain.Submitted
	t.stat.Counter(stats.TaskSubmitCounter).Inc(1)
	logger.WithFields(log.Fields{tags.JobID: res.ID}).Info("Submitted job")
}

func (t *Task) counts() (done, total int) {
	for _, e := range t.state.Mapping {
		if e.Output.Status == domain.Done {
			done++
		}
	}
	return done, len(t.state.Mapping)
}

func (t *Task) fraction() float64 {
	done, total := t.counts()
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total)
}

func (t *Task) complete() bool {
	return t.fraction() >= t.cfg.MinCompletionFraction
}

// Fraction is the share of outputs marked done, 0 with no outputs.
func (t *Task) Fraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fraction()
}

// Complete reports whether the done fraction reached the minimum completion fraction.
func (t *Task) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.complete()
}

// TryToComplete tears down stragglers once a relaxed completion fraction is met: live
// jobs are removed, outputs not marked done are deleted and dropped from the mapping.
func (t *Task) TryToComplete(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tryToComplete(ctx)
}

func (t *Task) tryToComplete(ctx context.Context) error {
	if !t.cfg.relaxedCompletion() || !t.complete() || t.cfg.ReadOnly {
		return nil
	}

	live, err := t.queryLive(ctx)
	if err != nil {
		return err
	}
	if len(live) > 0 {
		ids := make([]string, 0, len(live))
		for _, j := range live {
			ids = append(ids, j.ID)
		}
		if t.remove(ctx, t.logger.WithFields(log.Fields{"jobs": ids}), ids...) {
			t.logger.WithFields(log.Fields{"jobs": ids}).Info("Removed straggler jobs")
		}
	}
	t.live = map[int]domain.JobRecord{}

	kept := make(domain.IOMapping, 0, len(t.state.Mapping))
	for _, e := range t.state.Mapping {
		if e.Output.Status == domain.Done {
			kept = append(kept, e)
			continue
		}
		if err := t.storage.Remove(ctx, e.Output.Name); err != nil {
			t.logger.WithFields(log.Fields{tags.File: e.Output.Name, "err": err}).Warn("Couldn't remove straggler output")
		}
		for _, f := range e.Inputs {
			t.state.RetiredInputs = append(t.state.RetiredInputs, f.Name)
		}
		t.stat.Counter(stats.TaskStragglerRemovedCounter).Inc(1)
		t.logger.WithFields(log.Fields{tags.Index: e.Output.Index}).Info("Dropped straggler output")
	}
	t.state.Mapping = kept
	return nil
}

// UniqueName is the label scoping this task's jobs on the scheduler.
func (t *Task) UniqueName() string { return t.uniqueName }

func (t *Task) TaskDir() string { return t.taskDir }

func (t *Task) OutputDir() string { return t.outputDir }

func (t *Task) Config() Config { return t.cfg }

// Mapping returns a copy of the current mapping.
func (t *Task) Mapping() domain.IOMapping {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Mapping.Clone()
}

// History returns a copy of the submission history.
func (t *Task) History() domain.SubmissionHistory {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.SubmissionHistory.Clone()
}

func (t *Task) GlobalTag() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.GlobalTag
}
