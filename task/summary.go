package task

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/condortask/domain"
)

// Summary is a serializable snapshot of a task for dashboards and the admin endpoint.
type Summary struct {
	UniqueName    string    `json:"unique_name"`
	TaskType      string    `json:"task_type"`
	Dataset       string    `json:"dataset"`
	Tag           string    `json:"tag"`
	GlobalTag     string    `json:"global_tag"`
	CMSSWVersion  string    `json:"cmssw_version"`
	OutputDir     string    `json:"output_dir"`
	Executable    string    `json:"executable"`
	QueriedEvents int64     `json:"queried_nevents"`
	OpenDataset   bool      `json:"open_dataset"`
	Fraction      float64   `json:"fraction_done"`
	Complete      bool      `json:"complete"`
	Timestamp     time.Time `json:"timestamp"`

	Jobs []JobSummary `json:"jobs"`
}

// JobSummary describes one output.
type JobSummary struct {
	Index         int                 `json:"index"`
	Output        domain.File         `json:"output"`
	Status        domain.Status       `json:"status"`
	OutputExists  bool                `json:"output_exists"`
	Inputs        []domain.File       `json:"inputs"`
	Submissions   []SubmissionSummary `json:"condor_jobs"`
	CurrentJob    *domain.JobRecord   `json:"current_job,omitempty"`
	IsOnScheduler bool                `json:"is_on_condor"`
}

// SubmissionSummary is one past or current submission, with the logs it writes.
type SubmissionSummary struct {
	ID          string    `json:"cluster_id"`
	Site        string    `json:"site,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	LogOut      string    `json:"logfile_out"`
	LogErr      string    `json:"logfile_err"`
}

// Summary reports the jobs seen by the pass just run, or queries the scheduler when no
// pass ran since the last summary. Storage is checked afresh. Lookup failures are logged
// and leave the affected fields at their zero values.
func (t *Task) Summary(ctx context.Context) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := t.live
	if t.liveFresh {
		t.liveFresh = false
	} else if queried, err := t.queryLive(ctx); err != nil {
		t.logger.WithFields(log.Fields{"err": err}).Warn("Summary using last known jobs")
	} else {
		live = queried
	}

	s := Summary{
		UniqueName:    t.uniqueName,
		TaskType:      t.variant.Kind().namePrefix(),
		Dataset:       t.sample.DatasetName(),
		Tag:           t.cfg.Tag,
		GlobalTag:     t.state.GlobalTag,
		CMSSWVersion:  t.cfg.CMSSWVersion,
		OutputDir:     t.outputDir,
		Executable:    t.state.ExecutablePath,
		QueriedEvents: t.state.QueriedEvents,
		OpenDataset:   t.cfg.OpenDataset,
		Fraction:      t.fraction(),
		Complete:      t.complete(),
		Timestamp:     t.now(),
	}
	if t.cfg.OpenDataset {
		if n, err := t.sample.NEvents(ctx); err == nil {
			s.QueriedEvents = n
		}
	}

	for _, e := range t.state.Mapping {
		out := e.Output
		js := JobSummary{
			Index:  out.Index,
			Output: out.File,
			Status: out.Status,
			Inputs: append([]domain.File(nil), e.Inputs...),
		}
		if exists, err := t.storage.Exists(ctx, out.Name); err == nil {
			js.OutputExists = exists
		}
		for _, sub := range t.state.SubmissionHistory[out.Index] {
			logOut, logErr := domain.StdLogPaths(t.logDir(), sub.ID)
			js.Submissions = append(js.Submissions, SubmissionSummary{
				ID:          sub.ID,
				Site:        sub.Site,
				SubmittedAt: sub.SubmittedAt,
				LogOut:      logOut,
				LogErr:      logErr,
			})
		}
		if job, ok := live[out.Index]; ok {
			js.CurrentJob = &job
			js.IsOnScheduler = true
		}
		s.Jobs = append(s.Jobs, js)
	}
	sort.Slice(s.Jobs, func(i, j int) bool { return s.Jobs[i].Index < s.Jobs[j].Index })
	return s
}
