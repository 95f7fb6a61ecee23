package domain

import (
	"fmt"
	"path"
	"time"
)

// JobStatus is the scheduler's own view of a job.
type JobStatus int

const (
	JobUnexpanded JobStatus = iota
	JobIdle
	JobRunning
	JobRemoved
	JobCompleted
	JobHeld
	JobSubmissionErr
)

var jobStatusCodes = [...]string{"U", "I", "R", "X", "C", "H", "E"}

func (s JobStatus) String() string {
	if s < 0 || int(s) >= len(jobStatusCodes) {
		return "I"
	}
	return jobStatusCodes[s]
}

// ParseJobStatus maps the scheduler's numeric JobStatus code. Unknown codes are idle.
func ParseJobStatus(code int) JobStatus {
	if code < 0 || code >= len(jobStatusCodes) {
		return JobIdle
	}
	return JobStatus(code)
}

// JobRecord is one live job returned by a scheduler query.
type JobRecord struct {
	ID            string            `json:"id"`
	Status        JobStatus         `json:"status"`
	EnteredStatus time.Time         `json:"entered_status"`
	HoldReason    string            `json:"hold_reason,omitempty"`
	Cmd           string            `json:"cmd,omitempty"`
	Args          string            `json:"args,omitempty"`
	Out           string            `json:"out,omitempty"`
	Err           string            `json:"err,omitempty"`
	TaskName      string            `json:"taskname,omitempty"`
	JobNum        int               `json:"jobnum"`
	Site          string            `json:"site,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// Elapsed is the time the job has spent in its current status.
func (j JobRecord) Elapsed(now time.Time) time.Duration {
	if j.EnteredStatus.IsZero() {
		return 0
	}
	return now.Sub(j.EnteredStatus)
}

func (j JobRecord) String() string {
	return fmt.Sprintf("job %s (%s, jobnum=%d)", j.ID, j.Status, j.JobNum)
}

// Submission is one attempt to run an output's job.
type Submission struct {
	ID          string    `json:"id"`
	Site        string    `json:"site,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// SubmissionHistory is keyed by output index. Entries are append-only and chronological;
// only the last entry for an index may be live.
type SubmissionHistory map[int][]Submission

func (h SubmissionHistory) Append(index int, s Submission) {
	h[index] = append(h[index], s)
}

// Last returns the most recent submission for index.
func (h SubmissionHistory) Last(index int) (Submission, bool) {
	subs := h[index]
	if len(subs) == 0 {
		return Submission{}, false
	}
	return subs[len(subs)-1], true
}

// SetSite records where submission id of index ran. It reports whether anything changed.
func (h SubmissionHistory) SetSite(index int, id, site string) bool {
	subs := h[index]
	for i := len(subs) - 1; i >= 0; i-- {
		if subs[i].ID == id {
			if subs[i].Site == site {
				return false
			}
			subs[i].Site = site
			return true
		}
	}
	return false
}

func (h SubmissionHistory) Clone() SubmissionHistory {
	c := make(SubmissionHistory, len(h))
	for k, v := range h {
		c[k] = append([]Submission(nil), v...)
	}
	return c
}

// StdLogPaths gives the stdout and stderr files a submission writes under logDir.
func StdLogPaths(logDir, id string) (out, err string) {
	base := path.Join(logDir, "std_logs", fmt.Sprintf("1e.%s.0", id))
	return base + ".out", base + ".err"
}

// ReplicaMap lists, per input file name, the sites holding a copy of it.
type ReplicaMap map[string][]string
