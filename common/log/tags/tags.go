// Package tags names the structured logging fields shared across packages.
package tags

import (
	log "github.com/sirupsen/logrus"
)

const (
	Task    = "task"
	Index   = "index"
	JobID   = "jobID"
	Status  = "status"
	Site    = "site"
	File    = "file"
	Dataset = "dataset"
	Tick    = "tick"
	Elapsed = "elapsed"
)

// LogTags identify one output of one task.
type LogTags struct {
	Task  string
	Index int
	JobID string
}

// Fields renders the non-empty tags for log.WithFields.
func (t LogTags) Fields() log.Fields {
	f := log.Fields{}
	if t.Task != "" {
		f[Task] = t.Task
	}
	if t.Index > 0 {
		f[Index] = t.Index
	}
	if t.JobID != "" {
		f[JobID] = t.JobID
	}
	return f
}
