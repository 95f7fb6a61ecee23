// Package condor is the boundary to the batch scheduler. Tasks query their live
// jobs by label, submit new ones and remove stuck ones through Client; records
// come back already parsed into domain.JobRecord.
package condor

//go:generate mockgen -source=client.go -package=condor -destination=client_mock.go

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/twitter/condortask/domain"
)

const (
	// TaskLabel scopes a job to the task that submitted it.
	TaskLabel = "taskname"

	// JobNumLabel carries the output index of a job.
	JobNumLabel = "jobnum"

	// SiteColumn is the site a running job matched to.
	SiteColumn = "MATCH_EXP_JOB_GLIDEIN_CMSSite"

	// DefaultSites is used when a task has no site list of its own.
	DefaultSites = "T2_US_UCSD"

	DefaultUniverse = "Vanilla"
)

// QueryRequest selects live jobs whose labels equal every entry of Labels.
type QueryRequest struct {
	Labels       map[string]string
	ExtraColumns []string
}

// SubmitRequest describes one job.
type SubmitRequest struct {
	Executable string
	Arguments  []string
	InputFiles []string
	LogDir     string
	Labels     map[string]string
	Sites      string
	Universe   string
}

// SubmitResult reports the outcome of a submission. ID is empty unless Succeeded.
type SubmitResult struct {
	Succeeded bool
	ID        string
}

// Client is the black-box scheduler interface. Implementations must not block past
// their configured timeouts.
type Client interface {
	// Query returns the live jobs matching req.
	Query(ctx context.Context, req QueryRequest) ([]domain.JobRecord, error)

	// Submit hands one job to the scheduler. A rejected submission returns
	// a result with Succeeded false, usually along with an error describing why.
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)

	// Remove asks the scheduler to kill the given jobs. It does not wait for them to go away.
	Remove(ctx context.Context, ids []string) error
}

// sortedLabels renders labels as key=value pairs in key order.
func sortedLabels(labels map[string]string) [][2]string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([][2]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]string{k, labels[k]})
	}
	return pairs
}

// Constraint renders labels as a ClassAd expression, e.g. taskname=="foo" && jobnum=="3".
func Constraint(labels map[string]string) string {
	var parts []string
	for _, kv := range sortedLabels(labels) {
		parts = append(parts, fmt.Sprintf("%s==%q", kv[0], kv[1]))
	}
	return strings.Join(parts, " && ")
}
