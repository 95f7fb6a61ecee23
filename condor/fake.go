package condor

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/twitter/condortask/domain"
)

// FakeClient is an in-memory scheduler. It backs dry runs and tests: submissions
// become idle jobs that stay live until removed or finished.
type FakeClient struct {
	mu      sync.Mutex
	nextID  int
	jobs    map[string]*domain.JobRecord
	submits []SubmitRequest
	removed []string
	queries int

	// FailSubmits makes the next n submissions fail.
	FailSubmits int

	Now func() time.Time
}

var _ Client = (*FakeClient)(nil)

func NewFakeClient() *FakeClient {
	return &FakeClient{nextID: 1, jobs: make(map[string]*domain.JobRecord), Now: time.Now}
}

func matches(job *domain.JobRecord, labels map[string]string) bool {
	for k, v := range labels {
		switch k {
		case TaskLabel:
			if job.TaskName != v {
				return false
			}
		case JobNumLabel:
			if strconv.Itoa(job.JobNum) != v {
				return false
			}
		default:
			if job.Labels[k] != v {
				return false
			}
		}
	}
	return true
}

func (f *FakeClient) Query(ctx context.Context, req QueryRequest) ([]domain.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	var out []domain.JobRecord
	for _, job := range f.jobs {
		if matches(job, req.Labels) {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		return a < b
	})
	return out, nil
}

func (f *FakeClient) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	if f.FailSubmits > 0 {
		f.FailSubmits--
		return SubmitResult{}, errors.New("fake submit failure")
	}

	id := strconv.Itoa(f.nextID)
	f.nextID++
	job := &domain.JobRecord{
		ID:            id,
		Status:        domain.JobIdle,
		EnteredStatus: f.Now(),
		Cmd:           req.Executable,
		Args:          strings.Join(req.Arguments, " "),
		JobNum:        -1,
		Labels:        map[string]string{},
	}
	for k, v := range req.Labels {
		switch k {
		case TaskLabel:
			job.TaskName = v
		case JobNumLabel:
			if n, err := strconv.Atoi(v); err == nil {
				job.JobNum = n
			}
		default:
			job.Labels[k] = v
		}
	}
	if req.Sites != "" {
		job.Site = strings.Split(req.Sites, ",")[0]
	}
	f.jobs[id] = job
	return SubmitResult{Succeeded: true, ID: id}, nil
}

func (f *FakeClient) Remove(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.jobs, id)
		f.removed = append(f.removed, id)
	}
	return nil
}

// SetStatus moves a live job to status, entered at the given time.
func (f *FakeClient) SetStatus(id string, status domain.JobStatus, entered time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		job.Status = status
		job.EnteredStatus = entered
	}
}

// Finish makes a job leave the queue, as a completed job would.
func (f *FakeClient) Finish(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
}

// Queries returns the number of Query calls.
func (f *FakeClient) Queries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

// Submits returns every submission attempted so far, failed ones included.
func (f *FakeClient) Submits() []SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SubmitRequest(nil), f.submits...)
}

// Removed returns the ids passed to Remove, in call order.
func (f *FakeClient) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

// Live returns the number of jobs in the queue.
func (f *FakeClient) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}
