package condor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/twitter/condortask/common/log/tags"
	"github.com/twitter/condortask/common/os/exec"
	"github.com/twitter/condortask/common/stats"
	"github.com/twitter/condortask/domain"
)

const (
	DefaultCommandTimeout = 2 * time.Minute
	DefaultQueryRetries   = 3
)

// base columns requested from condor_q, in output order
var queryColumns = []string{
	"ClusterId", "JobStatus", "EnteredCurrentStatus", "CMD", "ARGS", "Out", "Err", "HoldReason",
	TaskLabel, JobNumLabel, SiteColumn,
}

var submittedRe = regexp.MustCompile(`job\(s\) submitted to cluster (\d+)`)

// Config for a CLIClient. Zero values get defaults.
type Config struct {
	// User restricts queries to one owner's jobs.
	User string

	QueryTimeout  time.Duration
	SubmitTimeout time.Duration
	RemoveTimeout time.Duration

	// QueryRetries bounds retries of a failed condor_q.
	QueryRetries uint64

	// SubmitRate limits submissions per second; 0 means unlimited.
	SubmitRate  float64
	SubmitBurst int

	// SubmitDir holds the temporary submit description files.
	SubmitDir string

	// Proxy is the x509 proxy file handed to jobs.
	Proxy string

	// Backoff builds the retry policy for queries. Defaults to exponential.
	Backoff func() backoff.BackOff
}

func (c Config) withDefaults() Config {
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultCommandTimeout
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = DefaultCommandTimeout
	}
	if c.RemoveTimeout <= 0 {
		c.RemoveTimeout = DefaultCommandTimeout
	}
	if c.QueryRetries == 0 {
		c.QueryRetries = DefaultQueryRetries
	}
	if c.SubmitBurst <= 0 {
		c.SubmitBurst = 1
	}
	if c.SubmitDir == "" {
		c.SubmitDir = os.TempDir()
	}
	if c.Proxy == "" {
		c.Proxy = fmt.Sprintf("/tmp/x509up_u%d", os.Getuid())
	}
	if c.Backoff == nil {
		c.Backoff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return c
}

// CLIClient drives condor_q, condor_submit and condor_rm.
type CLIClient struct {
	exec    exec.OsExec
	cfg     Config
	limiter *rate.Limiter
	stat    stats.StatsReceiver
}

var _ Client = (*CLIClient)(nil)

func NewCLIClient(ex exec.OsExec, cfg Config, stat stats.StatsReceiver) *CLIClient {
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.SubmitRate > 0 {
		limit = rate.Limit(cfg.SubmitRate)
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &CLIClient{
		exec:    ex,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.SubmitBurst),
		stat:    stat.Scope("condor"),
	}
}

func (c *CLIClient) queryArgs(req QueryRequest) []string {
	var args []string
	if c.cfg.User != "" {
		args = append(args, c.cfg.User)
	}
	args = append(args, "-constraint", "JobStatus != 3", "-autoformat:t")
	args = append(args, queryColumns...)
	args = append(args, req.ExtraColumns...)
	if len(req.Labels) > 0 {
		args = append(args, "-const", Constraint(req.Labels))
	}
	return args
}

func (c *CLIClient) Query(ctx context.Context, req QueryRequest) ([]domain.JobRecord, error) {
	defer c.stat.Latency(stats.CondorQueryLatency_ms).Time().Stop()
	args := c.queryArgs(req)

	var out []byte
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			c.stat.Counter(stats.CondorQueryRetryCounter).Inc(1)
		}
		rr := exec.Run(ctx, c.exec.Command("condor_q", args...), c.cfg.QueryTimeout)
		if err := rr.Err(); err != nil {
			log.WithFields(log.Fields{"attempt": attempt}).Warnf("condor_q failed: %v", err)
			return err
		}
		out = rr.Stdout
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.cfg.Backoff(), c.cfg.QueryRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		c.stat.Counter(stats.CondorQueryFailureCounter).Inc(1)
		return nil, errors.Wrap(err, "condor_q")
	}
	return c.parseQuery(out, req.ExtraColumns), nil
}

// parseQuery turns tab separated condor_q rows into records. Malformed rows are skipped.
func (c *CLIClient) parseQuery(out []byte, extra []string) []domain.JobRecord {
	ncols := len(queryColumns) + len(extra)
	var jobs []domain.JobRecord
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != ncols {
			c.badRow(line, errors.Errorf("expected %d columns, got %d", ncols, len(fields)))
			continue
		}
		job, err := parseRow(fields, extra)
		if err != nil {
			c.badRow(line, err)
			continue
		}
		jobs = append(jobs, job)
	}
	if err := scanner.Err(); err != nil {
		log.Warnf("reading condor_q output: %v", err)
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("condor_q returned %d jobs: %s", len(jobs), spew.Sdump(jobs))
	}
	return jobs
}

func (c *CLIClient) badRow(line string, err error) {
	c.stat.Counter(stats.CondorBadRowCounter).Inc(1)
	log.WithFields(log.Fields{"row": line}).Warnf("skipping condor_q row: %v", err)
}

func undefinedToEmpty(s string) string {
	s = strings.TrimSpace(s)
	if s == "undefined" {
		return ""
	}
	return s
}

func parseRow(fields []string, extra []string) (domain.JobRecord, error) {
	for i := range fields {
		fields[i] = undefinedToEmpty(fields[i])
	}
	if fields[0] == "" {
		return domain.JobRecord{}, errors.New("missing ClusterId")
	}
	status, err := strconv.Atoi(fields[1])
	if err != nil {
		return domain.JobRecord{}, errors.Wrap(err, "JobStatus")
	}
	var entered time.Time
	if fields[2] != "" {
		secs, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return domain.JobRecord{}, errors.Wrap(err, "EnteredCurrentStatus")
		}
		entered = time.Unix(secs, 0)
	}
	jobNum := -1
	if fields[9] != "" {
		if jobNum, err = strconv.Atoi(fields[9]); err != nil {
			return domain.JobRecord{}, errors.Wrap(err, JobNumLabel)
		}
	}
	job := domain.JobRecord{
		ID:            fields[0],
		Status:        domain.ParseJobStatus(status),
		EnteredStatus: entered,
		Cmd:           fields[3],
		Args:          fields[4],
		Out:           fields[5],
		Err:           fields[6],
		HoldReason:    fields[7],
		TaskName:      fields[8],
		JobNum:        jobNum,
		Site:          fields[10],
	}
	if len(extra) > 0 {
		job.Labels = make(map[string]string, len(extra))
		for i, name := range extra {
			job.Labels[name] = fields[len(queryColumns)+i]
		}
	}
	return job, nil
}

func (c *CLIClient) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return SubmitResult{}, errors.Wrap(err, "waiting to submit")
	}
	defer c.stat.Latency(stats.CondorSubmitLatency_ms).Time().Stop()

	res, err := c.submit(ctx, req)
	if err != nil || !res.Succeeded {
		c.stat.Counter(stats.CondorSubmitFailureCounter).Inc(1)
	}
	return res, err
}

func (c *CLIClient) submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if err := os.MkdirAll(filepath.Join(req.LogDir, "std_logs"), 0755); err != nil {
		return SubmitResult{}, errors.Wrapf(err, "creating log dir %s", req.LogDir)
	}
	f, err := os.CreateTemp(c.cfg.SubmitDir, "submit_*.cmd")
	if err != nil {
		return SubmitResult{}, errors.Wrap(err, "creating submit file")
	}
	defer os.Remove(f.Name())
	err = WriteSubmitFile(f, req, c.cfg.Proxy)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return SubmitResult{}, err
	}

	rr := exec.Run(ctx, c.exec.Command("condor_submit", f.Name()), c.cfg.SubmitTimeout)
	if err := rr.Err(); err != nil {
		return SubmitResult{}, errors.Wrap(err, "condor_submit")
	}
	return ParseSubmitOutput(rr.Stdout)
}

// ParseSubmitOutput extracts the cluster id from condor_submit's stdout.
func ParseSubmitOutput(out []byte) (SubmitResult, error) {
	m := submittedRe.FindSubmatch(out)
	if m == nil {
		return SubmitResult{}, errors.Errorf("couldn't submit job to cluster: %s", strings.TrimSpace(string(out)))
	}
	return SubmitResult{Succeeded: true, ID: string(m[1])}, nil
}

func (c *CLIClient) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	defer c.stat.Latency(stats.CondorRemoveLatency_ms).Time().Stop()
	rr := exec.Run(ctx, c.exec.Command("condor_rm", ids...), c.cfg.RemoveTimeout)
	if err := rr.Err(); err != nil {
		c.stat.Counter(stats.CondorRemoveFailureCounter).Inc(1)
		return errors.Wrapf(err, "condor_rm %s", strings.Join(ids, " "))
	}
	log.WithFields(log.Fields{tags.JobID: strings.Join(ids, ",")}).Info("removed jobs")
	return nil
}
