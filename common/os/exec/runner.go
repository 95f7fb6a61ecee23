package exec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	CmdSeparator = "--------------------------------------------------------------"

	// DefaultKillTimeout is how long a terminated command gets before it is killed.
	DefaultKillTimeout = 5 * time.Second
)

var TimeoutError = errors.New("command timeout")

// RunResult summarizes a finished command, with the full contents of stdout and stderr.
type RunResult struct {
	// ProcessState is nil when the command failed to start.
	ProcessState *os.ProcessState

	Stdout []byte
	Stderr []byte

	// Error is the error from Start() or Wait(), or TimeoutError.
	Error error
}

func (rr RunResult) String() string {
	return fmt.Sprintf("Error:%s, Stdout:%s, Stderr:%s", rr.Error, rr.Stdout, rr.Stderr)
}

// Err returns Error annotated with the command's stderr, or nil on success.
func (rr RunResult) Err() error {
	if rr.Error == nil {
		return nil
	}
	if stderr := strings.TrimSpace(string(rr.Stderr)); stderr != "" {
		return errors.Wrap(rr.Error, stderr)
	}
	return rr.Error
}

func truncateCmd(cmd Cmd) string {
	args := cmd.Args()
	if len(args) > 0 {
		args[0] = filepath.Base(args[0])
	}
	return strings.Join(args, " ")
}

// RunKillableCommand starts cmd and waits for it. Combined output is streamed to streamLog
// while it runs and also returned in full. Receiving on killCh sends SIGTERM and then, after
// killTimeout, kills the process. A timeout > 0 does the same once it elapses and
// reports TimeoutError.
func RunKillableCommand(
	cmd Cmd,
	killCh <-chan struct{},
	killTimeout time.Duration,
	streamLog io.Writer,
	timeout time.Duration,
) RunResult {
	rr := RunResult{}

	var outBuf, errBuf bytes.Buffer
	syncLog := &syncWriter{w: streamLog}
	cmd.SetStdout(io.MultiWriter(&outBuf, syncLog))
	cmd.SetStderr(io.MultiWriter(&errBuf, syncLog))

	doneCh := make(chan struct{})

	log.Debugf("Running Command: %s", cmd.String())
	syncLog.Write([]byte(fmt.Sprintf("\n%s\nRunning Command: %s\n", CmdSeparator, truncateCmd(cmd))))
	cmdErr := cmd.Start()
	if cmdErr != nil {
		rr.Error = cmdErr
		rr.Stdout = outBuf.Bytes()
		rr.Stderr = errBuf.Bytes()
		return rr
	}

	go func() {
		cmdErr = cmd.Wait()
		close(doneCh)
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-doneCh:
		syncLog.Write([]byte(fmt.Sprintf("\nExited - ExitCode: %d\n%s\n", cmd.ProcessState().ExitCode(), CmdSeparator)))
	case <-timeoutCh:
		log.Infof("command timed out after %v, killing: %s", timeout, truncateCmd(cmd))
		termThenKill(cmd.Process(), killTimeout, doneCh)
		<-doneCh
		syncLog.Write([]byte(fmt.Sprintf("\nTimeout after %v\n%s\n", timeout, CmdSeparator)))
		cmdErr = TimeoutError
	case <-killCh:
		log.Info("Received kill request for command")
		termThenKill(cmd.Process(), killTimeout, doneCh)
		<-doneCh
		syncLog.Write([]byte(fmt.Sprintf("\nTerminated by external request\n%s\n", CmdSeparator)))
	}

	rr.ProcessState = cmd.ProcessState()
	rr.Stdout = outBuf.Bytes()
	rr.Stderr = errBuf.Bytes()
	rr.Error = cmdErr
	return rr
}

// Run executes cmd under timeout, killing it early if ctx is cancelled.
func Run(ctx context.Context, cmd Cmd, timeout time.Duration) RunResult {
	rr := RunKillableCommand(cmd, ctx.Done(), DefaultKillTimeout, io.Discard, timeout)
	if ctx.Err() != nil && rr.Error == nil {
		rr.Error = ctx.Err()
	}
	return rr
}

// termThenKill sends SIGTERM, then kills the process if it hasn't exited after d.
// waitDoneCh must be closed by the caller when the process exits.
func termThenKill(p *os.Process, d time.Duration, waitDoneCh <-chan struct{}) error {
	if p == nil {
		return nil
	}
	err := p.Signal(syscall.SIGTERM)
	if err != nil {
		log.Errorf("Failed to send SIGTERM to process: %s", err)
		return err
	}

	select {
	case <-waitDoneCh:
	case <-time.After(d):
		log.Info("Command hasn't exited, using Kill()")
		if err = p.Kill(); err != nil {
			log.Errorf("Failed to Kill() process: %s", err)
			return err
		}
	}
	return nil
}

// syncWriter serializes writes from the stdout and stderr copiers.
type syncWriter struct {
	w  io.Writer
	mu sync.Mutex
}

func (b *syncWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.w.Write(p)
}
