package exec

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
)

type (
	// ValidatingExecer is an OsExec that runs nothing. Each command is matched, argument by
	// argument, against the next expected list of regular expressions, and an optional fake
	// action for that position can write output or return an error.
	ValidatingExecer struct {
		t              *testing.T
		mu             sync.Mutex
		expectedCmdsRe [][]string
		commandIdx     int
		fakeActions    map[int]func(cmd *ValidatingCmd) error
	}

	// ValidatingCmd implements Cmd for a ValidatingExecer.
	ValidatingCmd struct {
		execer *ValidatingExecer
		args   []string
		idx    int
		stdin  io.Reader
		stdout io.Writer
		stderr io.Writer
		doneCh chan error
	}
)

var _ Cmd = &ValidatingCmd{}

// NewValidatingExecer expects exactly the given commands, in order.
func NewValidatingExecer(t *testing.T, expectedCmdsRe [][]string) *ValidatingExecer {
	return &ValidatingExecer{t: t, expectedCmdsRe: expectedCmdsRe, commandIdx: -1}
}

// SetFakeActions maps an expected command index to an action run in place of the command.
// The action's error is what Wait() returns.
func (v *ValidatingExecer) SetFakeActions(fakeActions map[int]func(cmd *ValidatingCmd) error) *ValidatingExecer {
	v.fakeActions = fakeActions
	return v
}

func (v *ValidatingExecer) Command(name string, args ...string) Cmd {
	return &ValidatingCmd{
		execer: v,
		args:   append([]string{name}, args...),
		stdout: io.Discard,
		stderr: io.Discard,
		doneCh: make(chan error, 1),
	}
}

// CheckAllValidated fails the test unless every expected command ran.
func (v *ValidatingExecer) CheckAllValidated() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.commandIdx != len(v.expectedCmdsRe)-1 {
		v.t.Fatalf("Number of expected commands: %d did not match validated command count: %d",
			len(v.expectedCmdsRe), v.commandIdx+1)
	}
}

func (v *ValidatingExecer) validate(args []string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.commandIdx++
	idx := v.commandIdx
	if idx >= len(v.expectedCmdsRe) {
		return idx, fmt.Errorf("command validation failed: only expected %d commands, received extra command: %s",
			len(v.expectedCmdsRe), strings.Join(args, " "))
	}
	expected := v.expectedCmdsRe[idx]
	if len(expected) != len(args) {
		return idx, fmt.Errorf("command validation failed: cmd %d expected %d args (%s), received %d args (%s)",
			idx, len(expected), strings.Join(expected, ","), len(args), strings.Join(args, ","))
	}
	for i, re := range expected {
		if !regexp.MustCompile(re).MatchString(args[i]) {
			return idx, fmt.Errorf("command validation failed: cmd %d arg %d expected %s, received %s",
				idx, i, re, args[i])
		}
	}
	return idx, nil
}

func (c *ValidatingCmd) run() {
	idx, err := c.execer.validate(c.args)
	c.idx = idx
	if err != nil {
		c.execer.t.Error(err)
		c.doneCh <- err
		return
	}
	if fn, ok := c.execer.fakeActions[idx]; ok {
		err = fn(c)
	}
	c.doneCh <- err
}

func (c *ValidatingCmd) Start() error {
	go c.run()
	return nil
}

func (c *ValidatingCmd) Wait() error { return <-c.doneCh }

func (c *ValidatingCmd) Run() error {
	c.Start()
	return c.Wait()
}

// Stdin returns what the command was given as standard input.
func (c *ValidatingCmd) Stdin() io.Reader  { return c.stdin }
func (c *ValidatingCmd) Stdout() io.Writer { return c.stdout }
func (c *ValidatingCmd) Stderr() io.Writer { return c.stderr }

func (c *ValidatingCmd) Path() string                   { return c.args[0] }
func (c *ValidatingCmd) Args() []string                 { return append([]string(nil), c.args...) }
func (c *ValidatingCmd) SetStdin(r io.Reader)           { c.stdin = r }
func (c *ValidatingCmd) SetStdout(w io.Writer)          { c.stdout = w }
func (c *ValidatingCmd) SetStderr(w io.Writer)          { c.stderr = w }
func (c *ValidatingCmd) SetDir(string)                  {}
func (c *ValidatingCmd) String() string                 { return strings.Join(c.args, " ") }
func (c *ValidatingCmd) Process() *os.Process           { return nil }
func (c *ValidatingCmd) ProcessState() *os.ProcessState { return nil }
