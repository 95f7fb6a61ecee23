// Package exec wraps os/exec behind interfaces so that external commands, such as
// the scheduler's command line tools, can be faked in tests.
package exec

import (
	"io"
	"os"
	osexec "os/exec"
	"syscall"
)

type (
	// OsExec creates commands. The default implementation defers to os/exec.Command.
	OsExec interface {
		// Command returns a Cmd that runs name with args. args does not include name.
		Command(name string, args ...string) Cmd
	}

	defaultOsExec struct{}

	// Cmd is the subset of os/exec.Cmd used by this module.
	Cmd interface {
		// Path returns the path to the executable to run.
		Path() string

		// Args returns a copy of the command line, name first.
		Args() []string

		// Start starts the command without waiting for it to complete.
		Start() error

		// Wait waits for a started command to exit. A non-zero exit is returned as an ExitError.
		Wait() error

		// Run starts the command and waits for it.
		Run() error

		SetStdin(io.Reader)
		SetStdout(io.Writer)
		SetStderr(io.Writer)
		SetDir(string)

		// String returns a human-readable description of the command, for debugging.
		String() string

		// Process is nil until the command has been started.
		Process() *os.Process

		// ProcessState is nil until the command has exited.
		ProcessState() *os.ProcessState
	}

	// ExitError is returned by Wait and Run when the process ran but did not exit zero.
	//
	//   if exitErr, ok := err.(ExitError); ok {
	//     log.Info(exitErr.ExitStatus())
	//   }
	ExitError interface {
		error

		// ExitStatus is the exit code, or -1 when the process was killed by a signal.
		ExitStatus() int

		// Signaled reports whether an untrapped signal ended the process.
		Signaled() bool

		Args() []string
	}

	cmdAdapter struct {
		cmd *osexec.Cmd
	}

	exitErrorAdapter struct {
		err  *osexec.ExitError
		ws   syscall.WaitStatus
		args []string
	}
)

var (
	_ ExitError = &exitErrorAdapter{}
	_ Cmd       = &cmdAdapter{}
)

// NewOsExec creates the default OsExec.
func NewOsExec() OsExec {
	return &defaultOsExec{}
}

func (d *defaultOsExec) Command(name string, args ...string) Cmd {
	return &cmdAdapter{cmd: osexec.Command(name, args...)}
}

func wrapExitError(cmd Cmd, err error) error {
	if err == nil {
		return nil
	}
	if ex, ok := err.(*osexec.ExitError); ok {
		if ws, ok := ex.Sys().(syscall.WaitStatus); ok {
			return &exitErrorAdapter{err: ex, ws: ws, args: cmd.Args()}
		}
	}
	return err
}

func (e *exitErrorAdapter) Error() string   { return e.err.Error() }
func (e *exitErrorAdapter) ExitStatus() int { return e.ws.ExitStatus() }
func (e *exitErrorAdapter) Signaled() bool  { return e.ws.Signaled() }
func (e *exitErrorAdapter) Args() []string  { return e.args }

func (c *cmdAdapter) Run() error   { return wrapExitError(c, c.cmd.Run()) }
func (c *cmdAdapter) Start() error { return c.cmd.Start() }
func (c *cmdAdapter) Wait() error  { return wrapExitError(c, c.cmd.Wait()) }

func (c *cmdAdapter) Path() string                   { return c.cmd.Path }
func (c *cmdAdapter) SetStdin(r io.Reader)           { c.cmd.Stdin = r }
func (c *cmdAdapter) SetStdout(w io.Writer)          { c.cmd.Stdout = w }
func (c *cmdAdapter) SetStderr(w io.Writer)          { c.cmd.Stderr = w }
func (c *cmdAdapter) SetDir(dir string)              { c.cmd.Dir = dir }
func (c *cmdAdapter) String() string                 { return c.cmd.String() }
func (c *cmdAdapter) Process() *os.Process           { return c.cmd.Process }
func (c *cmdAdapter) ProcessState() *os.ProcessState { return c.cmd.ProcessState }

func (c *cmdAdapter) Args() []string {
	return append([]string(nil), c.cmd.Args...)
}
