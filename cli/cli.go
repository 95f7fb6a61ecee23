// Package cli is the condortask command tree.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	ctErrors "github.com/twitter/condortask/common/errors"
	"github.com/twitter/condortask/common/log/hooks"
	"github.com/twitter/condortask/common/stats"
	"github.com/twitter/condortask/config"
	"github.com/twitter/condortask/driver"
	"github.com/twitter/condortask/setup"
	"github.com/twitter/condortask/task"
)

const defaultConfig = "condortask.yaml"

// CLI holds the root command and the flags shared by subcommands.
type CLI struct {
	rootCmd *cobra.Command
	out     io.Writer

	configFlag string
	logLevel   string

	// stat receives the metrics of commands that build a run; the admin server renders it.
	stat stats.StatsReceiver
}

type command interface {
	registerFlags() *cobra.Command
	run(c *CLI, cmd *cobra.Command, args []string) error
}

func NewCLI(out io.Writer) *CLI {
	c := &CLI{out: out, stat: stats.NilStatsReceiver()}
	c.rootCmd = &cobra.Command{
		Use:               "condortask",
		Short:             "condortask keeps batch tasks' jobs on a condor pool until their outputs exist",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setLogLevel,
	}
	c.rootCmd.PersistentFlags().StringVar(&c.configFlag, "config", defaultConfig, "run config file, or inline YAML/JSON")
	c.rootCmd.PersistentFlags().StringVar(&c.logLevel, "log_level", "", "log everything at this level and above (error|warn|info|debug); overrides "+hooks.LogLevelEnv)

	c.addCmd(&runCmd{})
	c.addCmd(&onceCmd{})
	c.addCmd(&summaryCmd{})
	c.addCmd(&sitesCmd{})
	c.addCmd(&chunkCmd{})
	return c
}

// Exec runs the command line args, without the program name.
func (c *CLI) Exec(args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.Execute()
}

func (c *CLI) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

func (c *CLI) setLogLevel(cmd *cobra.Command, args []string) error {
	if c.logLevel == "" {
		hooks.ApplyEnvLevel(log.InfoLevel)
		return nil
	}
	level, err := log.ParseLevel(c.logLevel)
	if err != nil {
		return ctErrors.NewError(err, ctErrors.ConfigErrorExitCode)
	}
	log.SetLevel(level)
	return nil
}

func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configFlag)
	if err != nil {
		return nil, ctErrors.NewError(err, ctErrors.ConfigErrorExitCode)
	}
	log.Debugf("Run config:\n%s", cfg)
	return cfg, nil
}

func (c *CLI) build(ctx context.Context, readOnly bool) (*setup.Env, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	return c.buildFrom(ctx, cfg, readOnly)
}

func (c *CLI) buildFrom(ctx context.Context, cfg *config.Config, readOnly bool) (*setup.Env, error) {
	env, err := setup.Build(ctx, cfg, setup.Options{Stats: c.stat, ReadOnly: readOnly})
	if err != nil {
		code := ctErrors.RuntimeErrorExitCode
		if isConfigError(err) {
			code = ctErrors.ConfigErrorExitCode
		}
		return nil, ctErrors.NewError(err, code)
	}
	return env, nil
}

var configErrors = []error{
	config.ErrInvalidConfig,
	task.ErrMissingSample,
	task.ErrMissingTag,
	task.ErrMissingExecutable,
	task.ErrMissingPset,
	task.ErrMissingTarfile,
	task.ErrMissingCMSSWVersion,
	task.ErrInvalidUniqueName,
	task.ErrInvalidCompletionFraction,
	task.ErrInvalidChunking,
	task.ErrUnknownKind,
	task.ErrSplitWithinFiles,
	driver.ErrDuplicateTask,
}

func isConfigError(err error) bool {
	cause := errors.Cause(err)
	for _, e := range configErrors {
		if cause == e {
			return true
		}
	}
	return false
}

func (c *CLI) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
