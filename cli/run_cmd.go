package cli

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twitter/condortask/common/endpoints"
	ctErrors "github.com/twitter/condortask/common/errors"
	"github.com/twitter/condortask/setup"
)

type runCmd struct {
	maxTicks int
	httpAddr string
}

func (r *runCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every task each tick until all are complete",
	}
	cmd.Flags().IntVar(&r.maxTicks, "max_ticks", 0, "stop after this many ticks, overriding the config when > 0")
	cmd.Flags().StringVar(&r.httpAddr, "http_addr", "", "admin http address, overriding the config")
	return cmd
}

func (r *runCmd) run(c *CLI, cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	c.stat = endpoints.MakeStatsReceiver("condortask")
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if r.maxTicks > 0 {
		cfg.Driver.MaxTicks = r.maxTicks
	}
	if r.httpAddr != "" {
		cfg.HTTP.Addr = r.httpAddr
	}
	env, err := c.buildFrom(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer env.Close()

	if cfg.HTTP.Addr != "" {
		server := newAdminServer(cfg.HTTP.Addr, c, env)
		go func() {
			if err := server.Serve(ctx); err != nil {
				log.WithFields(log.Fields{"err": err}).Error("Admin server stopped")
			}
		}()
	}

	err = env.Driver.Run(ctx)
	if errors.Cause(err) == context.Canceled {
		log.Info("Interrupted, stopping")
		return nil
	}
	if err != nil {
		return ctErrors.NewError(err, ctErrors.RuntimeErrorExitCode)
	}
	for _, t := range env.Tasks {
		if !t.Complete() {
			return ctErrors.NewError(errors.Errorf("stopped after %d ticks with incomplete tasks", env.Driver.Ticks()),
				ctErrors.IncompleteExitCode)
		}
	}
	log.Info("All tasks complete")
	return nil
}

// newAdminServer exposes metrics, the latest summaries and each task's job logs.
func newAdminServer(addr string, c *CLI, env *setup.Env) *endpoints.Server {
	s := endpoints.NewServer(addr, c.stat)
	s.Handle("/summary.json", endpoints.JSONHandler(func() interface{} {
		return env.Driver.Summaries()
	}))
	for _, t := range env.Tasks {
		s.Resources.AddResource(t.UniqueName(), "logs", filepath.Join(t.TaskDir(), "logs"))
	}
	return s
}

type onceCmd struct{}

func (o *onceCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single tick over every incomplete task and print its result",
	}
}

func (o *onceCmd) run(c *CLI, cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	env, err := c.build(ctx, false)
	if err != nil {
		return err
	}
	defer env.Close()

	res := env.Driver.Step(ctx)
	if err := c.printJSON(res); err != nil {
		return err
	}
	if res.Failed > 0 {
		return ctErrors.NewError(errors.Errorf("%d of %d tasks failed", res.Failed, res.Processed),
			ctErrors.RuntimeErrorExitCode)
	}
	return nil
}
