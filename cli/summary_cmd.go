package cli

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	ctErrors "github.com/twitter/condortask/common/errors"
	"github.com/twitter/condortask/task"
)

type summaryCmd struct {
	taskName string
}

func (s *summaryCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the saved state and live jobs of each task without changing anything",
	}
	cmd.Flags().StringVar(&s.taskName, "task", "", "only this task's unique name")
	return cmd
}

func (s *summaryCmd) run(c *CLI, cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	env, err := c.build(ctx, true)
	if err != nil {
		return err
	}
	defer env.Close()

	var out []task.Summary
	for _, t := range env.Tasks {
		if s.taskName != "" && t.UniqueName() != s.taskName {
			continue
		}
		out = append(out, t.Summary(ctx))
	}
	if s.taskName != "" && len(out) == 0 {
		return ctErrors.NewError(errors.Errorf("no task named %q", s.taskName), ctErrors.ConfigErrorExitCode)
	}
	return c.printJSON(out)
}
