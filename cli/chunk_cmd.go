package cli

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/twitter/condortask/chunker"
	ctErrors "github.com/twitter/condortask/common/errors"
	"github.com/twitter/condortask/domain"
)

type chunkCmd struct {
	filesPerOutput  int64
	eventsPerOutput int64
	flush           bool
}

func (ch *chunkCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunk FILES.json",
		Short: "Show how a JSON list of {name, nevents} files would be packed into outputs",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().Int64Var(&ch.filesPerOutput, "files_per_output", chunker.Unbounded, "files per output, <= 0 for no bound")
	cmd.Flags().Int64Var(&ch.eventsPerOutput, "events_per_output", chunker.Unbounded, "events per output, <= 0 for no bound")
	cmd.Flags().BoolVar(&ch.flush, "flush", true, "close a trailing partial chunk instead of leaving it over")
	return cmd
}

type chunkResult struct {
	Chunks   [][]domain.File `json:"chunks"`
	Leftover []domain.File   `json:"leftover"`
}

func (ch *chunkCmd) run(c *CLI, cmd *cobra.Command, args []string) error {
	if ch.filesPerOutput <= 0 && ch.eventsPerOutput <= 0 {
		return ctErrors.NewError(errors.New("need --files_per_output or --events_per_output"), ctErrors.ConfigErrorExitCode)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return ctErrors.NewError(err, ctErrors.ConfigErrorExitCode)
	}
	var files []domain.File
	if err := json.Unmarshal(data, &files); err != nil {
		return ctErrors.NewError(errors.Wrapf(err, "parsing %s", args[0]), ctErrors.ConfigErrorExitCode)
	}
	chunks, leftover := chunker.Chunk(files, ch.filesPerOutput, ch.eventsPerOutput, ch.flush)
	return c.printJSON(chunkResult{Chunks: chunks, Leftover: leftover})
}
