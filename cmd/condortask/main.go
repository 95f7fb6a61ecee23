package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/condortask/cli"
	ctErrors "github.com/twitter/condortask/common/errors"
	"github.com/twitter/condortask/common/log/hooks"
)

// Binary driving batch tasks on a condor pool.
//
//	Supported commands: (see "-h" for all options)
//		run      tick until every task is complete
//		once     a single tick
//		summary  read-only state of each task
//		sites    replica sites and target sites for a dataset
//		chunk    preview output packing of a file list
//	Global flags:
//		--config [run config file or inline YAML/JSON]
//		--log_level [<error|info|debug> level and above should be logged]
func main() {
	log.AddHook(hooks.NewContextHook())

	if err := cli.NewCLI(os.Stdout).Exec(os.Args[1:]); err != nil {
		log.Error("Error running condortask: ", err)
		os.Exit(ctErrors.ExitCodeOf(err))
	}
}
