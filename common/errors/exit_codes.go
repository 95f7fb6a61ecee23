package errors

type ExitCode int

const (
	// ConfigErrorExitCode: the run config or a task config was rejected.
	ConfigErrorExitCode ExitCode = 64

	// RuntimeErrorExitCode: the run started but failed, e.g. storage or scheduler setup.
	RuntimeErrorExitCode ExitCode = 70

	// IncompleteExitCode: a bounded run stopped with tasks still incomplete.
	IncompleteExitCode ExitCode = 75
)
