package tasks

import "errors"

var (
	// ErrAlreadyRunning is returned when starting a category that already has
	// a live process.
	ErrAlreadyRunning = errors.New("task already running")
	// ErrNotRunning is returned by operations that require a live process.
	ErrNotRunning = errors.New("task not running")
	// ErrSpawnFailed wraps the underlying error when a process could not be
	// created.
	ErrSpawnFailed = errors.New("failed to spawn task process")
	// ErrWriteFailed wraps the underlying error when writing to a process's
	// stdin fails (e.g. broken pipe).
	ErrWriteFailed = errors.New("failed to write task input")
	// ErrNotInteractive is returned by SendInput for runs that were not
	// started with StdinInteractive.
	ErrNotInteractive = errors.New("task does not accept input")
	ErrUnknownCategory = errors.New("unknown task category")
	ErrInvalidCommand  = errors.New("invalid command")
	// ErrNoRuns is returned when requesting the logs of a category that has
	// never been started.
	ErrNoRuns = errors.New("task category has no runs")
)
