package taskv1

import (
	"github.com/kralicky/voicebox/pkg/tasks"
)

type Empty struct{}

type CategoryRef struct {
	Category string `json:"category"`
}

type StartRequest struct {
	Category string            `json:"category"`
	Params   map[string]string `json:"params,omitempty"`
}

type StartResponse struct {
	RunID string `json:"run_id"`
	PID   int    `json:"pid"`
	// Name of the artifact the run will produce, if any.
	Artifact string `json:"artifact,omitempty"`
	// Directory reserved for the run's results, if any.
	ModelDir string `json:"model_dir,omitempty"`
}

type StopRequest struct {
	Category string `json:"category"`
	// Grace period in milliseconds; the category's default is used if zero.
	GraceMillis int64 `json:"grace_ms,omitempty"`
}

type StopResponse struct {
	Outcome tasks.StopOutcome `json:"outcome"`
}

type TaskStatus = tasks.Status

type TaskStatusList struct {
	Items []TaskStatus `json:"items"`
}

type InputRequest struct {
	Category string `json:"category"`
	Payload  string `json:"payload"`
}

type LogEvent = tasks.Event
