package tasks

import (
	"fmt"
	"time"
)

// Category names a class of task. At most one process per category may be
// running at any time.
type Category string

const (
	RealtimeRecognition Category = "realtime-recognition"
	FileRecognition     Category = "file-recognition"
	BatchTraining       Category = "batch-training"
	SpeechSynthesis     Category = "speech-synthesis"
	VitsTraining        Category = "vits-training"
	VitsTesting         Category = "vits-testing"
	VoiceCloning        Category = "voice-cloning"
)

type StdinMode int

const (
	// StdinNone connects the process's stdin to /dev/null.
	StdinNone StdinMode = iota
	// StdinInteractive keeps a pipe open to the process's stdin, which can be
	// written to with SendInput.
	StdinInteractive
)

func (m StdinMode) String() string {
	switch m {
	case StdinNone:
		return "none"
	case StdinInteractive:
		return "interactive"
	default:
		return fmt.Sprintf("StdinMode(%d)", int(m))
	}
}

func (m StdinMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *StdinMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "none":
		*m = StdinNone
	case "interactive":
		*m = StdinInteractive
	default:
		return fmt.Errorf("unknown stdin mode %q", text)
	}
	return nil
}

// Command is a fully-formed invocation of an external program. Args[0] is the
// program; it is executed directly and never interpreted by a shell.
type Command struct {
	Args  []string
	Env   []string
	Dir   string
	Stdin StdinMode
}

func (c Command) Validate() error {
	if len(c.Args) == 0 || c.Args[0] == "" {
		return fmt.Errorf("%w: no program specified", ErrInvalidCommand)
	}
	return nil
}

type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = Idle
	case "running":
		*s = Running
	default:
		return fmt.Errorf("unknown state %q", text)
	}
	return nil
}

// Termination describes how a run ended.
type Termination struct {
	RunID    string    `json:"run_id"`
	ExitCode int       `json:"exit_code"`
	Signal   string    `json:"signal,omitempty"`
	Sentinel Sentinel  `json:"sentinel"`
	Ended    time.Time `json:"ended"`
}

type Status struct {
	Category Category     `json:"category"`
	State    State        `json:"state"`
	PID      int          `json:"pid,omitempty"`
	RunID    string       `json:"run_id,omitempty"`
	Started  time.Time    `json:"started,omitzero"`
	Last     *Termination `json:"last,omitempty"`
}

type StopOutcome int

const (
	// OutcomeStopped means the process exited within the grace period, either
	// in response to the stop request or on its own.
	OutcomeStopped StopOutcome = iota
	// OutcomeForceKilled means the process had to be killed after the grace
	// period elapsed.
	OutcomeForceKilled
)

func (o StopOutcome) String() string {
	switch o {
	case OutcomeStopped:
		return "stopped"
	case OutcomeForceKilled:
		return "force-killed"
	default:
		return fmt.Sprintf("StopOutcome(%d)", int(o))
	}
}

func (o StopOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}
