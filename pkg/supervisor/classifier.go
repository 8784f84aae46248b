package supervisor

import (
	"fmt"
	"regexp"

	"github.com/kralicky/voicebox/pkg/tasks"
)

type Action int

const (
	// ActionOutput reclassifies a matching stderr line as ordinary output, for
	// tools that write progress information to stderr.
	ActionOutput Action = iota
	// ActionSuppress drops a matching stderr line. Suppressed lines are only
	// logged at debug level.
	ActionSuppress
)

func (a Action) String() string {
	switch a {
	case ActionOutput:
		return "output"
	case ActionSuppress:
		return "suppress"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

func ParseAction(s string) (Action, error) {
	switch s {
	case "output":
		return ActionOutput, nil
	case "suppress":
		return ActionSuppress, nil
	default:
		return 0, fmt.Errorf("unknown action %q (expected 'output' or 'suppress')", s)
	}
}

type Rule struct {
	Pattern *regexp.Regexp
	Action  Action
}

// Classifier decides how the stderr lines of a category are reported. Rules
// are evaluated in order and the first match wins; lines matching no rule are
// reported as errors.
type Classifier struct {
	Rules []Rule
}

// Classify returns the stream a line read from src should be reported on, or
// false if the line should be dropped.
func (c Classifier) Classify(src tasks.Stream, line string) (tasks.Stream, bool) {
	if src != tasks.StreamError {
		return src, true
	}
	for _, r := range c.Rules {
		if !r.Pattern.MatchString(line) {
			continue
		}
		switch r.Action {
		case ActionSuppress:
			return src, false
		case ActionOutput:
			return tasks.StreamOutput, true
		}
	}
	return tasks.StreamError, true
}
