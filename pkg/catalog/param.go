package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/kralicky/voicebox/pkg/tasks"
)

type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	// KindPath values are relative paths that are resolved under the param's
	// Root. Values that would escape the root are rejected.
	KindPath Kind = "path"
)

const defaultMaxLen = 4096

// Param declares a value a client may supply when starting a task.
type Param struct {
	Name     string
	Kind     Kind
	Required bool
	Default  string
	// Optional additional constraint on the raw value.
	Pattern *regexp.Regexp
	// Maximum length of string values. Defaults to 4096.
	MaxLen int
	// For KindPath, the directory values are resolved under.
	Root string
	// For KindPath, whether the resolved path must already exist.
	MustExist bool
}

func invalidParam(name string, format string, args ...any) error {
	return fmt.Errorf("%w: param %q: %s", tasks.ErrInvalidCommand, name, fmt.Sprintf(format, args...))
}

// Resolve validates a raw value and returns the value to substitute into the
// command line. If present is false, the default is used.
func (p Param) Resolve(raw string, present bool) (string, error) {
	if !present || raw == "" {
		if p.Required && p.Default == "" {
			return "", invalidParam(p.Name, "required")
		}
		if p.Default == "" {
			return "", nil
		}
		raw = p.Default
	}
	if strings.ContainsRune(raw, 0) {
		return "", invalidParam(p.Name, "contains a NUL byte")
	}
	if p.Pattern != nil && !p.Pattern.MatchString(raw) {
		return "", invalidParam(p.Name, "does not match %s", p.Pattern)
	}

	switch p.Kind {
	case KindString, "":
		maxLen := p.MaxLen
		if maxLen <= 0 {
			maxLen = defaultMaxLen
		}
		if len(raw) > maxLen {
			return "", invalidParam(p.Name, "longer than %d bytes", maxLen)
		}
		return raw, nil
	case KindNumber:
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return "", invalidParam(p.Name, "not a number")
		}
		return raw, nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return "", invalidParam(p.Name, "not a boolean")
		}
		return strconv.FormatBool(b), nil
	case KindPath:
		return p.resolvePath(raw)
	default:
		return "", invalidParam(p.Name, "unknown kind %q", p.Kind)
	}
}

func (p Param) resolvePath(raw string) (string, error) {
	if !filepath.IsLocal(raw) {
		return "", invalidParam(p.Name, "path must be relative and stay within its root")
	}
	// Lookups through os.Root fail for symlinks that lead out of the root.
	root, err := os.OpenRoot(p.Root)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !p.MustExist:
		// nothing under a missing root can lead out of it
		return filepath.Join(p.Root, raw), nil
	case err != nil:
		return "", invalidParam(p.Name, "root is unavailable: %v", err)
	}
	defer root.Close()
	switch _, err := root.Stat(raw); {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		if p.MustExist {
			return "", invalidParam(p.Name, "%s does not exist", raw)
		}
	default:
		return "", invalidParam(p.Name, "path must stay within its root")
	}
	return filepath.Join(p.Root, raw), nil
}

func (p Param) validate() error {
	if p.Name == "" {
		return fmt.Errorf("param has no name")
	}
	switch p.Kind {
	case KindString, KindNumber, KindBool, "":
	case KindPath:
		if p.Root == "" {
			return fmt.Errorf("path param %q has no root", p.Name)
		}
	default:
		return fmt.Errorf("param %q has unknown kind %q", p.Name, p.Kind)
	}
	return nil
}
