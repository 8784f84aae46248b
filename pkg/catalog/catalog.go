package catalog

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"text/template"

	"github.com/kralicky/voicebox/pkg/tasks"
)

// Spec is the uncompiled definition of how to build the command line of a
// category from client-supplied params.
type Spec struct {
	Category tasks.Category
	// Fixed leading arguments, such as an environment activation wrapper
	// ("conda run -n env --no-capture-output").
	Prefix []string
	// Each element is a text/template rendered into exactly one argument.
	// Templates can refer to .Params.<name>, .Output and .ModelDir.
	Args     []string
	Env      []string
	Dir      string
	Stdin    tasks.StdinMode
	Params   []Param
	Output   *Output
	ModelDir *VersionedDir
}

// Entry is a compiled Spec.
type Entry struct {
	spec   Spec
	args   []*template.Template
	params map[string]Param
}

// Compile parses the argument templates of a spec and checks that its params
// are well-formed.
func Compile(spec Spec) (*Entry, error) {
	if spec.Category == "" {
		return nil, fmt.Errorf("spec has no category")
	}
	if len(spec.Prefix)+len(spec.Args) == 0 {
		return nil, fmt.Errorf("%s: no command specified", spec.Category)
	}
	e := &Entry{
		spec:   spec,
		params: make(map[string]Param, len(spec.Params)),
	}
	for _, p := range spec.Params {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Category, err)
		}
		if _, ok := e.params[p.Name]; ok {
			return nil, fmt.Errorf("%s: duplicate param %q", spec.Category, p.Name)
		}
		e.params[p.Name] = p
	}
	if spec.ModelDir != nil {
		if _, ok := e.params[spec.ModelDir.Param]; !ok {
			return nil, fmt.Errorf("%s: model dir refers to undeclared param %q", spec.Category, spec.ModelDir.Param)
		}
	}
	for i, arg := range spec.Args {
		tmpl, err := template.New(fmt.Sprintf("%s/arg%d", spec.Category, i)).
			Option("missingkey=error").
			Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Category, err)
		}
		e.args = append(e.args, tmpl)
	}
	return e, nil
}

func (e *Entry) Category() tasks.Category { return e.spec.Category }
func (e *Entry) Stdin() tasks.StdinMode   { return e.spec.Stdin }

// Params returns the declared params, sorted by name.
func (e *Entry) Params() []Param {
	return slices.SortedFunc(maps.Values(e.params), func(a, b Param) int {
		return strings.Compare(a.Name, b.Name)
	})
}

// Invocation is a resolved command, along with the paths it was given for its
// results.
type Invocation struct {
	Command tasks.Command
	// Path of the file the run is expected to write, if any.
	Artifact string
	// Directory reserved for the run's results, if any.
	ModelDir string
}

// Discard releases resources reserved for an invocation that was never
// started. Only an empty reserved directory is removed.
func (inv Invocation) Discard() {
	if inv.ModelDir == "" {
		return
	}
	if err := os.Remove(inv.ModelDir); err != nil {
		slog.Debug("failed to remove unused model directory", "path", inv.ModelDir, "error", err)
	}
}

type templateData struct {
	Params   map[string]string
	Output   string
	ModelDir string
}

// Resolve validates params and renders the command line. Unknown param names
// are rejected. Errors wrap tasks.ErrInvalidCommand.
func (e *Entry) Resolve(params map[string]string) (Invocation, error) {
	for name := range params {
		if _, ok := e.params[name]; !ok {
			return Invocation{}, invalidParam(name, "unknown param")
		}
	}
	data := templateData{
		Params: make(map[string]string, len(e.params)),
	}
	for name, p := range e.params {
		raw, present := params[name]
		v, err := p.Resolve(raw, present)
		if err != nil {
			return Invocation{}, err
		}
		data.Params[name] = v
	}

	var inv Invocation
	if e.spec.Output != nil {
		data.Output = e.spec.Output.NewPath()
		inv.Artifact = data.Output
	}
	if e.spec.ModelDir != nil {
		dir, err := e.spec.ModelDir.Reserve(data.Params[e.spec.ModelDir.Param])
		if err != nil {
			return Invocation{}, fmt.Errorf("%w: %w", tasks.ErrInvalidCommand, err)
		}
		data.ModelDir = dir
		inv.ModelDir = dir
	}

	args := slices.Clone(e.spec.Prefix)
	for _, tmpl := range e.args {
		var sb strings.Builder
		if err := tmpl.Execute(&sb, data); err != nil {
			inv.Discard()
			return Invocation{}, fmt.Errorf("%w: %w", tasks.ErrInvalidCommand, err)
		}
		args = append(args, sb.String())
	}
	inv.Command = tasks.Command{
		Args:  args,
		Env:   slices.Clone(e.spec.Env),
		Dir:   e.spec.Dir,
		Stdin: e.spec.Stdin,
	}
	if err := inv.Command.Validate(); err != nil {
		inv.Discard()
		return Invocation{}, err
	}
	return inv, nil
}

// Catalog maps categories to the entries used to build their commands.
type Catalog struct {
	entries map[tasks.Category]*Entry
}

func New(entries ...*Entry) *Catalog {
	c := &Catalog{entries: make(map[tasks.Category]*Entry, len(entries))}
	for _, e := range entries {
		c.entries[e.Category()] = e
	}
	return c
}

func (c *Catalog) Lookup(category tasks.Category) (*Entry, error) {
	e, ok := c.entries[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", tasks.ErrUnknownCategory, category)
	}
	return e, nil
}

// Resolve builds the command for a category from client-supplied params.
func (c *Catalog) Resolve(category tasks.Category, params map[string]string) (Invocation, error) {
	e, err := c.Lookup(category)
	if err != nil {
		return Invocation{}, err
	}
	return e.Resolve(params)
}
