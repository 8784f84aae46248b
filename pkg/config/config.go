// Package config loads the voicebox server configuration.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	rbacv1 "github.com/kralicky/voicebox/pkg/apis/rbac/v1"
	"github.com/kralicky/voicebox/pkg/catalog"
	"github.com/kralicky/voicebox/pkg/cgroups"
	"github.com/kralicky/voicebox/pkg/process"
	"github.com/kralicky/voicebox/pkg/supervisor"
	"github.com/kralicky/voicebox/pkg/tasks"
)

//go:embed default.yaml
var defaultConfig []byte

type Config struct {
	GRPC         GRPC              `yaml:"grpc"`
	HTTP         HTTP              `yaml:"http"`
	DrainTimeout time.Duration     `yaml:"drainTimeout"`
	Artifacts    Artifacts         `yaml:"artifacts"`
	NATS         NATS              `yaml:"nats"`
	Roots        map[string]string `yaml:"roots"`
	RBAC         *rbacv1.Config    `yaml:"rbac,omitempty"`
	Categories   []Category        `yaml:"categories"`

	// Relative paths are resolved against this directory.
	baseDir string
}

type GRPC struct {
	ListenAddress string `yaml:"listenAddress"`
	TLS           TLS    `yaml:"tls"`
}

// TLS enables mutual TLS on the control API when Cert is set.
type TLS struct {
	CACert string `yaml:"caCert"`
	Cert   string `yaml:"cert"`
	Key    string `yaml:"key"`
}

type HTTP struct {
	// Leave empty to disable the HTTP API.
	ListenAddress   string        `yaml:"listenAddress"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type Artifacts struct {
	// Directory task outputs are written to, and served from unless Bucket is
	// set.
	Dir string `yaml:"dir"`
	// JetStream object store bucket to publish artifacts to. Requires NATS.
	Bucket      string `yaml:"bucket,omitempty"`
	RemoveLocal bool   `yaml:"removeLocal,omitempty"`
}

type NATS struct {
	// Server to publish events to. Leave empty (and Embedded disabled) to
	// disable NATS.
	URL           string       `yaml:"url,omitempty"`
	SubjectPrefix string       `yaml:"subjectPrefix"`
	Embedded      EmbeddedNATS `yaml:"embedded"`
}

// EmbeddedNATS runs a NATS server with JetStream inside voiceboxd.
type EmbeddedNATS struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	StoreDir string `yaml:"storeDir"`
}

func (n NATS) Enabled() bool {
	return n.URL != "" || n.Embedded.Enabled
}

type Category struct {
	Name tasks.Category `yaml:"name"`
	// Fixed leading arguments, such as an environment activation wrapper.
	Prefix []string `yaml:"prefix,omitempty"`
	// Argument templates; each renders to exactly one argument.
	Args          []string        `yaml:"args"`
	Env           []string        `yaml:"env,omitempty"`
	Dir           string          `yaml:"dir,omitempty"`
	Stdin         tasks.StdinMode `yaml:"stdin,omitempty"`
	StopToken     string          `yaml:"stopToken,omitempty"`
	CompletedText string          `yaml:"completedText,omitempty"`
	StoppedText   string          `yaml:"stoppedText,omitempty"`
	Grace         time.Duration   `yaml:"grace,omitempty"`
	InputTimeout  time.Duration   `yaml:"inputTimeout,omitempty"`
	Params        []Param         `yaml:"params,omitempty"`
	Output        *Output         `yaml:"output,omitempty"`
	ModelDir      *ModelDir       `yaml:"modelDir,omitempty"`
	Classify      []Rule          `yaml:"classify,omitempty"`
	Limits        *cgroups.Limits `yaml:"limits,omitempty"`
}

type Param struct {
	Name     string       `yaml:"name"`
	Kind     catalog.Kind `yaml:"kind,omitempty"`
	Required bool         `yaml:"required,omitempty"`
	Default  string       `yaml:"default,omitempty"`
	Pattern  string       `yaml:"pattern,omitempty"`
	MaxLen   int          `yaml:"maxLen,omitempty"`
	// Name of the entry in Roots that path values are resolved under.
	Root      string `yaml:"root,omitempty"`
	MustExist bool   `yaml:"mustExist,omitempty"`
}

type Output struct {
	// Name of the entry in Roots to write to. Defaults to the artifact
	// directory.
	Root   string `yaml:"root,omitempty"`
	Prefix string `yaml:"prefix"`
	Ext    string `yaml:"ext"`
}

type ModelDir struct {
	Root  string `yaml:"root"`
	Param string `yaml:"param"`
}

type Rule struct {
	Pattern string `yaml:"pattern"`
	Action  string `yaml:"action"`
}

// Default returns the built-in configuration, with paths relative to the
// working directory.
func Default() (*Config, error) {
	c := &Config{}
	if err := decode(defaultConfig, c); err != nil {
		return nil, fmt.Errorf("failed to parse default configuration: %w", err)
	}
	return c, nil
}

func decode(data []byte, c *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(c)
}

// Load decodes the file at path on top of the default configuration and
// validates the result. Relative paths in the file are resolved against the
// file's directory. If path is empty, the defaults are returned.
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
		// a categories list replaces the defaults rather than merging into
		// them element by element
		var probe struct {
			Categories []yaml.Node `yaml:"categories"`
		}
		if err := yaml.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if probe.Categories != nil {
			c.Categories = nil
		}
		if err := decode(data, c); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		c.baseDir = filepath.Dir(path)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// Path resolves a path from the configuration.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// Root returns the resolved path of a named root.
func (c *Config) Root(name string) (string, error) {
	p, ok := c.Roots[name]
	if !ok {
		return "", fmt.Errorf("unknown root %q", name)
	}
	return c.Path(p), nil
}

func (c *Config) ArtifactDir() string {
	return c.Path(c.Artifacts.Dir)
}

// HasLimits reports whether any category requests resource limits.
func (c *Config) HasLimits() bool {
	for _, cat := range c.Categories {
		if cat.Limits != nil && !cat.Limits.IsZero() {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if c.GRPC.ListenAddress == "" && c.HTTP.ListenAddress == "" {
		return fmt.Errorf("no listen address configured")
	}
	tls := c.GRPC.TLS
	if (tls.Cert == "") != (tls.Key == "") || (tls.Cert != "" && tls.CACert == "") {
		return fmt.Errorf("grpc.tls requires caCert, cert, and key together")
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("drainTimeout must not be negative")
	}
	if c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts.dir is required")
	}
	if c.Artifacts.Bucket != "" && !c.NATS.Enabled() {
		return fmt.Errorf("artifacts.bucket requires nats.url or nats.embedded")
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("no categories configured")
	}
	seen := make(map[tasks.Category]struct{}, len(c.Categories))
	for _, cat := range c.Categories {
		if _, ok := seen[cat.Name]; ok {
			return fmt.Errorf("duplicate category %q", cat.Name)
		}
		seen[cat.Name] = struct{}{}
		if cat.Grace < 0 {
			return fmt.Errorf("%s: grace must not be negative", cat.Name)
		}
		if cat.InputTimeout < 0 {
			return fmt.Errorf("%s: inputTimeout must not be negative", cat.Name)
		}
		if cat.Limits != nil {
			if err := cat.Limits.Validate(); err != nil {
				return fmt.Errorf("%s: %w", cat.Name, err)
			}
		}
		if _, err := c.catalogEntry(cat); err != nil {
			return err
		}
		if _, err := cat.classifier(); err != nil {
			return fmt.Errorf("%s: %w", cat.Name, err)
		}
	}
	return nil
}

func (c *Config) catalogEntry(cat Category) (*catalog.Entry, error) {
	spec := catalog.Spec{
		Category: cat.Name,
		Prefix:   cat.Prefix,
		Args:     cat.Args,
		Env:      cat.Env,
		Dir:      c.Path(cat.Dir),
		Stdin:    cat.Stdin,
	}
	for _, p := range cat.Params {
		param := catalog.Param{
			Name:      p.Name,
			Kind:      p.Kind,
			Required:  p.Required,
			Default:   p.Default,
			MaxLen:    p.MaxLen,
			MustExist: p.MustExist,
		}
		if p.Pattern != "" {
			re, err := regexp.Compile(p.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%s: param %q: %w", cat.Name, p.Name, err)
			}
			param.Pattern = re
		}
		if p.Root != "" {
			root, err := c.Root(p.Root)
			if err != nil {
				return nil, fmt.Errorf("%s: param %q: %w", cat.Name, p.Name, err)
			}
			param.Root = root
		}
		spec.Params = append(spec.Params, param)
	}
	if cat.Output != nil {
		dir := c.ArtifactDir()
		if cat.Output.Root != "" {
			var err error
			if dir, err = c.Root(cat.Output.Root); err != nil {
				return nil, fmt.Errorf("%s: output: %w", cat.Name, err)
			}
		}
		spec.Output = &catalog.Output{Dir: dir, Prefix: cat.Output.Prefix, Ext: cat.Output.Ext}
	}
	if cat.ModelDir != nil {
		root, err := c.Root(cat.ModelDir.Root)
		if err != nil {
			return nil, fmt.Errorf("%s: modelDir: %w", cat.Name, err)
		}
		spec.ModelDir = &catalog.VersionedDir{Root: root, Param: cat.ModelDir.Param}
	}
	return catalog.Compile(spec)
}

// Catalog builds the catalog used to resolve client params into commands.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	entries := make([]*catalog.Entry, 0, len(c.Categories))
	for _, cat := range c.Categories {
		e, err := c.catalogEntry(cat)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return catalog.New(entries...), nil
}

func (cat Category) classifier() (supervisor.Classifier, error) {
	var cl supervisor.Classifier
	for _, r := range cat.Classify {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return cl, fmt.Errorf("classify: %w", err)
		}
		action, err := supervisor.ParseAction(r.Action)
		if err != nil {
			return cl, fmt.Errorf("classify: %w", err)
		}
		cl.Rules = append(cl.Rules, supervisor.Rule{Pattern: re, Action: action})
	}
	return cl, nil
}

// ConfinerFunc returns the confiner for the runs of a category with resource
// limits.
type ConfinerFunc func(category tasks.Category, limits cgroups.Limits) (process.Confiner, error)

// SupervisorCategories builds the supervisor's category definitions. confine
// is only called for categories with limits, and may be nil if there are
// none.
func (c *Config) SupervisorCategories(confine ConfinerFunc) ([]supervisor.Category, error) {
	out := make([]supervisor.Category, 0, len(c.Categories))
	for _, cat := range c.Categories {
		cl, err := cat.classifier()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cat.Name, err)
		}
		def := supervisor.Category{
			Name:          cat.Name,
			StopToken:     cat.StopToken,
			CompletedText: cat.CompletedText,
			StoppedText:   cat.StoppedText,
			Grace:         cat.Grace,
			InputTimeout:  cat.InputTimeout,
			Classifier:    cl,
		}
		if cat.Limits != nil && !cat.Limits.IsZero() {
			if confine == nil {
				return nil, fmt.Errorf("%s: resource limits are not supported", cat.Name)
			}
			if def.Confiner, err = confine(cat.Name, *cat.Limits); err != nil {
				return nil, fmt.Errorf("%s: %w", cat.Name, err)
			}
		}
		out = append(out, def)
	}
	return out, nil
}

// CategoryNames returns the names of the configured categories.
func (c *Config) CategoryNames() []tasks.Category {
	names := make([]tasks.Category, 0, len(c.Categories))
	for _, cat := range c.Categories {
		names = append(names, cat.Name)
	}
	return names
}
