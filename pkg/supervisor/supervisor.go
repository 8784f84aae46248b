package supervisor

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kralicky/voicebox/pkg/broadcast"
	"github.com/kralicky/voicebox/pkg/eventlog"
	"github.com/kralicky/voicebox/pkg/process"
	"github.com/kralicky/voicebox/pkg/tasks"
)

const (
	DefaultGrace         = 5 * time.Second
	DefaultDrainTimeout  = 2 * time.Second
	DefaultCompletedText = "[completed]"
	DefaultStoppedText   = "[stopped]"
)

// Category describes how the runs of a category are supervised.
type Category struct {
	Name tasks.Category
	// Written to the stdin of interactive runs to ask them to exit, before
	// stdin is closed. If empty, interactive runs are sent SIGTERM instead.
	StopToken string
	// Literal text of the terminal event for runs that completed on their own
	// or were stopped, respectively.
	CompletedText string
	StoppedText   string
	// Default grace period used when stopping a run of this category.
	Grace      time.Duration
	Classifier Classifier
	// How long SendInput waits for an interactive run to accept a line.
	// Defaults to process.DefaultInputTimeout.
	InputTimeout time.Duration
	// Optional resource confinement for the runs of this category.
	Confiner process.Confiner
}

// ArtifactStore publishes files produced by successful runs.
type ArtifactStore interface {
	// Publish makes the file at path available under the returned name.
	Publish(ctx context.Context, path string) (string, error)
}

type Options struct {
	Categories []Category
	// How long to keep reading a run's output after its process has exited.
	// Bounds the final drain when a grandchild process inherited the pipes.
	DrainTimeout time.Duration
	// Sinks that receive the events of every run, such as a NATS publisher.
	Sinks     []tasks.Sink
	Artifacts ArtifactStore
}

type Started struct {
	RunID string `json:"run_id"`
	PID   int    `json:"pid"`
}

// Supervisor runs at most one process per category and streams the output of
// each run to its event log and to any configured sinks.
type Supervisor struct {
	Options
	slots    map[tasks.Category]*slot
	order    []tasks.Category
	hub      *broadcast.Hub[tasks.Event]
	pumps    sync.WaitGroup
	shutdown atomic.Bool
}

func New(options Options) *Supervisor {
	if options.DrainTimeout <= 0 {
		options.DrainTimeout = DefaultDrainTimeout
	}
	s := &Supervisor{
		Options: options,
		slots:   make(map[tasks.Category]*slot, len(options.Categories)),
		hub:     broadcast.NewHub[tasks.Event](),
	}
	for _, def := range options.Categories {
		if def.CompletedText == "" {
			def.CompletedText = DefaultCompletedText
		}
		if def.StoppedText == "" {
			def.StoppedText = DefaultStoppedText
		}
		if def.Grace <= 0 {
			def.Grace = DefaultGrace
		}
		if _, ok := s.slots[def.Name]; !ok {
			s.order = append(s.order, def.Name)
		}
		s.slots[def.Name] = &slot{def: def}
	}
	return s
}

type StartOptions struct {
	artifact string
	sinks    []tasks.Sink
}

type StartOption func(*StartOptions)

func (o *StartOptions) apply(opts ...StartOption) {
	for _, op := range opts {
		op(o)
	}
}

// WithArtifact names a file the run is expected to produce. If the run
// completes with exit code 0, the file is published to the artifact store and
// announced with a notice event.
func WithArtifact(path string) StartOption {
	return func(o *StartOptions) {
		o.artifact = path
	}
}

// WithSinks adds sinks that receive only the events of this run.
func WithSinks(sinks ...tasks.Sink) StartOption {
	return func(o *StartOptions) {
		o.sinks = append(o.sinks, sinks...)
	}
}

func (s *Supervisor) lookup(category tasks.Category) (*slot, error) {
	sl, ok := s.slots[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", tasks.ErrUnknownCategory, category)
	}
	return sl, nil
}

// Definition returns the configuration of a category.
func (s *Supervisor) Definition(category tasks.Category) (Category, error) {
	sl, err := s.lookup(category)
	if err != nil {
		return Category{}, err
	}
	return sl.def, nil
}

// Categories returns the names of all configured categories, in the order
// they were configured.
func (s *Supervisor) Categories() []tasks.Category {
	return append([]tasks.Category(nil), s.order...)
}

// Start spawns cmd as the new run of category. It fails with
// tasks.ErrAlreadyRunning if the category's current process is still alive.
// A previous run whose process has exited but whose output is still being
// drained does not prevent a new run from starting.
func (s *Supervisor) Start(ctx context.Context, category tasks.Category, cmd tasks.Command, opts ...StartOption) (Started, error) {
	options := StartOptions{}
	options.apply(opts...)

	sl, err := s.lookup(category)
	if err != nil {
		return Started{}, err
	}
	if err := cmd.Validate(); err != nil {
		return Started{}, err
	}
	if err := ctx.Err(); err != nil {
		return Started{}, err
	}
	if s.shutdown.Load() {
		return Started{}, fmt.Errorf("%w: supervisor is shutting down", tasks.ErrSpawnFailed)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if cur := sl.current.Load(); cur != nil && cur.handle.Alive() {
		return Started{}, fmt.Errorf("%w: %s (pid %d)", tasks.ErrAlreadyRunning, category, cur.handle.PID())
	}

	// raw hex is easier to copy from a terminal than the dashed form
	u := uuid.New()
	runID := hex.EncodeToString(u[:])

	h, err := process.Spawn(cmd, process.Options{
		Category:     category,
		RunID:        runID,
		Confiner:     sl.def.Confiner,
		InputTimeout: sl.def.InputTimeout,
	})
	if err != nil {
		return Started{}, err
	}

	events := eventlog.New()
	sinks := tasks.MultiSink{events, tasks.SinkFunc(s.publish)}
	sinks = append(sinks, s.Sinks...)
	sinks = append(sinks, options.sinks...)
	r := &run{
		handle:   h,
		log:      events,
		sinks:    sinks,
		artifact: options.artifact,
		lg:       slog.With("category", category, "run", runID),
		pumpDone: make(chan struct{}),
	}
	sl.current.Store(r)
	sl.latest.Store(r)

	s.pumps.Add(1)
	go s.pump(sl, r)

	return Started{RunID: runID, PID: h.PID()}, nil
}

func (s *Supervisor) publish(ev tasks.Event) error {
	s.hub.Publish(ev)
	return nil
}

// SendInput writes payload followed by a newline to the stdin of the
// category's current run.
func (s *Supervisor) SendInput(category tasks.Category, payload string) error {
	sl, err := s.lookup(category)
	if err != nil {
		return err
	}
	cur := sl.current.Load()
	if cur == nil || !cur.handle.Alive() {
		return tasks.ErrNotRunning
	}
	return cur.handle.WriteLine(payload)
}

// Stop stops the category's current run, waiting up to grace for it to exit
// before killing it. If grace is not positive, the category's default is
// used. When Stop returns, the run's log has been sealed and the category is
// idle.
func (s *Supervisor) Stop(ctx context.Context, category tasks.Category, grace time.Duration) (tasks.StopOutcome, error) {
	sl, err := s.lookup(category)
	if err != nil {
		return 0, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	cur := sl.current.Load()
	if cur == nil || !cur.handle.Alive() {
		return 0, tasks.ErrNotRunning
	}
	if grace <= 0 {
		grace = sl.def.Grace
	}

	cur.stopRequested.Store(true)
	outcome, err := cur.handle.StopWithin(ctx, grace, sl.def.StopToken)
	if err != nil {
		// The slot is released anyway; the process is left to the pump,
		// which seals the log if it ever exits.
		sl.current.CompareAndSwap(cur, nil)
		cur.lg.Error("run could not be killed, releasing its slot", "pid", cur.handle.PID(), "error", err)
		return outcome, err
	}
	<-cur.pumpDone
	sl.current.CompareAndSwap(cur, nil)
	cur.lg.Info("run stopped", "outcome", outcome)
	return outcome, err
}

// Status returns the state of the category's current run, along with the
// termination details of the most recently finished run.
func (s *Supervisor) Status(category tasks.Category) (tasks.Status, error) {
	sl, err := s.lookup(category)
	if err != nil {
		return tasks.Status{}, err
	}
	return sl.status(), nil
}

// List returns the status of every category.
func (s *Supervisor) List() []tasks.Status {
	out := make([]tasks.Status, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.slots[name].status())
	}
	return out
}

func (sl *slot) status() tasks.Status {
	st := tasks.Status{
		Category: sl.def.Name,
		State:    tasks.Idle,
	}
	if cur := sl.current.Load(); cur != nil && cur.handle.Alive() {
		st.State = tasks.Running
		st.PID = cur.handle.PID()
		st.RunID = cur.handle.RunID()
		st.Started = cur.handle.Started()
	}
	if term := sl.lastTerm.Load(); term != nil {
		t := *term
		st.Last = &t
	}
	return st
}

// Logs streams the events of the category's current or most recent run,
// from the beginning. The channel is closed after the run's terminal event,
// or when ctx is canceled.
func (s *Supervisor) Logs(ctx context.Context, category tasks.Category) (<-chan tasks.Event, error) {
	sl, err := s.lookup(category)
	if err != nil {
		return nil, err
	}
	r := sl.latest.Load()
	if r == nil {
		return nil, fmt.Errorf("%w: %s", tasks.ErrNoRuns, category)
	}
	return r.log.Stream(ctx), nil
}

// Subscribe returns a live feed of the events of every category. Only events
// emitted after the call are delivered, and events are dropped if the
// subscriber falls behind.
func (s *Supervisor) Subscribe(ctx context.Context) <-chan tasks.Event {
	return s.hub.Subscribe(ctx, 0)
}

// Shutdown stops every running category concurrently and waits for all
// output to be drained. New runs are rejected once Shutdown is called.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.shutdown.Store(true)
	var eg errgroup.Group
	for _, name := range s.order {
		eg.Go(func() error {
			_, err := s.Stop(ctx, name, 0)
			if errors.Is(err, tasks.ErrNotRunning) {
				return nil
			}
			return err
		})
	}
	err := eg.Wait()

	done := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("waiting for output to drain: %w", context.Cause(ctx)))
	}
	s.hub.Close()
	return err
}
