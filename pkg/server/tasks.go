package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/kralicky/voicebox/pkg/catalog"
	"github.com/kralicky/voicebox/pkg/supervisor"
	"github.com/kralicky/voicebox/pkg/tasks"
)

// ArtifactReader opens artifacts previously published by the supervisor.
type ArtifactReader interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Tasks builds commands from client-supplied params and runs them on the
// supervisor. It is shared by the gRPC and HTTP APIs.
type Tasks struct {
	Supervisor *supervisor.Supervisor
	Catalog    *catalog.Catalog
	Artifacts  ArtifactReader
}

type Launched struct {
	supervisor.Started
	// Base name of the file the run will produce, if any.
	Artifact string `json:"artifact,omitempty"`
	ModelDir string `json:"model_dir,omitempty"`
}

// Launch resolves params into the category's command and starts it.
func (t *Tasks) Launch(ctx context.Context, category tasks.Category, params map[string]string, opts ...supervisor.StartOption) (Launched, error) {
	inv, err := t.Catalog.Resolve(category, params)
	if err != nil {
		return Launched{}, err
	}
	if inv.Artifact != "" {
		opts = append(opts, supervisor.WithArtifact(inv.Artifact))
	}
	started, err := t.Supervisor.Start(ctx, category, inv.Command, opts...)
	if err != nil {
		inv.Discard()
		return Launched{}, err
	}
	l := Launched{
		Started:  started,
		ModelDir: inv.ModelDir,
	}
	if inv.Artifact != "" {
		l.Artifact = filepath.Base(inv.Artifact)
	}
	return l, nil
}

// ErrRecognitionFailed is returned by Recognize when the recognizer exits
// with an error. The error text contains the recognizer's diagnostics.
var ErrRecognitionFailed = errors.New("recognition failed")

// Recognize runs a one-shot file recognition and returns the recognized
// text, which is the output of the run joined by newlines.
func (t *Tasks) Recognize(ctx context.Context, params map[string]string) (string, error) {
	events := make(chan tasks.Event, 64)
	done := make(chan struct{})
	var output, diagnostics []string
	go func() {
		defer close(done)
		for ev := range events {
			switch ev.Stream {
			case tasks.StreamOutput:
				output = append(output, ev.Text)
			case tasks.StreamError:
				diagnostics = append(diagnostics, ev.Text)
			}
		}
	}()
	var terminal tasks.Event
	sink := tasks.SinkFunc(func(ev tasks.Event) error {
		if ev.IsTerminal() {
			terminal = ev
			close(events)
			return nil
		}
		events <- ev
		return nil
	})

	if _, err := t.Launch(ctx, tasks.FileRecognition, params, supervisor.WithSinks(sink)); err != nil {
		close(events)
		<-done
		return "", err
	}
	select {
	case <-done:
	case <-ctx.Done():
		if _, err := t.Supervisor.Stop(context.WithoutCancel(ctx), tasks.FileRecognition, 0); err != nil && !errors.Is(err, tasks.ErrNotRunning) {
			return "", errors.Join(context.Cause(ctx), err)
		}
		<-done
		return "", context.Cause(ctx)
	}
	if terminal.ExitCode != 0 || terminal.Sentinel != tasks.SentinelCompleted {
		return "", fmt.Errorf("%w: %s", ErrRecognitionFailed, strings.Join(diagnostics, "\n"))
	}
	return strings.Join(output, "\n"), nil
}
