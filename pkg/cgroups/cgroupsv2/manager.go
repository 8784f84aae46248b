// Package cgroupsv2 places task processes in per-run cgroup v2 groups.
package cgroupsv2

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/kralicky/voicebox/pkg/cgroups"
)

const (
	hierarchyRootPath = "/sys/fs/cgroup"
	voiceboxCgroup    = "voicebox"
)

var requiredControllers = []string{"cpu", "memory", "io"}

// Manager owns the voicebox cgroup, under which one cgroup is created for
// each confined run.
type Manager struct {
	path string
}

func NewManager() (*Manager, error) {
	if err := cgroups.RequireVersion2(); err != nil {
		return nil, err
	}
	return newManagerAt(hierarchyRootPath)
}

func newManagerAt(root string) (*Manager, error) {
	for _, file := range []string{"cgroup.controllers", "cgroup.subtree_control"} {
		if err := checkControllers(filepath.Join(root, file)); err != nil {
			return nil, err
		}
	}
	path := filepath.Join(root, voiceboxCgroup)
	switch err := os.Mkdir(path, 0o755); {
	case err == nil:
		slog.Info("created voicebox cgroup", "path", path)
	case !errors.Is(err, fs.ErrExist):
		return nil, fmt.Errorf("failed to create voicebox cgroup: %w", err)
	}

	subtree := filepath.Join(path, "cgroup.subtree_control")
	missing, err := missingControllers(subtree)
	if err != nil {
		return nil, err
	}
	for _, c := range missing {
		slog.Info("enabling controller", "controller", c, "file", subtree)
		if err := enableController(subtree, c); err != nil {
			return nil, fmt.Errorf("failed to enable controller %q: %w", c, err)
		}
	}
	if err := checkControllers(subtree); err != nil {
		return nil, err
	}
	slog.Info("initialized voicebox cgroup", "path", path)
	return &Manager{path: path}, nil
}

// createCgroupWithLimits creates the cgroup for one run. On error, the
// returned path is set if the directory was created and must be removed by
// the caller.
func (m *Manager) createCgroupWithLimits(name string, limits cgroups.Limits) (string, error) {
	path := filepath.Join(m.path, name)
	if err := os.Mkdir(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cgroup %s: %w", path, err)
	}
	slog.Debug("created cgroup", "path", path)
	return path, applyLimits(path, limits)
}

func applyLimits(path string, limits cgroups.Limits) error {
	if limits.MilliCPU > 0 {
		if err := writeCpuMaxQuota(path, mcpusToCfsQuota(limits.MilliCPU)); err != nil {
			return fmt.Errorf("failed to set cpu.max: %w", err)
		}
	}
	memory := []struct {
		file  string
		value int64
		write func(string, int64) error
	}{
		{"memory.high", limits.MemoryHigh, writeMemoryHigh},
		{"memory.max", limits.MemoryMax, writeMemoryMax},
	}
	for _, m := range memory {
		if m.value <= 0 {
			continue
		}
		if err := m.write(path, m.value); err != nil {
			return fmt.Errorf("failed to set %s: %w", m.file, err)
		}
	}
	for _, dev := range limits.IO {
		id, err := lookupDeviceId(dev.Device)
		if err != nil {
			return fmt.Errorf("io limits for %s: %w", dev.Device, err)
		}
		if err := writeIoMax(path, id, dev); err != nil {
			return fmt.Errorf("failed to set io.max for device %s: %w", id, err)
		}
	}
	return nil
}

func missingControllers(file string) ([]string, error) {
	enabled, err := listControllers(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read cgroup controllers: %w", err)
	}
	var missing []string
	for _, c := range requiredControllers {
		if !slices.Contains(enabled, c) {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

func checkControllers(file string) error {
	missing, err := missingControllers(file)
	if err != nil {
		return err
	}
	errs := make([]error, 0, len(missing))
	for _, c := range missing {
		errs = append(errs, fmt.Errorf("required cgroup controller %q is not enabled in %s", c, file))
	}
	return errors.Join(errs...)
}
