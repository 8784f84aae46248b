package cgroupsv2

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/kralicky/voicebox/pkg/cgroups"
	"github.com/kralicky/voicebox/pkg/process"
	"github.com/kralicky/voicebox/pkg/tasks"
)

// Confiner starts each run of a category in a new cgroup with the
// category's limits. When the run's process exits, anything left in the
// cgroup is killed and the cgroup is removed, so orphaned children cannot
// outlive the run.
type Confiner struct {
	mgr      *Manager
	category tasks.Category
	limits   cgroups.Limits
}

var _ process.Confiner = (*Confiner)(nil)

// How long releasing a cgroup waits for leftover processes to die.
const killTimeout = 5 * time.Second

func (m *Manager) Confiner(category tasks.Category, limits cgroups.Limits) *Confiner {
	return &Confiner{
		mgr:      m,
		category: category,
		limits:   limits,
	}
}

// Confine implements process.Confiner.
func (c *Confiner) Confine(runID string, attr *syscall.SysProcAttr) (func(), error) {
	path, err := c.mgr.createCgroupWithLimits(fmt.Sprintf("%s-%s", c.category, runID), c.limits)
	if err != nil {
		if path != "" {
			err = errors.Join(err, os.Remove(path))
		}
		return nil, err
	}
	var cf int
	for {
		cf, err = syscall.Open(path, syscall.O_RDONLY|syscall.O_CLOEXEC, 0)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return nil, errors.Join(fmt.Errorf("failed to open cgroup %s: %w", path, err), os.Remove(path))
		}
		break
	}
	attr.UseCgroupFD = true
	attr.CgroupFD = cf

	lg := slog.With("category", c.category, "run", runID, "path", path)
	release := func() {
		if err := syscall.Close(cf); err != nil {
			lg.Error("failed to close cgroup file descriptor", "error", err)
		}
		if err := killCgroup(path, killTimeout); err != nil {
			lg.Error("failed to kill cgroup", "error", err)
		}
		if err := os.Remove(path); err != nil {
			lg.Error("failed to remove cgroup", "error", err)
		} else {
			lg.Debug("removed cgroup")
		}
	}
	return release, nil
}
