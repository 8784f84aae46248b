package cgroupsv2

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kralicky/voicebox/pkg/cgroups"
)

func listControllers(file string) ([]string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(data)), nil
}

// sysFsWrite writes a single value to a cgroup interface file. Each write
// must be one line, so values are never buffered together.
func sysFsWrite(file string, value string) error {
	f, err := os.OpenFile(file, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, err = io.WriteString(f, value+"\n")
	return errors.Join(err, f.Close())
}

func enableController(file, name string) error {
	return sysFsWrite(file, "+"+name)
}

const (
	cfsPeriod   = 100000
	cfsMinQuota = 1000
)

// Requests above the number of CPUs on the machine are capped, even if
// voicebox itself runs in a cgroup with a smaller share.
var availableMilliCpus = int64(runtime.NumCPU() * 1000)

// cpu.max allows quota microseconds of CPU time per period, so one core is a
// quota of one period.
func mcpusToCfsQuota(milliCores int64) int64 {
	return max(cfsMinQuota, min(milliCores, availableMilliCpus)*cfsPeriod/1000)
}

func writeCpuMaxQuota(path string, quota int64) error {
	return sysFsWrite(filepath.Join(path, "cpu.max"), fmt.Sprintf("%d %d", quota, cfsPeriod))
}

func writeMemoryHigh(path string, high int64) error {
	return sysFsWrite(filepath.Join(path, "memory.high"), strconv.FormatInt(high, 10))
}

func writeMemoryMax(path string, limit int64) error {
	return sysFsWrite(filepath.Join(path, "memory.max"), strconv.FormatInt(limit, 10))
}

func writeIoMax(path, deviceId string, limits cgroups.DeviceLimits) error {
	var builder strings.Builder
	builder.WriteString(deviceId)
	sz := builder.Len()
	for _, l := range []struct {
		key   string
		value int64
	}{
		{"rbps", limits.ReadBps},
		{"wbps", limits.WriteBps},
		{"riops", limits.ReadIops},
		{"wiops", limits.WriteIops},
	} {
		if l.value > 0 {
			fmt.Fprintf(&builder, " %s=%d", l.key, l.value)
		}
	}
	if builder.Len() == sz { // no limits specified
		return nil
	}
	return sysFsWrite(filepath.Join(path, "io.max"), builder.String())
}

func writeCgroupKill(path string) error {
	return sysFsWrite(filepath.Join(path, "cgroup.kill"), "1")
}

// killCgroup kills every process left in the cgroup, then waits up to
// timeout for the kernel to report it empty. cgroup.events is modified when
// the populated flag changes, so the wait sleeps on an inotify watch instead
// of polling the file.
func killCgroup(path string, timeout time.Duration) error {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return fmt.Errorf("inotify_init1: %w", err)
	}
	defer unix.Close(fd)
	if _, err := unix.InotifyAddWatch(fd, filepath.Join(path, "cgroup.events"), unix.IN_MODIFY); err != nil {
		return fmt.Errorf("failed to watch cgroup.events: %w", err)
	}
	if err := writeCgroupKill(path); err != nil {
		return err
	}

	start := time.Now()
	deadline := start.Add(timeout)
	buf := make([]byte, 16*unix.SizeofInotifyEvent)
	for {
		populated, err := isCgroupPopulated(path)
		if err != nil {
			return err
		}
		if !populated {
			slog.Debug("cgroup killed", "path", path, "took", time.Since(start))
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("cgroup %s still has processes after %s", path, timeout)
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, int(remaining.Milliseconds())+1); err != nil && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("poll: %w", err)
		}
		// only the populated flag matters, not the events themselves
		for {
			if _, err := unix.Read(fd, buf); err != nil {
				break
			}
		}
	}
}

// isCgroupPopulated reads the populated key of cgroup.events, which is 1
// while the cgroup or any of its descendants has live processes.
func isCgroupPopulated(path string) (bool, error) {
	contents, err := os.ReadFile(filepath.Join(path, "cgroup.events"))
	if err != nil {
		return false, err
	}
	for line := range strings.Lines(string(contents)) {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "populated "); ok {
			return v == "1", nil
		}
	}
	return false, nil
}

// lookupDeviceId returns the major:minor id io.max expects for a device. Ids
// given in that form already are returned as is.
func lookupDeviceId(device string) (string, error) {
	if !strings.HasPrefix(device, "/") {
		major, minor, ok := strings.Cut(device, ":")
		if !ok || !isDigits(major) || !isDigits(minor) {
			return "", fmt.Errorf("expecting a device path or 'major:minor' id, got %q", device)
		}
		return device, nil
	}
	var st unix.Stat_t
	if err := unix.Stat(device, &st); err != nil {
		return "", &os.PathError{Op: "stat", Path: device, Err: err}
	}
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return "", fmt.Errorf("%s is not a block device", device)
	}
	rdev := uint64(st.Rdev)
	return fmt.Sprintf("%d:%d", unix.Major(rdev), unix.Minor(rdev)), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
