// Package cgroups confines task processes to resource-limited control groups.
package cgroups

import (
	"errors"
	"fmt"
	"syscall"
)

const (
	Version1 = "cgroupsv1"
	Version2 = "cgroupsv2"

	// defined at https://github.com/torvalds/linux/blob/master/include/uapi/linux/magic.h#L69-L70
	Version1Magic = 0x27e0eb
	Version2Magic = 0x63677270
)

var ErrUnsupportedVersion = errors.New("resource limits require cgroup v2")

// Limits are the resource limits applied to each run of a category. Zero
// values leave the corresponding resource unlimited.
type Limits struct {
	// CPU time, in thousandths of a core.
	MilliCPU int64 `yaml:"milliCpu,omitempty"`
	// Memory usage above which the processes are throttled, in bytes.
	MemoryHigh int64 `yaml:"memoryHigh,omitempty"`
	// Memory usage above which the processes are OOM-killed, in bytes.
	MemoryMax int64          `yaml:"memoryMax,omitempty"`
	IO        []DeviceLimits `yaml:"io,omitempty"`
}

type DeviceLimits struct {
	// Path to a block device, such as /dev/sda.
	Device    string `yaml:"device"`
	ReadBps   int64  `yaml:"readBps,omitempty"`
	WriteBps  int64  `yaml:"writeBps,omitempty"`
	ReadIops  int64  `yaml:"readIops,omitempty"`
	WriteIops int64  `yaml:"writeIops,omitempty"`
}

func (l Limits) IsZero() bool {
	return l.MilliCPU == 0 && l.MemoryHigh == 0 && l.MemoryMax == 0 && len(l.IO) == 0
}

func (l Limits) Validate() error {
	if l.MilliCPU < 0 || l.MemoryHigh < 0 || l.MemoryMax < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if l.MemoryHigh > 0 && l.MemoryMax > 0 && l.MemoryHigh > l.MemoryMax {
		return fmt.Errorf("memoryHigh (%d) exceeds memoryMax (%d)", l.MemoryHigh, l.MemoryMax)
	}
	for _, d := range l.IO {
		if d.Device == "" {
			return fmt.Errorf("io limits require a device")
		}
		if d.ReadBps < 0 || d.WriteBps < 0 || d.ReadIops < 0 || d.WriteIops < 0 {
			return fmt.Errorf("io limits for %s must not be negative", d.Device)
		}
	}
	return nil
}

// DetectVersion reports which cgroup hierarchy is mounted at /sys/fs/cgroup.
func DetectVersion() (string, error) {
	for {
		var stat syscall.Statfs_t
		err := syscall.Statfs("/sys/fs/cgroup", &stat)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return "", fmt.Errorf("failed to statfs /sys/fs/cgroup: %w", err)
		}
		switch stat.Type {
		case Version1Magic:
			return Version1, nil
		case Version2Magic:
			return Version2, nil
		default:
			return "", fmt.Errorf("unknown filesystem type at /sys/fs/cgroup: %x", stat.Type)
		}
	}
}

// RequireVersion2 returns ErrUnsupportedVersion unless the cgroup v2
// hierarchy is mounted.
func RequireVersion2() error {
	v, err := DetectVersion()
	if err != nil {
		return err
	}
	if v != Version2 {
		return fmt.Errorf("%w (found %s)", ErrUnsupportedVersion, v)
	}
	return nil
}
