//go:build linux

package oom

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/reu-dev/razel/src/cli/logging"
)

var log = logging.MustGetLogger("oom")

const cgroupRoot = "/sys/fs/cgroup"

// linuxCgroup is a cgroup v2 memory controller group created fresh for
// each razel run, used purely to detect OOM kills against the commands
// it executes -- it does not itself enforce a hard memory limit, since
// the scheduler's own admission control is what bounds concurrent memory
// use (see spec §4.7's scale-up-on-OOM retry).
type linuxCgroup struct {
	dir string
}

// NewCgroup creates a fresh cgroup named name under cgroupRoot/razel/.
func NewCgroup(name string) (Cgroup, error) {
	dir := filepath.Join(cgroupRoot, "razel", name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("oom: creating cgroup %s: %w", dir, err)
	}
	return &linuxCgroup{dir: dir}, nil
}

func (c *linuxCgroup) Attach(pid int) error {
	procs := filepath.Join(c.dir, "cgroup.procs")
	return os.WriteFile(procs, []byte(strconv.Itoa(pid)), 0644)
}

// WasOOMKilled reads memory.events' oom_kill counter; a non-zero value
// means the kernel has killed at least one process in this group for
// memory pressure since it was created.
func (c *linuxCgroup) WasOOMKilled() bool {
	b, err := os.ReadFile(filepath.Join(c.dir, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(b), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			n, _ := strconv.Atoi(fields[1])
			return n > 0
		}
	}
	return false
}

// AvailableMemoryBytes reports total system memory not currently in use;
// it is a system-wide figure, not one specific to this cgroup.
func (c *linuxCgroup) AvailableMemoryBytes() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("oom: reading available memory: %w", err)
	}
	return vm.Available, nil
}

func (c *linuxCgroup) Destroy() error {
	if err := os.Remove(c.dir); err != nil && !os.IsNotExist(err) {
		log.Debug("could not remove cgroup %s (processes may still be attached): %s", c.dir, err)
		return err
	}
	return nil
}
