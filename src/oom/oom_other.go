//go:build !linux

package oom

import "github.com/shirou/gopsutil/v3/mem"

// noopCgroup satisfies Cgroup on platforms with no memory cgroup support:
// it accounts nothing and never reports an OOM kill, so a killed command
// there is simply reported as a plain failure with no scheduler retry.
type noopCgroup struct{}

// NewCgroup returns a Cgroup that does nothing; name is ignored.
func NewCgroup(name string) (Cgroup, error) {
	return noopCgroup{}, nil
}

func (noopCgroup) Attach(pid int) error      { return nil }
func (noopCgroup) WasOOMKilled() bool        { return false }
func (noopCgroup) Destroy() error            { return nil }

func (noopCgroup) AvailableMemoryBytes() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}
