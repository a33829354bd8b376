//go:build linux

package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Swapped in tests to observe thread locking.
var (
	lockThread   = runtime.LockOSThread
	unlockThread = runtime.UnlockOSThread
)

func pinPlatform(cores []int) error {
	lockThread()

	var set unix.CPUSet
	set.Zero()
	for _, c := range cores {
		set.Set(c)
	}
	// pid 0 is the calling thread, not the whole process.
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		unlockThread()
		return fmt.Errorf("affinity: sched_setaffinity(%s): %w", Format(cores), err)
	}
	return nil
}

// Current returns the calling thread's allowed cores.
func Current() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("affinity: sched_getaffinity: %w", err)
	}
	var cores []int
	for c := 0; c < MaxCPU; c++ {
		if set.IsSet(c) {
			cores = append(cores, c)
		}
	}
	return cores, nil
}
