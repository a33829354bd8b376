// Package affinity restricts OS threads to a subset of logical CPUs.
//
// Pinning is a scheduler hint. Callers treat every error from this package
// as a diagnostic, never as a reason to fail the work being pinned.
package affinity

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxCPU bounds core indices to what a single cpu_set_t can describe.
const MaxCPU = 1024

var ErrUnsupported = errors.New("affinity: not supported on this platform")

// PinCurrentThread wires the calling goroutine to its OS thread and restricts
// that thread to cores. The goroutine stays locked on return: unlocking would
// hand a pinned thread back to the scheduler for unrelated goroutines.
func PinCurrentThread(cores []int) error {
	if len(cores) == 0 {
		return errors.New("affinity: empty core set")
	}
	for _, c := range cores {
		if c < 0 || c >= MaxCPU {
			return fmt.Errorf("affinity: core %d out of range [0,%d)", c, MaxCPU)
		}
	}
	return pinPlatform(cores)
}

// Format renders cores in kernel cpulist syntax, e.g. "4-7" or "0,2,4-5".
func Format(cores []int) string {
	if len(cores) == 0 {
		return ""
	}
	sorted := append([]int(nil), cores...)
	sort.Ints(sorted)

	var b strings.Builder
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] <= sorted[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(sorted[i]))
		if sorted[j] != sorted[i] {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(sorted[j]))
		}
		i = j + 1
	}
	return b.String()
}

// ParseList parses cpulist syntax. An empty string yields an empty, non-nil set.
func ParseList(s string) ([]int, error) {
	cores := []int{}
	s = strings.TrimSpace(s)
	if s == "" {
		return cores, nil
	}
	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("affinity: bad core %q", part)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("affinity: bad range %q", part)
			}
		}
		if first < 0 || last < first || last >= MaxCPU {
			return nil, fmt.Errorf("affinity: bad range %q", part)
		}
		for c := first; c <= last; c++ {
			if !seen[c] {
				seen[c] = true
				cores = append(cores, c)
			}
		}
	}
	sort.Ints(cores)
	return cores, nil
}
