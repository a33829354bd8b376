//go:build !linux

package affinity

func pinPlatform(cores []int) error {
	return ErrUnsupported
}

// Current is unavailable off Linux.
func Current() ([]int, error) {
	return nil, ErrUnsupported
}
