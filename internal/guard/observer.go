package guard

import (
	"errors"
	"time"

	"github.com/23skdu/longbow-bitnet/internal/affinity"
	"github.com/23skdu/longbow-bitnet/internal/metrics"
)

type metricsObserver struct{}

func (metricsObserver) Constructed(_ string, err error, took time.Duration) {
	metrics.RecordModelInit(err, took)
}

func (metricsObserver) Pinned(_ []int, err error) {
	switch {
	case err == nil:
		metrics.RecordAffinity(metrics.ResultOK)
	case errors.Is(err, affinity.ErrUnsupported):
		metrics.RecordAffinity(metrics.ResultUnsupported)
	default:
		metrics.RecordAffinity(metrics.ResultError)
	}
}
