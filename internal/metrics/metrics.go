package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bitnet"

var (
	ModelInitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_init_total",
		Help:      "Model construction attempts by result",
	}, []string{"result"})

	ModelInitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "model_init_duration_seconds",
		Help:      "Time spent constructing the model handle",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
	})

	ModelLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_loaded",
		Help:      "1 once the process-wide model handle is initialized",
	})

	AffinityPinTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "affinity_pin_total",
		Help:      "CPU affinity hints applied by result",
	}, []string{"result"})

	GenerateRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generate_requests_total",
		Help:      "Boundary generate calls by result",
	}, []string{"result"})

	GenerateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "generate_duration_seconds",
		Help:      "Latency of boundary generate calls",
		Buckets:   prometheus.DefBuckets,
	})

	PromptBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "prompt_bytes",
		Help:      "Size of prompts crossing the boundary",
		Buckets:   []float64{0, 16, 64, 256, 1024, 4096, 16384, 65536},
	})

	JournalRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_records_total",
		Help:      "Generation journal records by result",
	}, []string{"result"})
)

// Result labels.
const (
	ResultOK              = "ok"
	ResultError           = "error"
	ResultInvalidEncoding = "invalid_encoding"
	ResultUnavailable     = "unavailable"
	ResultUnsupported     = "unsupported"
)

func RecordModelInit(err error, duration time.Duration) {
	ModelInitDuration.Observe(duration.Seconds())
	if err != nil {
		ModelInitTotal.WithLabelValues(ResultError).Inc()
		return
	}
	ModelInitTotal.WithLabelValues(ResultOK).Inc()
	ModelLoaded.Set(1)
}

func RecordAffinity(result string) {
	AffinityPinTotal.WithLabelValues(result).Inc()
}

func RecordGenerate(result string, promptBytes int, duration time.Duration) {
	GenerateRequestsTotal.WithLabelValues(result).Inc()
	GenerateDuration.Observe(duration.Seconds())
	PromptBytes.Observe(float64(promptBytes))
}

func RecordJournal(result string, n int) {
	JournalRecordsTotal.WithLabelValues(result).Add(float64(n))
}
