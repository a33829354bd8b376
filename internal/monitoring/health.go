package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-bitnet/internal/logger"
	"github.com/23skdu/longbow-bitnet/internal/metrics"
)

const (
	StatusHealthy  = "healthy"
	StatusStarting = "starting"
	StatusDegraded = "degraded"
)

// HealthStatus represents the health status of the process
type HealthStatus struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Version     string          `json:"version"`
	Uptime      string          `json:"uptime"`
	System      SystemInfo      `json:"system"`
	Model       ModelInfo       `json:"model"`
	Performance PerformanceInfo `json:"performance"`
	Alerts      []Alert         `json:"alerts"`
}

// SystemInfo contains system-level information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// ModelInfo describes the shared model handle
type ModelInfo struct {
	Loaded        bool   `json:"loaded"`
	ModelPath     string `json:"model_path"`
	ModelSize     int64  `json:"model_size,omitempty"`
	Architecture  string `json:"architecture,omitempty"`
	ContextLength uint64 `json:"context_length,omitempty"`
	Cores         []int  `json:"cores"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"last_error,omitempty"`
}

// PerformanceInfo summarizes recent generation calls
type PerformanceInfo struct {
	Requests      int       `json:"requests"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	P95LatencyMs  float64   `json:"p95_latency_ms"`
	ErrorRate     float64   `json:"error_rate"`
	LastInference time.Time `json:"last_inference"`
}

// Alert represents a system alert
type Alert struct {
	Level     string    `json:"level"`     // info, warning, error
	Component string    `json:"component"` // model, affinity, journal
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Source reports the current model state.
type Source interface {
	ModelInfo() ModelInfo
}

// PerfPoint is one generation call
type PerfPoint struct {
	Timestamp time.Time
	Result    string
	Duration  time.Duration
}

const (
	maxPerfPoints = 1000
	maxAlerts     = 100
)

// Version is reported on /status.
var Version = "dev"

// HealthMonitor serves /healthz, /status and /metrics
type HealthMonitor struct {
	startTime     time.Time
	server        *http.Server
	mu            sync.RWMutex
	source        Source
	alerts        []Alert
	lastInference time.Time
	perfHistory   []PerfPoint
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		startTime:   time.Now(),
		alerts:      make([]Alert, 0),
		perfHistory: make([]PerfPoint, 0),
	}
}

func (hm *HealthMonitor) SetSource(s Source) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.source = s
}

// Handler returns the mux, for embedding or httptest.
func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth) // Kubernetes compatibility
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", hm.handleDetailedStatus)
	return mux
}

// Start blocks serving on addr until Stop.
func (hm *HealthMonitor) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status server listen %s: %w", addr, err)
	}
	return hm.Serve(ln)
}

func (hm *HealthMonitor) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:      hm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	hm.mu.Lock()
	hm.server = srv
	hm.mu.Unlock()

	logger.Log.Info("status server starting", "addr", ln.Addr().String())
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (hm *HealthMonitor) Stop(ctx context.Context) error {
	hm.mu.RLock()
	srv := hm.server
	hm.mu.RUnlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// RecordGeneration keeps a bounded history of call outcomes.
func (hm *HealthMonitor) RecordGeneration(result string, d time.Duration) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	now := time.Now()
	hm.lastInference = now
	hm.perfHistory = append(hm.perfHistory, PerfPoint{Timestamp: now, Result: result, Duration: d})
	if len(hm.perfHistory) > maxPerfPoints {
		hm.perfHistory = hm.perfHistory[1:]
	}
	if result == metrics.ResultUnavailable {
		hm.addAlertLocked("error", "model", "model construction failed")
	}
}

func (hm *HealthMonitor) AddAlert(level, component, message string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.addAlertLocked(level, component, message)
}

func (hm *HealthMonitor) addAlertLocked(level, component, message string) {
	hm.alerts = append(hm.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(hm.alerts) > maxAlerts {
		hm.alerts = hm.alerts[1:]
	}
	logger.Log.Warn("alert", "level", level, "component", component, "message", message)
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := hm.getHealthStatus()

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusDegraded {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleDetailedStatus(w http.ResponseWriter, _ *http.Request) {
	status := hm.getHealthStatus()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (hm *HealthMonitor) getHealthStatus() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	var mi ModelInfo
	if hm.source != nil {
		mi = hm.source.ModelInfo()
	}

	// A loaded model is healthy for good; the handle is never torn down.
	status := StatusStarting
	switch {
	case mi.Loaded:
		status = StatusHealthy
	case mi.LastError != "":
		status = StatusDegraded
	}

	return HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		Version:     Version,
		Uptime:      time.Since(hm.startTime).Round(time.Second).String(),
		System:      getSystemInfo(),
		Model:       mi,
		Performance: hm.calculatePerformanceInfo(),
		Alerts:      append([]Alert(nil), hm.alerts...),
	}
}

func getSystemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
		MemoryMB:     int(m.Sys / 1024 / 1024),
		MemoryUsedMB: int(m.Alloc / 1024 / 1024),
	}
}

func (hm *HealthMonitor) calculatePerformanceInfo() PerformanceInfo {
	info := PerformanceInfo{
		Requests:      len(hm.perfHistory),
		LastInference: hm.lastInference,
	}
	if len(hm.perfHistory) == 0 {
		return info
	}

	var total time.Duration
	errorCount := 0
	latencies := make([]float64, 0, len(hm.perfHistory))
	for _, p := range hm.perfHistory {
		total += p.Duration
		latencies = append(latencies, float64(p.Duration.Nanoseconds())/1e6)
		if p.Result != metrics.ResultOK {
			errorCount++
		}
	}
	sort.Float64s(latencies)

	p95 := int(float64(len(latencies)) * 0.95)
	if p95 >= len(latencies) {
		p95 = len(latencies) - 1
	}

	info.AvgLatencyMs = float64(total.Nanoseconds()) / float64(len(hm.perfHistory)) / 1e6
	info.P95LatencyMs = latencies[p95]
	info.ErrorRate = float64(errorCount) / float64(len(hm.perfHistory))
	return info
}
