// Package billing supplements original_source's billing/tracker.rs and
// billing/estimator.rs: a periodic sampler exposing container resource
// usage as Prometheus gauges, deliberately narrowed to exposition only
// (no monetary cost curve, which is operator-specific and out of scope
// for the engine itself).
package billing

import (
	"context"
	"time"

	"github.com/melih/lightd/internal/containerstore"
	"github.com/melih/lightd/internal/dockerdriver"
	"github.com/melih/lightd/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	memoryBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lightd_container_memory_usage_bytes",
		Help: "Current memory usage reported by the Docker stats stream.",
	}, []string{"internal_id"})

	cpuCores = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lightd_container_cpu_usage_cores",
		Help: "Current CPU usage, expressed as a fraction of one core, reported by the Docker stats stream.",
	}, []string{"internal_id"})
)

func init() {
	prometheus.MustRegister(memoryBytes, cpuCores)
}

// Sampler polls each running container's stats at a fixed interval and
// updates the exported gauges.
type Sampler struct {
	store    *containerstore.Store
	driver   dockerdriver.Driver
	interval time.Duration
}

func NewSampler(store *containerstore.Store, driver dockerdriver.Driver, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sampler{store: store, driver: driver, interval: interval}
}

// Run polls until ctx is canceled. Meant to be launched as a single
// long-lived goroutine from cmd/lightd.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce(ctx)
		}
	}
}

func (s *Sampler) sampleOnce(ctx context.Context) {
	records, err := s.store.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("billing sampler: failed to list containers")
		return
	}
	for _, rec := range records {
		if rec.RuntimeState != domain.RuntimeRunning || rec.DockerID == "" {
			continue
		}
		running, err := s.driver.IsRunning(ctx, rec.DockerID)
		if err != nil || !running {
			continue
		}
		sampleCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		samples, err := s.driver.AttachStats(sampleCtx, rec.DockerID)
		if err != nil {
			cancel()
			continue
		}
		select {
		case sample, ok := <-samples:
			if ok {
				memoryBytes.WithLabelValues(rec.InternalID).Set(float64(sample.MemoryUsage))
				cpuCores.WithLabelValues(rec.InternalID).Set(float64(sample.CPUUsage) / 100.0)
			}
		case <-sampleCtx.Done():
		}
		cancel()
	}
}
