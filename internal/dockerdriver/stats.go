package dockerdriver

import (
	"context"
	"encoding/json"
	"io"

	"github.com/docker/docker/api/types"
)

// decodeStatsStream reads Docker's newline-delimited StatsJSON stream and
// emits one domain.Stats per frame until ctx is done or the stream ends.
// EventBus's own change-detection collapses runs of identical samples, so
// this decoder emits every frame Docker sends without deduplicating.
func decodeStatsStream(ctx context.Context, r io.Reader, out chan<- StatSample) {
	dec := json.NewDecoder(r)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var frame types.StatsJSON
		if err := dec.Decode(&frame); err != nil {
			return
		}

		sample := StatSample{
			CPUUsage:    cpuPercent(frame),
			MemoryUsage: frame.MemoryStats.Usage,
			MemoryLimit: frame.MemoryStats.Limit,
		}
		for _, nw := range frame.Networks {
			sample.NetworkRx += nw.RxBytes
			sample.NetworkTx += nw.TxBytes
		}
		for _, entry := range frame.BlkioStats.IoServiceBytesRecursive {
			switch entry.Op {
			case "Read":
				sample.BlockRead += entry.Value
			case "Write":
				sample.BlockWrite += entry.Value
			}
		}

		select {
		case out <- sample:
		case <-ctx.Done():
			return
		}
	}
}

// cpuPercent replicates Docker CLI's own delta-based CPU percentage
// formula against the two samples a StatsJSON frame carries.
func cpuPercent(frame types.StatsJSON) float32 {
	cpuDelta := float64(frame.CPUStats.CPUUsage.TotalUsage) - float64(frame.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(frame.CPUStats.SystemUsage) - float64(frame.PreCPUStats.SystemUsage)
	if systemDelta <= 0 || cpuDelta <= 0 {
		return 0
	}
	onlineCPUs := float64(frame.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(frame.CPUStats.CPUUsage.PercpuUsage))
	}
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}
	return float32((cpuDelta / systemDelta) * onlineCPUs * 100.0)
}
