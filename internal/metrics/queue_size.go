package metrics

import (
	"context"
	"time"

	"payeerflow/logger"
)

const queueLengthMetric = "queue_length"

// QueueSource reports the backlog of each named queue.
type QueueSource interface {
	Lengths() map[string]int
}

// StartQueueSizeMetrics samples src every interval until ctx ends. The
// default cadence is one second.
func StartQueueSizeMetrics(ctx context.Context, src QueueSource, interval time.Duration) {
	if !IsFeatureEnabled(FeatureQueueSize) || src == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reportQueueLengths(log, src)
			}
		}
	}()
}

func reportQueueLengths(log *logger.Log, src QueueSource) {
	for name, n := range src.Lengths() {
		SetQueueLength(name, n)
		EmitMetric(log, "queues", queueLengthMetric, n, "gauge", logger.Fields{"queue": name})
	}
}
