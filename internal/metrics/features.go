package metrics

import (
	"sync"

	"payeerflow/config"
)

// Feature names an optional metric family.
type Feature string

const (
	FeatureQueueSize  Feature = "queue_size"
	FeatureCloudWatch Feature = "cloudwatch"
)

var (
	featuresMu sync.RWMutex
	features   = map[Feature]bool{
		FeatureQueueSize:  true,
		FeatureCloudWatch: false,
	}
)

// Configure toggles optional metric families from the metrics config section.
func Configure(cfg config.MetricsConfig) {
	featuresMu.Lock()
	features[FeatureQueueSize] = cfg.QueueSize
	features[FeatureCloudWatch] = cfg.CloudWatch.Enabled
	featuresMu.Unlock()
}

func IsFeatureEnabled(f Feature) bool {
	featuresMu.RLock()
	defer featuresMu.RUnlock()
	return features[f]
}

// featureForMetric maps a metric name to the feature gating it. Metrics
// without a gate are always emitted.
func featureForMetric(name string) (Feature, bool) {
	switch name {
	case queueLengthMetric:
		return FeatureQueueSize, true
	}
	return "", false
}
