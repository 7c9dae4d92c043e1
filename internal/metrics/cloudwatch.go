package metrics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"payeerflow/logger"
)

var (
	// cloudWatchPublishInterval caps how often one metric series is sent.
	cloudWatchPublishInterval = 10 * time.Second

	timeNow            = time.Now
	publishMetricsFunc = logger.PublishMetrics

	publishTimesMu sync.Mutex
	publishTimes   = map[string]time.Time{}
)

// EmitMetric logs the metric, hands it to registered handlers and, when the
// CloudWatch feature is on, publishes numeric values.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	if f, gated := featureForMetric(metric); gated && !IsFeatureEnabled(f) {
		return
	}
	event, ok := recordMetric(log, component, metric, value, metricType, fields)
	if !ok || !IsFeatureEnabled(FeatureCloudWatch) {
		return
	}
	v, ok := toFloat64(event.Value)
	if !ok {
		return
	}
	publishMetricDatum(event, v)
}

func publishMetricDatum(m Metric, value float64) {
	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	for k, v := range m.Fields {
		if k == "unit" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}
	if !shouldPublish(seriesKey(m.Name, dims)) {
		return
	}

	unit := cwtypes.StandardUnitCount
	if raw, ok := m.Fields["unit"].(string); ok {
		unit = metricUnitFromString(raw)
	}
	publishMetricsFunc(context.Background(), []cwtypes.MetricDatum{{
		MetricName: aws.String(m.Name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
		Timestamp:  aws.Time(m.Timestamp),
	}})
}

func seriesKey(name string, dims []cwtypes.Dimension) string {
	var b strings.Builder
	b.WriteString(name)
	for _, d := range dims {
		b.WriteByte('|')
		b.WriteString(aws.ToString(d.Name))
		b.WriteByte('=')
		b.WriteString(aws.ToString(d.Value))
	}
	return b.String()
}

func shouldPublish(key string) bool {
	now := timeNow()
	publishTimesMu.Lock()
	defer publishTimesMu.Unlock()
	if last, ok := publishTimes[key]; ok && now.Sub(last) < cloudWatchPublishInterval {
		return false
	}
	publishTimes[key] = now
	return true
}

func resetMetricPublishTimes() {
	publishTimesMu.Lock()
	publishTimes = map[string]time.Time{}
	publishTimesMu.Unlock()
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func metricUnitFromString(unit string) cwtypes.StandardUnit {
	switch strings.ToLower(unit) {
	case "percent":
		return cwtypes.StandardUnitPercent
	case "seconds":
		return cwtypes.StandardUnitSeconds
	case "milliseconds":
		return cwtypes.StandardUnitMilliseconds
	case "bytes":
		return cwtypes.StandardUnitBytes
	default:
		return cwtypes.StandardUnitCount
	}
}
