package logger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

var (
	cwMu        sync.RWMutex
	cwClient    *cloudwatch.Client
	cwNamespace = "PayeerFlow"
	cwDashboard = "PayeerFlow"
)

// InitCloudWatch creates the CloudWatch client. An empty region falls back
// to AWS_REGION. On failure publishing stays disabled and a warning is logged.
func InitCloudWatch(ctx context.Context, region, namespace, dashboard string) {
	log := GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	cwMu.Lock()
	cwClient = cloudwatch.NewFromConfig(cfg)
	if namespace != "" {
		cwNamespace = namespace
	}
	if dashboard != "" {
		cwDashboard = dashboard
	}
	cwMu.Unlock()

	log.WithFields(Fields{"region": region, "namespace": namespace}).Info("initialized CloudWatch client")
	CreateDefaultDashboard(ctx)
}

// CloudWatchEnabled reports whether InitCloudWatch produced a client.
func CloudWatchEnabled() bool {
	cwMu.RLock()
	defer cwMu.RUnlock()
	return cwClient != nil
}

// PublishMetrics sends data to CloudWatch. It is a no-op until
// InitCloudWatch succeeds.
func PublishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	publishMetrics(ctx, data)
}

func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	cwMu.RLock()
	client, namespace := cwClient, cwNamespace
	cwMu.RUnlock()

	log := GetLogger().WithComponent("cloudwatch")
	if client == nil || len(data) == 0 {
		return
	}
	if _, err := client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(namespace),
		MetricData: data,
	}); err != nil {
		log.WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, d := range data {
		if d.MetricName != nil {
			names = append(names, *d.MetricName)
		}
	}
	log.WithField("metrics", strings.Join(names, ",")).Debug("published metrics to CloudWatch")
}

// CreateDefaultDashboard puts a dashboard with the host and loop metrics.
func CreateDefaultDashboard(ctx context.Context) {
	cwMu.RLock()
	client, namespace, dashboard := cwClient, cwNamespace, cwDashboard
	cwMu.RUnlock()
	if client == nil {
		return
	}

	body := fmt.Sprintf(`{
"widgets": [{
"type": "metric",
"width": 12,
"height": 6,
"properties": {
"metrics": [["%[1]s","CPUPercent"],["%[1]s","MemoryMB"],["%[1]s","DiskMB"]],
"period": 60,
"stat": "Average",
"title": "PayeerFlow System"
}
},{
"type": "metric",
"width": 12,
"height": 6,
"properties": {
"metrics": [["%[1]s","SnapshotReads"],["%[1]s","UserPolls"],["%[1]s","ErrorsMarket"],["%[1]s","ErrorsUser"]],
"period": 60,
"stat": "Maximum",
"title": "PayeerFlow Loops"
}
}]
}`, namespace)

	if _, err := client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(dashboard),
		DashboardBody: aws.String(body),
	}); err != nil {
		GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}
