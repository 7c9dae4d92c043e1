package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type flowStat struct {
	messages int64
	bytes    int64
}

// counters are bucketed by the component name of the log entry: anything
// containing "user" is the user stream, anything containing "order_book" or
// "stream" is market data.
var (
	errorsMarket   int64
	errorsUser     int64
	warnsMarket    int64
	warnsUser      int64
	snapshotReads  int64
	streamMessages int64
	userPolls      int64
	archiveWrites  int64
	flows          sync.Map // map[string]*flowStat
)

func isUserComponent(component string) bool {
	return strings.Contains(component, "user")
}

func isMarketComponent(component string) bool {
	return strings.Contains(component, "order_book") || strings.Contains(component, "stream")
}

func recordWarn(component string) {
	switch {
	case isUserComponent(component):
		atomic.AddInt64(&warnsUser, 1)
	case isMarketComponent(component):
		atomic.AddInt64(&warnsMarket, 1)
	}
}

func recordError(component string) {
	switch {
	case isUserComponent(component):
		atomic.AddInt64(&errorsUser, 1)
	case isMarketComponent(component):
		atomic.AddInt64(&errorsMarket, 1)
	}
}

// IncrementSnapshotRead counts one depth response of size bytes.
func IncrementSnapshotRead(size int) {
	atomic.AddInt64(&snapshotReads, 1)
	RecordFlow("depth_rest", size)
}

// IncrementStreamMessage counts one pushed diff or trade frame.
func IncrementStreamMessage(size int) {
	atomic.AddInt64(&streamMessages, 1)
	RecordFlow("market_ws", size)
}

// IncrementUserPoll counts one order_status or account response.
func IncrementUserPoll(size int) {
	atomic.AddInt64(&userPolls, 1)
	RecordFlow("user_rest", size)
}

// IncrementArchiveWrite counts one object uploaded by the snapshot archive.
func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
	RecordFlow("s3_snapshot_write", int(size))
}

// RecordFlow adds one message of size bytes to the named flow.
func RecordFlow(name string, size int) {
	v, _ := flows.LoadOrStore(name, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.messages, 1)
	atomic.AddInt64(&fs.bytes, int64(size))
}

// StartReport logs host and flow statistics every interval until ctx ends.
// The same figures go to CloudWatch when InitCloudWatch succeeded.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func flowSnapshot() map[string]map[string]int64 {
	out := map[string]map[string]int64{}
	flows.Range(func(k, v any) bool {
		fs := v.(*flowStat)
		out[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&fs.messages),
			"bytes":    atomic.LoadInt64(&fs.bytes),
		}
		return true
	})
	return out
}

func logReport(ctx context.Context, log *Log) {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	var memUsed, diskUsed uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		memUsed = vm.Used
	}
	if du, err := disk.Usage("/"); err == nil {
		diskUsed = du.Used
	}
	var bytesSent, bytesRecv uint64
	if io, err := gnet.IOCounters(false); err == nil && len(io) > 0 {
		bytesSent = io[0].BytesSent
		bytesRecv = io[0].BytesRecv
	}

	counters := map[string]int64{
		"errors_market":   atomic.LoadInt64(&errorsMarket),
		"errors_user":     atomic.LoadInt64(&errorsUser),
		"warns_market":    atomic.LoadInt64(&warnsMarket),
		"warns_user":      atomic.LoadInt64(&warnsUser),
		"snapshot_reads":  atomic.LoadInt64(&snapshotReads),
		"stream_messages": atomic.LoadInt64(&streamMessages),
		"user_polls":      atomic.LoadInt64(&userPolls),
		"archive_writes":  atomic.LoadInt64(&archiveWrites),
	}
	flowData := flowSnapshot()

	fields := Fields{
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memUsed / 1024 / 1024),
		"disk_mb":        int64(diskUsed / 1024 / 1024),
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
		"flows":          flowData,
	}
	for k, v := range counters {
		fields[k] = v
	}
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		datum("CPUPercent", cwtypes.StandardUnitPercent, cpuPct),
		datum("MemoryMB", cwtypes.StandardUnitMegabytes, float64(memUsed)/1024/1024),
		datum("DiskMB", cwtypes.StandardUnitMegabytes, float64(diskUsed)/1024/1024),
		datum("NetBytesSent", cwtypes.StandardUnitBytes, float64(bytesSent)),
		datum("NetBytesRecv", cwtypes.StandardUnitBytes, float64(bytesRecv)),
	}
	for name, v := range counters {
		data = append(data, datum(metricName(name), cwtypes.StandardUnitCount, float64(v)))
	}
	for name, stats := range flowData {
		dims := []cwtypes.Dimension{{Name: aws.String("Flow"), Value: aws.String(name)}}
		msgs := datum("FlowMessages", cwtypes.StandardUnitCount, float64(stats["messages"]))
		msgs.Dimensions = dims
		bytes := datum("FlowBytes", cwtypes.StandardUnitBytes, float64(stats["bytes"]))
		bytes.Dimensions = dims
		data = append(data, msgs, bytes)
	}
	publishMetrics(ctx, data)
}

func datum(name string, unit cwtypes.StandardUnit, v float64) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{MetricName: aws.String(name), Unit: unit, Value: aws.Float64(v)}
}

// metricName turns snapshot_reads into SnapshotReads.
func metricName(field string) string {
	parts := strings.Split(field, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "")
}
