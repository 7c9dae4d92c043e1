package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "payeerflow/config"
	"payeerflow/internal/metrics"
	"payeerflow/logger"
	"payeerflow/models"
)

const archiveComponent = "s3_writer"

// ObjectPutter is the part of the S3 client the archive uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SnapshotWriter buffers flattened order book snapshots per symbol and
// uploads them to S3 as parquet files. A buffer is flushed when it reaches
// the configured row limit, on every flush interval and on shutdown.
type SnapshotWriter struct {
	writerCfg appconfig.WriterConfig
	bucket    string
	version   string
	client    ObjectPutter
	now       func() time.Time
	log       *logger.Log

	mu      sync.Mutex
	buffer  map[string][]models.SnapshotRow
	pending int
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	batches atomic.Int64
	files   atomic.Int64
	bytes   atomic.Int64
	errors  atomic.Int64
}

// NewSnapshotWriter builds the S3 client from cfg.Storage.S3 and returns a
// writer ready to Start.
func NewSnapshotWriter(ctx context.Context, cfg *appconfig.Config) (*SnapshotWriter, error) {
	log := logger.GetLogger()
	s3cfg := cfg.Storage.S3

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s3cfg.Region),
	}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent(archiveComponent).WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.PathStyle
	})

	log.WithComponent(archiveComponent).WithFields(logger.Fields{
		"bucket":     s3cfg.Bucket,
		"region":     s3cfg.Region,
		"endpoint":   s3cfg.Endpoint,
		"path_style": s3cfg.PathStyle,
	}).Info("s3 writer initialized")

	return newSnapshotWriter(cfg, client), nil
}

func newSnapshotWriter(cfg *appconfig.Config, client ObjectPutter) *SnapshotWriter {
	return &SnapshotWriter{
		writerCfg: cfg.Writer,
		bucket:    cfg.Storage.S3.Bucket,
		version:   cfg.App.Version,
		client:    client,
		now:       time.Now,
		log:       logger.GetLogger(),
		buffer:    make(map[string][]models.SnapshotRow),
	}
}

func bufferKey(exchange, symbol string) string {
	return exchange + "|" + symbol
}

// Add buffers rows. Rows are grouped by exchange and symbol; a group that
// reaches the row limit is uploaded before Add returns.
func (w *SnapshotWriter) Add(ctx context.Context, rows []models.SnapshotRow) {
	if len(rows) == 0 {
		return
	}
	full := make(map[string][]models.SnapshotRow)

	w.mu.Lock()
	for _, row := range rows {
		key := bufferKey(row.Exchange, row.Symbol)
		w.buffer[key] = append(w.buffer[key], row)
		w.pending++
		if limit := w.writerCfg.Buffer.MaxRows; limit > 0 && len(w.buffer[key]) >= limit {
			full[key] = w.buffer[key]
			w.pending -= len(w.buffer[key])
			delete(w.buffer, key)
		}
	}
	w.mu.Unlock()

	for key, entries := range full {
		w.upload(ctx, key, entries)
	}
}

// Start launches the interval flush worker.
func (w *SnapshotWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("s3 writer already running")
	}
	w.running = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	interval := w.writerCfg.Buffer.SnapshotFlushInterval
	if interval <= 0 {
		interval = time.Minute
	}

	w.wg.Add(1)
	go w.flushWorker(ctx, interval)

	w.log.WithComponent(archiveComponent).WithFields(logger.Fields{"flush_interval": interval.String()}).Info("s3 writer started")
	return nil
}

// Stop flushes whatever is buffered and waits for the worker to exit.
func (w *SnapshotWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	metrics.ReportWriter(w.log, archiveComponent, w.Stats())
	w.log.WithComponent(archiveComponent).Info("s3 writer stopped")
}

func (w *SnapshotWriter) flushWorker(ctx context.Context, interval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Flush(ctx, "shutdown")
			return
		case <-ticker.C:
			w.Flush(ctx, "interval")
		}
	}
}

// Flush uploads every buffered group.
func (w *SnapshotWriter) Flush(ctx context.Context, reason string) {
	w.mu.Lock()
	buffers := w.buffer
	w.buffer = make(map[string][]models.SnapshotRow)
	w.pending = 0
	w.mu.Unlock()

	if len(buffers) == 0 {
		return
	}
	w.log.WithComponent(archiveComponent).WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing buffers")

	for key, entries := range buffers {
		w.upload(ctx, key, entries)
	}
	metrics.ReportWriter(w.log, archiveComponent, w.Stats())
}

func (w *SnapshotWriter) upload(ctx context.Context, key string, rows []models.SnapshotRow) {
	parts := strings.SplitN(key, "|", 2)
	exchange, symbol := parts[0], parts[1]
	at := w.now()
	s3Key := w.generateS3Key(exchange, symbol, at)

	log := w.log.WithComponent(archiveComponent).WithFields(logger.Fields{
		"exchange":  exchange,
		"symbol":    symbol,
		"rows":      len(rows),
		"s3_key":    s3Key,
		"operation": "upload",
	})

	data, written, err := encodeRows(rows, w.writerCfg.Formats.Parquet.Compression)
	if err != nil {
		w.errors.Add(1)
		log.WithError(err).Error("failed to create parquet file")
		return
	}
	if written == 0 {
		log.Debug("no valid rows, skipping upload")
		return
	}

	start := time.Now()
	if err := w.uploadToS3(ctx, s3Key, data); err != nil {
		w.errors.Add(1)
		log.WithError(err).WithEnv("S3_BUCKET").WithFields(logger.Fields{"bucket": w.bucket}).Error("failed to upload to S3")
		return
	}

	w.batches.Add(1)
	w.files.Add(1)
	w.bytes.Add(int64(len(data)))
	logger.IncrementArchiveWrite(int64(len(data)))
	logger.LogPerformanceEntry(log, archiveComponent, "upload", time.Since(start), logger.Fields{"file_size": len(data)})
}

// generateS3Key lays out <additional keys>/<time path>/<exchange>_book_<symbol>_<ts>_<id>.parquet.
func (w *SnapshotWriter) generateS3Key(exchange, symbol string, at time.Time) string {
	at = at.UTC()

	var parts []string
	for _, k := range w.writerCfg.Partitioning.AdditionalKeys {
		switch k {
		case "exchange":
			parts = append(parts, "exchange="+exchange)
		case "symbol":
			parts = append(parts, "symbol="+symbol)
		}
	}

	timeFormat := w.writerCfg.Partitioning.TimeFormat
	if timeFormat != "" {
		timePath := strings.ReplaceAll(timeFormat, "{year}", fmt.Sprintf("%04d", at.Year()))
		timePath = strings.ReplaceAll(timePath, "{month}", fmt.Sprintf("%02d", at.Month()))
		timePath = strings.ReplaceAll(timePath, "{day}", fmt.Sprintf("%02d", at.Day()))
		timePath = strings.ReplaceAll(timePath, "{hour}", fmt.Sprintf("%02d", at.Hour()))
		parts = append(parts, timePath)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	filename := fmt.Sprintf("%s_book_%s_%s_%s.parquet", exchange, symbol, at.Format("20060102150405"), id)
	return filepath.ToSlash(filepath.Join(append(parts, filename)...))
}

func (w *SnapshotWriter) uploadToS3(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        w.writerCfg.Formats.Parquet.Compression,
			"payeerflow-version": w.version,
		},
	}
	// Shutdown flushes run after ctx is cancelled.
	if _, err := w.client.PutObject(context.WithoutCancel(ctx), input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.bucket, err)
	}
	return nil
}

// Stats returns the archive counters.
func (w *SnapshotWriter) Stats() metrics.WriterStats {
	w.mu.Lock()
	pending := w.pending
	w.mu.Unlock()
	return metrics.WriterStats{
		BatchesWritten: w.batches.Load(),
		FilesWritten:   w.files.Load(),
		BytesWritten:   w.bytes.Load(),
		ErrorsCount:    w.errors.Load(),
		Pending:        pending,
	}
}
