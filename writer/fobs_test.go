package writer

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "payeerflow/config"
	"payeerflow/models"
)

type fakePutter struct {
	mu      sync.Mutex
	keys    []string
	sizes   []int
	failErr error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	data, _ := io.ReadAll(in.Body)
	f.keys = append(f.keys, aws.ToString(in.Key))
	f.sizes = append(f.sizes, len(data))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakePutter) uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func testConfig(maxRows int) *appconfig.Config {
	cfg := appconfig.Default()
	cfg.Storage.S3.Bucket = "book-archive"
	cfg.Writer.Buffer.MaxRows = maxRows
	cfg.Writer.Partitioning.AdditionalKeys = []string{"exchange", "symbol"}
	cfg.Writer.Formats.Parquet.Compression = "gzip"
	return &cfg
}

func rows(symbol string, n int) []models.SnapshotRow {
	out := make([]models.SnapshotRow, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.SnapshotRow{
			Exchange:  "payeer",
			Symbol:    symbol,
			Timestamp: 1620000000000,
			UpdateID:  1620000000,
			Side:      "bid",
			Price:     50000 - float64(i),
			Quantity:  0.01,
			Level:     int32(i + 1),
		})
	}
	return out
}

func TestGenerateS3Key(t *testing.T) {
	w := newSnapshotWriter(testConfig(0), &fakePutter{})
	at := time.Date(2024, 3, 5, 7, 9, 11, 0, time.UTC)

	key := w.generateS3Key("payeer", "BTC_USDT", at)
	prefix := "exchange=payeer/symbol=BTC_USDT/2024/03/05/07/payeer_book_BTC_USDT_20240305070911_"
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ".parquet") {
		t.Fatalf("unexpected key %q", key)
	}
}

func TestEncodeRowsProducesParquet(t *testing.T) {
	input := rows("BTC_USDT", 3)
	input = append(input, models.SnapshotRow{Exchange: "payeer", Symbol: "BTC_USDT"})

	data, written, err := encodeRows(input, "snappy")
	if err != nil {
		t.Fatalf("encodeRows: %v", err)
	}
	if written != 3 {
		t.Fatalf("expected 3 rows written, got %d", written)
	}
	if len(data) < 8 || string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Fatalf("output is not a parquet file")
	}
}

func TestAddFlushesAtRowLimit(t *testing.T) {
	putter := &fakePutter{}
	w := newSnapshotWriter(testConfig(4), putter)
	ctx := context.Background()

	w.Add(ctx, rows("BTC_USDT", 3))
	if got := len(putter.uploaded()); got != 0 {
		t.Fatalf("expected no upload below the limit, got %d", got)
	}
	if w.Stats().Pending != 3 {
		t.Fatalf("expected 3 pending rows, got %d", w.Stats().Pending)
	}

	w.Add(ctx, rows("BTC_USDT", 1))
	keys := putter.uploaded()
	if len(keys) != 1 || !strings.Contains(keys[0], "symbol=BTC_USDT") {
		t.Fatalf("unexpected uploads %v", keys)
	}
	stats := w.Stats()
	if stats.Pending != 0 || stats.FilesWritten != 1 || stats.BytesWritten == 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestFlushUploadsEachSymbol(t *testing.T) {
	putter := &fakePutter{}
	w := newSnapshotWriter(testConfig(0), putter)
	ctx := context.Background()

	w.Add(ctx, rows("BTC_USDT", 2))
	w.Add(ctx, rows("ETH_USDT", 2))
	w.Flush(ctx, "test")

	if got := len(putter.uploaded()); got != 2 {
		t.Fatalf("expected 2 uploads, got %d", got)
	}
	w.Flush(ctx, "test")
	if got := len(putter.uploaded()); got != 2 {
		t.Fatalf("empty flush should not upload, got %d", got)
	}
}

func TestUploadFailureIsCounted(t *testing.T) {
	putter := &fakePutter{failErr: context.DeadlineExceeded}
	w := newSnapshotWriter(testConfig(0), putter)

	w.Add(context.Background(), rows("BTC_USDT", 2))
	w.Flush(context.Background(), "test")

	if stats := w.Stats(); stats.ErrorsCount != 1 || stats.FilesWritten != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestStopFlushesBuffered(t *testing.T) {
	putter := &fakePutter{}
	cfg := testConfig(0)
	cfg.Writer.Buffer.SnapshotFlushInterval = time.Hour
	w := newSnapshotWriter(cfg, putter)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatalf("expected error starting twice")
	}
	w.Add(context.Background(), rows("BTC_USDT", 2))
	w.Stop()

	if got := len(putter.uploaded()); got != 1 {
		t.Fatalf("expected shutdown flush, got %d uploads", got)
	}
}
