package timesync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource struct {
	at    time.Time
	err   error
	calls atomic.Int32
}

func (f *fixedSource) ServerTime(context.Context) (time.Time, error) {
	f.calls.Add(1)
	return f.at, f.err
}

func TestSyncComputesOffset(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_000, 0))
	src := &fixedSource{at: time.Unix(1_002, 500_000_000)}

	s := New(src, time.Minute, WithClock(mock))
	require.NoError(t, s.Sync(context.Background()))

	assert.Equal(t, 2500*time.Millisecond, s.Offset())
	assert.Equal(t, time.Unix(1_002, 500_000_000), s.Now())

	mock.Add(time.Second)
	assert.Equal(t, time.Unix(1_003, 500_000_000), s.Now())
	assert.Equal(t, time.Unix(1_000, 0), s.LastSync())
}

func TestSyncErrorKeepsOffset(t *testing.T) {
	mock := clock.NewMock()
	src := &fixedSource{at: mock.Now().Add(time.Second)}
	s := New(src, time.Minute, WithClock(mock))
	require.NoError(t, s.Sync(context.Background()))

	src.err = errors.New("unreachable")
	require.Error(t, s.Sync(context.Background()))
	assert.Equal(t, time.Second, s.Offset())
}

func TestStartRunsInitialSync(t *testing.T) {
	src := &fixedSource{at: time.Now().Add(-3 * time.Second)}
	s := New(src, time.Hour)

	require.NoError(t, s.Start(context.Background()))
	defer func() { require.NoError(t, s.Stop()) }()

	assert.GreaterOrEqual(t, src.calls.Load(), int32(1))
	assert.InDelta(t, (-3 * time.Second).Seconds(), s.Offset().Seconds(), 0.5)
}

func TestStartRejectsNonPositiveInterval(t *testing.T) {
	s := New(&fixedSource{}, 0)
	require.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}
