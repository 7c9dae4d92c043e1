package payeer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payeerflow/models"
)

func TestRestURLs(t *testing.T) {
	assert.Equal(t, "https://payeer.com/api/trade/test_path", PublicRestURL("test_path"))
	assert.Equal(t, "https://payeer.com/api/trade/test_path", PrivateRestURL("test_path"))
}

func TestMsTimestamp(t *testing.T) {
	ts := time.Unix(1234567890, 123000000)
	assert.Equal(t, int64(1234567890123), MsTimestamp(ts))
}

func TestIsPairInformationValid(t *testing.T) {
	assert.True(t, IsPairInformationValid(models.PairInfo{StatusCode: "Normal"}))
	assert.False(t, IsPairInformationValid(models.PairInfo{StatusCode: "Disabled"}))
}

func TestRateLimitsLinkToAll(t *testing.T) {
	limits := RateLimits()
	require.NotEmpty(t, limits)

	seen := map[string]RateLimit{}
	for _, l := range limits {
		seen[l.ID] = l
	}
	all, ok := seen[AllEndpointsLimit]
	require.True(t, ok)
	assert.Equal(t, 100, all.Limit)
	assert.Empty(t, all.LinkedIDs)

	for _, id := range []string{OrderPath, OrderCancelPath, OrderStatusPath} {
		assert.Equal(t, 50, seen[id].Limit, id)
	}
	for id, l := range seen {
		if id == AllEndpointsLimit {
			continue
		}
		assert.Equal(t, []string{AllEndpointsLimit}, l.LinkedIDs, id)
		assert.Equal(t, time.Second, l.Interval, id)
	}
}
