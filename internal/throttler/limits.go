package throttler

import (
	"payeerflow/config"
	"payeerflow/internal/payeer"
)

// MergeLimits applies configured overrides on top of base. An override with
// a known id replaces that pool's limit and interval, and its linked ids when
// given. Unknown ids are appended as new pools.
func MergeLimits(base []payeer.RateLimit, overrides []config.RateLimitConfig) []payeer.RateLimit {
	out := make([]payeer.RateLimit, len(base))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, l := range out {
		index[l.ID] = i
	}

	for _, o := range overrides {
		limit := payeer.RateLimit{ID: o.ID, Limit: o.Limit, Interval: o.Interval, LinkedIDs: o.Linked}
		i, ok := index[o.ID]
		if !ok {
			index[o.ID] = len(out)
			out = append(out, limit)
			continue
		}
		if limit.LinkedIDs == nil {
			limit.LinkedIDs = out[i].LinkedIDs
		}
		out[i] = limit
	}
	return out
}
