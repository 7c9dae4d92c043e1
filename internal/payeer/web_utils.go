package payeer

import (
	"time"

	"payeerflow/models"
)

func PublicRestURL(path string) string {
	return PublicRestBase + path
}

func PrivateRestURL(path string) string {
	return PrivateRestBase + path
}

// RequestSourceHeaders identifies this client to the exchange.
func RequestSourceHeaders() map[string]string {
	return map[string]string{"request-source": "payeerflow"}
}

// MsTimestamp returns t in milliseconds since the epoch.
func MsTimestamp(t time.Time) int64 {
	return t.UnixMilli()
}

// IsPairInformationValid reports whether a pair listed by the info endpoint
// is open for trading.
func IsPairInformationValid(info models.PairInfo) bool {
	return info.StatusCode == "Normal"
}
