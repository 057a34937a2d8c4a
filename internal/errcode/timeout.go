// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package errcode

// Timeout kinds reported in TimeoutDetail.TimeoutType.
const (
	TimeoutHTTP    = "http"
	TimeoutCommand = "command_poll"
	TimeoutQueue   = "queue_poll"
	TimeoutProcess = "process"
)

// TimeoutDetail is the fixed detail shape attached to every timeout.
// Endpoint holds path and query only, already redacted.
type TimeoutDetail struct {
	ErrorCode      string  `json:"errorCode"`
	TimeoutType    string  `json:"timeoutType"`
	TimeoutSeconds float64 `json:"timeoutSeconds"`
	Endpoint       string  `json:"endpoint"`
	Operation      string  `json:"operation"`
	Phase          string  `json:"phase"`
}

// Map returns the detail as a details-map value.
func (d TimeoutDetail) Map() map[string]any {
	return map[string]any{
		"errorCode":      d.ErrorCode,
		"timeoutType":    d.TimeoutType,
		"timeoutSeconds": d.TimeoutSeconds,
		"endpoint":       d.Endpoint,
		"operation":      d.Operation,
		"phase":          d.Phase,
	}
}
