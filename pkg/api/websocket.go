package api

// WebSocket message types
const (
	WSMessageTypeJobUpdate = "jobUpdate"
	WSMessageTypeError     = "error"
	WSMessageTypePing      = "ping"
	WSMessageTypePong      = "pong"
)

// WSErrorNotFound is the error code sent for an unknown job before the
// server closes the subscription.
const WSErrorNotFound = "NOT_FOUND"

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSJobUpdateMessage carries the full job snapshot. Observers deduplicate
// redeliveries by comparing updatedAt.
type WSJobUpdateMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Job   JobView `json:"job"`
}

// WSErrorMessage is sent before the server closes a subscription it cannot
// serve, e.g. for an unknown job.
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId,omitempty"`
	Error WSError `json:"error"`
}

type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
