package types

// RequestType tags provider calls in logs and error context
type RequestType string

const (
	RequestTypeGetByID      RequestType = "GetByID"
	RequestTypeListOrSearch RequestType = "ListOrSearch"
	RequestTypeDownload     RequestType = "Download"
	RequestTypeChanges      RequestType = "Changes"
)

// RequestContext carries per-request identity through retries and error classification
type RequestContext struct {
	Profile     string      `json:"profile"`
	DriveID     string      `json:"driveId,omitempty"`
	RequestType RequestType `json:"requestType"`
	TraceID     string      `json:"traceId"`
}
