package domain

import "context"

// DownloadStatus is the status reported by the platform download service.
// Values follow the Android DownloadManager constants.
type DownloadStatus int

const (
	DownloadPending    DownloadStatus = 1 << 0
	DownloadRunning    DownloadStatus = 1 << 1
	DownloadPaused     DownloadStatus = 1 << 2
	DownloadSuccessful DownloadStatus = 1 << 3
	DownloadFailed     DownloadStatus = 1 << 4
)

func (s DownloadStatus) String() string {
	switch s {
	case DownloadPending:
		return "pending"
	case DownloadRunning:
		return "running"
	case DownloadPaused:
		return "paused"
	case DownloadSuccessful:
		return "successful"
	case DownloadFailed:
		return "failed"
	}
	return "unknown"
}

// Pause codes reported with DownloadPaused
const (
	PausedWaitingToRetry    = 1
	PausedWaitingForNetwork = 2
	PausedQueuedForWifi     = 3
	PausedUnknown           = 4
)

// Error codes reported with DownloadFailed
const (
	ErrorUnknown           = 1000
	ErrorFileError         = 1001
	ErrorUnhandledHTTPCode = 1002
	ErrorHTTPDataError     = 1004
	ErrorTooManyRedirects  = 1005
	ErrorInsufficientSpace = 1006
	ErrorDeviceNotFound    = 1007
	ErrorCannotResume      = 1008
	ErrorFileAlreadyExists = 1009
)

// PausedReason maps a platform pause code to a task reason
func PausedReason(code int) Reason {
	switch code {
	case PausedQueuedForWifi:
		return ReasonUnsupportedNetworkType
	case PausedWaitingForNetwork:
		return ReasonWaitingNetworkOneDay
	case PausedWaitingToRetry:
		return ReasonRequestError
	}
	return ReasonOthersError
}

// FailedReason maps a platform error code to a task reason
func FailedReason(code int) Reason {
	switch code {
	case ErrorCannotResume:
		return ReasonRequestError
	case ErrorDeviceNotFound:
		return ReasonBuildClientFailed
	case ErrorFileAlreadyExists, ErrorFileError:
		return ReasonIOError
	case ErrorHTTPDataError:
		return ReasonProtocolError
	case ErrorInsufficientSpace:
		return ReasonUnsupportRangeRequest
	case ErrorTooManyRedirects:
		return ReasonRedirectError
	case ErrorUnhandledHTTPCode:
		return ReasonConnectError
	}
	return ReasonOthersError
}

// Visibility controls whether the platform shows the transfer to the user
type Visibility int

const (
	VisibilityVisible               Visibility = 0
	VisibilityVisibleNotifyComplete Visibility = 1
	VisibilityHidden                Visibility = 2
)

// DownloadRequest is a request handed to the platform download service
type DownloadRequest struct {
	URL                string
	Title              string
	Description        string
	MimeType           string
	Headers            map[string]string
	Visibility         Visibility
	AllowedOverMetered bool
	AllowedOverRoaming bool
	Destination        string
	Overwrite          bool
}

// DownloadSnapshot is the platform view of an enqueued download
type DownloadSnapshot struct {
	Status     DownloadStatus
	Reason     int
	BytesSoFar int64
	TotalBytes int64
	MimeType   string
	LocalPath  string
}

// DownloadService is the platform service that performs the transfer
type DownloadService interface {
	// Enqueue submits a request and returns its handle
	Enqueue(req *DownloadRequest) (int64, error)

	// Query returns the current snapshot of a download. ok is false once
	// the platform has forgotten the handle.
	Query(handle int64) (snapshot DownloadSnapshot, ok bool, err error)

	// Remove cancels a download and forgets its handle
	Remove(handle int64) error

	// MimeType returns the media type of the downloaded content
	MimeType(handle int64) string
}

// Prober issues the pre-flight request of a download
type Prober interface {
	Probe(ctx context.Context, url string, headers map[string]string) (*Response, error)
}

// Connectivity is the currently active network
type Connectivity int

const (
	ConnectivityNone Connectivity = iota
	ConnectivityWifi
	ConnectivityCellular
)

func (c Connectivity) String() string {
	switch c {
	case ConnectivityWifi:
		return "wifi"
	case ConnectivityCellular:
		return "cellular"
	}
	return "none"
}

// NetworkMonitor reports the active network of the device
type NetworkMonitor interface {
	Current() Connectivity
}
