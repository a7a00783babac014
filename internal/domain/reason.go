package domain

// ReasonCode is the numeric form of a Reason
type ReasonCode int

// Reason explains why a task is paused, stopped or failed. The zero value is
// ReasonOK.
type Reason ReasonCode

const (
	ReasonOK Reason = iota
	ReasonTaskSurvivalOneMonth
	ReasonWaitingNetworkOneDay
	ReasonStoppedNewFrontTask
	ReasonRunningTaskMeetLimits
	ReasonUserOperation
	ReasonAppBackgroundOrTerminate
	ReasonNetworkOffline
	ReasonUnsupportedNetworkType
	ReasonBuildClientFailed
	ReasonBuildRequestFailed
	ReasonGetFilesizeFailed
	ReasonContinuousTaskTimeout
	ReasonConnectError
	ReasonRequestError
	ReasonUploadFileError
	ReasonRedirectError
	ReasonProtocolError
	ReasonIOError
	ReasonUnsupportRangeRequest
	ReasonOthersError
)

// The wire names keep the historical spelling (WAITTING) clients match on.
var reasonNames = [...]string{
	ReasonOK:                       "REASON_OK",
	ReasonTaskSurvivalOneMonth:     "TASK_SURVIVAL_ONE_MONTH",
	ReasonWaitingNetworkOneDay:     "WAITTING_NETWORK_ONE_DAY",
	ReasonStoppedNewFrontTask:      "STOPPED_NEW_FRONT_TASK",
	ReasonRunningTaskMeetLimits:    "RUNNING_TASK_MEET_LIMITS",
	ReasonUserOperation:            "USER_OPERATION",
	ReasonAppBackgroundOrTerminate: "APP_BACKGROUND_OR_TERMINATE",
	ReasonNetworkOffline:           "NETWORK_OFFLINE",
	ReasonUnsupportedNetworkType:   "UNSUPPORTED_NETWORK_TYPE",
	ReasonBuildClientFailed:        "BUILD_CLIENT_FAILED",
	ReasonBuildRequestFailed:       "BUILD_REQUEST_FAILED",
	ReasonGetFilesizeFailed:        "GET_FILESIZE_FAILED",
	ReasonContinuousTaskTimeout:    "CONTINUOUS_TASK_TIMEOUT",
	ReasonConnectError:             "CONNECT_ERROR",
	ReasonRequestError:             "REQUEST_ERROR",
	ReasonUploadFileError:          "UPLOAD_FILE_ERROR",
	ReasonRedirectError:            "REDIRECT_ERROR",
	ReasonProtocolError:            "PROTOCOL_ERROR",
	ReasonIOError:                  "IO_ERROR",
	ReasonUnsupportRangeRequest:    "UNSUPPORT_RANGE_REQUEST",
	ReasonOthersError:              "OTHERS_ERROR",
}

// String returns the wire name of the reason
func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return reasonNames[ReasonOthersError]
	}
	return reasonNames[r]
}

// Code returns the numeric code of the reason
func (r Reason) Code() ReasonCode {
	if r < 0 || int(r) >= len(reasonNames) {
		return ReasonCode(ReasonOthersError)
	}
	return ReasonCode(r)
}

// ParseReason resolves a wire name to its reason
func ParseReason(name string) (Reason, bool) {
	for i, n := range reasonNames {
		if n == name {
			return Reason(i), true
		}
	}
	return ReasonOthersError, false
}

// IsTransient reports whether a failure with this reason may succeed when
// the request is issued again
func (r Reason) IsTransient() bool {
	switch r {
	case ReasonRequestError, ReasonProtocolError, ReasonConnectError, ReasonOthersError:
		return true
	}
	return false
}
