package domain

import "strings"

// Action is the transfer direction of a task
type Action int

const (
	ActionDownload Action = 0
	ActionUpload   Action = 1
	ActionAny      Action = 2
)

// Mode tells whether the caller watches the task in the foreground
type Mode int

const (
	ModeBackground Mode = 0
	ModeForeground Mode = 1
	ModeAny        Mode = 2
)

// Network restricts which connectivity a task may use
type Network int

const (
	NetworkAny      Network = 0
	NetworkWifi     Network = 1
	NetworkCellular Network = 2
)

// Version is the API level of the caller that created the task
type Version int

const (
	VersionAPI9  Version = 0
	VersionAPI10 Version = 1
)

// Faults classifies the last failure of a task
type Faults int

const (
	FaultsDisconnected Faults = 0x00
	FaultsTimeout      Faults = 0x10
	FaultsProtocol     Faults = 0x20
	FaultsFsio         Faults = 0x40
	FaultsOthers       Faults = 0xFF
)

// FormItem is a name/value form field of an upload
type FormItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FileSpec describes a file attached to a task
type FileSpec struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Fd       int32  `json:"fd"`
}

// TaskConfig holds the creation-time parameters of a task. It is never
// mutated after it has been persisted.
type TaskConfig struct {
	Action        Action            `json:"action"`
	URL           string            `json:"url"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Mode          Mode              `json:"mode"`
	Overwrite     bool              `json:"overwrite"`
	Method        string            `json:"method"`
	Headers       map[string]string `json:"headers"`
	Data          string            `json:"data"`
	Saveas        string            `json:"saveas"`
	Proxy         string            `json:"proxy"`
	Network       Network           `json:"network"`
	Metered       bool              `json:"metered"`
	Roaming       bool              `json:"roaming"`
	Redirect      bool              `json:"redirect"`
	Index         int64             `json:"index"`
	Begins        int64             `json:"begins"`
	Ends          int64             `json:"ends"`
	Gauge         bool              `json:"gauge"`
	Precise       bool              `json:"precise"`
	Token         string            `json:"token"`
	Extras        string            `json:"extras"`
	Priority      int               `json:"priority"`
	Retry         bool              `json:"retry"`
	Background    bool              `json:"background"`
	Forms         []FormItem        `json:"forms"`
	Files         []FileSpec        `json:"files"`
	BodyFds       []int32           `json:"bodyFds"`
	BodyFileNames []string          `json:"bodyFileNames"`
	Version       Version           `json:"version"`
}

// Progress is the mutable transfer progress of a task. It is replaced as a
// whole on every update.
type Progress struct {
	State         State             `json:"state"`
	Index         int64             `json:"index"`
	Processed     int64             `json:"processed"`
	LastProcessed int64             `json:"lastProcessed"`
	Sizes         []int64           `json:"sizes"`
	Extras        map[string]string `json:"extras"`
}

// TaskState is the per-file outcome of a task
type TaskState struct {
	Path         string `json:"path"`
	ResponseCode int    `json:"responseCode"`
	Message      string `json:"message"`
}

// Response is the result of the pre-flight probe. It is not persisted.
type Response struct {
	Version    string              `json:"version"`
	StatusCode int                 `json:"statusCode"`
	Reason     string              `json:"reason"`
	Headers    map[string][]string `json:"headers"`
}

// Task is the persisted record of a task
type Task struct {
	Tid         int64      `json:"tid,string"`
	Bundle      string     `json:"bundle,omitempty"`
	Saveas      string     `json:"saveas"`
	URL         string     `json:"url"`
	Data        string     `json:"data"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Action      Action     `json:"action"`
	Mode        Mode       `json:"mode"`
	MimeType    string     `json:"mimeType"`
	Progress    Progress   `json:"progress"`
	Ctime       int64      `json:"ctime"`
	Mtime       int64      `json:"mtime"`
	Faults      Faults     `json:"faults"`
	Reason      string     `json:"reason"`
	Code        ReasonCode `json:"code"`
	DownloadID  int64      `json:"downloadId"`
	Token       string     `json:"token"`
	TaskStates  TaskState  `json:"taskStates"`
	Version     Version    `json:"version"`
	Files       []FileSpec `json:"files"`
	Forms       []FormItem `json:"forms"`
	Gauge       bool       `json:"gauge"`
	Retry       bool       `json:"retry"`
	Tries       int        `json:"tries"`
	WithSystem  bool       `json:"withSystem"`
	Priority    int        `json:"priority"`
	Extras      string     `json:"extras"`
	Response    *Response  `json:"response,omitempty"`
}

// SetReason sets the reason name and its numeric code together
func (t *Task) SetReason(r Reason) {
	t.Reason = r.String()
	t.Code = r.Code()
}

// State returns the lifecycle state of the task
func (t *Task) State() State {
	return t.Progress.State
}

// IsDownload reports whether the task transfers data to local storage
func (t *Task) IsDownload() bool {
	return t.Action == ActionDownload
}

// Clone returns a deep copy of the task
func (t *Task) Clone() *Task {
	c := *t
	if t.Progress.Sizes != nil {
		c.Progress.Sizes = append(make([]int64, 0, len(t.Progress.Sizes)), t.Progress.Sizes...)
	}
	if t.Progress.Extras != nil {
		c.Progress.Extras = make(map[string]string, len(t.Progress.Extras))
		for k, v := range t.Progress.Extras {
			c.Progress.Extras[k] = v
		}
	}
	if t.Files != nil {
		c.Files = append(make([]FileSpec, 0, len(t.Files)), t.Files...)
	}
	if t.Forms != nil {
		c.Forms = append(make([]FormItem, 0, len(t.Forms)), t.Forms...)
	}
	if t.Response != nil {
		resp := *t.Response
		c.Response = &resp
	}
	return &c
}

// TotalSize returns the sum of the known file sizes, or -1 when any is unknown
func (p Progress) TotalSize() int64 {
	if len(p.Sizes) == 0 {
		return -1
	}
	var total int64
	for _, s := range p.Sizes {
		if s < 0 {
			return -1
		}
		total += s
	}
	return total
}

// SupportsRanges reports whether the server advertised byte-range requests
func (r *Response) SupportsRanges() bool {
	if r == nil {
		return false
	}
	for k, values := range r.Headers {
		if !strings.EqualFold(k, "Accept-Ranges") {
			continue
		}
		for _, v := range values {
			if strings.EqualFold(strings.TrimSpace(v), "bytes") {
				return true
			}
		}
	}
	return false
}
