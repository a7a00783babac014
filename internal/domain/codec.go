package domain

import (
	"encoding/json"
	"fmt"
)

// Filter narrows a search over task records. Numeric fields set to -1 are
// ignored.
type Filter struct {
	Bundle string `json:"bundle"`
	Before int64  `json:"before"`
	After  int64  `json:"after"`
	State  State  `json:"state"`
	Action Action `json:"action"`
	Mode   Mode   `json:"mode"`
}

// NewFilter returns a filter that matches every task
func NewFilter() Filter {
	return Filter{Before: -1, After: -1, State: -1, Action: -1, Mode: -1}
}

// UnmarshalJSON keeps the -1 sentinel for fields absent from the document
func (f *Filter) UnmarshalJSON(data []byte) error {
	type plain Filter
	p := plain(NewFilter())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*f = Filter(p)
	return nil
}

// HasState reports whether the filter narrows by lifecycle state
func (f Filter) HasState() bool {
	return f.State.IsFilterable()
}

// HasAction reports whether the filter narrows by action
func (f Filter) HasAction() bool {
	return f.Action == ActionDownload || f.Action == ActionUpload
}

// HasMode reports whether the filter narrows by mode
func (f Filter) HasMode() bool {
	return f.Mode == ModeBackground || f.Mode == ModeForeground
}

// DecodeTaskConfig parses the JSON form of a TaskConfig
func DecodeTaskConfig(s string) (*TaskConfig, error) {
	var config TaskConfig
	if err := json.Unmarshal([]byte(s), &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTaskConfig, err)
	}
	return &config, nil
}

// EncodeTaskConfig renders a TaskConfig as JSON
func EncodeTaskConfig(config *TaskConfig) (string, error) {
	data, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to encode task config: %w", err)
	}
	return string(data), nil
}

// DecodeTask parses the TaskInfo JSON form of a task record
func DecodeTask(s string) (*Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(s), &task); err != nil {
		return nil, fmt.Errorf("failed to decode task info: %w", err)
	}
	return &task, nil
}

// EncodeTask renders a task record as TaskInfo JSON
func EncodeTask(task *Task) (string, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to encode task info: %w", err)
	}
	return string(data), nil
}

// DecodeFilter parses the JSON form of a Filter
func DecodeFilter(s string) (Filter, error) {
	f := NewFilter()
	if s == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return f, fmt.Errorf("failed to decode filter: %w", err)
	}
	return f, nil
}
