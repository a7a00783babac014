package logger

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"time"
)

// LogEntry is one parsed line of a category file
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Category  string                 `json:"category"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogReader reads back the category files written by MultiLogger
type LogReader struct {
	logsDir string
}

// NewLogReader creates a new log reader
func NewLogReader(logsDir string) *LogReader {
	return &LogReader{logsDir: logsDir}
}

// ReadEntries returns the last limit entries of a category on date that
// satisfy match. A nil match accepts every entry; limit <= 0 means all.
func (lr *LogReader) ReadEntries(category LogCategory, date time.Time, limit int, match func(LogEntry) bool) ([]LogEntry, error) {
	file, err := os.Open(CategoryLogPath(lr.logsDir, category, date.Format(dateLayout)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []LogEntry{}, nil
		}
		return nil, err
	}
	defer file.Close()

	entries := []LogEntry{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		entry := parseEntry(category, line)
		if match != nil && !match(entry) {
			continue
		}

		entries = append(entries, entry)
		if limit > 0 && len(entries) > limit {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// TaskHistory returns the lifecycle events logged for one task on date
func (lr *LogReader) TaskHistory(taskID int64, date time.Time, limit int) ([]LogEntry, error) {
	return lr.ReadEntries(CategoryTask, date, limit, func(e LogEntry) bool {
		tid, ok := e.Fields["tid"].(float64)
		return ok && int64(tid) == taskID
	})
}

func parseEntry(category LogCategory, line []byte) LogEntry {
	var raw map[string]interface{}
	if err := json.Unmarshal(line, &raw); err != nil {
		return LogEntry{Level: "info", Message: string(line), Category: string(category)}
	}

	entry := LogEntry{Category: string(category), Fields: map[string]interface{}{}}
	for k, v := range raw {
		s, _ := v.(string)
		switch k {
		case "ts":
			entry.Timestamp = s
		case "level":
			entry.Level = s
		case "msg":
			entry.Message = s
		default:
			entry.Fields[k] = v
		}
	}
	return entry
}
