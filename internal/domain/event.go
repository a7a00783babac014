package domain

// EventType names a lifecycle callback delivered to the caller
type EventType string

const (
	EventProgress  EventType = "progress"
	EventResponse  EventType = "response"
	EventCompleted EventType = "completed"
	EventPause     EventType = "pause"
	EventResume    EventType = "resume"
	EventRemove    EventType = "remove"
	EventFailed    EventType = "failed"
)

// CallbackSink receives lifecycle events. info is the TaskInfo JSON of the
// task at the time of the event.
type CallbackSink interface {
	OnRequestCallback(taskID int64, event EventType, info string)
}

// CallbackFunc adapts a function to CallbackSink
type CallbackFunc func(taskID int64, event EventType, info string)

func (f CallbackFunc) OnRequestCallback(taskID int64, event EventType, info string) {
	f(taskID, event, info)
}
