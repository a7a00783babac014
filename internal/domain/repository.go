package domain

// TaskRepository defines the interface for task record persistence
type TaskRepository interface {
	// Insert stores a new task built from config and returns its id
	Insert(config *TaskConfig) (int64, error)

	// QueryConfig returns the creation-time config of a task
	QueryConfig(taskID int64) (*TaskConfig, error)

	// Query returns the task record
	Query(taskID int64) (*Task, error)

	// QueryByToken returns the task record when both id and token match
	QueryByToken(taskID int64, token string) (*Task, error)

	// QueryAll returns every task record
	QueryAll() ([]*Task, error)

	// QueryByFilter returns the ids of the tasks that match filter
	QueryByFilter(filter Filter) ([]int64, error)

	// Update overwrites the mutable fields of a task. The stored token is
	// kept unless persistToken is set.
	Update(task *Task, persistToken bool) error

	// Delete removes a task record
	Delete(taskID int64) error
}
