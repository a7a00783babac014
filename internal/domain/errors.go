package domain

import "errors"

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnsupportedAction = errors.New("unsupported task action")
	ErrInvalidTaskConfig = errors.New("invalid task config")
	ErrTaskNotTerminal   = errors.New("task is not in a terminal state")
	ErrExecutorShutdown  = errors.New("executor is shut down")
	ErrSchedulerShutdown = errors.New("scheduler is shut down")
)
