package session

import "errors"

var (
	// ErrNoTask is returned when an operation needs a current task and none was started.
	ErrNoTask = errors.New("no current task")

	// ErrNoStep is returned by UpdateCurrentStep before any step was added.
	ErrNoStep = errors.New("current task has no steps")

	// ErrTaskFinished is returned when mutating a completed or failed task.
	ErrTaskFinished = errors.New("task already finished")

	// ErrNotInterrupted is returned by ResumeTask when the task is not interrupted.
	ErrNotInterrupted = errors.New("task is not interrupted")
)
