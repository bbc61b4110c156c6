package domain

import "errors"

var (
	// ErrInvalidTransition — запрещённый переход статуса задачи.
	ErrInvalidTransition = errors.New("invalid task state transition")

	// ErrUnknownTask — задача с таким именем отсутствует в run.
	ErrUnknownTask = errors.New("unknown task")
)
