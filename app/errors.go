package app

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by capabilities used after Close.
var ErrClosed = errors.New("machine closed")

// Stage names the step of an update that failed.
type Stage string

const (
	StageBefore    Stage = "before"
	StageTransform Stage = "transform"
	StageAfter     Stage = "after"
	StagePersist   Stage = "persist"
	StageRender    Stage = "render"
)

// UpdateError reports which step of Update failed. Changes committed by
// earlier steps are kept.
type UpdateError struct {
	Stage Stage
	Err   error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update %s: %v", e.Stage, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// PersistError reports a failed snapshot write.
type PersistError struct {
	Key string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %q: %v", e.Key, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
