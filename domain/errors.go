package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation references an unknown task id.
	// Distinct from an empty queue, which is not an error.
	ErrNotFound = errors.New("task not found")

	// ErrEmptyContent rejects task creation with no content.
	ErrEmptyContent = errors.New("task content is empty")

	// ErrAdmissionDenied is the target for errors.Is on quota rejections.
	ErrAdmissionDenied = errors.New("admission denied")
)

// AdmissionDeniedError reports which free-tier quota rejected an ingestion
// batch. The whole batch is rejected; no tasks were created.
type AdmissionDeniedError struct {
	Quota string
	Limit int
}

func (e *AdmissionDeniedError) Error() string {
	return fmt.Sprintf("admission denied: %s quota (%d) exceeded", e.Quota, e.Limit)
}

func (e *AdmissionDeniedError) Is(target error) bool {
	return target == ErrAdmissionDenied
}

// PersistError reports a storage write failure. The in-memory entity still
// reflects the attempted transition; the caller may retry the persist.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
