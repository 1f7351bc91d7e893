// Package job owns the persistent single-lane transcription queue: one job
// entity, a JSON-file store, a typed event feed, and a worker loop that runs
// jobs strictly one at a time in FIFO order.
package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the job lifecycle state.
type Status string

const (
	// StatusPending means the job waits in the queue.
	StatusPending Status = "pending"
	// StatusConverting means the job's audio is being prepared.
	StatusConverting Status = "converting"
	// StatusTranscribing means a provider is producing text.
	StatusTranscribing Status = "transcribing"
	// StatusCompleted means the job finished with result text.
	StatusCompleted Status = "completed"
	// StatusFailed means the job finished with an error message.
	StatusFailed Status = "failed"
)

// Active reports whether the status represents a running pipeline stage.
func (s Status) Active() bool {
	return s == StatusConverting || s == StatusTranscribing
}

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// validTransition enforces the allowed state machine edges. Failed and
// Completed re-enter Pending on requeue; a requeue with a missing source goes
// straight back to Failed.
func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConverting || to == StatusFailed
	case StatusConverting:
		return to == StatusTranscribing || to == StatusCompleted || to == StatusFailed
	case StatusTranscribing:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted, StatusFailed:
		return to == StatusPending || to == StatusFailed
	default:
		return false
	}
}

// Job is one audio-to-text unit of work. Identity is stable across requeues.
type Job struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	// Seq orders the queue: jobs run in ascending Seq. Requeue assigns a
	// fresh Seq so a requeued job goes to the tail.
	Seq int64 `json:"seq"`
	// SourcePath locates the audio; the file is owned by a collaborator.
	SourcePath string `json:"source_path"`
	// Duration is the estimated audio length, used to scale progress.
	Duration time.Duration `json:"duration"`

	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`
	// Provider is the id of the provider that produced the current
	// progress or result.
	Provider string `json:"provider,omitempty"`
	// ResultText holds the final transcript once completed.
	ResultText string `json:"result_text,omitempty"`
	// ErrorMessage is the human-readable classified failure, never a raw
	// transport error.
	ErrorMessage string `json:"error_message,omitempty"`
	// ErrorKind is the taxonomy kind of the failure.
	ErrorKind string `json:"error_kind,omitempty"`
}

// Transition moves the job to a new status, enforcing the state machine
// edges.
func (j *Job) Transition(to Status) error {
	if j.Status == to {
		return nil
	}
	if !validTransition(j.Status, to) {
		return fmt.Errorf("invalid job transition: %s -> %s", j.Status, to)
	}
	j.Status = to
	return nil
}

// NewJob creates a pending job for a source file.
func NewJob(sourcePath string, duration time.Duration, seq int64) *Job {
	return &Job{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Seq:        seq,
		SourcePath: sourcePath,
		Duration:   duration,
		Status:     StatusPending,
	}
}
