package evaluation

import (
	"errors"
	"time"

	"github.com/LoveACE-Team/LoveACE/internal/jwc"
)

// State is the lifecycle state of one evaluation task.
type State string

const (
	StateCreated      State = "created"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StatePaused       State = "paused"
	StateCompleted    State = "completed"
	StateTerminated   State = "terminated"
	StateFailed       State = "failed"
)

// Terminal reports whether the task can make no further progress.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateTerminated || s == StateFailed
}

var (
	// ErrTaskNotFound is returned for principals with no task.
	ErrTaskNotFound = errors.New("no evaluation task")
	// ErrConflict marks an operation that raced a concurrent advance or
	// an invalid transition for the current state.
	ErrConflict = errors.New("task operation conflict")
	// ErrDiscoveryFailed marks an initialization whose course discovery
	// could not complete.
	ErrDiscoveryFailed = errors.New("course discovery failed")
)

// Item is one discovered course in a task's work list. The full course row
// is kept so a restored task can resume without re-running discovery.
type Item struct {
	Course    jwc.Course `json:"course"`
	Evaluated bool       `json:"evaluated"`
}

// Snapshot is the externally visible task state. It is what gets persisted,
// streamed to clients, and returned from every control endpoint. Progress
// and PendingItems carry course identifiers; the work list is fixed once
// discovery completes.
type Snapshot struct {
	TaskID        string    `json:"taskId"`
	Principal     string    `json:"principal"`
	State         State     `json:"state"`
	TotalCourses  int       `json:"totalCourses"`
	PendingItems  []string  `json:"pendingItems"`
	Progress      []string  `json:"progress"`
	FailedItems   int       `json:"failedItems"`
	Items         []Item    `json:"items,omitempty"`
	CurrentCourse string    `json:"currentCourse,omitempty"`
	Countdown     int       `json:"countdown,omitempty"`
	Message       string    `json:"message,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
