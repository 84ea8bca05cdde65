package tasks

import "time"

const (
	// StatePending - initial state of a task
	StatePending = "PENDING"
	// StateStarted - when the execution unit has been started
	StateStarted = "STARTED"
	// StateSuccess - when the unit reported its message
	StateSuccess = "SUCCESS"
	// StateFailure - when the unit terminated abnormally or reported an error
	StateFailure = "FAILURE"
)

// TaskState represents a state of a task
type TaskState struct {
	TaskUUID  string        `bson:"_id"`
	TaskID    int           `bson:"task_id"`
	TaskName  string        `bson:"task_name"`
	State     string        `bson:"state"`
	Results   []*TaskResult `bson:"results"`
	Error     string        `bson:"error"`
	ExitCode  int           `bson:"exit_code"`
	CreatedAt time.Time     `bson:"created_at"`
	TTL       int64         `bson:"ttl,omitempty"`
}

// GroupMeta stores metadata about tasks launched together in one batch
type GroupMeta struct {
	GroupUUID string    `bson:"_id"`
	TaskUUIDs []string  `bson:"task_uuids"`
	CreatedAt time.Time `bson:"created_at"`
	TTL       int64     `bson:"ttl,omitempty"`
}

// NewPendingTaskState ...
func NewPendingTaskState(signature *Signature) *TaskState {
	return &TaskState{
		TaskUUID:  signature.UUID,
		TaskID:    signature.ID,
		TaskName:  signature.Name,
		State:     StatePending,
		CreatedAt: time.Now().UTC(),
	}
}

// NewStartedTaskState ...
func NewStartedTaskState(signature *Signature) *TaskState {
	return &TaskState{
		TaskUUID: signature.UUID,
		TaskID:   signature.ID,
		TaskName: signature.Name,
		State:    StateStarted,
	}
}

// NewSuccessTaskState ...
func NewSuccessTaskState(signature *Signature, results []*TaskResult) *TaskState {
	return &TaskState{
		TaskUUID: signature.UUID,
		TaskID:   signature.ID,
		TaskName: signature.Name,
		State:    StateSuccess,
		Results:  results,
	}
}

// NewFailureTaskState records err and, for abnormal terminations, the exit code
func NewFailureTaskState(signature *Signature, err error) *TaskState {
	state := &TaskState{
		TaskUUID: signature.UUID,
		TaskID:   signature.ID,
		TaskName: signature.Name,
		State:    StateFailure,
	}
	if err != nil {
		state.Error = err.Error()
	}
	if code, ok := ExitCode(err); ok {
		state.ExitCode = code
	}
	return state
}

// IsCompleted returns true if state is SUCCESS or FAILURE,
// i.e. the unit has finished and either succeeded or failed.
func (taskState *TaskState) IsCompleted() bool {
	return taskState.IsSuccess() || taskState.IsFailure()
}

// IsSuccess returns true if state is SUCCESS
func (taskState *TaskState) IsSuccess() bool {
	return taskState.State == StateSuccess
}

// IsFailure returns true if state is FAILURE
func (taskState *TaskState) IsFailure() bool {
	return taskState.State == StateFailure
}

// Message returns the message stored with a successful state, if any
func (taskState *TaskState) Message() interface{} {
	if len(taskState.Results) == 0 {
		return nil
	}
	return taskState.Results[0].Value
}
