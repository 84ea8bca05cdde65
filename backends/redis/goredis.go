package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RichardKnop/dispatcher/backends/common"
	"github.com/RichardKnop/dispatcher/backends/iface"
	"github.com/RichardKnop/dispatcher/config"
	"github.com/RichardKnop/dispatcher/log"
	"github.com/RichardKnop/dispatcher/tasks"
)

// maxTxRetries bounds how often updateState retries a transaction that lost a WATCH race
const maxTxRetries = 10

// BackendGR represents a Redis result backend backed by go-redis,
// which also supports clusters and sentinel failover
type BackendGR struct {
	common.Backend
	rclient  redis.UniversalClient
	password string
}

// NewGR creates Backend instance
func NewGR(cnf *config.Config, addrs []string, db int) iface.Backend {
	b := &BackendGR{
		Backend: common.NewBackend(cnf),
	}
	parts := strings.Split(addrs[0], "@")
	if len(parts) >= 2 {
		b.password = strings.Join(parts[:len(parts)-1], "@")
		addrs[0] = parts[len(parts)-1]
	}

	ropt := &redis.UniversalOptions{
		Addrs:    addrs,
		DB:       db,
		Password: b.password,
	}
	if cnf.Redis != nil {
		ropt.MasterName = cnf.Redis.MasterName
	}
	if cnf.TLSConfig != nil {
		ropt.TLSConfig = cnf.TLSConfig
	}

	b.rclient = redis.NewUniversalClient(ropt)
	return b
}

// InitGroup creates and saves a group meta data object
func (b *BackendGR) InitGroup(groupUUID string, taskUUIDs []string) error {
	groupMeta := &tasks.GroupMeta{
		GroupUUID: groupUUID,
		TaskUUIDs: taskUUIDs,
		CreatedAt: time.Now().UTC(),
	}

	encoded, err := json.Marshal(groupMeta)
	if err != nil {
		return err
	}

	return b.rclient.Set(context.Background(), groupUUID, encoded, b.GetExpiresIn()).Err()
}

// GroupCompleted returns true if all tasks in a group finished
func (b *BackendGR) GroupCompleted(groupUUID string, groupTaskCount int) (bool, error) {
	taskStates, err := b.GroupTaskStates(groupUUID, groupTaskCount)
	if err != nil {
		return false, err
	}

	return common.CountCompleted(taskStates) == groupTaskCount, nil
}

// GroupTaskStates returns states of all tasks in the group
func (b *BackendGR) GroupTaskStates(groupUUID string, groupTaskCount int) ([]*tasks.TaskState, error) {
	groupMeta, err := b.getGroupMeta(groupUUID)
	if err != nil {
		return []*tasks.TaskState{}, err
	}

	return b.getStates(groupMeta.TaskUUIDs...)
}

// SetStatePending updates task state to PENDING
func (b *BackendGR) SetStatePending(signature *tasks.Signature) error {
	return b.updateState(tasks.NewPendingTaskState(signature))
}

// SetStateStarted updates task state to STARTED
func (b *BackendGR) SetStateStarted(signature *tasks.Signature) error {
	return b.updateState(tasks.NewStartedTaskState(signature))
}

// SetStateSuccess updates task state to SUCCESS
func (b *BackendGR) SetStateSuccess(signature *tasks.Signature, results []*tasks.TaskResult) error {
	return b.updateState(tasks.NewSuccessTaskState(signature, results))
}

// SetStateFailure updates task state to FAILURE
func (b *BackendGR) SetStateFailure(signature *tasks.Signature, err error) error {
	return b.updateState(tasks.NewFailureTaskState(signature, err))
}

// GetState returns the latest task state
func (b *BackendGR) GetState(taskUUID string) (*tasks.TaskState, error) {
	item, err := b.rclient.Get(context.Background(), taskUUID).Bytes()
	if err != nil {
		return nil, err
	}
	return decodeState(item)
}

// PurgeState deletes stored task state
func (b *BackendGR) PurgeState(taskUUID string) error {
	return b.rclient.Del(context.Background(), taskUUID).Err()
}

// PurgeGroupMeta deletes stored group meta data
func (b *BackendGR) PurgeGroupMeta(groupUUID string) error {
	return b.rclient.Del(context.Background(), groupUUID).Err()
}

func (b *BackendGR) getGroupMeta(groupUUID string) (*tasks.GroupMeta, error) {
	item, err := b.rclient.Get(context.Background(), groupUUID).Bytes()
	if err != nil {
		return nil, err
	}

	groupMeta := new(tasks.GroupMeta)
	if err := json.Unmarshal(item, groupMeta); err != nil {
		return nil, err
	}
	return groupMeta, nil
}

func (b *BackendGR) getStates(taskUUIDs ...string) ([]*tasks.TaskState, error) {
	taskStates := make([]*tasks.TaskState, len(taskUUIDs))
	if len(taskUUIDs) == 0 {
		return taskStates, nil
	}

	reply, err := b.rclient.MGet(context.Background(), taskUUIDs...).Result()
	if err != nil {
		return taskStates, err
	}

	for i, value := range reply {
		// missing keys come back as nil
		stateString, ok := value.(string)
		if !ok {
			continue
		}

		taskState, err := decodeState([]byte(stateString))
		if err != nil {
			log.ERROR.Print(err)
			return taskStates, err
		}
		taskStates[i] = taskState
	}

	return taskStates, nil
}

// updateState writes the state inside a WATCH transaction, so a concurrent
// writer that completes the task first makes this write fail and retry
func (b *BackendGR) updateState(taskState *tasks.TaskState) error {
	ctx := context.Background()
	txf := func(tx *redis.Tx) error {
		item, err := tx.Get(ctx, taskState.TaskUUID).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			previous, err := decodeState(item)
			if err != nil {
				return err
			}
			if previous.IsCompleted() {
				return tasks.ErrTaskAlreadyCompleted
			}
			common.MergeState(previous, taskState)
		}

		encoded, err := json.Marshal(taskState)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, taskState.TaskUUID, encoded, b.GetExpiresIn())
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = b.rclient.Watch(ctx, txf, taskState.TaskUUID)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return err
}
