package memcache

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	gomemcache "github.com/bradfitz/gomemcache/memcache"

	"github.com/RichardKnop/dispatcher/backends/common"
	"github.com/RichardKnop/dispatcher/backends/iface"
	"github.com/RichardKnop/dispatcher/config"
	"github.com/RichardKnop/dispatcher/log"
	"github.com/RichardKnop/dispatcher/tasks"
)

// maxCASRetries bounds how often updateState retries after losing a compare-and-swap
const maxCASRetries = 10

// Backend represents a Memcache result backend
type Backend struct {
	common.Backend
	servers []string
	client  *gomemcache.Client
	once    sync.Once
}

// New creates Backend instance
func New(cnf *config.Config, servers []string) iface.Backend {
	return &Backend{
		Backend: common.NewBackend(cnf),
		servers: servers,
	}
}

// InitGroup creates and saves a group meta data object
func (b *Backend) InitGroup(groupUUID string, taskUUIDs []string) error {
	groupMeta := &tasks.GroupMeta{
		GroupUUID: groupUUID,
		TaskUUIDs: taskUUIDs,
		CreatedAt: time.Now().UTC(),
	}

	encoded, err := json.Marshal(&groupMeta)
	if err != nil {
		return err
	}

	return b.getClient().Set(&gomemcache.Item{
		Key:        groupUUID,
		Value:      encoded,
		Expiration: b.getExpirationTimestamp(),
	})
}

// GroupCompleted returns true if all tasks in a group finished
func (b *Backend) GroupCompleted(groupUUID string, groupTaskCount int) (bool, error) {
	taskStates, err := b.GroupTaskStates(groupUUID, groupTaskCount)
	if err != nil {
		return false, err
	}

	return common.CountCompleted(taskStates) == groupTaskCount, nil
}

// GroupTaskStates returns states of all tasks in the group
func (b *Backend) GroupTaskStates(groupUUID string, groupTaskCount int) ([]*tasks.TaskState, error) {
	groupMeta, err := b.getGroupMeta(groupUUID)
	if err != nil {
		return []*tasks.TaskState{}, err
	}

	return b.getStates(groupMeta.TaskUUIDs...)
}

// SetStatePending updates task state to PENDING
func (b *Backend) SetStatePending(signature *tasks.Signature) error {
	taskState := tasks.NewPendingTaskState(signature)
	return b.updateState(taskState)
}

// SetStateStarted updates task state to STARTED
func (b *Backend) SetStateStarted(signature *tasks.Signature) error {
	taskState := tasks.NewStartedTaskState(signature)
	return b.updateState(taskState)
}

// SetStateSuccess updates task state to SUCCESS
func (b *Backend) SetStateSuccess(signature *tasks.Signature, results []*tasks.TaskResult) error {
	taskState := tasks.NewSuccessTaskState(signature, results)
	return b.updateState(taskState)
}

// SetStateFailure updates task state to FAILURE
func (b *Backend) SetStateFailure(signature *tasks.Signature, err error) error {
	taskState := tasks.NewFailureTaskState(signature, err)
	return b.updateState(taskState)
}

// GetState returns the latest task state
func (b *Backend) GetState(taskUUID string) (*tasks.TaskState, error) {
	item, err := b.getClient().Get(taskUUID)
	if err != nil {
		return nil, err
	}

	return decodeState(item.Value)
}

// PurgeState deletes stored task state
func (b *Backend) PurgeState(taskUUID string) error {
	return b.getClient().Delete(taskUUID)
}

// PurgeGroupMeta deletes stored group meta data
func (b *Backend) PurgeGroupMeta(groupUUID string) error {
	return b.getClient().Delete(groupUUID)
}

// updateState saves current task state. Writes go through Add on a miss and
// CompareAndSwap on a hit, so a state completed by someone else in between
// is seen on the next attempt.
func (b *Backend) updateState(taskState *tasks.TaskState) error {
	var err error
	for i := 0; i < maxCASRetries; i++ {
		err = b.tryUpdateState(taskState)
		if err != gomemcache.ErrCASConflict && err != gomemcache.ErrNotStored {
			return err
		}
		log.DEBUG.Printf("Retrying update of %s: %v", taskState.TaskUUID, err)
	}
	return err
}

func (b *Backend) tryUpdateState(taskState *tasks.TaskState) error {
	item, err := b.getClient().Get(taskState.TaskUUID)
	if err != nil && err != gomemcache.ErrCacheMiss {
		return err
	}

	if item != nil {
		previous, err := decodeState(item.Value)
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

	if item == nil {
		return b.getClient().Add(&gomemcache.Item{
			Key:        taskState.TaskUUID,
			Value:      encoded,
			Expiration: b.getExpirationTimestamp(),
		})
	}

	item.Value = encoded
	item.Expiration = b.getExpirationTimestamp()
	return b.getClient().CompareAndSwap(item)
}

// getGroupMeta retrieves group meta data, convenience function to avoid repetition
func (b *Backend) getGroupMeta(groupUUID string) (*tasks.GroupMeta, error) {
	item, err := b.getClient().Get(groupUUID)
	if err != nil {
		return nil, err
	}

	groupMeta := new(tasks.GroupMeta)
	decoder := json.NewDecoder(bytes.NewReader(item.Value))
	decoder.UseNumber()
	if err := decoder.Decode(groupMeta); err != nil {
		return nil, err
	}

	return groupMeta, nil
}

// getStates returns multiple task states, leaving nil for tasks not stored yet
func (b *Backend) getStates(taskUUIDs ...string) ([]*tasks.TaskState, error) {
	states := make([]*tasks.TaskState, len(taskUUIDs))
	if len(taskUUIDs) == 0 {
		return states, nil
	}

	items, err := b.getClient().GetMulti(taskUUIDs)
	if err != nil {
		return states, err
	}

	for i, taskUUID := range taskUUIDs {
		item, ok := items[taskUUID]
		if !ok {
			continue
		}
		state, err := decodeState(item.Value)
		if err != nil {
			return states, err
		}
		states[i] = state
	}

	return states, nil
}

// getExpirationTimestamp returns expiration timestamp
func (b *Backend) getExpirationTimestamp() int32 {
	return int32(b.GetExpirationTimestamp())
}

// getClient returns or creates instance of Memcache client
func (b *Backend) getClient() *gomemcache.Client {
	b.once.Do(func() {
		b.client = gomemcache.New(b.servers...)
	})
	return b.client
}

func decodeState(value []byte) (*tasks.TaskState, error) {
	state := new(tasks.TaskState)
	decoder := json.NewDecoder(bytes.NewReader(value))
	decoder.UseNumber()
	if err := decoder.Decode(state); err != nil {
		return nil, err
	}
	return state, nil
}
