package amqp

// Task states are published as messages to a queue named after the task
// UUID. Reading a state consumes it, so GetState only returns each state
// once. Completed states of batch members are also published to a queue
// named after the batch UUID; inspecting its message count tells whether
// the batch is completed.
//
// Queues cannot be read without consuming, so this backend cannot refuse to
// overwrite a completed state. Callers relying on final states should use
// another backend.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/RichardKnop/dispatcher/backends/common"
	"github.com/RichardKnop/dispatcher/backends/iface"
	"github.com/RichardKnop/dispatcher/config"
	"github.com/RichardKnop/dispatcher/log"
	"github.com/RichardKnop/dispatcher/tasks"
)

// Backend represents an AMQP result backend
type Backend struct {
	common.Backend
	common.AMQPConnector
}

// New creates Backend instance
func New(cnf *config.Config) iface.Backend {
	if cnf.AMQP == nil {
		cnf.AMQP = config.Default().AMQP
	}
	return &Backend{Backend: common.NewBackend(cnf), AMQPConnector: common.AMQPConnector{}}
}

// IsAMQP returns true
func (b *Backend) IsAMQP() bool {
	return true
}

// InitGroup is a no-op, the group queue is declared by its first completed task
func (b *Backend) InitGroup(groupUUID string, taskUUIDs []string) error {
	return nil
}

// GroupCompleted returns true if all tasks in a group finished
func (b *Backend) GroupCompleted(groupUUID string, groupTaskCount int) (bool, error) {
	conn, channel, err := b.Open(b.GetConfig().ResultBackend, b.GetConfig().TLSConfig)
	if err != nil {
		return false, err
	}
	defer b.Close(channel, conn)

	queueState, err := b.InspectQueue(channel, groupUUID)
	if err != nil {
		return false, nil
	}

	return queueState.Messages == groupTaskCount, nil
}

// GroupTaskStates returns states of all tasks in the group. The states are
// consumed, so this succeeds once per group.
func (b *Backend) GroupTaskStates(groupUUID string, groupTaskCount int) ([]*tasks.TaskState, error) {
	conn, channel, err := b.Open(b.GetConfig().ResultBackend, b.GetConfig().TLSConfig)
	if err != nil {
		return nil, err
	}
	defer b.Close(channel, conn)

	queueState, err := b.InspectQueue(channel, groupUUID)
	if err != nil {
		return nil, err
	}

	if queueState.Messages != groupTaskCount {
		return nil, fmt.Errorf("Group %s has %d of %d states", groupUUID, queueState.Messages, groupTaskCount)
	}

	deliveries, err := channel.Consume(
		groupUUID, // queue name
		"",        // consumer tag
		false,     // auto-ack
		true,      // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("Queue consume error: %s", err)
	}

	states := make([]*tasks.TaskState, groupTaskCount)
	for i := 0; i < groupTaskCount; i++ {
		d := <-deliveries

		state, err := decodeState(d.Body)
		if err != nil {
			d.Nack(false, false) // multiple, requeue
			return nil, err
		}
		d.Ack(false) // multiple

		states[i] = state
	}

	return states, nil
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
	if err := b.updateState(taskState); err != nil {
		return err
	}
	return b.markTaskCompleted(signature, taskState)
}

// SetStateFailure updates task state to FAILURE
func (b *Backend) SetStateFailure(signature *tasks.Signature, err error) error {
	taskState := tasks.NewFailureTaskState(signature, err)
	if err := b.updateState(taskState); err != nil {
		return err
	}
	return b.markTaskCompleted(signature, taskState)
}

// GetState returns the latest task state. It will only return the status once
// as the message will get consumed and removed from the queue.
func (b *Backend) GetState(taskUUID string) (*tasks.TaskState, error) {
	conn, channel, _, _, err := b.connectQueue(taskUUID)
	if err != nil {
		return nil, err
	}
	defer b.Close(channel, conn)

	var state *tasks.TaskState
	// drain the queue, the last message is the latest state
	for {
		d, ok, err := channel.Get(
			taskUUID, // queue name
			false,    // auto-ack
		)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		d.Ack(false)

		state, err = decodeState(d.Body)
		if err != nil {
			log.ERROR.Printf("Failed to unmarshal task state: %s", string(d.Body))
			return nil, err
		}
	}

	if state == nil {
		return nil, errors.New("No state ready")
	}
	return state, nil
}

// PurgeState deletes stored task state
func (b *Backend) PurgeState(taskUUID string) error {
	conn, channel, err := b.Open(b.GetConfig().ResultBackend, b.GetConfig().TLSConfig)
	if err != nil {
		return err
	}
	defer b.Close(channel, conn)

	return b.DeleteQueue(channel, taskUUID)
}

// PurgeGroupMeta deletes stored group meta data
func (b *Backend) PurgeGroupMeta(groupUUID string) error {
	conn, channel, err := b.Open(b.GetConfig().ResultBackend, b.GetConfig().TLSConfig)
	if err != nil {
		return err
	}
	defer b.Close(channel, conn)

	return b.DeleteQueue(channel, groupUUID)
}

// updateState saves current task state
func (b *Backend) updateState(taskState *tasks.TaskState) error {
	return b.publish(taskState.TaskUUID, taskState)
}

// markTaskCompleted copies a completed state into the group queue, which is
// what GroupCompleted and GroupTaskStates inspect
func (b *Backend) markTaskCompleted(signature *tasks.Signature, taskState *tasks.TaskState) error {
	if signature.GroupUUID == "" || signature.GroupTaskCount == 0 {
		return nil
	}
	return b.publish(signature.GroupUUID, taskState)
}

func (b *Backend) publish(queueName string, taskState *tasks.TaskState) error {
	message, err := json.Marshal(taskState)
	if err != nil {
		return fmt.Errorf("JSON marshal error: %s", err)
	}

	conn, channel, queue, confirmsChan, err := b.connectQueue(queueName)
	if err != nil {
		return err
	}
	defer b.Close(channel, conn)

	if err := channel.Publish(
		b.GetConfig().AMQP.Exchange, // exchange
		queue.Name,                  // routing key
		false,                       // mandatory
		false,                       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         message,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return err
	}

	confirmed := <-confirmsChan
	if confirmed.Ack {
		return nil
	}
	return fmt.Errorf("Failed delivery of delivery tag: %d", confirmed.DeliveryTag)
}

func (b *Backend) connectQueue(queueName string) (*amqp.Connection, *amqp.Channel, amqp.Queue, <-chan amqp.Confirmation, error) {
	declareQueueArgs := amqp.Table{
		// Time in milliseconds
		// after that message will expire
		"x-message-ttl": int32(b.getExpiresIn()),
		// Time after that the queue will be deleted.
		"x-expires": int32(b.getExpiresIn()),
	}
	return b.Connect(
		b.GetConfig().ResultBackend,
		"",
		b.GetConfig().TLSConfig,
		b.GetConfig().AMQP.Exchange,     // exchange name
		b.GetConfig().AMQP.ExchangeType, // exchange type
		queueName,                       // queue name
		false,                           // queue durable
		true,                            // queue delete when unused
		queueName,                       // queue binding key
		declareQueueArgs,                // queue declare args
	)
}

// getExpiresIn returns expiration time in milliseconds
func (b *Backend) getExpiresIn() int {
	return int(b.GetExpiresIn().Milliseconds())
}

func decodeState(body []byte) (*tasks.TaskState, error) {
	state := new(tasks.TaskState)
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(state); err != nil {
		return nil, err
	}
	return state, nil
}
