package dynamodb_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	backend "github.com/RichardKnop/dispatcher/backends/dynamodb"
	"github.com/RichardKnop/dispatcher/config"
	"github.com/RichardKnop/dispatcher/tasks"
)

// fakeClient keeps items in memory, keyed by table and hash key value
type fakeClient struct {
	mu              sync.Mutex
	tables          map[string]map[string]map[string]types.AttributeValue
	putItemOverride func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		tables: map[string]map[string]map[string]types.AttributeValue{
			"task_states": {},
			"group_metas": {},
		},
	}
}

func hashKey(item map[string]types.AttributeValue) string {
	for _, name := range []string{"TaskUUID", "GroupUUID"} {
		if v, ok := item[name].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
	}
	return ""
}

func (c *fakeClient) PutItem(ctx context.Context, input *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if c.putItemOverride != nil {
		return c.putItemOverride(input)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	table := c.tables[*input.TableName]
	key := hashKey(input.Item)
	if input.ConditionExpression != nil {
		if existing, ok := table[key]; ok {
			state := existing["State"].(*types.AttributeValueMemberS).Value
			if state == tasks.StateSuccess || state == tasks.StateFailure {
				return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
			}
		}
	}
	table[key] = input.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (c *fakeClient) GetItem(ctx context.Context, input *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: c.tables[*input.TableName][hashKey(input.Key)]}, nil
}

func (c *fakeClient) DeleteItem(ctx context.Context, input *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tables[*input.TableName], hashKey(input.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (c *fakeClient) BatchGetItem(ctx context.Context, input *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	responses := map[string][]map[string]types.AttributeValue{}
	for tableName, keys := range input.RequestItems {
		for _, key := range keys.Keys {
			if item, ok := c.tables[tableName][hashKey(key)]; ok {
				responses[tableName] = append(responses[tableName], item)
			}
		}
	}
	return &dynamodb.BatchGetItemOutput{Responses: responses}, nil
}

func (c *fakeClient) ListTables(ctx context.Context, input *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	return &dynamodb.ListTablesOutput{TableNames: []string{"task_states", "group_metas"}}, nil
}

func TestStateTransitions(t *testing.T) {
	b := backend.NewWithClient(config.Default(), newFakeClient())
	signature := tasks.NewSignature("service", 1, nil)

	require.NoError(t, b.SetStatePending(signature))
	pending, err := b.GetState(signature.UUID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatePending, pending.State)
	assert.Equal(t, 1, pending.TaskID)

	require.NoError(t, b.SetStateStarted(signature))
	require.NoError(t, b.SetStateSuccess(signature, tasks.NewTaskResults("done")))

	taskState, err := b.GetState(signature.UUID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StateSuccess, taskState.State)
	assert.Equal(t, "done", taskState.Message())
	assert.True(t, pending.CreatedAt.Equal(taskState.CreatedAt))
	assert.NotZero(t, taskState.TTL)
}

func TestCompletedStateIsFinal(t *testing.T) {
	b := backend.NewWithClient(config.Default(), newFakeClient())
	signature := tasks.NewSignature("service", 0, nil)

	require.NoError(t, b.SetStatePending(signature))
	require.NoError(t, b.SetStateFailure(signature, tasks.NewErrAbnormalTermination(1)))

	err := b.SetStateSuccess(signature, tasks.NewTaskResults("late"))
	assert.Equal(t, tasks.ErrTaskAlreadyCompleted, err)

	taskState, err := b.GetState(signature.UUID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StateFailure, taskState.State)
	assert.Equal(t, 1, taskState.ExitCode)
}

func TestConditionalCheckFailure(t *testing.T) {
	client := newFakeClient()
	b := backend.NewWithClient(config.Default(), client)
	signature := tasks.NewSignature("service", 0, nil)
	require.NoError(t, b.SetStatePending(signature))

	// another writer completed the task between our read and our write
	client.putItemOverride = func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	err := b.SetStateSuccess(signature, tasks.NewTaskResults("done"))
	assert.Equal(t, tasks.ErrTaskAlreadyCompleted, err)

	client.putItemOverride = func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		return nil, errors.New("throttled")
	}
	err = b.SetStateSuccess(signature, tasks.NewTaskResults("done"))
	assert.EqualError(t, err, "throttled")
}

func TestGroupTaskStates(t *testing.T) {
	b := backend.NewWithClient(config.Default(), newFakeClient())
	task1 := tasks.NewSignature("service", 0, nil)
	task2 := tasks.NewSignature("service", 1, nil)
	groupUUID := "group_test"

	_, err := b.GroupCompleted(groupUUID, 2)
	assert.Error(t, err)

	require.NoError(t, b.InitGroup(groupUUID, []string{task1.UUID, task2.UUID}))
	require.NoError(t, b.SetStatePending(task1))
	require.NoError(t, b.SetStatePending(task2))

	completed, err := b.GroupCompleted(groupUUID, 2)
	require.NoError(t, err)
	assert.False(t, completed)

	require.NoError(t, b.SetStateSuccess(task2, tasks.NewTaskResults("done")))
	require.NoError(t, b.SetStateSuccess(task1, nil))

	completed, err = b.GroupCompleted(groupUUID, 2)
	require.NoError(t, err)
	assert.True(t, completed)

	states, err := b.GroupTaskStates(groupUUID, 2)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, task1.UUID, states[0].TaskUUID)
	assert.Equal(t, task2.UUID, states[1].TaskUUID)
	assert.Nil(t, states[0].Message())
	assert.Equal(t, "done", states[1].Message())

	require.NoError(t, b.PurgeGroupMeta(groupUUID))
	_, err = b.GroupTaskStates(groupUUID, 2)
	assert.Error(t, err)
}
