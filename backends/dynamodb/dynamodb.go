package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/RichardKnop/dispatcher/backends/common"
	"github.com/RichardKnop/dispatcher/backends/iface"
	dynamodbiface "github.com/RichardKnop/dispatcher/backends/iface/dynamodb"
	"github.com/RichardKnop/dispatcher/config"
	"github.com/RichardKnop/dispatcher/log"
	"github.com/RichardKnop/dispatcher/tasks"
)

const (
	// BatchItemsLimit is the most keys a single BatchGetItem call may request
	BatchItemsLimit = 99
	// MaxFetchAttempts bounds retries of unprocessed keys
	MaxFetchAttempts = 3
)

// notCompleted holds the write condition for task states: the item is new
// or its State is neither SUCCESS nor FAILURE.
const notCompleted = "attribute_not_exists(TaskUUID) OR NOT (#state IN (:success, :failure))"

// Backend ...
type Backend struct {
	common.Backend
	cnf    *config.Config
	client dynamodbiface.API
}

// New creates a Backend instance
func New(cnf *config.Config) (iface.Backend, error) {
	if cnf.DynamoDB == nil {
		cnf.DynamoDB = config.Default().DynamoDB
	}
	backend := &Backend{Backend: common.NewBackend(cnf), cnf: cnf}

	if cnf.DynamoDB.Client != nil {
		backend.client = cnf.DynamoDB.Client
	} else {
		cfg, err := awsconfig.LoadDefaultConfig(context.TODO())
		if err != nil {
			return nil, fmt.Errorf("%w: unable to load AWS SDK config", err)
		}
		backend.client = dynamodb.NewFromConfig(cfg)
	}

	if err := backend.checkRequiredTablesIfExist(); err != nil {
		return nil, fmt.Errorf("failed to prepare tables: %w", err)
	}
	return backend, nil
}

// NewWithClient creates a Backend on top of an existing API client
func NewWithClient(cnf *config.Config, client dynamodbiface.API) iface.Backend {
	if cnf.DynamoDB == nil {
		cnf.DynamoDB = config.Default().DynamoDB
	}
	return &Backend{Backend: common.NewBackend(cnf), cnf: cnf, client: client}
}

// InitGroup ...
func (b *Backend) InitGroup(groupUUID string, taskUUIDs []string) error {
	meta := tasks.GroupMeta{
		GroupUUID: groupUUID,
		TaskUUIDs: taskUUIDs,
		CreatedAt: time.Now().UTC(),
		TTL:       b.GetExpirationTimestamp(),
	}
	av, err := attributevalue.MarshalMap(meta)
	if err != nil {
		log.ERROR.Printf("Error when marshaling Dynamodb attributes. Err: %v", err)
		return err
	}
	input := &dynamodb.PutItemInput{
		Item:      av,
		TableName: aws.String(b.cnf.DynamoDB.GroupMetasTable),
	}
	_, err = b.client.PutItem(context.TODO(), input)
	if err != nil {
		log.ERROR.Printf("Got error when calling PutItem: %v; Error: %v", input, err)
		return err
	}
	return nil
}

// GroupCompleted ...
func (b *Backend) GroupCompleted(groupUUID string, groupTaskCount int) (bool, error) {
	taskStates, err := b.GroupTaskStates(groupUUID, groupTaskCount)
	if err != nil {
		return false, err
	}
	return common.CountCompleted(taskStates) == groupTaskCount, nil
}

// GroupTaskStates ...
func (b *Backend) GroupTaskStates(groupUUID string, groupTaskCount int) ([]*tasks.TaskState, error) {
	groupMeta, err := b.getGroupMeta(groupUUID)
	if err != nil {
		return nil, err
	}
	return b.getStates(groupMeta.TaskUUIDs)
}

// SetStatePending ...
func (b *Backend) SetStatePending(signature *tasks.Signature) error {
	return b.putTaskState(tasks.NewPendingTaskState(signature))
}

// SetStateStarted ...
func (b *Backend) SetStateStarted(signature *tasks.Signature) error {
	return b.putTaskState(tasks.NewStartedTaskState(signature))
}

// SetStateSuccess ...
func (b *Backend) SetStateSuccess(signature *tasks.Signature, results []*tasks.TaskResult) error {
	return b.putTaskState(tasks.NewSuccessTaskState(signature, results))
}

// SetStateFailure ...
func (b *Backend) SetStateFailure(signature *tasks.Signature, err error) error {
	return b.putTaskState(tasks.NewFailureTaskState(signature, err))
}

// GetState ...
func (b *Backend) GetState(taskUUID string) (*tasks.TaskState, error) {
	result, err := b.client.GetItem(context.TODO(), &dynamodb.GetItemInput{
		TableName:      aws.String(b.cnf.DynamoDB.TaskStatesTable),
		Key:            taskKey(taskUUID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, fmt.Errorf("task %s not found", taskUUID)
	}

	state := new(tasks.TaskState)
	if err := attributevalue.UnmarshalMap(result.Item, state); err != nil {
		return nil, fmt.Errorf("unmarshal task state %s: %w", taskUUID, err)
	}
	return state, nil
}

// PurgeState ...
func (b *Backend) PurgeState(taskUUID string) error {
	_, err := b.client.DeleteItem(context.TODO(), &dynamodb.DeleteItemInput{
		TableName: aws.String(b.cnf.DynamoDB.TaskStatesTable),
		Key:       taskKey(taskUUID),
	})
	return err
}

// PurgeGroupMeta ...
func (b *Backend) PurgeGroupMeta(groupUUID string) error {
	_, err := b.client.DeleteItem(context.TODO(), &dynamodb.DeleteItemInput{
		TableName: aws.String(b.cnf.DynamoDB.GroupMetasTable),
		Key: map[string]types.AttributeValue{
			"GroupUUID": &types.AttributeValueMemberS{Value: groupUUID},
		},
	})
	return err
}

// putTaskState writes the whole state item under the notCompleted condition
func (b *Backend) putTaskState(taskState *tasks.TaskState) error {
	if previous, err := b.GetState(taskState.TaskUUID); err == nil {
		if previous.IsCompleted() {
			return tasks.ErrTaskAlreadyCompleted
		}
		common.MergeState(previous, taskState)
	}
	taskState.TTL = b.GetExpirationTimestamp()

	av, err := attributevalue.MarshalMap(taskState)
	if err != nil {
		log.ERROR.Printf("Error when marshaling Dynamodb attributes. Err: %v", err)
		return err
	}

	input := &dynamodb.PutItemInput{
		Item:                av,
		TableName:           aws.String(b.cnf.DynamoDB.TaskStatesTable),
		ConditionExpression: aws.String(notCompleted),
		ExpressionAttributeNames: map[string]string{
			"#state": "State",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":success": &types.AttributeValueMemberS{Value: tasks.StateSuccess},
			":failure": &types.AttributeValueMemberS{Value: tasks.StateFailure},
		},
	}
	_, err = b.client.PutItem(context.TODO(), input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return tasks.ErrTaskAlreadyCompleted
		}
		log.ERROR.Printf("Got error when calling PutItem: %v", err)
		return err
	}
	return nil
}

func (b *Backend) getGroupMeta(groupUUID string) (*tasks.GroupMeta, error) {
	result, err := b.client.GetItem(context.TODO(), &dynamodb.GetItemInput{
		TableName: aws.String(b.cnf.DynamoDB.GroupMetasTable),
		Key: map[string]types.AttributeValue{
			"GroupUUID": &types.AttributeValueMemberS{Value: groupUUID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		log.ERROR.Printf("Error when getting group meta. Error: %v", err)
		return nil, err
	}
	if result.Item == nil {
		return nil, fmt.Errorf("group %s not found", groupUUID)
	}

	item := new(tasks.GroupMeta)
	if err := attributevalue.UnmarshalMap(result.Item, item); err != nil {
		log.ERROR.Printf("Failed to unmarshal group meta. Error: %v", err)
		return nil, err
	}
	return item, nil
}

// getStates returns the current states for the given list of tasks, in the
// same order. It uses the batch fetch API and retries unprocessed keys with
// exponential backoff up to MaxFetchAttempts times.
func (b *Backend) getStates(taskUUIDs []string) ([]*tasks.TaskState, error) {
	byUUID := make(map[string]*tasks.TaskState, len(taskUUIDs))
	tasksToFetch := taskUUIDs

	for attempt := 0; len(tasksToFetch) > 0 && attempt < MaxFetchAttempts; attempt++ {
		var unfetched []string
		for _, batch := range chunkTasks(tasksToFetch, BatchItemsLimit) {
			fetched, rest, err := b.batchFetchTaskStates(batch)
			if err != nil {
				return nil, err
			}
			for _, state := range fetched {
				byUUID[state.TaskUUID] = state
			}
			unfetched = append(unfetched, rest...)
		}
		tasksToFetch = unfetched

		if len(unfetched) > 0 {
			backoffDuration := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			log.DEBUG.Printf("Unable to fetch [%d] keys on attempt [%d]. Sleeping for [%s]", len(unfetched), attempt+1, backoffDuration)
			time.Sleep(backoffDuration)
		}
	}
	if len(tasksToFetch) > 0 {
		return nil, fmt.Errorf("failed to fetch %d task states after %d attempts", len(tasksToFetch), MaxFetchAttempts)
	}

	states := make([]*tasks.TaskState, len(taskUUIDs))
	for i, taskUUID := range taskUUIDs {
		states[i] = byUUID[taskUUID]
	}
	return states, nil
}

func (b *Backend) batchFetchTaskStates(taskUUIDs []string) ([]*tasks.TaskState, []string, error) {
	tableName := b.cnf.DynamoDB.TaskStatesTable
	keys := make([]map[string]types.AttributeValue, len(taskUUIDs))
	for i, taskUUID := range taskUUIDs {
		keys[i] = taskKey(taskUUID)
	}

	result, err := b.client.BatchGetItem(context.TODO(), &dynamodb.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{
			tableName: {
				ConsistentRead: aws.Bool(true),
				Keys:           keys,
			},
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("BatchGetItem failed. Error: [%s]", err)
	}

	states := []*tasks.TaskState{}
	if err := attributevalue.UnmarshalListOfMaps(result.Responses[tableName], &states); err != nil {
		return nil, nil, fmt.Errorf("Got error when unmarshal map. Error: %v", err)
	}

	var unfetchedKeys []string
	if unprocessed, ok := result.UnprocessedKeys[tableName]; ok {
		for _, key := range unprocessed.Keys {
			var taskUUID string
			if err := attributevalue.Unmarshal(key["TaskUUID"], &taskUUID); err != nil {
				return nil, nil, fmt.Errorf("unable to read unprocessed key: %w", err)
			}
			unfetchedKeys = append(unfetchedKeys, taskUUID)
		}
	}
	return states, unfetchedKeys, nil
}

func (b *Backend) checkRequiredTablesIfExist() error {
	var (
		taskTableName  = b.cnf.DynamoDB.TaskStatesTable
		groupTableName = b.cnf.DynamoDB.GroupMetasTable
		tableNames     []string
		startFromTable *string
	)
	for {
		result, err := b.client.ListTables(context.TODO(), &dynamodb.ListTablesInput{
			ExclusiveStartTableName: startFromTable,
		})
		if err != nil {
			return err
		}
		tableNames = append(tableNames, result.TableNames...)
		if result.LastEvaluatedTableName == nil {
			break
		}
		startFromTable = result.LastEvaluatedTableName
	}

	if !b.tableExists(taskTableName, tableNames) {
		return errors.New("task table doesn't exist")
	}
	if !b.tableExists(groupTableName, tableNames) {
		return errors.New("group table doesn't exist")
	}
	return nil
}

func (b *Backend) tableExists(tableName string, tableNames []string) bool {
	for _, t := range tableNames {
		if tableName == t {
			return true
		}
	}
	return false
}

func taskKey(taskUUID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"TaskUUID": &types.AttributeValueMemberS{Value: taskUUID},
	}
}

func chunkTasks(array []string, chunkSize int) [][]string {
	var result [][]string
	for i := 0; i < len(array); i += chunkSize {
		end := i + chunkSize
		if end > len(array) {
			end = len(array)
		}
		result = append(result, array[i:end])
	}
	return result
}
