package mongo

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/RichardKnop/dispatcher/backends/common"
	"github.com/RichardKnop/dispatcher/backends/iface"
	"github.com/RichardKnop/dispatcher/config"
	"github.com/RichardKnop/dispatcher/log"
	"github.com/RichardKnop/dispatcher/tasks"
)

const defaultDatabase = "dispatcher"

// Backend represents a MongoDB result backend
type Backend struct {
	common.Backend
	client *mongo.Client
	tc     *mongo.Collection
	gmc    *mongo.Collection
}

// New creates Backend instance
func New(cnf *config.Config) (iface.Backend, error) {
	backend := &Backend{
		Backend: common.NewBackend(cnf),
	}

	if err := backend.connect(); err != nil {
		return nil, err
	}
	log.INFO.Printf("Connected to MongoDB database %s", backend.tc.Database().Name())

	return backend, nil
}

// InitGroup creates and saves a group meta data object
func (b *Backend) InitGroup(groupUUID string, taskUUIDs []string) error {
	groupMeta := &tasks.GroupMeta{
		GroupUUID: groupUUID,
		TaskUUIDs: taskUUIDs,
		CreatedAt: time.Now().UTC(),
	}
	_, err := b.groupMetasCollection().InsertOne(context.Background(), groupMeta)
	return err
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
	update := bson.M{
		"state":     tasks.StatePending,
		"task_id":   signature.ID,
		"task_name": signature.Name,
	}
	return b.updateState(signature, update)
}

// SetStateStarted updates task state to STARTED
func (b *Backend) SetStateStarted(signature *tasks.Signature) error {
	update := bson.M{"state": tasks.StateStarted}
	return b.updateState(signature, update)
}

// SetStateSuccess updates task state to SUCCESS
func (b *Backend) SetStateSuccess(signature *tasks.Signature, results []*tasks.TaskResult) error {
	update := bson.M{
		"state":   tasks.StateSuccess,
		"results": results,
	}
	return b.updateState(signature, update)
}

// SetStateFailure updates task state to FAILURE
func (b *Backend) SetStateFailure(signature *tasks.Signature, err error) error {
	taskState := tasks.NewFailureTaskState(signature, err)
	update := bson.M{
		"state":     tasks.StateFailure,
		"error":     taskState.Error,
		"exit_code": taskState.ExitCode,
	}
	return b.updateState(signature, update)
}

// GetState returns the latest task state
func (b *Backend) GetState(taskUUID string) (*tasks.TaskState, error) {
	state := &tasks.TaskState{}
	err := b.tasksCollection().FindOne(context.Background(), bson.M{"_id": taskUUID}).Decode(state)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// PurgeState deletes stored task state
func (b *Backend) PurgeState(taskUUID string) error {
	_, err := b.tasksCollection().DeleteOne(context.Background(), bson.M{"_id": taskUUID})
	return err
}

// PurgeGroupMeta deletes stored group meta data
func (b *Backend) PurgeGroupMeta(groupUUID string) error {
	_, err := b.groupMetasCollection().DeleteOne(context.Background(), bson.M{"_id": groupUUID})
	return err
}

// getGroupMeta retrieves group meta data, convenience function to avoid repetition
func (b *Backend) getGroupMeta(groupUUID string) (*tasks.GroupMeta, error) {
	groupMeta := &tasks.GroupMeta{}
	err := b.groupMetasCollection().FindOne(context.Background(), bson.M{"_id": groupUUID}).Decode(groupMeta)
	if err != nil {
		return nil, err
	}
	return groupMeta, nil
}

// getStates returns multiple task states in the order of taskUUIDs
func (b *Backend) getStates(taskUUIDs ...string) ([]*tasks.TaskState, error) {
	states := make([]*tasks.TaskState, len(taskUUIDs))
	if len(taskUUIDs) == 0 {
		return states, nil
	}

	cur, err := b.tasksCollection().Find(context.Background(), bson.M{"_id": bson.M{"$in": taskUUIDs}})
	if err != nil {
		return states, err
	}
	defer cur.Close(context.Background())

	byUUID := make(map[string]*tasks.TaskState, len(taskUUIDs))
	for cur.Next(context.Background()) {
		state := new(tasks.TaskState)
		if err := cur.Decode(state); err != nil {
			return states, err
		}
		byUUID[state.TaskUUID] = state
	}
	if err := cur.Err(); err != nil {
		return states, err
	}

	for i, taskUUID := range taskUUIDs {
		states[i] = byUUID[taskUUID]
	}
	return states, nil
}

// updateState upserts the task document. The filter excludes completed
// states, so once a task is SUCCESS or FAILURE the upsert collides with the
// existing _id instead of overwriting it.
func (b *Backend) updateState(signature *tasks.Signature, update bson.M) error {
	filter := bson.M{
		"_id":   signature.UUID,
		"state": bson.M{"$nin": []string{tasks.StateSuccess, tasks.StateFailure}},
	}
	doc := bson.M{
		"$set":         update,
		"$setOnInsert": bson.M{"created_at": time.Now().UTC()},
	}

	_, err := b.tasksCollection().UpdateOne(context.Background(), filter, doc, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return tasks.ErrTaskAlreadyCompleted
	}
	return err
}

func (b *Backend) tasksCollection() *mongo.Collection {
	return b.tc
}

func (b *Backend) groupMetasCollection() *mongo.Collection {
	return b.gmc
}

// connect creates the main session to MongoDB
func (b *Backend) connect() error {
	cnf := b.GetConfig()
	if cnf.MongoDB != nil && cnf.MongoDB.Client != nil {
		b.client = cnf.MongoDB.Client
	} else {
		client, err := b.dial()
		if err != nil {
			return err
		}
		b.client = client
	}

	database := defaultDatabase
	if cnf.MongoDB != nil && cnf.MongoDB.Database != "" {
		database = cnf.MongoDB.Database
	}

	b.tc = b.client.Database(database).Collection("task_states")
	b.gmc = b.client.Database(database).Collection("group_metas")

	err := b.createMongoIndexes()
	if err != nil {
		return err
	}
	return nil
}

// dial connects to mongo with TLSConfig if provided
// else connects via ResultBackend uri
func (b *Backend) dial() (*mongo.Client, error) {
	uri := b.GetConfig().ResultBackend
	if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
		uri = "mongodb://" + uri
	}

	opts := options.Client().ApplyURI(uri)
	if b.GetConfig().TLSConfig != nil {
		opts = opts.SetTLSConfig(b.GetConfig().TLSConfig)
	}

	client, err := mongo.Connect(context.Background(), opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return client, nil
}

// createMongoIndexes ensures all indexes are in place
func (b *Backend) createMongoIndexes() error {
	expireIn := int32(b.GetExpiresIn().Seconds())

	_, err := b.tc.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys:    bson.M{"created_at": 1},
			Options: options.Index().SetExpireAfterSeconds(expireIn),
		},
		{
			Keys: bson.M{"state": 1},
		},
	})
	if err != nil {
		return err
	}

	_, err = b.gmc.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.M{"created_at": 1},
		Options: options.Index().SetExpireAfterSeconds(expireIn),
	})
	return err
}
