package config

import (
	"crypto/tls"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	// DefaultResultsExpireIn is a default time used to expire task states and batch metadata from the backend
	DefaultResultsExpireIn = 3600
	// DefaultLaunchCount is how many units the driver launches per batch
	DefaultLaunchCount = 2
)

var (
	// Start with sensible default values
	defaultCnf = &Config{
		Service:         "./service",
		UnitName:        "service",
		LaunchCount:     DefaultLaunchCount,
		ResultBackend:   "eager",
		ResultsExpireIn: DefaultResultsExpireIn,
		Lock:            "eager",
		AMQP: &AMQPConfig{
			Exchange:     "dispatcher_exchange",
			ExchangeType: "direct",
		},
		MongoDB: &MongoDBConfig{
			Database: "dispatcher",
		},
		DynamoDB: &DynamoDBConfig{
			TaskStatesTable: "task_states",
			GroupMetasTable: "group_metas",
		},
		Redis: &RedisConfig{
			MaxIdle:        3,
			IdleTimeout:    240,
			ReadTimeout:    15,
			WriteTimeout:   15,
			ConnectTimeout: 15,
		},
	}
)

// Config holds all configuration for our program
type Config struct {
	// Service is the path of the executable every launched unit runs
	Service     string   `yaml:"service" envconfig:"SERVICE"`
	ServiceArgs []string `yaml:"service_args" envconfig:"SERVICE_ARGS"`
	// UnitName is recorded as the task name in the result backend
	UnitName        string `yaml:"unit_name" envconfig:"UNIT_NAME"`
	LaunchCount     int    `yaml:"launch_count" envconfig:"LAUNCH_COUNT"`
	ResultBackend   string `yaml:"result_backend" envconfig:"RESULT_BACKEND"`
	ResultsExpireIn int    `yaml:"results_expire_in" envconfig:"RESULTS_EXPIRE_IN"`
	Lock            string `yaml:"lock" envconfig:"LOCK"`
	// Schedule is a standard cron spec used by the schedule command
	Schedule  string          `yaml:"schedule" envconfig:"SCHEDULE"`
	AMQP      *AMQPConfig     `yaml:"amqp"`
	Redis     *RedisConfig    `yaml:"redis"`
	MongoDB   *MongoDBConfig  `yaml:"mongodb"`
	DynamoDB  *DynamoDBConfig `yaml:"dynamodb"`
	TLSConfig *tls.Config     `yaml:"-" ignored:"true"`
	// NoUnixSignals - when set disables signal handling in the dispatcher
	NoUnixSignals bool `yaml:"no_unix_signals" envconfig:"NO_UNIX_SIGNALS"`
}

// AMQPConfig wraps RabbitMQ related configuration
type AMQPConfig struct {
	Exchange     string `yaml:"exchange" envconfig:"AMQP_EXCHANGE"`
	ExchangeType string `yaml:"exchange_type" envconfig:"AMQP_EXCHANGE_TYPE"`
}

// DynamoDBConfig wraps DynamoDB related configuration
type DynamoDBConfig struct {
	Client          *dynamodb.Client `yaml:"-" ignored:"true"`
	TaskStatesTable string           `yaml:"task_states_table" envconfig:"TASK_STATES_TABLE"`
	GroupMetasTable string           `yaml:"group_metas_table" envconfig:"GROUP_METAS_TABLE"`
}

// RedisConfig ...
type RedisConfig struct {
	// Maximum number of idle connections in the pool.
	// Default: 3
	MaxIdle int `yaml:"max_idle" envconfig:"REDIS_MAX_IDLE"`

	// Maximum number of connections allocated by the pool at a given time.
	// When zero, there is no limit on the number of connections in the pool.
	MaxActive int `yaml:"max_active" envconfig:"REDIS_MAX_ACTIVE"`

	// Close connections after remaining idle for this duration in seconds. If the value
	// is zero, then idle connections are not closed.
	// Default: 240
	IdleTimeout int `yaml:"max_idle_timeout" envconfig:"REDIS_IDLE_TIMEOUT"`

	// If Wait is true and the pool is at the MaxActive limit, then Get() waits
	// for a connection to be returned to the pool before returning.
	Wait bool `yaml:"wait" envconfig:"REDIS_WAIT"`

	// ReadTimeout specifies the timeout in seconds for reading a single command reply.
	// Default: 15
	ReadTimeout int `yaml:"read_timeout" envconfig:"REDIS_READ_TIMEOUT"`

	// WriteTimeout specifies the timeout in seconds for writing a single command.
	// Default: 15
	WriteTimeout int `yaml:"write_timeout" envconfig:"REDIS_WRITE_TIMEOUT"`

	// ConnectTimeout specifies the timeout in seconds for connecting to the Redis server.
	// Default: 15
	ConnectTimeout int `yaml:"connect_timeout" envconfig:"REDIS_CONNECT_TIMEOUT"`

	// MasterName specifies a redis master name in order to configure a sentinel-backed redis FailoverClient
	MasterName string `yaml:"master_name" envconfig:"REDIS_MASTER_NAME"`
}

// MongoDBConfig wraps MongoDB related configuration
type MongoDBConfig struct {
	Client   *mongo.Client `yaml:"-" ignored:"true"`
	Database string        `yaml:"database" envconfig:"MONGODB_DATABASE"`
}

// Default returns a copy of the default configuration. Nested structs are
// copied too so callers can modify them freely.
func Default() *Config {
	cnf := new(Config)
	*cnf = *defaultCnf
	amqpCnf, redisCnf, dynamoCnf, mongoCnf := *defaultCnf.AMQP, *defaultCnf.Redis, *defaultCnf.DynamoDB, *defaultCnf.MongoDB
	cnf.AMQP, cnf.Redis, cnf.DynamoDB, cnf.MongoDB = &amqpCnf, &redisCnf, &dynamoCnf, &mongoCnf
	return cnf
}
