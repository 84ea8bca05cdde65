package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardKnop/dispatcher/config"
)

func TestNewFromEnvironment(t *testing.T) {
	t.Setenv("SERVICE", "./bin/service")
	t.Setenv("SERVICE_ARGS", "--message,done")
	t.Setenv("LAUNCH_COUNT", "3")
	t.Setenv("RESULT_BACKEND", "memcache://127.0.0.1:11211")
	t.Setenv("RESULTS_EXPIRE_IN", "60")
	t.Setenv("AMQP_EXCHANGE", "exchange")
	t.Setenv("REDIS_MAX_IDLE", "7")
	t.Setenv("TASK_STATES_TABLE", "states")
	t.Setenv("MONGODB_DATABASE", "reports")
	t.Setenv("NO_UNIX_SIGNALS", "true")

	cnf, err := config.NewFromEnvironment()
	require.NoError(t, err)

	assert.Equal(t, "./bin/service", cnf.Service)
	assert.Equal(t, []string{"--message", "done"}, cnf.ServiceArgs)
	assert.Equal(t, 3, cnf.LaunchCount)
	assert.Equal(t, "memcache://127.0.0.1:11211", cnf.ResultBackend)
	assert.Equal(t, 60, cnf.ResultsExpireIn)
	assert.Equal(t, "exchange", cnf.AMQP.Exchange)
	assert.Equal(t, 7, cnf.Redis.MaxIdle)
	assert.Equal(t, "states", cnf.DynamoDB.TaskStatesTable)
	assert.Equal(t, "reports", cnf.MongoDB.Database)
	assert.True(t, cnf.NoUnixSignals)
}

func TestNewFromEnvironmentDefaults(t *testing.T) {
	cnf, err := config.NewFromEnvironment()
	require.NoError(t, err)

	assert.Equal(t, config.DefaultLaunchCount, cnf.LaunchCount)
	assert.Equal(t, "eager", cnf.ResultBackend)
	assert.Equal(t, config.DefaultResultsExpireIn, cnf.ResultsExpireIn)
	assert.Equal(t, "group_metas", cnf.DynamoDB.GroupMetasTable)
	assert.Equal(t, "dispatcher", cnf.MongoDB.Database)
}

func TestDefaultIsACopy(t *testing.T) {
	a := config.Default()
	a.Redis.MaxIdle = 99
	a.LaunchCount = 10
	a.MongoDB.Database = "other"

	b := config.Default()
	assert.Equal(t, 3, b.Redis.MaxIdle)
	assert.Equal(t, config.DefaultLaunchCount, b.LaunchCount)
	assert.Equal(t, "dispatcher", b.MongoDB.Database)
}
