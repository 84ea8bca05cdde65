package dispatcher_test

import (
	"bytes"
	"context"
	stdlog "log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardKnop/dispatcher"
	eagerbackend "github.com/RichardKnop/dispatcher/backends/eager"
	"github.com/RichardKnop/dispatcher/config"
	eagerlock "github.com/RichardKnop/dispatcher/locks/eager"
	"github.com/RichardKnop/dispatcher/log"
	"github.com/RichardKnop/dispatcher/result"
	"github.com/RichardKnop/dispatcher/tasks"
	"github.com/RichardKnop/dispatcher/units/local"
	"github.com/RichardKnop/dispatcher/units/process"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func (b *syncBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

// captureLogs routes every log level into one buffer for the duration of t
func captureLogs(t *testing.T) *syncBuffer {
	debug, info, warning, errorLog, fatal := log.DEBUG, log.INFO, log.WARNING, log.ERROR, log.FATAL
	t.Cleanup(func() {
		log.DEBUG, log.INFO, log.WARNING, log.ERROR, log.FATAL = debug, info, warning, errorLog, fatal
	})

	buf := new(syncBuffer)
	log.Set(stdlog.New(buf, "", 0))
	return buf
}

func newDispatcher(t *testing.T, script string) *dispatcher.Dispatcher {
	cnf := config.Default()
	cnf.Service = "/bin/sh"
	cnf.ServiceArgs = []string{"-c", script}

	d, err := dispatcher.NewDispatcher(cnf)
	require.NoError(t, err)
	return d
}

func indexOf(lines []string, prefix string) int {
	for i, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return i
		}
	}
	return -1
}

func TestRunLogsLaunchesBeforeCompletions(t *testing.T) {
	buf := captureLogs(t)
	d := newDispatcher(t, "sleep 0.2; echo done")

	require.NoError(t, d.Run())

	lines := buf.Lines()
	launch0 := indexOf(lines, "Task 0 launched at ")
	launch1 := indexOf(lines, "Task 1 launched at ")
	completed0 := indexOf(lines, "Task 0 completed at ")
	completed1 := indexOf(lines, "Task 1 completed at ")

	require.NotEqual(t, -1, launch0, lines)
	require.NotEqual(t, -1, launch1, lines)
	require.NotEqual(t, -1, completed0, lines)
	require.NotEqual(t, -1, completed1, lines)

	assert.Less(t, launch0, launch1)
	assert.Less(t, launch1, completed0)
	assert.Less(t, launch1, completed1)

	messages := 0
	for _, line := range lines {
		if line == "done" {
			messages++
		}
	}
	assert.Equal(t, 2, messages)
}

func TestRunLogsLaunchesBeforeCompletionsWithInstantUnit(t *testing.T) {
	buf := captureLogs(t)
	unit := local.New(func(ctx context.Context, payload interface{}) (interface{}, error) {
		return "done", nil
	})
	d := dispatcher.NewDispatcherWithUnit(config.Default(), unit, eagerbackend.New(), eagerlock.New())

	for i := 0; i < 500; i++ {
		buf.Reset()
		require.NoError(t, d.Run())

		lines := buf.Lines()
		launch1 := indexOf(lines, "Task 1 launched at ")
		completed0 := indexOf(lines, "Task 0 completed at ")
		completed1 := indexOf(lines, "Task 1 completed at ")
		require.NotEqual(t, -1, launch1, lines)
		require.NotEqual(t, -1, completed0, lines)
		require.Less(t, launch1, completed0, lines)
		require.Less(t, launch1, completed1, lines)
	}
}

func TestLaunchResolves(t *testing.T) {
	d := newDispatcher(t, "echo done")

	asyncResult := d.Launch(0)
	message, err := asyncResult.GetWithTimeout(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", message)

	state := asyncResult.GetState()
	assert.Equal(t, tasks.StateSuccess, state.State)
}

func TestLaunchRejectsOnAbnormalExit(t *testing.T) {
	d := newDispatcher(t, "exit 1")

	asyncResult := d.Launch(0)
	_, err := asyncResult.GetWithTimeout(5 * time.Second)
	require.Error(t, err)

	code, ok := tasks.ExitCode(err)
	require.True(t, ok)
	assert.Equal(t, 1, code)
	assert.Equal(t, tasks.StateFailure, asyncResult.GetState().State)
}

func TestRunReturnsFailures(t *testing.T) {
	buf := captureLogs(t)
	d := newDispatcher(t, "exit 3")

	err := d.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task 0")
	assert.Contains(t, err.Error(), "task 1")

	lines := buf.Lines()
	assert.NotEqual(t, -1, indexOf(lines, "Task 0 failed at "), lines)
	assert.NotEqual(t, -1, indexOf(lines, "Task 1 failed at "), lines)
}

func TestRunLaunchesConfiguredCount(t *testing.T) {
	var calls int32
	unit := local.New(func(ctx context.Context, payload interface{}) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "done", nil
	})

	cnf := config.Default()
	cnf.LaunchCount = 0
	d := dispatcher.NewDispatcherWithUnit(cnf, unit, eagerbackend.New(), eagerlock.New())

	require.NoError(t, d.Run())
	assert.Equal(t, int32(config.DefaultLaunchCount), atomic.LoadInt32(&calls))

	cnf.LaunchCount = 5
	require.NoError(t, d.Run())
	assert.Equal(t, int32(config.DefaultLaunchCount+5), atomic.LoadInt32(&calls))
}

func TestLaunchesRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)

	unit := local.New(func(ctx context.Context, payload interface{}) (interface{}, error) {
		started.Done()
		<-release
		return "done", nil
	})

	cnf := config.Default()
	d := dispatcher.NewDispatcherWithUnit(cnf, unit, eagerbackend.New(), eagerlock.New())

	first := d.Launch(0)
	second := d.Launch(1)

	// both units are running before either is allowed to finish
	started.Wait()
	assert.False(t, first.Settled())
	assert.False(t, second.Settled())

	close(release)

	for _, asyncResult := range []*result.AsyncResult{first, second} {
		message, err := asyncResult.GetWithTimeout(5 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, "done", message)
	}

	// a settled future ignores later outcomes
	assert.False(t, first.Resolve("again"))
	assert.False(t, second.Reject(assert.AnError))
	message, err := first.Get()
	assert.NoError(t, err)
	assert.Equal(t, "done", message)
}

func TestLaunchBatch(t *testing.T) {
	unit := local.New(func(ctx context.Context, payload interface{}) (interface{}, error) {
		return "done", nil
	})

	cnf := config.Default()
	backend := eagerbackend.New()
	d := dispatcher.NewDispatcherWithUnit(cnf, unit, backend, eagerlock.New())

	batch, err := d.LaunchBatch(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, batch.Results, 3)
	assert.True(t, strings.HasPrefix(batch.GroupUUID, "group_"))
	assert.Len(t, strings.TrimPrefix(batch.GroupUUID, "group_"), 32)
	assert.NotContains(t, batch.GroupUUID, "-")

	messages, err := batch.Wait()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"done", "done", "done"}, messages)
	assert.Equal(t, 0, batch.Failed())

	completed, err := batch.Completed()
	require.NoError(t, err)
	assert.True(t, completed)

	states, err := batch.GetStates()
	require.NoError(t, err)
	require.Len(t, states, 3)
	for _, state := range states {
		assert.Equal(t, tasks.StateSuccess, state.State)
	}
}

func TestLaunchBatchNegativeCount(t *testing.T) {
	unit := local.New(func(ctx context.Context, payload interface{}) (interface{}, error) {
		return "done", nil
	})
	d := dispatcher.NewDispatcherWithUnit(config.Default(), unit, eagerbackend.New(), eagerlock.New())

	batch, err := d.LaunchBatch(context.Background(), -1)
	assert.Nil(t, batch)
	assert.EqualError(t, err, "Batch size must not be negative, got -1")
}

func TestLaunchBatchWithProcessUnit(t *testing.T) {
	cnf := config.Default()
	unit := process.New("/bin/sh", "-c", "echo done")
	d := dispatcher.NewDispatcherWithUnit(cnf, unit, eagerbackend.New(), eagerlock.New())

	batch, err := d.LaunchBatch(context.Background(), 2)
	require.NoError(t, err)

	messages, err := batch.Wait()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"done", "done"}, messages)
}

func TestRegisterPeriodicBatch(t *testing.T) {
	cnf := config.Default()
	unit := local.New(func(ctx context.Context, payload interface{}) (interface{}, error) {
		return "done", nil
	})
	d := dispatcher.NewDispatcherWithUnit(cnf, unit, eagerbackend.New(), eagerlock.New())

	err := d.RegisterPeriodicBatch("not a cron spec", "bogus", 2)
	assert.Error(t, err)

	require.NoError(t, d.RegisterPeriodicBatch("*/1 * * * *", "every-minute", 2))
	<-d.StopScheduler().Done()
}
