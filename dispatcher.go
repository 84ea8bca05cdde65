package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	backendsiface "github.com/RichardKnop/dispatcher/backends/iface"
	"github.com/RichardKnop/dispatcher/config"
	lockiface "github.com/RichardKnop/dispatcher/locks/iface"
	"github.com/RichardKnop/dispatcher/log"
	"github.com/RichardKnop/dispatcher/result"
	"github.com/RichardKnop/dispatcher/tasks"
	"github.com/RichardKnop/dispatcher/tracing"
	unitiface "github.com/RichardKnop/dispatcher/units/iface"
	"github.com/RichardKnop/dispatcher/utils"
)

// Dispatcher launches execution units and hands out a future per launch.
// Launches never wait for each other: every unit runs on its own goroutine.
type Dispatcher struct {
	config    *config.Config
	unit      unitiface.Unit
	backend   backendsiface.Backend
	lock      lockiface.Lock
	scheduler *cron.Cron
}

// NewDispatcher creates Dispatcher instance with the unit, result backend
// and lock described by cnf
func NewDispatcher(cnf *config.Config) (*Dispatcher, error) {
	backend, err := BackendFactory(cnf)
	if err != nil {
		return nil, err
	}

	lock, err := LockFactory(cnf)
	if err != nil {
		return nil, err
	}

	unit, err := UnitFactory(cnf)
	if err != nil {
		return nil, err
	}

	return NewDispatcherWithUnit(cnf, unit, backend, lock), nil
}

// NewDispatcherWithUnit creates Dispatcher instance from ready made parts
func NewDispatcherWithUnit(cnf *config.Config, unit unitiface.Unit, backend backendsiface.Backend, lock lockiface.Lock) *Dispatcher {
	return &Dispatcher{
		config:    cnf,
		unit:      unit,
		backend:   backend,
		lock:      lock,
		scheduler: cron.New(),
	}
}

// GetConfig returns config
func (d *Dispatcher) GetConfig() *config.Config {
	return d.config
}

// GetBackend returns the result backend
func (d *Dispatcher) GetBackend() backendsiface.Backend {
	return d.backend
}

// SetBackend sets the result backend
func (d *Dispatcher) SetBackend(backend backendsiface.Backend) {
	d.backend = backend
}

// GetUnit returns the unit every launch runs
func (d *Dispatcher) GetUnit() unitiface.Unit {
	return d.unit
}

// SetUnit sets the unit every launch runs
func (d *Dispatcher) SetUnit(unit unitiface.Unit) {
	d.unit = unit
}

// GetLock returns lock
func (d *Dispatcher) GetLock() lockiface.Lock {
	return d.lock
}

// SetLock sets lock
func (d *Dispatcher) SetLock(lock lockiface.Lock) {
	d.lock = lock
}

// Launch starts one unit for taskID and returns its future at once.
// taskID only labels logs and stored states, the unit gets a nil payload.
func (d *Dispatcher) Launch(taskID int) *result.AsyncResult {
	return d.LaunchSignature(context.Background(), tasks.NewSignature(d.config.UnitName, taskID, nil))
}

// LaunchSignature starts one unit for a prepared signature
func (d *Dispatcher) LaunchSignature(ctx context.Context, signature *tasks.Signature) *result.AsyncResult {
	span, ctx := tracing.StartLaunchSpan(ctx, signature)

	log.INFO.Printf("Task %d launched at %s", signature.ID, timestamp())

	if err := d.backend.SetStatePending(signature); err != nil {
		log.WARNING.Printf("Set state pending error for task %s: %v", signature.UUID, err)
	}

	asyncResult := result.NewAsyncResult(signature, d.backend)
	go d.run(ctx, span, signature, asyncResult)

	return asyncResult
}

// run executes the unit, records the outcome and settles the future.
// Backend errors are logged only, the future is what callers wait on.
func (d *Dispatcher) run(ctx context.Context, span opentracing.Span, signature *tasks.Signature, asyncResult *result.AsyncResult) {
	if err := d.backend.SetStateStarted(signature); err != nil {
		log.WARNING.Printf("Set state started error for task %s: %v", signature.UUID, err)
	}

	message, err := d.unit.Run(ctx, signature)
	if err != nil {
		if stateErr := d.backend.SetStateFailure(signature, err); stateErr != nil {
			log.WARNING.Printf("Set state failure error for task %s: %v", signature.UUID, stateErr)
		}
		tracing.FinishWithError(span, err)
		asyncResult.Reject(err)
		return
	}

	if stateErr := d.backend.SetStateSuccess(signature, tasks.NewTaskResults(message)); stateErr != nil {
		log.WARNING.Printf("Set state success error for task %s: %v", signature.UUID, stateErr)
	}
	span.Finish()
	asyncResult.Resolve(message)
}

// Run launches LaunchCount tasks with ids 0..N-1, logs each outcome and
// waits for all of them. Every launch is issued before any result is
// awaited. The returned error lists the failed tasks.
func (d *Dispatcher) Run() error {
	count := d.config.LaunchCount
	if count <= 0 {
		count = config.DefaultLaunchCount
	}

	results := make([]*result.AsyncResult, count)
	for taskID := range results {
		results[taskID] = d.Launch(taskID)
	}
	// continuations go on only after every launch was logged
	for _, asyncResult := range results {
		logOutcome(asyncResult)
	}

	var errs *multierror.Error
	for taskID, asyncResult := range results {
		if _, err := asyncResult.Get(); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "task %d", taskID))
		}
	}
	return errs.ErrorOrNil()
}

// LaunchBatch launches count tasks with ids 0..count-1 as one batch whose
// states can be looked up in the result backend by the batch UUID
func (d *Dispatcher) LaunchBatch(ctx context.Context, count int) (*result.BatchAsyncResult, error) {
	if count < 0 {
		return nil, fmt.Errorf("Batch size must not be negative, got %d", count)
	}

	groupUUID := fmt.Sprintf("group_%v", utils.GetPureUUID())

	signatures := make([]*tasks.Signature, count)
	taskUUIDs := make([]string, count)
	for i := range signatures {
		signature := tasks.NewSignature(d.config.UnitName, i, nil)
		signature.GroupUUID = groupUUID
		signature.GroupTaskCount = count
		signatures[i] = signature
		taskUUIDs[i] = signature.UUID
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "LaunchBatch", tracing.ProducerOption(), tracing.DispatcherTag, tracing.BatchTag)
	defer span.Finish()
	tracing.AnnotateSpanWithBatchInfo(span, groupUUID, signatures)

	if err := d.backend.InitGroup(groupUUID, taskUUIDs); err != nil {
		return nil, errors.Wrapf(err, "init batch %s", groupUUID)
	}

	results := make([]*result.AsyncResult, count)
	for i, signature := range signatures {
		results[i] = d.LaunchSignature(ctx, signature)
	}
	for _, asyncResult := range results {
		logOutcome(asyncResult)
	}

	return result.NewBatchAsyncResult(groupUUID, results, d.backend), nil
}

// RegisterPeriodicBatch launches a batch of count tasks on every tick of
// the cron spec. Dispatchers sharing a lock backend fire a tick only once.
func (d *Dispatcher) RegisterPeriodicBatch(spec, name string, count int) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return err
	}

	f := func() {
		// get lock
		err := d.lock.LockWithRetries(utils.GetLockName(name, spec), schedule.Next(time.Now()).UnixNano()-1)
		if err != nil {
			return
		}

		batch, err := d.LaunchBatch(context.Background(), count)
		if err != nil {
			log.ERROR.Printf("Periodic batch %s failed to launch: %v", name, err)
			return
		}
		log.INFO.Printf("Periodic batch %s launched as %s", name, batch.GroupUUID)
	}

	if _, err := d.scheduler.AddFunc(spec, f); err != nil {
		return err
	}
	d.scheduler.Start()
	return nil
}

// StopScheduler stops periodic batches. Batches already launched keep
// running; the returned context is done once running ticks returned.
func (d *Dispatcher) StopScheduler() context.Context {
	return d.scheduler.Stop()
}

// logOutcome attaches the completion log lines to a future
func logOutcome(asyncResult *result.AsyncResult) *result.AsyncResult {
	taskID := asyncResult.Signature.ID
	return asyncResult.Then(
		func(message interface{}) {
			log.INFO.Printf("Task %d completed at %s", taskID, timestamp())
			log.INFO.Printf("%v", message)
		},
		func(err error) {
			log.ERROR.Printf("Task %d failed at %s: %v", taskID, timestamp(), err)
		},
	)
}

func timestamp() string {
	return time.Now().Format(time.RFC3339Nano)
}
