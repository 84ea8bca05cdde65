package eager

import (
	"errors"
	"sync"
	"time"

	"github.com/RichardKnop/dispatcher/retry"
)

var (
	// ErrEagerLockFailed ...
	ErrEagerLockFailed = errors.New("eager lock: failed to acquire lock")
)

// Lock is an in-process lock, good for a single dispatcher
type Lock struct {
	retries  int
	interval time.Duration
	register struct {
		sync.Mutex
		m map[string]int64
	}
}

// New creates Lock instance
func New() *Lock {
	return NewWithRetries(3, time.Second)
}

// NewWithRetries creates Lock retrying retries times, waiting Fibonacci multiples of interval in between
func NewWithRetries(retries int, interval time.Duration) *Lock {
	lock := &Lock{
		retries:  retries,
		interval: interval,
	}
	lock.register.m = make(map[string]int64)
	return lock
}

// LockWithRetries ...
func (e *Lock) LockWithRetries(key string, value int64) error {
	wait := retry.Closure(e.interval)
	for i := 0; i <= e.retries; i++ {
		wait(nil)
		if err := e.Lock(key, value); err == nil {
			return nil
		}
	}
	return ErrEagerLockFailed
}

// Lock ...
func (e *Lock) Lock(key string, value int64) error {
	e.register.Lock()
	defer e.register.Unlock()
	timeout, exist := e.register.m[key]
	if !exist || time.Now().UnixNano() > timeout {
		e.register.m[key] = value
		return nil
	}
	return ErrEagerLockFailed
}
