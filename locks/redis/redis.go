package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RichardKnop/dispatcher/config"
	"github.com/RichardKnop/dispatcher/retry"
)

var (
	// ErrRedisLockFailed ...
	ErrRedisLockFailed = errors.New("redis lock: failed to acquire lock")
)

// Lock is shared by every dispatcher pointing at the same Redis
type Lock struct {
	rclient  redis.UniversalClient
	retries  int
	interval time.Duration
}

// New creates Lock instance
func New(cnf *config.Config, addrs []string, db, retries int) Lock {
	lock := Lock{retries: retries, interval: time.Second}

	var password string
	parts := strings.Split(addrs[0], "@")
	if len(parts) >= 2 {
		password = strings.Join(parts[:len(parts)-1], "@")
		addrs[0] = parts[len(parts)-1] // addr is the last one without @
	}

	ropt := &redis.UniversalOptions{
		Addrs:    addrs,
		DB:       db,
		Password: password,
	}
	if cnf.Redis != nil {
		ropt.MasterName = cnf.Redis.MasterName
	}
	if cnf.TLSConfig != nil {
		ropt.TLSConfig = cnf.TLSConfig
	}

	lock.rclient = redis.NewUniversalClient(ropt)

	return lock
}

// LockWithRetries tries to lock with retries
func (r Lock) LockWithRetries(key string, value int64) error {
	wait := retry.Closure(r.interval)
	for i := 0; i <= r.retries; i++ {
		wait(nil)
		err := r.Lock(key, value)
		if err == nil {
			return nil
		}
		if err != ErrRedisLockFailed {
			return err
		}
	}
	return ErrRedisLockFailed
}

// Lock sets key unless it is already held. The key expires at value, so a
// dispatcher that dies holding the lock does not block the others forever.
func (r Lock) Lock(key string, value int64) error {
	expiration := time.Until(time.Unix(0, value))
	if expiration < time.Millisecond {
		expiration = time.Millisecond
	}

	success, err := r.rclient.SetNX(context.Background(), key, value, expiration).Result()
	if err != nil {
		return err
	}
	if !success {
		return ErrRedisLockFailed
	}
	return nil
}
