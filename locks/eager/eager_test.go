package eager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	lockiface "github.com/RichardKnop/dispatcher/locks/iface"
	"github.com/RichardKnop/dispatcher/utils"
)

func TestLock_Lock(t *testing.T) {
	lock := New()
	keyName := utils.GetPureUUID()

	err := lock.Lock(keyName, time.Now().Add(25*time.Second).UnixNano())
	assert.NoError(t, err)

	err = lock.Lock(keyName, time.Now().Add(25*time.Second).UnixNano())
	assert.EqualError(t, err, ErrEagerLockFailed.Error())
}

func TestLock_Expired(t *testing.T) {
	lock := New()
	keyName := utils.GetPureUUID()

	assert.NoError(t, lock.Lock(keyName, time.Now().Add(-time.Second).UnixNano()))
	assert.NoError(t, lock.Lock(keyName, time.Now().Add(25*time.Second).UnixNano()))
}

func TestLock_LockWithRetries(t *testing.T) {
	lock := NewWithRetries(2, time.Millisecond)
	keyName := utils.GetPureUUID()

	err := lock.LockWithRetries(keyName, time.Now().Add(25*time.Second).UnixNano())
	assert.NoError(t, err)

	err = lock.LockWithRetries(keyName, time.Now().Add(25*time.Second).UnixNano())
	assert.EqualError(t, err, ErrEagerLockFailed.Error())

	// the holder's lock expires while the second caller retries
	keyName = utils.GetPureUUID()
	assert.NoError(t, lock.Lock(keyName, time.Now().Add(time.Millisecond).UnixNano()))
	assert.NoError(t, lock.LockWithRetries(keyName, time.Now().Add(25*time.Second).UnixNano()))
}

func TestNew(t *testing.T) {
	lock := New()
	assert.Implements(t, (*lockiface.Lock)(nil), lock)
}
