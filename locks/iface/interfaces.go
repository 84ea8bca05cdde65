package iface

// Lock guards work that must run once across several dispatchers
type Lock interface {
	// LockWithRetries acquires the lock, retrying a few times.
	// key: the name of the lock,
	// value: the nanosecond timestamp at which the lock is released automatically
	LockWithRetries(key string, value int64) error

	// Lock acquires the lock once.
	// key: the name of the lock,
	// value: the nanosecond timestamp at which the lock is released automatically
	Lock(key string, value int64) error
}
