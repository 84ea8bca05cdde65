package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GetPureUUID returns a random UUID without dashes
func GetPureUUID() string {
	return strings.Replace(uuid.New().String(), "-", "", -1)
}

// GetLockName returns the lock key guarding a periodic batch
func GetLockName(name, spec string) string {
	return name + spec
}
