package retry

import (
	"time"

	"github.com/RichardKnop/dispatcher/log"
)

// Closure returns a func that waits before the next attempt. The first call
// returns at once, later calls wait a Fibonacci number of units. A closed
// stopChan cuts the wait short and makes the func return false.
func Closure(unit time.Duration) func(stopChan <-chan struct{}) bool {
	retryIn := 0
	fibonacci := Fibonacci()
	return func(stopChan <-chan struct{}) bool {
		if retryIn > 0 {
			duration := time.Duration(retryIn) * unit
			log.DEBUG.Printf("Retrying in %v", duration)

			select {
			case <-stopChan:
				return false
			case <-time.After(duration):
			}
		}
		retryIn = fibonacci()
		return true
	}
}
