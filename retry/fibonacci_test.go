package retry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/RichardKnop/dispatcher/retry"
)

func TestFibonacci(t *testing.T) {
	fibonacci := retry.Fibonacci()

	sequence := []int{
		fibonacci(),
		fibonacci(),
		fibonacci(),
		fibonacci(),
		fibonacci(),
		fibonacci(),
	}

	assert.EqualValues(t, sequence, []int{1, 1, 2, 3, 5, 8})
}

func TestFibonacciNext(t *testing.T) {
	assert.Equal(t, 1, retry.FibonacciNext(0))
	assert.Equal(t, 2, retry.FibonacciNext(1))
	assert.Equal(t, 5, retry.FibonacciNext(3))
	assert.Equal(t, 5, retry.FibonacciNext(4))
	assert.Equal(t, 8, retry.FibonacciNext(5))
	assert.Equal(t, 13, retry.FibonacciNext(8))
}

func TestClosure(t *testing.T) {
	wait := retry.Closure(10 * time.Millisecond)
	stopChan := make(chan struct{})

	start := time.Now()
	assert.True(t, wait(stopChan))
	assert.True(t, wait(stopChan))
	assert.True(t, wait(stopChan))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	close(stopChan)
	assert.False(t, wait(stopChan))
}
