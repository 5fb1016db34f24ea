package syncengine

import (
	"math/rand"
	"time"
)

const jitterFraction = 0.1

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

// backoffDelay doubles the base delay per failed attempt, capped at max.
// retryCount is the attempt counter after the failure being scheduled for.
func backoffDelay(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount < 1 {
		retryCount = 1
	}
	delay := base
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// withJitter spreads retries by up to ±10% so recovering terminals do not
// hammer the backend in lockstep.
func withJitter(d time.Duration) time.Duration {
	window := time.Duration(float64(d) * jitterFraction)
	if window <= 0 {
		return d
	}
	return d - window + time.Duration(jitterSource.Int63n(int64(2*window)))
}
