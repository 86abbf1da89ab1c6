package reader

import "time"

// ReconnectDelay returns the reconnect delay for the given retry count:
// min(base * 2^retry, max). Negative retry counts behave like zero and the
// doubling saturates at max, so arbitrarily large retry counts are safe.
func ReconnectDelay(retry int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	if retry < 0 {
		retry = 0
	}

	delay := base
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
