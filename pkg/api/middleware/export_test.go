package middleware

import "time"

func (rl *RateLimiter) Take(clientID string, now time.Time) (bool, time.Duration) {
	return rl.take(clientID, now)
}
