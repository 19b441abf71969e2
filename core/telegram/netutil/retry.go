// Package netutil classifies outbound Bot API failures.
package netutil

import (
	"errors"
	"time"

	tele "gopkg.in/telebot.v4"
)

// ShouldRetry reports whether err is a transient failure worth another attempt:
// timeouts, dial and resolver errors, and Telegram flood control.
func ShouldRetry(err error) bool {
	return Classify(err).Transient()
}

// RetryAfter returns the wait Telegram asked for in a flood error.
func RetryAfter(err error) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) && flood.RetryAfter > 0 {
		return time.Duration(flood.RetryAfter) * time.Second, true
	}
	return 0, false
}
