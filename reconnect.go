package vosk

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// ReconnectPolicy decides how long a Participant waits before each reconnect attempt
// after its session was lost. A fresh backoff is requested for every outage.
type ReconnectPolicy interface {
	Backoff() retry.Backoff
}

// ReconnectPolicyFunc adapts a backoff factory to ReconnectPolicy.
type ReconnectPolicyFunc func() retry.Backoff

func (f ReconnectPolicyFunc) Backoff() retry.Backoff { return f() }

// ImmediateReconnect retries on the next audio frame with no delay.
func ImmediateReconnect() ReconnectPolicy {
	return ReconnectPolicyFunc(func() retry.Backoff {
		return retry.BackoffFunc(func() (time.Duration, bool) {
			return 0, false
		})
	})
}

// FixedDelayReconnect waits delay before every attempt.
func FixedDelayReconnect(delay time.Duration) ReconnectPolicy {
	if delay <= 0 {
		return ImmediateReconnect()
	}
	return ReconnectPolicyFunc(func() retry.Backoff {
		return retry.NewConstant(delay)
	})
}

// ExponentialReconnect doubles the delay from base up to max. maxRetries of zero
// means unlimited attempts.
func ExponentialReconnect(base, max time.Duration, maxRetries uint64) ReconnectPolicy {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return ReconnectPolicyFunc(func() retry.Backoff {
		b := retry.NewExponential(base)
		if max > 0 {
			b = retry.WithCappedDuration(max, b)
		}
		if maxRetries > 0 {
			b = retry.WithMaxRetries(maxRetries, b)
		}
		return b
	})
}

// ManualReconnect never reconnects on its own; the caller drives recovery with
// Participant.Reconnect.
func ManualReconnect() ReconnectPolicy {
	return ReconnectPolicyFunc(func() retry.Backoff {
		return retry.BackoffFunc(func() (time.Duration, bool) {
			return 0, true
		})
	})
}
