package queue

import "time"

type Policy struct {
	Queue       string
	MaxAttempts int
	BackoffBase time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Queue: "GameAI", MaxAttempts: 3, BackoffBase: 2 * time.Second}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Queue == "" {
		p.Queue = d.Queue
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = d.BackoffBase
	}
	return p
}

// Backoff is the delay before retrying after the given failed attempt
// (1-based): base, 2*base, 4*base, ...
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return base * time.Duration(1<<(attempt-1))
}
