package classifier

// DefaultBreakerThreshold disables a stage after this many consecutive
// failures within one job run.
const DefaultBreakerThreshold = 3

// Breaker tracks consecutive failures for one classification stage within a
// single job run. Once tripped it stays open for the remainder of the run.
// It is used from the job's worker goroutine only and needs no locking.
type Breaker struct {
	threshold   int
	consecutive int
	open        bool
}

// NewBreaker constructs a Breaker; threshold <= 0 uses the default.
func NewBreaker(threshold int) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	return &Breaker{threshold: threshold}
}

// Allow reports whether the stage should still be attempted.
func (b *Breaker) Allow() bool {
	return !b.open
}

// Record feeds one call outcome into the breaker and reports whether this
// outcome tripped it.
func (b *Breaker) Record(ok bool) bool {
	if b.open {
		return false
	}
	if ok {
		b.consecutive = 0
		return false
	}
	b.consecutive++
	if b.consecutive >= b.threshold {
		b.open = true
		return true
	}
	return false
}

// Tripped reports whether the stage has been disabled.
func (b *Breaker) Tripped() bool { return b.open }
