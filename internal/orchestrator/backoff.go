package orchestrator

import (
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with half jitter. The jittered
// delay for attempt N lives in [2^(N-1)*Base/2, 2^(N-1)*Base], so the
// interval after attempt N+1 is never shorter than the one after attempt N.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if d > b.Cap {
		d = b.Cap
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// NextRetryAt returns the wall-clock time of the next attempt after
// attemptCount attempts have completed.
func (b Backoff) NextRetryAt(attemptCount int) *time.Time {
	t := time.Now().UTC().Add(b.Delay(attemptCount))
	return &t
}
