package config

import (
	"math/rand/v2"
	"time"
)

// backoff doubles up to watchBackoffMax and adds up to 50% jitter.
type backoff struct {
	cur time.Duration
}

func (b *backoff) next() time.Duration {
	wait := b.cur + rand.N(b.cur/2+1)
	b.cur = min(b.cur*2, watchBackoffMax)
	return wait
}

func (b *backoff) reset() { b.cur = watchBackoffBase }
