package app

import (
	"math/rand"
	"sync"
	"time"
)

// Random draws uniform integers in [0, n).
type Random interface {
	Intn(n int) int
}

type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandom returns a goroutine-safe Random seeded from the clock.
func NewRandom() Random {
	return &lockedRand{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}
