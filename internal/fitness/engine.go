package fitness

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// RandSource is the subset of *rand.Rand used by the form analysis.
type RandSource interface {
	Intn(n int) int
}

// Engine runs the state transitions that need a clock, fresh ids or randomness.
// Each collaborator is a field so tests can pin it.
type Engine struct {
	Now   func() time.Time
	NewID func() string
	Rand  RandSource
}

// NewEngine creates an engine with a math/rand source seeded with seed;
// a zero seed means a time based one.
func NewEngine(seed int64) *Engine {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Engine{
		Now:   time.Now,
		NewID: uuid.NewString,
		Rand:  rand.New(rand.NewSource(seed)),
	}
}
