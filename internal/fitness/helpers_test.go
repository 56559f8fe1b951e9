package fitness_test

import (
	"fmt"
	"time"

	"github.com/2beens/fitsense/internal/fitness"
)

var testNow = time.Date(2024, 3, 14, 18, 30, 0, 0, time.UTC)

// stubRand returns the queued values in order, wrapping around
type stubRand struct {
	values []int
	calls  int
}

func (r *stubRand) Intn(n int) int {
	v := r.values[r.calls%len(r.values)]
	r.calls++
	return v % n
}

func newTestEngine(randValues ...int) *fitness.Engine {
	if len(randValues) == 0 {
		randValues = []int{0}
	}
	idCounter := 0
	return &fitness.Engine{
		Now: func() time.Time {
			return testNow
		},
		NewID: func() string {
			idCounter++
			return fmt.Sprintf("id-%d", idCounter)
		},
		Rand: &stubRand{values: randValues},
	}
}
