package settlement

import (
	"context"
	"errors"
	"math/rand"
	"sync"
)

// Outcome is one possible stub answer and its relative weight.
type Outcome struct {
	Response Response
	Weight   float64
}

// DefaultOutcomes mirrors a mostly healthy processor: success, two processor
// failures and an empty answer.
var DefaultOutcomes = []Outcome{
	{Response: Response{Status: 200, Data: "success"}, Weight: 0.9},
	{Response: Response{Status: 503, Data: "failed"}, Weight: 0.033},
	{Response: Response{Status: 400, Data: "failed"}, Weight: 0.033},
	{Response: Response{}, Weight: 0.033},
}

var ErrNoOutcomes = errors.New("settlement stub needs at least one outcome with positive weight")

// Stub answers offline with a response drawn from a weighted distribution.
// Seed the source for reproducible sequences.
type Stub struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	outcomes []Outcome
	total    float64
}

func NewStub(outcomes []Outcome, src rand.Source) (*Stub, error) {
	var total float64
	kept := make([]Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Weight > 0 {
			kept = append(kept, o)
			total += o.Weight
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoOutcomes
	}
	return &Stub{rnd: rand.New(src), outcomes: kept, total: total}, nil
}

func (s *Stub) Settle(context.Context, Request) Response {
	s.mu.Lock()
	x := s.rnd.Float64() * s.total
	s.mu.Unlock()
	for _, o := range s.outcomes {
		if x < o.Weight {
			return o.Response
		}
		x -= o.Weight
	}
	return s.outcomes[len(s.outcomes)-1].Response
}
