// internal/inference/pool.go
package inference

import (
	"context"
	"errors"
)

// Pool hands out independent agents one caller at a time, so each volume is
// segmented by exactly one agent while different volumes proceed in parallel.
type Pool struct {
	agents chan *Agent
	all    []*Agent
}

// NewPool creates a pool over agents. Agents must not share a backend unless
// that backend is safe for concurrent use.
func NewPool(agents ...*Agent) (*Pool, error) {
	if len(agents) == 0 {
		return nil, errors.New("pool needs at least one agent")
	}
	p := &Pool{
		agents: make(chan *Agent, len(agents)),
		all:    agents,
	}
	for _, a := range agents {
		if a == nil {
			return nil, errors.New("pool agent is nil")
		}
		p.agents <- a
	}
	return p, nil
}

// Size returns the number of agents in the pool.
func (p *Pool) Size() int {
	return len(p.all)
}

// Agent returns one of the pool's agents for read-only inspection of its configuration.
func (p *Pool) Agent() *Agent {
	return p.all[0]
}

// Do runs fn with an agent reserved for the duration of the call.
// It blocks until an agent is free or ctx is done.
func (p *Pool) Do(ctx context.Context, fn func(*Agent) error) error {
	var a *Agent
	select {
	case a = <-p.agents:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { p.agents <- a }()

	return fn(a)
}

// Close closes every agent's backend.
func (p *Pool) Close() error {
	var errs []error
	for _, a := range p.all {
		errs = append(errs, a.backend.Close())
	}
	return errors.Join(errs...)
}
