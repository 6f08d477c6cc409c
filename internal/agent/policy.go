package agent

import (
	"math/rand"
	"sync"

	"gridworld.ai/internal/sim/grid"
)

// Policy picks the next destination among the path neighbours of from.
// With no options it must return from.
type Policy interface {
	Choose(from grid.Pos, options []grid.Pos) grid.Pos
}

type PolicyFunc func(from grid.Pos, options []grid.Pos) grid.Pos

func (f PolicyFunc) Choose(from grid.Pos, options []grid.Pos) grid.Pos { return f(from, options) }

// Stay never moves.
type Stay struct{}

func (Stay) Choose(from grid.Pos, _ []grid.Pos) grid.Pos { return from }

// RandomWalk picks a uniformly random neighbour.
type RandomWalk struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRandomWalk(seed int64) *RandomWalk {
	return &RandomWalk{r: rand.New(rand.NewSource(seed))}
}

func (p *RandomWalk) Choose(from grid.Pos, options []grid.Pos) grid.Pos {
	if len(options) == 0 {
		return from
	}
	p.mu.Lock()
	i := p.r.Intn(len(options))
	p.mu.Unlock()
	return options[i]
}
