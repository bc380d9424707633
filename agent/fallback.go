package agent

import (
	"math"

	"github.com/brensch/sf2bot/game"
)

const (
	// ApproachDistance is the horizontal gap above which the heuristic walks
	// toward the opponent instead of attacking.
	ApproachDistance = 50
	JumpChance       = 0.1
)

// Rand is the random source the heuristic draws from. *rand.Rand satisfies
// it; tests script it.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// Fallback is the stateless heuristic: close the distance, occasionally
// jumping, then mash a random face button once in range.
func (e *Engine) Fallback(state *game.GameState) game.Buttons {
	return Heuristic(state, e.rng)
}

func Heuristic(state *game.GameState, rng Rand) game.Buttons {
	var bs game.Buttons
	p1, p2 := state.Player1, state.Player2

	if math.Abs(p1.X-p2.X) > ApproachDistance {
		if p1.X < p2.X {
			bs.Set(game.Right, true)
		} else {
			bs.Set(game.Left, true)
		}
		if rng.Float64() < JumpChance {
			bs.Set(game.Up, true)
		}
		return bs
	}

	bs.Set(game.AttackButtons[rng.Intn(len(game.AttackButtons))], true)
	return bs
}
