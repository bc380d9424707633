// Package features turns a frame snapshot into the fixed 21-column vector the
// scaler and classifier were fit on.
//
// Column order is positional all the way through scaling and inference, so
// Names and Extract must never be reordered independently.
package features

import "github.com/brensch/sf2bot/game"

const Size = 21

// Names is the column table, in vector order.
var Names = [Size]string{
	"timer",
	"p1_id", "p1_health", "p1_x", "p1_y", "p1_jumping", "p1_crouching", "p1_in_move", "p1_move_id",
	"p2_id", "p2_health", "p2_x", "p2_y", "p2_jumping", "p2_crouching", "p2_in_move", "p2_move_id",
	"p1_rel_x", "p1_rel_y", "p1_facing_opponent", "p1_health_diff",
}

// Column indexes of the derived fields.
const (
	RelX           = 17
	RelY           = 18
	FacingOpponent = 19
	HealthDiff     = 20
)

type Vector [Size]float64

// Extract is pure: the same state always yields the same vector.
func Extract(s *game.GameState) Vector {
	p1, p2 := s.Player1, s.Player2
	relX := p1.X - p2.X

	return Vector{
		float64(s.Timer),
		float64(p1.ID), float64(p1.Health), p1.X, p1.Y,
		boolToFloat(p1.Jumping), boolToFloat(p1.Crouching), boolToFloat(p1.InMove), float64(p1.MoveID),
		float64(p2.ID), float64(p2.Health), p2.X, p2.Y,
		boolToFloat(p2.Jumping), boolToFloat(p2.Crouching), boolToFloat(p2.InMove), float64(p2.MoveID),
		relX,
		p1.Y - p2.Y,
		boolToFloat(relX < 0),
		float64(p1.Health - p2.Health),
	}
}

// Float32 converts the vector into a model input row.
func (v Vector) Float32() []float32 {
	out := make([]float32, Size)
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// Map returns the vector keyed by column name, for logs and telemetry.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, Size)
	for i, name := range Names {
		m[name] = v[i]
	}
	return m
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
