package game

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// The emulator script names fields tersely ("p1", "x", "move") while
// hand-written peers and test rigs tend to use the long names ("player1",
// "x_coord", "move_id"). Both are accepted; when a document carries both
// spellings the short one wins. Each player must carry health and an x
// position: a frame without them is rejected rather than read as zeros.

type wirePlayer struct {
	Character *float64 `json:"character"`
	PlayerID  *float64 `json:"player_id"`
	Health    *float64 `json:"health"`

	X      *float64 `json:"x"`
	XCoord *float64 `json:"x_coord"`
	Y      *float64 `json:"y"`
	YCoord *float64 `json:"y_coord"`

	Jumping     *flexBool `json:"jumping"`
	Jump        *flexBool `json:"jump"`
	IsJumping   *flexBool `json:"is_jumping"`
	Crouching   *flexBool `json:"crouching"`
	Crouch      *flexBool `json:"crouch"`
	IsCrouching *flexBool `json:"is_crouching"`
	InMove      *flexBool `json:"in_move"`
	IsInMove    *flexBool `json:"is_player_in_move"`

	Move   *float64 `json:"move"`
	MoveID *float64 `json:"move_id"`

	Buttons Buttons `json:"buttons"`
}

type wireState struct {
	Timer float64 `json:"timer"`

	P1      *wirePlayer `json:"p1"`
	Player1 *wirePlayer `json:"player1"`
	P2      *wirePlayer `json:"p2"`
	Player2 *wirePlayer `json:"player2"`

	Result          any       `json:"result"`
	FightResult     any       `json:"fight_result"`
	RoundStarted    *flexBool `json:"round_started"`
	HasRoundStarted *flexBool `json:"has_round_started"`
	RoundOver       *flexBool `json:"round_over"`
	IsRoundOver     *flexBool `json:"is_round_over"`
}

// flexBool decodes JSON booleans as well as 0/1 numbers.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*b = true
		return nil
	case "false", "null":
		*b = false
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected bool or number, got %s", data)
	}
	*b = n != 0
	return nil
}

var (
	errMissingPlayer = errors.New("missing player")
	errMissingField  = errors.New("missing field")
)

// DecodeState parses one inbound JSON document.
func DecodeState(data []byte) (*GameState, error) {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	p1 := firstPlayer(w.P1, w.Player1)
	if p1 == nil {
		return nil, fmt.Errorf("player1: %w", errMissingPlayer)
	}
	p2 := firstPlayer(w.P2, w.Player2)
	if p2 == nil {
		return nil, fmt.Errorf("player2: %w", errMissingPlayer)
	}

	player1, err := p1.player()
	if err != nil {
		return nil, fmt.Errorf("player1: %w", err)
	}
	player2, err := p2.player()
	if err != nil {
		return nil, fmt.Errorf("player2: %w", err)
	}

	state := &GameState{
		Timer:        int(w.Timer),
		Player1:      player1,
		Player2:      player2,
		RoundStarted: bool(pickBool(w.RoundStarted, w.HasRoundStarted)),
		RoundOver:    bool(pickBool(w.RoundOver, w.IsRoundOver)),
	}
	switch {
	case w.Result != nil:
		state.FightResult = fmt.Sprint(w.Result)
	case w.FightResult != nil:
		state.FightResult = fmt.Sprint(w.FightResult)
	}
	return state, nil
}

// EncodeState produces the long-name form of a state. Test rigs and the
// loopback emulator stub use it.
func EncodeState(s *GameState) ([]byte, error) {
	type player struct {
		PlayerID  int     `json:"player_id"`
		Health    int     `json:"health"`
		XCoord    float64 `json:"x_coord"`
		YCoord    float64 `json:"y_coord"`
		Jumping   bool    `json:"is_jumping"`
		Crouching bool    `json:"is_crouching"`
		InMove    bool    `json:"is_player_in_move"`
		MoveID    int     `json:"move_id"`
		Buttons   Buttons `json:"buttons"`
	}
	conv := func(p Player) player {
		return player{
			PlayerID: p.ID, Health: p.Health, XCoord: p.X, YCoord: p.Y,
			Jumping: p.Jumping, Crouching: p.Crouching, InMove: p.InMove,
			MoveID: p.MoveID, Buttons: p.Buttons,
		}
	}
	return json.Marshal(struct {
		Timer        int    `json:"timer"`
		Player1      player `json:"player1"`
		Player2      player `json:"player2"`
		RoundStarted bool   `json:"round_started"`
		RoundOver    bool   `json:"round_over"`
		FightResult  string `json:"fight_result,omitempty"`
	}{
		Timer:        s.Timer,
		Player1:      conv(s.Player1),
		Player2:      conv(s.Player2),
		RoundStarted: s.RoundStarted,
		RoundOver:    s.RoundOver,
		FightResult:  s.FightResult,
	})
}

func firstPlayer(ps ...*wirePlayer) *wirePlayer {
	for _, p := range ps {
		if p != nil {
			return p
		}
	}
	return nil
}

func pickFloat(vs ...*float64) float64 {
	for _, v := range vs {
		if v != nil {
			return *v
		}
	}
	return 0
}

func pickBool(vs ...*flexBool) flexBool {
	for _, v := range vs {
		if v != nil {
			return *v
		}
	}
	return false
}

func (w *wirePlayer) player() (Player, error) {
	if w.Health == nil {
		return Player{}, fmt.Errorf("health: %w", errMissingField)
	}
	if w.X == nil && w.XCoord == nil {
		return Player{}, fmt.Errorf("x: %w", errMissingField)
	}
	return Player{
		ID:        int(pickFloat(w.Character, w.PlayerID)),
		Health:    int(*w.Health),
		X:         pickFloat(w.X, w.XCoord),
		Y:         pickFloat(w.Y, w.YCoord),
		Jumping:   bool(pickBool(w.Jumping, w.Jump, w.IsJumping)),
		Crouching: bool(pickBool(w.Crouching, w.Crouch, w.IsCrouching)),
		InMove:    bool(pickBool(w.InMove, w.IsInMove)),
		MoveID:    int(pickFloat(w.Move, w.MoveID)),
		Buttons:   w.Buttons,
	}, nil
}
