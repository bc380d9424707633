package game

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Button identifies one of the 12 controller inputs.
//
// The constant order is the classifier's output order:
// up, down, left, right, A, B, X, Y, L, R, select, start.
type Button int

const (
	Up Button = iota
	Down
	Left
	Right
	A
	B
	X
	Y
	L
	R
	Select
	Start

	NumButtons = 12
)

var buttonNames = [NumButtons]string{
	Up:     "up",
	Down:   "down",
	Left:   "left",
	Right:  "right",
	A:      "A",
	B:      "B",
	X:      "X",
	Y:      "Y",
	L:      "L",
	R:      "R",
	Select: "select",
	Start:  "start",
}

// AllButtons lists every button in model order.
var AllButtons = [NumButtons]Button{Up, Down, Left, Right, A, B, X, Y, L, R, Select, Start}

// AttackButtons are the four face buttons.
var AttackButtons = [4]Button{A, B, X, Y}

func (b Button) String() string {
	if b < 0 || int(b) >= NumButtons {
		return fmt.Sprintf("button(%d)", int(b))
	}
	return buttonNames[b]
}

// ParseButton resolves a button by wire name. Matching is case-insensitive
// for the direction and system buttons and exact for the face buttons.
func ParseButton(name string) (Button, error) {
	for i, n := range buttonNames {
		if n == name {
			return Button(i), nil
		}
	}
	lower := strings.ToLower(name)
	for _, b := range []Button{Up, Down, Left, Right, Select, Start} {
		if buttonNames[b] == lower {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown button %q", name)
}

// Buttons is the pressed/released state of all 12 inputs. The zero value
// has every button released.
type Buttons [NumButtons]bool

func (bs *Buttons) Set(b Button, pressed bool) { bs[b] = pressed }

func (bs Buttons) Pressed(b Button) bool { return bs[b] }

// Count returns how many buttons are pressed.
func (bs Buttons) Count() int {
	n := 0
	for _, p := range bs {
		if p {
			n++
		}
	}
	return n
}

// Names returns the names of the pressed buttons in model order.
func (bs Buttons) Names() []string {
	out := make([]string, 0, bs.Count())
	for i, p := range bs {
		if p {
			out = append(out, buttonNames[i])
		}
	}
	return out
}

func (bs Buttons) String() string {
	if bs.Count() == 0 {
		return "-"
	}
	return strings.Join(bs.Names(), "+")
}

// wireButtons fixes the JSON shape: 12 named booleans, always present.
type wireButtons struct {
	Up     bool `json:"up"`
	Down   bool `json:"down"`
	Left   bool `json:"left"`
	Right  bool `json:"right"`
	A      bool `json:"A"`
	B      bool `json:"B"`
	X      bool `json:"X"`
	Y      bool `json:"Y"`
	L      bool `json:"L"`
	R      bool `json:"R"`
	Select bool `json:"select"`
	Start  bool `json:"start"`
}

func (bs Buttons) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireButtons{
		Up: bs[Up], Down: bs[Down], Left: bs[Left], Right: bs[Right],
		A: bs[A], B: bs[B], X: bs[X], Y: bs[Y],
		L: bs[L], R: bs[R], Select: bs[Select], Start: bs[Start],
	})
}

// UnmarshalJSON accepts both the lower-case wire names and the capitalised
// names some emulator scripts use ("Up", "Select", ...). Unknown keys are
// ignored.
func (bs *Buttons) UnmarshalJSON(data []byte) error {
	var raw map[string]flexBool
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Buttons
	for k, v := range raw {
		b, err := ParseButton(k)
		if err != nil {
			continue
		}
		if v {
			out[b] = true
		}
	}
	*bs = out
	return nil
}
