package game

import "fmt"

// Seat selects which in-game player this process supplies input for.
type Seat int

const (
	Seat1 Seat = 1
	Seat2 Seat = 2
)

func ParseSeat(s string) (Seat, error) {
	switch s {
	case "1":
		return Seat1, nil
	case "2":
		return Seat2, nil
	}
	return 0, fmt.Errorf("invalid seat %q (want 1 or 2)", s)
}

func (s Seat) String() string { return fmt.Sprintf("%d", int(s)) }

// Command is the outbound message for one frame. Exactly one of the two
// fields is set; the other is omitted from the wire form.
type Command struct {
	PlayerButtons  *Buttons `json:"player_buttons,omitempty"`
	Player2Buttons *Buttons `json:"player2_buttons,omitempty"`
}

// NewCommand addresses buttons to seat. Any seat other than Seat2 maps to
// player one.
func NewCommand(seat Seat, buttons Buttons) Command {
	b := buttons
	if seat == Seat2 {
		return Command{Player2Buttons: &b}
	}
	return Command{PlayerButtons: &b}
}

// Buttons returns whichever button set the command carries.
func (c Command) Buttons() (Buttons, bool) {
	switch {
	case c.PlayerButtons != nil:
		return *c.PlayerButtons, true
	case c.Player2Buttons != nil:
		return *c.Player2Buttons, true
	}
	return Buttons{}, false
}
