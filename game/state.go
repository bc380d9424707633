// Package game defines the per-frame types exchanged with the emulator.
//
// A GameState is decoded once per received frame and treated as read-only
// for the rest of that frame. Buttons and Command flow the other way: the
// agent fills a fresh Buttons value every frame and wraps it in a Command
// addressed to the seat this process controls.
package game

// Player is one fighter as reported by the emulator.
// Coordinates are arena-relative.
type Player struct {
	ID        int
	Health    int
	X         float64
	Y         float64
	Jumping   bool
	Crouching bool
	InMove    bool
	MoveID    int

	// Buttons is what the emulator reports this player as holding.
	Buttons Buttons
}

// GameState is a single frame snapshot.
type GameState struct {
	Timer   int
	Player1 Player
	Player2 Player

	// Round bookkeeping; decoded when the emulator sends it.
	RoundStarted bool
	RoundOver    bool
	FightResult  string
}
