package input

import (
	"testing"

	"github.com/brensch/sf2bot/game"
)

func TestCaptureSamplesEveryButton(t *testing.T) {
	f := &Fake{}
	f.Press(game.Left, game.B, game.Start)

	bs := Capture(f)
	if !bs.Pressed(game.Left) || !bs.Pressed(game.B) || !bs.Pressed(game.Start) || bs.Count() != 3 {
		t.Fatalf("Capture=%v", bs)
	}

	f.Release(game.B)
	if bs2 := Capture(f); bs2.Pressed(game.B) || bs2.Count() != 2 {
		t.Fatalf("Capture after release=%v", bs2)
	}
}

func TestDefaultKeyMap(t *testing.T) {
	k := DefaultKeyMap()
	cases := map[string]game.Button{
		"z": game.B, "a": game.Y, "x": game.A, "s": game.X,
		"q": game.L, "w": game.R, "enter": game.Start, " ": game.Select,
		"UP": game.Up,
	}
	for key, want := range cases {
		got, ok := k.Lookup(key)
		if !ok || got != want {
			t.Fatalf("Lookup(%q)=%v,%v want %v", key, got, ok, want)
		}
	}
	if _, ok := k.Lookup("p"); ok {
		t.Fatalf("unmapped key resolved")
	}

	seen := map[game.Button]bool{}
	for _, b := range k {
		seen[b] = true
	}
	if len(seen) != game.NumButtons {
		t.Fatalf("default map covers %d buttons, want %d", len(seen), game.NumButtons)
	}
}

func TestParseKeyMap(t *testing.T) {
	k, err := ParseKeyMap(map[string]string{"J": "A", "k": "start"})
	if err != nil {
		t.Fatalf("ParseKeyMap: %v", err)
	}
	if b, ok := k.Lookup("j"); !ok || b != game.A {
		t.Fatalf("j -> %v,%v", b, ok)
	}
	if _, err := ParseKeyMap(map[string]string{"j": "turbo"}); err == nil {
		t.Fatalf("expected unknown button error")
	}
	if d := k.Describe(); d != "j=A k=start" {
		t.Fatalf("Describe=%q", d)
	}
}
