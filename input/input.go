// Package input abstracts "which logical buttons is the human holding right
// now". The terminal implementation lives in package console; Fake is for
// tests.
package input

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/brensch/sf2bot/game"
)

// Source reports whether a logical button is currently held. Implementations
// must not block.
type Source interface {
	Held(b game.Button) bool
}

// Capture samples every button once into a fresh Buttons value.
func Capture(src Source) game.Buttons {
	var bs game.Buttons
	for _, b := range game.AllButtons {
		bs[b] = src.Held(b)
	}
	return bs
}

// KeyMap maps key names, as the terminal reports them, to buttons.
type KeyMap map[string]game.Button

// DefaultKeyMap is the layout the dataset recordings were made with.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		"up":    game.Up,
		"down":  game.Down,
		"left":  game.Left,
		"right": game.Right,
		"z":     game.B,
		"a":     game.Y,
		"x":     game.A,
		"s":     game.X,
		"q":     game.L,
		"w":     game.R,
		"enter": game.Start,
		"space": game.Select,
	}
}

// ParseKeyMap builds a KeyMap from key → button-name pairs.
func ParseKeyMap(m map[string]string) (KeyMap, error) {
	out := make(KeyMap, len(m))
	for key, name := range m {
		b, err := game.ParseButton(name)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		out[strings.ToLower(key)] = b
	}
	return out, nil
}

// Lookup resolves a key name. Terminals report the space bar as " ".
func (k KeyMap) Lookup(key string) (game.Button, bool) {
	if key == " " {
		key = "space"
	}
	b, ok := k[strings.ToLower(key)]
	return b, ok
}

// Describe lists the bindings sorted by button, for the console help line.
func (k KeyMap) Describe() string {
	keys := make([]string, 0, len(k))
	for key := range k {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if k[keys[i]] != k[keys[j]] {
			return k[keys[i]] < k[keys[j]]
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+k[key].String())
	}
	return strings.Join(parts, " ")
}

// Fake is a Source whose held set is controlled directly.
type Fake struct {
	mu   sync.Mutex
	held game.Buttons

	Closed int
}

func (f *Fake) Held(b game.Button) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[b]
}

func (f *Fake) Press(bs ...game.Button) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range bs {
		f.held[b] = true
	}
}

func (f *Fake) Release(bs ...game.Button) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range bs {
		f.held[b] = false
	}
}

// Close counts calls so tests can check release-once behaviour.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed++
	return nil
}
