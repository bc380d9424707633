// Package console is the terminal front end for human recording sessions:
// it turns key presses into held buttons and shows a one-screen status.
//
// Terminals report key presses (and auto-repeats), never releases. A button
// counts as held for Hold after the last press or repeat of any key bound to
// it, so a held key reads as continuously held once auto-repeat kicks in.
package console

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"

	"github.com/brensch/sf2bot/game"
	"github.com/brensch/sf2bot/input"
	"github.com/brensch/sf2bot/session"
)

const DefaultHold = 300 * time.Millisecond

var ErrNotTerminal = errors.New("stdin is not a terminal; keyboard capture needs an interactive console")

type Options struct {
	Title  string
	Keys   input.KeyMap
	Hold   time.Duration
	Input  io.Reader
	Output io.Writer
	// OnInterrupt runs when ctrl+c is pressed. Raw mode swallows SIGINT,
	// so this is the only way the operator can stop a recording.
	OnInterrupt func()
	// Headless skips the renderer. Used by tests.
	Headless bool
}

// Status is the snapshot shown on screen.
type Status struct {
	Phase   string
	Frames  int64
	Elapsed time.Duration
	Source  string
	Pressed game.Buttons
	P1      int
	P2      int
}

// Console implements input.Source and session.Observer.
type Console struct {
	keys        input.KeyMap
	hold        time.Duration
	now         func() time.Time
	onInterrupt func()

	mu       sync.Mutex
	lastSeen [game.NumButtons]time.Time
	status   Status

	p         *tea.Program
	done      chan struct{}
	runErr    error
	closeOnce sync.Once
}

// Start launches the console's event loop. With no explicit Input it reads
// stdin, which must be a terminal.
func Start(opts Options) (*Console, error) {
	in := opts.Input
	if in == nil {
		if !term.IsTerminal(os.Stdin.Fd()) {
			return nil, ErrNotTerminal
		}
		in = os.Stdin
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	c := newConsole(opts)
	progOpts := []tea.ProgramOption{
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithoutSignalHandler(),
	}
	if opts.Headless {
		progOpts = append(progOpts, tea.WithoutRenderer())
	}
	c.p = tea.NewProgram(newModel(c, opts.Title), progOpts...)
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		if _, err := c.p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			c.runErr = err
		}
	}()
	return c, nil
}

func newConsole(opts Options) *Console {
	keys := opts.Keys
	if keys == nil {
		keys = input.DefaultKeyMap()
	}
	hold := opts.Hold
	if hold <= 0 {
		hold = DefaultHold
	}
	return &Console{
		keys:        keys,
		hold:        hold,
		now:         time.Now,
		onInterrupt: opts.OnInterrupt,
		status:      Status{Phase: session.Connecting.String()},
	}
}

func (c *Console) Held(b game.Button) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := c.lastSeen[b]
	return !seen.IsZero() && c.now().Sub(seen) < c.hold
}

// press marks b as seen now and reports whether the key was bound.
func (c *Console) press(key string) bool {
	b, ok := c.keys.Lookup(key)
	if !ok {
		return false
	}
	c.mu.Lock()
	c.lastSeen[b] = c.now()
	c.mu.Unlock()
	return true
}

// ObservePhase shows session phase changes, so the last screen left on the
// terminal reads "terminated".
func (c *Console) ObservePhase(p session.Phase) {
	c.mu.Lock()
	c.status.Phase = p.String()
	c.mu.Unlock()
}

// ObserveFrame updates the status snapshot. The screen picks it up on its
// next tick, so this never blocks the frame loop.
func (c *Console) ObserveFrame(f session.Frame) {
	c.mu.Lock()
	c.status = Status{
		Phase:   session.Running.String(),
		Frames:  f.Index,
		Elapsed: f.Elapsed,
		Source:  f.Action.Source,
		Pressed: f.Action.Buttons,
		P1:      f.State.Player1.Health,
		P2:      f.State.Player2.Health,
	}
	c.mu.Unlock()
}

func (c *Console) snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close stops the event loop and restores the terminal. Safe to call more
// than once.
func (c *Console) Close() error {
	c.closeOnce.Do(func() {
		if c.p == nil {
			return
		}
		c.p.Quit()
		select {
		case <-c.done:
		case <-time.After(time.Second):
			c.p.Kill()
			<-c.done
		}
	})
	return c.runErr
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	heldStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	helpStyle  = lipgloss.NewStyle().Faint(true)
)

type model struct {
	c      *Console
	title  string
	status Status
	held   game.Buttons
}

func newModel(c *Console, title string) model {
	if title == "" {
		title = "sf2bot"
	}
	return model{c: c, title: title, status: c.snapshot()}
}

func (m model) Init() tea.Cmd { return tickCmd() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			if m.c.onInterrupt != nil {
				m.c.onInterrupt()
			}
			return m, tea.Quit
		}
		m.c.press(msg.String())
		m.held = input.Capture(m.c)
		return m, nil
	case tickMsg:
		m.status = m.c.snapshot()
		m.held = input.Capture(m.c)
		return m, tickCmd()
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	st := m.status
	fmt.Fprintf(&b, "%s %s   %s %d   %s %s\n",
		labelStyle.Render("phase"), st.Phase,
		labelStyle.Render("frames"), st.Frames,
		labelStyle.Render("elapsed"), st.Elapsed.Round(time.Second),
	)
	if st.Source != "" {
		fmt.Fprintf(&b, "%s %s   %s %d vs %d\n",
			labelStyle.Render("source"), st.Source,
			labelStyle.Render("health"), st.P1, st.P2,
		)
	}

	fmt.Fprintf(&b, "%s %s\n\n", labelStyle.Render("held"), heldStyle.Render(m.held.String()))
	b.WriteString(helpStyle.Render(m.c.keys.Describe() + "   ctrl+c stop"))
	b.WriteString("\n")
	return b.String()
}
