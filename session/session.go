// Package session runs one connection's frame loop: receive a state, decide,
// optionally record, send the command back, until something ends the session.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/brensch/sf2bot/game"
	"github.com/brensch/sf2bot/transport"
)

// DefaultProgressEvery is how many frames pass between progress lines.
const DefaultProgressEvery = 120

type Phase int32

const (
	Connecting Phase = iota
	Running
	Terminated
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Reason says why a session terminated.
type Reason int

const (
	ReasonNone Reason = iota
	ConnectionLost
	SendFailed
	TimeLimitReached
	UserInterrupted
	RecordFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ConnectionLost:
		return "connection_lost"
	case SendFailed:
		return "send_failed"
	case TimeLimitReached:
		return "time_limit_reached"
	case UserInterrupted:
		return "user_interrupted"
	case RecordFailed:
		return "record_failed"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Action is what the actor wants pressed this frame. Source is a short label
// ("model", "fallback", "human") carried into logs and telemetry.
type Action struct {
	Buttons game.Buttons
	Source  string
}

// Actor picks the buttons for a frame.
type Actor interface {
	Act(state *game.GameState) Action
}

type ActorFunc func(state *game.GameState) Action

func (f ActorFunc) Act(state *game.GameState) Action { return f(state) }

// Channel is one accepted connection. Implementations that also have an
// Interrupt() method get it called when the context is cancelled, so a
// blocked Receive returns promptly.
type Channel interface {
	Receive() (*game.GameState, error)
	Send(cmd game.Command) error
	Close() error
}

type interrupter interface {
	Interrupt()
}

// Acceptor produces the session's single channel.
type Acceptor interface {
	Accept(ctx context.Context) (Channel, error)
}

type listenerAcceptor struct {
	l       *transport.Listener
	timeout time.Duration
}

// FromListener adapts a transport listener. Accepted connections get the
// given receive timeout; zero keeps the transport default.
func FromListener(l *transport.Listener, receiveTimeout time.Duration) Acceptor {
	return &listenerAcceptor{l: l, timeout: receiveTimeout}
}

func (a *listenerAcceptor) Accept(ctx context.Context) (Channel, error) {
	c, err := a.l.Accept(ctx)
	if err != nil {
		return nil, err
	}
	if a.timeout > 0 {
		c.SetReceiveTimeout(a.timeout)
	}
	return c, nil
}

// Recorder persists (state, buttons) pairs.
type Recorder interface {
	Record(state *game.GameState, buttons game.Buttons) error
}

// Frame is what observers see after each completed iteration.
type Frame struct {
	SessionID string
	Index     int64
	Elapsed   time.Duration
	State     *game.GameState
	Action    Action
}

// Observer is notified synchronously after every sent command. It must not
// block.
type Observer interface {
	ObserveFrame(f Frame)
}

// PhaseObserver is implemented by observers that also want phase changes.
// Terminated is delivered before owned resources are released.
type PhaseObserver interface {
	ObservePhase(p Phase)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Config struct {
	Seat game.Seat
	// Duration caps the running phase. Zero or less runs until the
	// connection ends or the operator cancels.
	Duration      time.Duration
	ProgressEvery int64
}

type Option func(*Session)

func WithClock(c Clock) Option { return func(s *Session) { s.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.log = l } }

func WithRecorder(r Recorder) Option { return func(s *Session) { s.recorder = r } }

func WithObserver(o Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, o) }
}

// Result is the session's final report.
type Result struct {
	ID      string
	Reason  Reason
	Frames  int64
	Started time.Time
	Ended   time.Time
	// Err is the failure behind the reason, joined with any release errors.
	Err error
}

func (r Result) Duration() time.Duration { return r.Ended.Sub(r.Started) }

type ownedCloser struct {
	name string
	c    io.Closer
}

type Session struct {
	id        ksuid.KSUID
	cfg       Config
	actor     Actor
	recorder  Recorder
	observers []Observer
	clock     Clock
	log       *slog.Logger

	phase  atomic.Int32
	frames atomic.Int64

	mu          sync.Mutex
	owned       []ownedCloser
	releaseOnce sync.Once
	releaseErr  error
}

func New(cfg Config, actor Actor, opts ...Option) *Session {
	if cfg.Seat == 0 {
		cfg.Seat = game.Seat1
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	s := &Session{
		id:    ksuid.New(),
		cfg:   cfg,
		actor: actor,
		clock: systemClock{},
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session", s.id.String())
	return s
}

func (s *Session) ID() string { return s.id.String() }

func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

// Frames is safe to read from other goroutines while the session runs.
func (s *Session) Frames() int64 { return s.frames.Load() }

// Own hands c to the session. Everything owned is closed exactly once when
// the session terminates, most recently acquired first.
func (s *Session) Own(name string, c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owned = append(s.owned, ownedCloser{name: name, c: c})
}

// Run accepts a connection and drives frames until a termination reason
// occurs. It never returns an error of its own; failures are in Result.
func (s *Session) Run(ctx context.Context, acceptor Acceptor) Result {
	res := Result{ID: s.id.String()}
	s.setPhase(Connecting)
	s.log.Info("waiting for emulator", "seat", s.cfg.Seat.String())

	ch, err := acceptor.Accept(ctx)
	if err != nil {
		res.Started = s.clock.Now()
		if ctx.Err() != nil {
			res.Reason = UserInterrupted
		} else {
			res.Reason = ConnectionLost
			res.Err = fmt.Errorf("accept: %w", err)
		}
		return s.finish(res)
	}
	s.Own("connection", ch)

	if in, ok := ch.(interrupter); ok {
		stop := context.AfterFunc(ctx, in.Interrupt)
		defer stop()
	}

	res.Started = s.clock.Now()
	s.setPhase(Running)
	s.log.Info("emulator connected", "duration", s.cfg.Duration)

	res.Reason, res.Err = s.loop(ctx, ch, res.Started)
	return s.finish(res)
}

func (s *Session) loop(ctx context.Context, ch Channel, started time.Time) (Reason, error) {
	for {
		if ctx.Err() != nil {
			return UserInterrupted, nil
		}
		elapsed := s.clock.Now().Sub(started)
		if s.cfg.Duration > 0 && elapsed >= s.cfg.Duration {
			return TimeLimitReached, nil
		}

		state, err := ch.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return UserInterrupted, nil
			}
			s.log.Warn("emulator connection lost", "cause", lossCause(err), "error", err)
			return ConnectionLost, fmt.Errorf("receive: %w", err)
		}

		act := s.actor.Act(state)

		if s.recorder != nil {
			if err := s.recorder.Record(state, act.Buttons); err != nil {
				return RecordFailed, fmt.Errorf("record frame: %w", err)
			}
		}

		if err := ch.Send(game.NewCommand(s.cfg.Seat, act.Buttons)); err != nil {
			return SendFailed, fmt.Errorf("send: %w", err)
		}

		n := s.frames.Add(1)
		elapsed = s.clock.Now().Sub(started)
		for _, o := range s.observers {
			o.ObserveFrame(Frame{SessionID: s.id.String(), Index: n, Elapsed: elapsed, State: state, Action: act})
		}
		if n%s.cfg.ProgressEvery == 0 {
			s.logProgress(n, elapsed)
		}
	}
}

func (s *Session) logProgress(frames int64, elapsed time.Duration) {
	attrs := []any{"frames", frames, "elapsed", elapsed.Round(time.Second)}
	if s.cfg.Duration > 0 {
		remaining := s.cfg.Duration - elapsed
		if remaining < 0 {
			remaining = 0
		}
		attrs = append(attrs, "remaining", remaining.Round(time.Second))
	}
	s.log.Info("progress", attrs...)
}

func (s *Session) setPhase(p Phase) {
	s.phase.Store(int32(p))
	for _, o := range s.observers {
		if po, ok := o.(PhaseObserver); ok {
			po.ObservePhase(p)
		}
	}
}

// lossCause classifies a receive failure for the log.
func lossCause(err error) string {
	var de *transport.DecodeError
	switch {
	case transport.IsTimeout(err):
		return "timeout"
	case errors.Is(err, transport.ErrPeerClosed):
		return "peer_closed"
	case errors.As(err, &de):
		return "bad_payload"
	default:
		return "read_error"
	}
}

func (s *Session) finish(res Result) Result {
	s.setPhase(Terminated)
	if relErr := s.release(); relErr != nil {
		res.Err = errors.Join(res.Err, relErr)
	}
	res.Frames = s.frames.Load()
	res.Ended = s.clock.Now()

	attrs := []any{
		"reason", res.Reason.String(),
		"frames", res.Frames,
		"duration", res.Duration().Round(time.Millisecond),
	}
	if res.Err != nil {
		attrs = append(attrs, "error", res.Err)
	}
	s.log.Info("session terminated", attrs...)
	return res
}

// release closes owned resources in reverse order. Safe to call repeatedly.
func (s *Session) release() error {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		owned := s.owned
		s.owned = nil
		s.mu.Unlock()

		var errs []error
		for i := len(owned) - 1; i >= 0; i-- {
			if err := owned[i].c.Close(); err != nil {
				s.log.Warn("release failed", "resource", owned[i].name, "error", err)
				errs = append(errs, fmt.Errorf("close %s: %w", owned[i].name, err))
			}
		}
		s.releaseErr = errors.Join(errs...)
	})
	return s.releaseErr
}
