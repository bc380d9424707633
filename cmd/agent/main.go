package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/sf2bot/agent"
	"github.com/brensch/sf2bot/config"
	"github.com/brensch/sf2bot/game"
	"github.com/brensch/sf2bot/history"
	"github.com/brensch/sf2bot/inference"
	"github.com/brensch/sf2bot/logging"
	"github.com/brensch/sf2bot/session"
	"github.com/brensch/sf2bot/telemetry"
	"github.com/brensch/sf2bot/transport"
)

func main() {
	cfg, err := config.Load("agent", os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	logOut, closeLog, err := logging.Output(cfg.Log.Path)
	if err != nil {
		log.Fatalf("Failed to open log output: %v", err)
	}
	defer closeLog()
	logger, err := logging.New(logOut, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Logger: %v", err)
	}
	out := logging.Install(logger, os.Stderr)

	out.Printf("Starting SF2 agent")
	for _, line := range cfg.Summary() {
		out.Printf("  %s", line)
	}
	out.Printf("  Model: %s", cfg.Model.Path)
	out.Printf("  Scaler: %s", cfg.Model.Scaler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := agent.Options{
		Logger: logger.With("component", "engine"),
		Classifier: inference.ClassifierConfig{
			InputName:   cfg.Model.InputName,
			OutputName:  cfg.Model.OutputName,
			LibraryPath: cfg.Model.Library,
		},
	}
	if cfg.Seed != 0 {
		opts.Rand = rand.New(rand.NewSource(cfg.Seed))
	}
	eng := agent.Load(cfg.Model.Path, cfg.Model.Scaler, opts)
	out.Printf("  Decision Mode: %s", eng.Mode())

	ln, err := transport.Listen(cfg.Addr)
	if err != nil {
		out.Fatalf("Failed to listen: %v", err)
	}

	var hist *history.DB
	if cfg.HistoryPath != "" {
		if hist, err = history.Open(cfg.HistoryPath); err != nil {
			out.Fatalf("Failed to open history: %v", err)
		}
		defer hist.Close()
	}

	var (
		hub   *telemetry.Hub
		hubLn net.Listener
	)
	sessOpts := []session.Option{session.WithLogger(logger)}
	if cfg.TelemetryAddr != "" {
		if hubLn, err = net.Listen("tcp", cfg.TelemetryAddr); err != nil {
			out.Fatalf("Failed to listen for telemetry: %v", err)
		}
		hub = telemetry.NewHub(logger.With("component", "telemetry"))
		sessOpts = append(sessOpts, session.WithObserver(hub))
	}

	actor := session.ActorFunc(func(s *game.GameState) session.Action {
		d := eng.Decide(s)
		return session.Action{Buttons: d.Buttons, Source: d.Source.String()}
	})
	sess := session.New(session.Config{Seat: cfg.SeatValue(), Duration: cfg.Duration.Duration}, actor, sessOpts...)
	sess.Own("engine", eng)

	out.Printf("Waiting for the emulator on %s (session %s)", ln.Addr(), sess.ID())

	run := func(ctx context.Context) session.Result {
		return sess.Run(ctx, session.FromListener(ln, cfg.ReceiveTimeout.Duration))
	}
	var res session.Result
	if hub != nil {
		res, _ = hub.RunAlongside(ctx, hubLn, run)
	} else {
		res = run(ctx)
	}

	stats := eng.Stats()
	out.Printf("Session %s finished:", res.ID)
	out.Printf("  Exit reason: %s", res.Reason)
	out.Printf("  Actual duration: %.2f seconds", res.Duration().Seconds())
	out.Printf("  Frames: %d", res.Frames)
	out.Printf("  Decisions: model=%d fallback=%d demoted=%d", stats.Model, stats.Fallback, stats.Demotions)
	if hub != nil {
		out.Printf("  Telemetry events dropped: %d", hub.Dropped())
	}
	if res.Err != nil {
		out.Printf("  Error: %v", res.Err)
	}

	if hist != nil {
		rec := history.FromResult("agent", cfg.Seat, res)
		rec.ModelFrames = stats.Model
		rec.FallbackFrames = stats.Fallback
		rec.Demotions = stats.Demotions
		hctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := hist.Record(hctx, rec); err != nil {
			out.Printf("Failed to record history: %v", err)
		}
		cancel()
	}

	if failed(res.Reason) {
		closeLog()
		os.Exit(1)
	}
}

// failed reports reasons that indicate a fault on this side rather than the
// run ending normally.
func failed(r session.Reason) bool {
	return r == session.SendFailed || r == session.RecordFailed
}
