package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/sf2bot/config"
	"github.com/brensch/sf2bot/console"
	"github.com/brensch/sf2bot/dataset"
	"github.com/brensch/sf2bot/game"
	"github.com/brensch/sf2bot/history"
	"github.com/brensch/sf2bot/input"
	"github.com/brensch/sf2bot/logging"
	"github.com/brensch/sf2bot/session"
	"github.com/brensch/sf2bot/telemetry"
	"github.com/brensch/sf2bot/transport"
)

const defaultLogPath = "sf2-recorder.log"

func main() {
	cfg, err := config.Load("recorder", os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	// Rows are player-1 relative (rel_x, facing, health_diff), so a human
	// playing seat 2 would produce mislabelled data.
	if cfg.SeatValue() != game.Seat1 {
		log.Fatalf("The recorder only supports seat 1 (got %d)", cfg.Seat)
	}
	keys, err := cfg.KeyMap()
	if err != nil {
		log.Fatalf("Key map: %v", err)
	}

	// The console owns the terminal, so logs always go to a file.
	if cfg.Log.Path == "" {
		cfg.Log.Path = defaultLogPath
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
	// Std log now feeds the log file. Operator output goes through out so it
	// still reaches the terminal.
	out := logging.Install(logger, os.Stderr)

	out.Printf("Starting SF2 human recorder")
	for _, line := range cfg.Summary() {
		out.Printf("  %s", line)
	}
	out.Printf("  Dataset: %s (%s)", cfg.Dataset.Path, cfg.Dataset.Format)
	out.Printf("  Keys: %s", keys.Describe())
	out.Printf("  Logs: %s", cfg.Log.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

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

	shard := "human_" + time.Now().UTC().Format("20060102T150405")
	sink, err := dataset.Open(cfg.Dataset.Format, cfg.Dataset.Path, shard)
	if err != nil {
		out.Fatalf("Failed to open dataset: %v", err)
	}
	rows := dataset.NewLogger(sink)

	var (
		hub   *telemetry.Hub
		hubLn net.Listener
	)
	if cfg.TelemetryAddr != "" {
		if hubLn, err = net.Listen("tcp", cfg.TelemetryAddr); err != nil {
			_ = rows.Close()
			out.Fatalf("Failed to listen for telemetry: %v", err)
		}
		hub = telemetry.NewHub(logger.With("component", "telemetry"))
	}

	con, err := console.Start(console.Options{
		Title:       fmt.Sprintf("SF2 recorder  seat %d  %s", cfg.Seat, cfg.Addr),
		Keys:        keys,
		Hold:        cfg.Console.Hold.Duration,
		OnInterrupt: cancel,
	})
	if err != nil {
		_ = rows.Close()
		out.Fatalf("Keyboard capture unavailable: %v", err)
	}

	actor := session.ActorFunc(func(*game.GameState) session.Action {
		return session.Action{Buttons: input.Capture(con), Source: "human"}
	})
	sessOpts := []session.Option{
		session.WithLogger(logger),
		session.WithRecorder(rows),
		session.WithObserver(con),
	}
	if hub != nil {
		sessOpts = append(sessOpts, session.WithObserver(hub))
	}
	sess := session.New(session.Config{Seat: game.Seat1, Duration: cfg.Duration.Duration}, actor, sessOpts...)
	sess.Own("dataset", rows)
	sess.Own("console", con)

	run := func(ctx context.Context) session.Result {
		return sess.Run(ctx, session.FromListener(ln, cfg.ReceiveTimeout.Duration))
	}
	var res session.Result
	if hub != nil {
		res, _ = hub.RunAlongside(ctx, hubLn, run)
	} else {
		res = run(ctx)
	}

	out.Printf("Session %s finished:", res.ID)
	out.Printf("  Exit reason: %s", res.Reason)
	out.Printf("  Actual duration: %.2f seconds", res.Duration().Seconds())
	out.Printf("  Frames: %d", res.Frames)
	out.Printf("  Rows written: %d", rows.Rows())
	if hub != nil {
		out.Printf("  Telemetry events dropped: %d", hub.Dropped())
	}
	if res.Err != nil {
		out.Printf("  Error: %v", res.Err)
	}

	if hist != nil {
		rec := history.FromResult("recorder", cfg.Seat, res)
		rec.Dataset = cfg.Dataset.Path
		rec.Rows = rows.Rows()
		hctx, hcancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := hist.Record(hctx, rec); err != nil {
			out.Printf("Failed to record history: %v", err)
		}
		hcancel()
	}

	if res.Reason == session.SendFailed || res.Reason == session.RecordFailed {
		closeLog()
		os.Exit(1)
	}
}
