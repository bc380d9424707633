package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/sf2bot/dataset"
	"github.com/brensch/sf2bot/history"
)

func main() {
	historyPath := flag.String("history", os.Getenv("SF2_HISTORY"), "SQLite session history to list (optional)")
	recent := flag.Int("n", 10, "Number of recent sessions to list")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: datasetstat [-history file] [dataset.csv | shard.parquet | shard-dir ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 && *historyPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := false
	for _, path := range flag.Args() {
		sum, err := dataset.Stats(ctx, path)
		if err != nil {
			log.Printf("Stats failed for %s: %v", path, err)
			failed = true
			continue
		}
		printSummary(sum)
	}

	if *historyPath != "" {
		db, err := history.Open(*historyPath)
		if err != nil {
			log.Fatalf("Failed to open history: %v", err)
		}
		defer db.Close()
		sessions, err := db.Recent(ctx, *recent)
		if err != nil {
			log.Fatalf("Failed to read history: %v", err)
		}
		printSessions(sessions)
	}

	if failed {
		os.Exit(1)
	}
}

func printSummary(sum *dataset.Summary) {
	fmt.Printf("%s\n", sum.Source)
	fmt.Printf("  Rows:             %d\n", sum.Rows)
	fmt.Printf("  Mean health diff: %.2f\n", sum.MeanHealthDiff)
	fmt.Printf("  Press rates:\n")
	for _, a := range sum.Actions {
		fmt.Printf("    %-11s %6.2f%%\n", a.Column, a.Rate*100)
	}
	fmt.Println()
}

func printSessions(sessions []history.Session) {
	fmt.Printf("Recent sessions (%d):\n", len(sessions))
	for _, s := range sessions {
		line := fmt.Sprintf("  %s  %-8s seat=%d  %-18s frames=%-7d %8s",
			s.StartedAt.Format(time.DateTime), s.Mode, s.Seat, s.Reason, s.Frames, s.Duration().Round(time.Second))
		switch s.Mode {
		case "agent":
			line += fmt.Sprintf("  model=%d fallback=%d demoted=%d", s.ModelFrames, s.FallbackFrames, s.Demotions)
		case "recorder":
			line += fmt.Sprintf("  rows=%d -> %s", s.Rows, s.Dataset)
		}
		fmt.Println(line)
		if s.Error != "" {
			fmt.Printf("      error: %s\n", s.Error)
		}
	}
}
