package dataset

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brensch/sf2bot/features"
	"github.com/brensch/sf2bot/game"
)

func sampleState(i int) *game.GameState {
	return &game.GameState{
		Timer:   99 - i,
		Player1: game.Player{ID: 1, Health: 176 - i, X: float64(100 + i), Y: 192, Crouching: i%2 == 0},
		Player2: game.Player{ID: 4, Health: 150, X: 30, Y: 192, InMove: true, MoveID: i},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return recs
}

func TestHeaderSchema(t *testing.T) {
	if len(Header) != 33 {
		t.Fatalf("header has %d columns want 33", len(Header))
	}
	want := "timer,p1_id,p1_health,p1_x,p1_y,p1_jumping,p1_crouching,p1_in_move,p1_move_id," +
		"p2_id,p2_health,p2_x,p2_y,p2_jumping,p2_crouching,p2_in_move,p2_move_id," +
		"p1_rel_x,p1_rel_y,p1_facing_opponent,p1_health_diff," +
		"act_B,act_Y,act_X,act_A,act_L,act_R,act_Up,act_Down,act_Left,act_Right,act_Select,act_Start"
	if got := strings.Join(Header, ","); got != want {
		t.Fatalf("header\n got %s\nwant %s", got, want)
	}
}

func TestLabelsUseDatasetOrder(t *testing.T) {
	var bs game.Buttons
	bs.Set(game.B, true)
	bs.Set(game.Up, true)
	bs.Set(game.Start, true)

	got := Labels(bs)
	want := [game.NumButtons]int32{1, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	if got != want {
		t.Fatalf("labels=%v want %v", got, want)
	}

	row := NewRow(features.Extract(sampleState(0)), bs)
	if row.Buttons() != bs {
		t.Fatalf("Row.Buttons()=%v want %v", row.Buttons(), bs)
	}
}

func TestCSVHeaderWrittenOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "human.csv")

	for session := 0; session < 2; session++ {
		sink, err := OpenCSV(path)
		if err != nil {
			t.Fatalf("OpenCSV: %v", err)
		}
		if sink.Created() != (session == 0) {
			t.Fatalf("session %d Created=%v", session, sink.Created())
		}
		l := NewLogger(sink)
		for i := 0; i < 3; i++ {
			var bs game.Buttons
			bs.Set(game.Right, true)
			if err := l.Record(sampleState(i), bs); err != nil {
				t.Fatalf("Record: %v", err)
			}
		}
		if err := l.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("second Close: %v", err)
		}
	}

	recs := readCSV(t, path)
	if len(recs) != 7 {
		t.Fatalf("records=%d want 1 header + 6 rows", len(recs))
	}
	headers := 0
	for i, r := range recs {
		if len(r) != Columns {
			t.Fatalf("record %d has %d fields", i, len(r))
		}
		if r[0] == "timer" {
			headers++
		}
	}
	if headers != 1 {
		t.Fatalf("header rows=%d want 1", headers)
	}

	first := recs[1]
	if first[0] != "99" || first[features.RelX] != "70" || first[features.FacingOpponent] != "0" || first[features.HealthDiff] != "26" {
		t.Fatalf("first row features wrong: %v", first)
	}
	// act_Right is column 21+9.
	if first[features.Size+9] != "1" || first[features.Size] != "0" {
		t.Fatalf("first row labels wrong: %v", first[features.Size:])
	}
}

func TestCSVEmptyExistingFileGetsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sink, err := OpenCSV(path)
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	recs := readCSV(t, path)
	if len(recs) != 1 || recs[0][0] != "timer" {
		t.Fatalf("records=%v", recs)
	}
}

func TestCSVWriteAfterClose(t *testing.T) {
	sink, err := OpenCSV(filepath.Join(t.TempDir(), "d.csv"))
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	_ = sink.Close()
	if err := sink.Write(Row{}); err != ErrClosed {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}

func TestParquetShard(t *testing.T) {
	dir := t.TempDir()
	sink, err := OpenParquet(dir, "session_a")
	if err != nil {
		t.Fatalf("OpenParquet: %v", err)
	}
	l := NewLogger(sink)
	var want []Row
	for i := 0; i < 5; i++ {
		var bs game.Buttons
		bs.Set(game.AttackButtons[i%4], true)
		if err := l.Record(sampleState(i), bs); err != nil {
			t.Fatalf("Record: %v", err)
		}
		want = append(want, NewRow(features.Extract(sampleState(i)), bs))
	}
	if _, err := os.Stat(sink.OutPath()); !os.IsNotExist(err) {
		t.Fatalf("shard visible before Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadParquet(sink.OutPath())
	if err != nil {
		t.Fatalf("ReadParquet: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("rows=%d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d\n got %+v\nwant %+v", i, got[i], want[i])
		}
	}
}

func TestParquetEmptyShardRemoved(t *testing.T) {
	dir := t.TempDir()
	sink, err := OpenParquet(dir, "empty")
	if err != nil {
		t.Fatalf("OpenParquet: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(sink.OutPath()); !os.IsNotExist(err) {
		t.Fatalf("empty shard should not exist: %v", err)
	}
}

func TestOpenUnknownFormat(t *testing.T) {
	if _, err := Open("xlsx", t.TempDir(), "x"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStatsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.csv")
	sink, err := OpenCSV(path)
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	l := NewLogger(sink)
	for i := 0; i < 4; i++ {
		var bs game.Buttons
		if i%2 == 0 {
			bs.Set(game.B, true)
		}
		if err := l.Record(sampleState(i), bs); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sum, err := Stats(context.Background(), path)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if sum.Rows != 4 {
		t.Fatalf("rows=%d want 4", sum.Rows)
	}
	if len(sum.Actions) != game.NumButtons {
		t.Fatalf("actions=%d", len(sum.Actions))
	}
	if sum.Actions[0].Column != "act_B" || sum.Actions[0].Rate != 0.5 {
		t.Fatalf("act_B=%+v want rate 0.5", sum.Actions[0])
	}
	if sum.Actions[1].Rate != 0 {
		t.Fatalf("act_Y=%+v want rate 0", sum.Actions[1])
	}
}

func TestStatsMissingPath(t *testing.T) {
	if _, err := Stats(context.Background(), filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Fatalf("expected error")
	}
}
