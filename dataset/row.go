// Package dataset records (state, human action) pairs for offline training.
//
// Every row is the 21 feature columns followed by 12 action labels. The
// labels are written in ActionOrder (B, Y, X, A, L, R, Up, Down, Left,
// Right, Select, Start), which is NOT the classifier's output order
// (up, down, left, right, A, B, X, Y, L, R, select, start). Both orders are
// kept as they are; a trainer must map label columns to model outputs
// explicitly.
package dataset

import (
	"strconv"

	"github.com/brensch/sf2bot/features"
	"github.com/brensch/sf2bot/game"
)

// ActionOrder is the label column order.
var ActionOrder = [game.NumButtons]game.Button{
	game.B, game.Y, game.X, game.A, game.L, game.R,
	game.Up, game.Down, game.Left, game.Right,
	game.Select, game.Start,
}

var actionColumns = [game.NumButtons]string{
	"act_B", "act_Y", "act_X", "act_A", "act_L", "act_R",
	"act_Up", "act_Down", "act_Left", "act_Right",
	"act_Select", "act_Start",
}

const Columns = features.Size + game.NumButtons

// Header is the 33-column schema shared by every sink.
var Header = func() []string {
	h := make([]string, 0, Columns)
	h = append(h, features.Names[:]...)
	h = append(h, actionColumns[:]...)
	return h
}()

// ActionColumns returns the label column names in ActionOrder.
func ActionColumns() []string { return append([]string(nil), actionColumns[:]...) }

// Row is one frame. Field order matches Header; the parquet column names are
// the header names.
type Row struct {
	Timer            float64 `parquet:"timer"`
	P1ID             float64 `parquet:"p1_id"`
	P1Health         float64 `parquet:"p1_health"`
	P1X              float64 `parquet:"p1_x"`
	P1Y              float64 `parquet:"p1_y"`
	P1Jumping        float64 `parquet:"p1_jumping"`
	P1Crouching      float64 `parquet:"p1_crouching"`
	P1InMove         float64 `parquet:"p1_in_move"`
	P1MoveID         float64 `parquet:"p1_move_id"`
	P2ID             float64 `parquet:"p2_id"`
	P2Health         float64 `parquet:"p2_health"`
	P2X              float64 `parquet:"p2_x"`
	P2Y              float64 `parquet:"p2_y"`
	P2Jumping        float64 `parquet:"p2_jumping"`
	P2Crouching      float64 `parquet:"p2_crouching"`
	P2InMove         float64 `parquet:"p2_in_move"`
	P2MoveID         float64 `parquet:"p2_move_id"`
	P1RelX           float64 `parquet:"p1_rel_x"`
	P1RelY           float64 `parquet:"p1_rel_y"`
	P1FacingOpponent float64 `parquet:"p1_facing_opponent"`
	P1HealthDiff     float64 `parquet:"p1_health_diff"`

	ActB      int32 `parquet:"act_B"`
	ActY      int32 `parquet:"act_Y"`
	ActX      int32 `parquet:"act_X"`
	ActA      int32 `parquet:"act_A"`
	ActL      int32 `parquet:"act_L"`
	ActR      int32 `parquet:"act_R"`
	ActUp     int32 `parquet:"act_Up"`
	ActDown   int32 `parquet:"act_Down"`
	ActLeft   int32 `parquet:"act_Left"`
	ActRight  int32 `parquet:"act_Right"`
	ActSelect int32 `parquet:"act_Select"`
	ActStart  int32 `parquet:"act_Start"`
}

func NewRow(v features.Vector, bs game.Buttons) Row {
	a := Labels(bs)
	return Row{
		Timer: v[0],
		P1ID: v[1], P1Health: v[2], P1X: v[3], P1Y: v[4],
		P1Jumping: v[5], P1Crouching: v[6], P1InMove: v[7], P1MoveID: v[8],
		P2ID: v[9], P2Health: v[10], P2X: v[11], P2Y: v[12],
		P2Jumping: v[13], P2Crouching: v[14], P2InMove: v[15], P2MoveID: v[16],
		P1RelX: v[17], P1RelY: v[18], P1FacingOpponent: v[19], P1HealthDiff: v[20],

		ActB: a[0], ActY: a[1], ActX: a[2], ActA: a[3], ActL: a[4], ActR: a[5],
		ActUp: a[6], ActDown: a[7], ActLeft: a[8], ActRight: a[9],
		ActSelect: a[10], ActStart: a[11],
	}
}

// Labels encodes buttons as 0/1 in ActionOrder.
func Labels(bs game.Buttons) [game.NumButtons]int32 {
	var out [game.NumButtons]int32
	for i, b := range ActionOrder {
		if bs.Pressed(b) {
			out[i] = 1
		}
	}
	return out
}

func (r Row) Features() features.Vector {
	return features.Vector{
		r.Timer,
		r.P1ID, r.P1Health, r.P1X, r.P1Y, r.P1Jumping, r.P1Crouching, r.P1InMove, r.P1MoveID,
		r.P2ID, r.P2Health, r.P2X, r.P2Y, r.P2Jumping, r.P2Crouching, r.P2InMove, r.P2MoveID,
		r.P1RelX, r.P1RelY, r.P1FacingOpponent, r.P1HealthDiff,
	}
}

func (r Row) labels() [game.NumButtons]int32 {
	return [game.NumButtons]int32{
		r.ActB, r.ActY, r.ActX, r.ActA, r.ActL, r.ActR,
		r.ActUp, r.ActDown, r.ActLeft, r.ActRight, r.ActSelect, r.ActStart,
	}
}

// Buttons decodes the labels back into a button set.
func (r Row) Buttons() game.Buttons {
	var bs game.Buttons
	for i, v := range r.labels() {
		bs[ActionOrder[i]] = v != 0
	}
	return bs
}

// Record renders the row as Header-ordered text fields. Integral values are
// written without a decimal point.
func (r Row) Record() []string {
	out := make([]string, 0, Columns)
	for _, v := range r.Features() {
		out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
	}
	for _, v := range r.labels() {
		out = append(out, strconv.Itoa(int(v)))
	}
	return out
}
