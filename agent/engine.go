// Package agent decides which buttons to press each frame.
//
// An Engine runs in one of two modes for its whole lifetime. In ModeModel it
// scales the frame's feature vector, asks the classifier for 12 activations
// and presses every button whose activation is above Threshold. If any step
// of that fails, that single frame is answered by the heuristic instead and
// the next frame tries the model again. ModeFallback is chosen once, at
// construction, when the model or scaler could not be loaded; it never
// changes afterwards.
package agent

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/brensch/sf2bot/features"
	"github.com/brensch/sf2bot/game"
	"github.com/brensch/sf2bot/inference"
)

// Threshold is deliberately below 0.5: the bot should rather press than idle.
// A score equal to Threshold is not a press.
const Threshold = 0.3

var ErrActivationCount = errors.New("unexpected activation count")

type Mode int

const (
	ModeModel Mode = iota
	ModeFallback
)

func (m Mode) String() string {
	switch m {
	case ModeModel:
		return "model"
	case ModeFallback:
		return "fallback"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Source says how a single Decision was produced.
type Source int

const (
	SourceModel Source = iota
	SourceFallback
	// SourceDemoted is a heuristic answer in ModeModel after inference failed.
	SourceDemoted
)

func (s Source) String() string {
	switch s {
	case SourceModel:
		return "model"
	case SourceFallback:
		return "fallback"
	case SourceDemoted:
		return "demoted"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Predictor maps a scaled feature row to button activations.
type Predictor interface {
	Predict(row []float32) ([]float32, error)
}

// Transformer is the fitted feature scaler.
type Transformer interface {
	Transform(features.Vector) features.Vector
}

// Outcome is the result of one inference attempt.
type Outcome struct {
	Activations []float32
	Err         error
}

func (o Outcome) OK() bool { return o.Err == nil }

type Decision struct {
	Buttons game.Buttons
	Source  Source
	// Err is the inference failure behind a SourceDemoted decision.
	Err error
}

type Stats struct {
	Model     int64
	Fallback  int64
	Demotions int64
}

type Options struct {
	Rand       Rand
	Logger     *slog.Logger
	Classifier inference.ClassifierConfig
}

type Engine struct {
	mode   Mode
	model  Predictor
	scaler Transformer
	rng    Rand
	logger *slog.Logger
	stats  Stats

	closer io.Closer
}

// New builds an engine around already-loaded collaborators. A nil model or
// scaler selects ModeFallback.
func New(model Predictor, scaler Transformer, opts Options) *Engine {
	e := &Engine{
		mode:   ModeModel,
		model:  model,
		scaler: scaler,
		rng:    opts.Rand,
		logger: opts.Logger,
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if model == nil || scaler == nil {
		e.mode = ModeFallback
		e.model = nil
		e.scaler = nil
	}
	return e
}

// Load reads the ONNX model and the scaler. It never fails: a load error is
// logged and yields an engine permanently in ModeFallback.
func Load(modelPath, scalerPath string, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	scaler, err := inference.LoadScaler(scalerPath)
	if err != nil {
		logger.Error("scaler load failed; using fallback policy", "path", scalerPath, "err", err)
		return New(nil, nil, opts)
	}
	warnOnActionOrder(logger, scaler.ActionOrder)

	classifier, err := inference.NewClassifier(modelPath, opts.Classifier)
	if err != nil {
		logger.Error("model load failed; using fallback policy", "path", modelPath, "err", err)
		return New(nil, nil, opts)
	}

	e := New(classifier, scaler, opts)
	e.closer = classifier
	logger.Info("model loaded", "model", modelPath, "scaler", scalerPath)
	return e
}

// warnOnActionOrder surfaces a label-order mismatch. Training data is
// written in dataset order (B, Y, X, A, ...) while activations are read in
// model order (up, down, left, ...). Nothing is reordered here; a model
// trained on the other ordering presses the wrong buttons.
func warnOnActionOrder(logger *slog.Logger, declared []string) {
	if len(declared) == 0 {
		return
	}
	want := make([]string, 0, game.NumButtons)
	for _, b := range game.AllButtons {
		want = append(want, b.String())
	}
	if len(declared) != len(want) {
		logger.Warn("scaler action_order length differs from model output order", "declared", declared, "model_order", want)
		return
	}
	for i := range want {
		if declared[i] != want[i] {
			logger.Warn("scaler action_order differs from model output order; predictions will be mislabeled per button",
				"declared", declared, "model_order", want)
			return
		}
	}
}

func (e *Engine) Mode() Mode   { return e.mode }
func (e *Engine) Stats() Stats { return e.stats }

// Infer runs extract, scale and predict for one state. Panics from the
// classifier binding are reported as errors.
func (e *Engine) Infer(state *game.GameState) (out Outcome) {
	if e.mode != ModeModel {
		return Outcome{Err: errors.New("engine is in fallback mode")}
	}
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Err: fmt.Errorf("inference panic: %v", r)}
		}
	}()

	scaled := e.scaler.Transform(features.Extract(state))
	scores, err := e.model.Predict(scaled.Float32())
	if err != nil {
		return Outcome{Err: err}
	}
	if len(scores) != game.NumButtons {
		return Outcome{Err: fmt.Errorf("%w: got %d, want %d", ErrActivationCount, len(scores), game.NumButtons)}
	}
	return Outcome{Activations: scores}
}

// Decide picks this frame's buttons. The returned Buttons always start from
// all-released; nothing carries over from earlier frames.
func (e *Engine) Decide(state *game.GameState) Decision {
	if e.mode == ModeFallback {
		e.stats.Fallback++
		return Decision{Buttons: e.Fallback(state), Source: SourceFallback}
	}

	out := e.Infer(state)
	if out.OK() {
		bs, err := Activate(out.Activations)
		if err == nil {
			e.stats.Model++
			return Decision{Buttons: bs, Source: SourceModel}
		}
		out.Err = err
	}

	e.stats.Demotions++
	if e.stats.Demotions%100 == 1 {
		e.logger.Warn("inference failed; heuristic used for this frame", "demotions", e.stats.Demotions, "err", out.Err)
	}
	return Decision{Buttons: e.Fallback(state), Source: SourceDemoted, Err: out.Err}
}

// Activate thresholds activations position by position in model order.
func Activate(scores []float32) (game.Buttons, error) {
	var bs game.Buttons
	if len(scores) != game.NumButtons {
		return bs, fmt.Errorf("%w: got %d, want %d", ErrActivationCount, len(scores), game.NumButtons)
	}
	for i, s := range scores {
		bs[game.AllButtons[i]] = s > Threshold
	}
	return bs, nil
}

// Close releases the classifier, if the engine owns one.
func (e *Engine) Close() error {
	if e.closer == nil {
		return nil
	}
	err := e.closer.Close()
	e.closer = nil
	return err
}
