package inference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/brensch/sf2bot/features"
	"github.com/brensch/sf2bot/game"
)

func modelForTest(tb testing.TB) string {
	tb.Helper()
	candidates := []string{"../models/model.onnx"}
	if p := os.Getenv("SF2_TEST_ONNX_MODEL"); p != "" {
		candidates = append([]string{p}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	tb.Skip("ONNX model not found; set SF2_TEST_ONNX_MODEL to run")
	return ""
}

func TestNewClassifierMissingModel(t *testing.T) {
	_, err := NewClassifier(filepath.Join(t.TempDir(), "model.onnx"), ClassifierConfig{})
	if err == nil {
		t.Fatalf("expected error for missing model")
	}
}

func TestClassifierPredict(t *testing.T) {
	c, err := NewClassifier(modelForTest(t), ClassifierConfig{})
	if err != nil {
		t.Skipf("onnxruntime unavailable: %v", err)
	}
	defer c.Close()

	s := &game.GameState{
		Timer:   90,
		Player1: game.Player{ID: 1, Health: 176, X: 120, Y: 192},
		Player2: game.Player{ID: 4, Health: 176, X: 260, Y: 192},
	}
	out, err := c.Predict(features.Extract(s).Float32())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(out) != OutputSize {
		t.Fatalf("activations=%d want %d", len(out), OutputSize)
	}

	if _, err := c.Predict(make([]float32, 3)); err == nil {
		t.Fatalf("expected short row to be rejected")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.Predict(make([]float32, InputSize)); err != ErrClosed {
		t.Fatalf("Predict after Close err=%v want ErrClosed", err)
	}
}

func BenchmarkClassifierPredict(b *testing.B) {
	c, err := NewClassifier(modelForTest(b), ClassifierConfig{})
	if err != nil {
		b.Skipf("onnxruntime unavailable: %v", err)
	}
	defer c.Close()

	row := make([]float32, InputSize)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Predict(row); err != nil {
			b.Fatalf("Predict: %v", err)
		}
	}
}
