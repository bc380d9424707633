package inference

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brensch/sf2bot/features"
)

func writeScaler(t *testing.T, f scalerFile) string {
	t.Helper()
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "scaler.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func fitted() scalerFile {
	f := scalerFile{FeatureNames: features.Names[:]}
	for i := 0; i < features.Size; i++ {
		f.Mean = append(f.Mean, float64(i))
		f.Scale = append(f.Scale, 2)
	}
	return f
}

func TestLoadScalerTransform(t *testing.T) {
	s, err := LoadScaler(writeScaler(t, fitted()))
	if err != nil {
		t.Fatalf("LoadScaler: %v", err)
	}
	var v features.Vector
	for i := range v {
		v[i] = float64(i) + 4
	}
	got := s.Transform(v)
	for i := range got {
		if got[i] != 2 {
			t.Fatalf("col %d scaled to %v want 2", i, got[i])
		}
	}
}

func TestLoadScalerRejectsReorderedColumns(t *testing.T) {
	f := fitted()
	names := append([]string(nil), f.FeatureNames...)
	names[3], names[4] = names[4], names[3]
	f.FeatureNames = names

	_, err := LoadScaler(writeScaler(t, f))
	if err == nil {
		t.Fatalf("expected reordered columns to be rejected")
	}
	if !strings.Contains(err.Error(), "column 3") {
		t.Fatalf("error should name the column: %v", err)
	}
}

func TestLoadScalerRejectsShortVectors(t *testing.T) {
	f := fitted()
	f.Scale = f.Scale[:20]
	if _, err := LoadScaler(writeScaler(t, f)); err == nil {
		t.Fatalf("expected short scale vector to be rejected")
	}
}

func TestLoadScalerMissingFile(t *testing.T) {
	if _, err := LoadScaler(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestScalerZeroVarianceColumn(t *testing.T) {
	f := fitted()
	f.Scale[0] = 0
	s, err := NewScaler(f.FeatureNames, f.Mean, f.Scale, nil)
	if err != nil {
		t.Fatalf("NewScaler: %v", err)
	}
	var v features.Vector
	v[0] = 5
	if got := s.Transform(v)[0]; got != 5 {
		t.Fatalf("zero-variance column scaled to %v want 5", got)
	}
}
