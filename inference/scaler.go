package inference

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/brensch/sf2bot/features"
)

// Scaler applies a standard-score transform fit offline.
//
// The artifact is the JSON export of a fitted StandardScaler:
//
//	{"feature_names": [...21], "mean": [...21], "scale": [...21]}
//
// Scaling is positional, so the declared feature names must match
// features.Names exactly, in order. A mismatch is a load error.
type Scaler struct {
	mean  [features.Size]float64
	scale [features.Size]float64

	// ActionOrder is optional metadata naming the label columns the model was
	// trained against.
	ActionOrder []string
}

type scalerFile struct {
	FeatureNames []string  `json:"feature_names"`
	Mean         []float64 `json:"mean"`
	Scale        []float64 `json:"scale"`
	ActionOrder  []string  `json:"action_order,omitempty"`
}

func LoadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaler: %w", err)
	}
	var f scalerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode scaler %s: %w", path, err)
	}
	return NewScaler(f.FeatureNames, f.Mean, f.Scale, f.ActionOrder)
}

// NewScaler validates a fitted transform against the feature table.
func NewScaler(names []string, mean, scale []float64, actionOrder []string) (*Scaler, error) {
	if len(names) != features.Size {
		return nil, fmt.Errorf("scaler has %d feature names, want %d", len(names), features.Size)
	}
	for i, n := range names {
		if n != features.Names[i] {
			return nil, fmt.Errorf("scaler column %d is %q, want %q", i, n, features.Names[i])
		}
	}
	if len(mean) != features.Size || len(scale) != features.Size {
		return nil, fmt.Errorf("scaler mean/scale lengths %d/%d, want %d", len(mean), len(scale), features.Size)
	}

	s := &Scaler{ActionOrder: actionOrder}
	copy(s.mean[:], mean)
	for i, v := range scale {
		// A zero-variance column is left unscaled, matching StandardScaler.
		if v == 0 {
			v = 1
		}
		s.scale[i] = v
	}
	return s, nil
}

// Transform returns (v - mean) / scale column by column.
func (s *Scaler) Transform(v features.Vector) features.Vector {
	var out features.Vector
	for i := range v {
		out[i] = (v[i] - s.mean[i]) / s.scale[i]
	}
	return out
}
