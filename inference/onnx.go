// Package inference runs the button classifier through ONNX Runtime and
// holds the feature scaler fit alongside it.
package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/brensch/sf2bot/features"
	"github.com/brensch/sf2bot/game"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	InputSize  = features.Size
	OutputSize = game.NumButtons
)

var ErrClosed = errors.New("classifier closed")

type ClassifierConfig struct {
	// Tensor names. Empty means take the model's first input/output.
	InputName  string
	OutputName string
	// LibraryPath overrides onnxruntime shared library discovery.
	LibraryPath string
}

// Classifier maps one scaled feature row to 12 button activations.
// It reuses its tensors between calls and is not safe for concurrent use;
// the session loop calls it from a single goroutine.
type Classifier struct {
	session *ort.DynamicAdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

var ortInitOnce sync.Once
var ortInitErr error

func NewClassifier(modelPath string, cfg ClassifierConfig) (*Classifier, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}

	setLibraryPath(cfg.LibraryPath)
	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to init ort: %w", ortInitErr)
	}

	inputName, outputName, err := resolveNames(modelPath, cfg)
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// One row per frame; extra threads only add scheduling jitter.
	_ = options.SetIntraOpNumThreads(1)
	_ = options.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{inputName}, []string{outputName}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, InputSize))
	if err != nil {
		_ = session.Destroy()
		return nil, err
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, OutputSize))
	if err != nil {
		_ = input.Destroy()
		_ = session.Destroy()
		return nil, err
	}

	return &Classifier{session: session, input: input, output: output}, nil
}

// resolveNames picks the tensor names and checks the declared widths
// against the feature and button tables.
func resolveNames(modelPath string, cfg ClassifierConfig) (string, string, error) {
	ins, outs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return "", "", fmt.Errorf("inspect model: %w", err)
	}
	in, err := pickTensor(ins, cfg.InputName, InputSize)
	if err != nil {
		return "", "", fmt.Errorf("model input: %w", err)
	}
	out, err := pickTensor(outs, cfg.OutputName, OutputSize)
	if err != nil {
		return "", "", fmt.Errorf("model output: %w", err)
	}
	return in, out, nil
}

func pickTensor(infos []ort.InputOutputInfo, name string, width int64) (string, error) {
	if len(infos) == 0 {
		return "", fmt.Errorf("model declares no tensors")
	}
	info := infos[0]
	if name != "" {
		found := false
		for _, i := range infos {
			if i.Name == name {
				info, found = i, true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("no tensor named %q", name)
		}
	}
	dims := info.Dimensions
	// Dynamic dimensions are reported as -1 and accepted.
	if len(dims) > 0 {
		if last := dims[len(dims)-1]; last > 0 && last != width {
			return "", fmt.Errorf("tensor %q has width %d, want %d", info.Name, last, width)
		}
	}
	return info.Name, nil
}

func setLibraryPath(explicit string) {
	if explicit != "" {
		ort.SetSharedLibraryPath(explicit)
		return
	}
	if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
		ort.SetSharedLibraryPath(p)
		return
	}

	var candidates []string
	switch runtime.GOOS {
	case "linux":
		candidates = []string{"libonnxruntime.so", "libonnxruntime.so.1"}
	case "darwin":
		candidates = []string{"libonnxruntime.dylib"}
	case "windows":
		candidates = []string{"onnxruntime.dll"}
	}
	cwd, _ := os.Getwd()
	for _, name := range candidates {
		abs := filepath.Join(cwd, name)
		if _, err := os.Stat(abs); err == nil {
			ort.SetSharedLibraryPath(abs)
			return
		}
	}
}

// Predict runs one row. The returned slice is a copy.
func (c *Classifier) Predict(row []float32) ([]float32, error) {
	if c.session == nil {
		return nil, ErrClosed
	}
	if len(row) != InputSize {
		return nil, fmt.Errorf("input row has %d values, want %d", len(row), InputSize)
	}
	copy(c.input.GetData(), row)

	if err := c.session.Run([]ort.Value{c.input}, []ort.Value{c.output}); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	data := c.output.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

func (c *Classifier) Close() error {
	if c.session == nil {
		return nil
	}
	var firstErr error
	for _, destroy := range []func() error{c.input.Destroy, c.output.Destroy, c.session.Destroy} {
		if err := destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.session = nil
	return firstErr
}
