// Package config resolves run settings from, in increasing precedence:
// built-in defaults, an optional TOML file, SF2_* environment variables, and
// flags given explicitly on the command line.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/brensch/sf2bot/dataset"
	"github.com/brensch/sf2bot/game"
	"github.com/brensch/sf2bot/input"
	"github.com/brensch/sf2bot/transport"
)

// Duration reads TOML strings such as "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

type ModelConfig struct {
	Path       string `toml:"path"`
	Scaler     string `toml:"scaler"`
	InputName  string `toml:"input_name"`
	OutputName string `toml:"output_name"`
	Library    string `toml:"library"`
}

type DatasetConfig struct {
	Path   string `toml:"path"`
	Format string `toml:"format"`
}

type ConsoleConfig struct {
	// Keys maps terminal key names to button names. Empty uses the default
	// layout.
	Keys map[string]string `toml:"keys"`
	Hold Duration          `toml:"hold"`
}

type LogConfig struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	Path   string `toml:"path"`
}

type Config struct {
	Seat           int      `toml:"seat"`
	Addr           string   `toml:"addr"`
	Duration       Duration `toml:"duration"`
	ReceiveTimeout Duration `toml:"receive_timeout"`
	// Seed fixes the fallback heuristic's random source. Zero seeds from the
	// clock.
	Seed          int64  `toml:"seed"`
	TelemetryAddr string `toml:"telemetry_addr"`
	HistoryPath   string `toml:"history"`

	Model   ModelConfig   `toml:"model"`
	Dataset DatasetConfig `toml:"dataset"`
	Console ConsoleConfig `toml:"console"`
	Log     LogConfig     `toml:"log"`

	// File is the TOML file that was loaded, if any.
	File string `toml:"-"`
}

func Default() Config {
	return Config{
		Seat:           int(game.Seat1),
		Addr:           transport.DefaultAddr,
		Duration:       Duration{15 * time.Minute},
		ReceiveTimeout: Duration{transport.DefaultReceiveTimeout},
		Model: ModelConfig{
			Path:   "model.onnx",
			Scaler: "scaler.json",
		},
		Dataset: DatasetConfig{
			Path:   "human_sf2_gamedata.csv",
			Format: dataset.FormatCSV,
		},
		Console: ConsoleConfig{Hold: Duration{300 * time.Millisecond}},
		Log:     LogConfig{Format: "pretty", Level: "info"},
	}
}

// Load parses args (without the program name) for the binary called name.
// flag.ErrHelp is returned unchanged for -h.
func Load(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fv := Default()
	var configPath, keys string

	fs.StringVar(&configPath, "config", "", "TOML config file (env SF2_CONFIG)")
	fs.IntVar(&fv.Seat, "seat", fv.Seat, "Player seat to control: 1 or 2")
	fs.StringVar(&fv.Addr, "addr", fv.Addr, "Address to listen on for the emulator")
	fs.DurationVar(&fv.Duration.Duration, "duration", fv.Duration.Duration, "Stop after this long; 0 runs until the connection ends")
	fs.DurationVar(&fv.ReceiveTimeout.Duration, "receive-timeout", fv.ReceiveTimeout.Duration, "End the session when no state arrives for this long")
	fs.Int64Var(&fv.Seed, "seed", fv.Seed, "Fallback heuristic seed (0 = time based)")
	fs.StringVar(&fv.TelemetryAddr, "telemetry-addr", fv.TelemetryAddr, "Serve a websocket frame feed on this address (empty disables)")
	fs.StringVar(&fv.HistoryPath, "history", fv.HistoryPath, "SQLite file to append session summaries to (empty disables)")
	fs.StringVar(&fv.Model.Path, "model", fv.Model.Path, "ONNX classifier")
	fs.StringVar(&fv.Model.Scaler, "scaler", fv.Model.Scaler, "Scaler parameters JSON")
	fs.StringVar(&fv.Model.InputName, "onnx-input", fv.Model.InputName, "Model input tensor name (default: discovered)")
	fs.StringVar(&fv.Model.OutputName, "onnx-output", fv.Model.OutputName, "Model output tensor name (default: discovered)")
	fs.StringVar(&fv.Model.Library, "onnx-lib", fv.Model.Library, "onnxruntime shared library path")
	fs.StringVar(&fv.Dataset.Path, "dataset", fv.Dataset.Path, "CSV file to append to, or shard directory for parquet")
	fs.StringVar(&fv.Dataset.Format, "dataset-format", fv.Dataset.Format, "Dataset format: csv or parquet")
	fs.StringVar(&keys, "keys", "", "Key bindings as key=button pairs, e.g. j=A,k=B")
	fs.DurationVar(&fv.Console.Hold.Duration, "key-hold", fv.Console.Hold.Duration, "How long a key press counts as held")
	fs.StringVar(&fv.Log.Format, "log-format", fv.Log.Format, "Log format: pretty, json or text")
	fs.StringVar(&fv.Log.Level, "log-level", fv.Log.Level, "Log level")
	fs.StringVar(&fv.Log.Path, "log-path", fv.Log.Path, "Write logs to this file instead of stderr")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := Default()
	if configPath == "" {
		configPath = os.Getenv("SF2_CONFIG")
	}
	if configPath != "" {
		if err := cfg.readFile(configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	var keysErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seat":
			cfg.Seat = fv.Seat
		case "addr":
			cfg.Addr = fv.Addr
		case "duration":
			cfg.Duration = fv.Duration
		case "receive-timeout":
			cfg.ReceiveTimeout = fv.ReceiveTimeout
		case "seed":
			cfg.Seed = fv.Seed
		case "telemetry-addr":
			cfg.TelemetryAddr = fv.TelemetryAddr
		case "history":
			cfg.HistoryPath = fv.HistoryPath
		case "model":
			cfg.Model.Path = fv.Model.Path
		case "scaler":
			cfg.Model.Scaler = fv.Model.Scaler
		case "onnx-input":
			cfg.Model.InputName = fv.Model.InputName
		case "onnx-output":
			cfg.Model.OutputName = fv.Model.OutputName
		case "onnx-lib":
			cfg.Model.Library = fv.Model.Library
		case "dataset":
			cfg.Dataset.Path = fv.Dataset.Path
		case "dataset-format":
			cfg.Dataset.Format = fv.Dataset.Format
		case "keys":
			cfg.Console.Keys, keysErr = parsePairs(keys)
		case "key-hold":
			cfg.Console.Hold = fv.Console.Hold
		case "log-format":
			cfg.Log.Format = fv.Log.Format
		case "log-level":
			cfg.Log.Level = fv.Log.Level
		case "log-path":
			cfg.Log.Path = fv.Log.Path
		}
	})
	if keysErr != nil {
		return nil, fmt.Errorf("-keys: %w", keysErr)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("config %s:%d:%d: %w", path, row, col, err)
		}
		return fmt.Errorf("config %s: %w", path, err)
	}
	c.File = path
	return nil
}

func (c *Config) applyEnv() error {
	c.Seat = getEnvIntOrDefault("SF2_SEAT", c.Seat)
	c.Addr = getEnvOrDefault("SF2_ADDR", c.Addr)
	c.Duration.Duration = getEnvDurationOrDefault("SF2_DURATION", c.Duration.Duration)
	c.ReceiveTimeout.Duration = getEnvDurationOrDefault("SF2_RECEIVE_TIMEOUT", c.ReceiveTimeout.Duration)
	c.Seed = int64(getEnvIntOrDefault("SF2_SEED", int(c.Seed)))
	c.TelemetryAddr = getEnvOrDefault("SF2_TELEMETRY_ADDR", c.TelemetryAddr)
	c.HistoryPath = getEnvOrDefault("SF2_HISTORY", c.HistoryPath)
	c.Model.Path = getEnvOrDefault("SF2_MODEL", c.Model.Path)
	c.Model.Scaler = getEnvOrDefault("SF2_SCALER", c.Model.Scaler)
	c.Model.Library = getEnvOrDefault("SF2_ONNX_LIB", c.Model.Library)
	c.Dataset.Path = getEnvOrDefault("SF2_DATASET", c.Dataset.Path)
	c.Dataset.Format = getEnvOrDefault("SF2_DATASET_FORMAT", c.Dataset.Format)
	c.Console.Hold.Duration = getEnvDurationOrDefault("SF2_KEY_HOLD", c.Console.Hold.Duration)
	c.Log.Format = getEnvOrDefault("SF2_LOG_FORMAT", c.Log.Format)
	c.Log.Level = getEnvOrDefault("SF2_LOG_LEVEL", c.Log.Level)
	c.Log.Path = getEnvOrDefault("SF2_LOG_PATH", c.Log.Path)
	if v := os.Getenv("SF2_KEYS"); v != "" {
		keys, err := parsePairs(v)
		if err != nil {
			return fmt.Errorf("SF2_KEYS: %w", err)
		}
		c.Console.Keys = keys
	}
	return nil
}

func (c *Config) Validate() error {
	if _, err := game.ParseSeat(strconv.Itoa(c.Seat)); err != nil {
		return err
	}
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.Duration.Duration < 0 {
		return fmt.Errorf("duration must not be negative, got %s", c.Duration)
	}
	if c.ReceiveTimeout.Duration < 0 {
		return fmt.Errorf("receive timeout must not be negative, got %s", c.ReceiveTimeout)
	}
	switch c.Dataset.Format {
	case dataset.FormatCSV, dataset.FormatParquet:
	default:
		return fmt.Errorf("unknown dataset format %q", c.Dataset.Format)
	}
	if _, err := c.KeyMap(); err != nil {
		return err
	}
	return nil
}

func (c *Config) SeatValue() game.Seat { return game.Seat(c.Seat) }

func (c *Config) KeyMap() (input.KeyMap, error) {
	if len(c.Console.Keys) == 0 {
		return input.DefaultKeyMap(), nil
	}
	return input.ParseKeyMap(c.Console.Keys)
}

// Summary lists the effective settings for the startup banner.
func (c *Config) Summary() []string {
	lines := []string{
		fmt.Sprintf("Seat: %d", c.Seat),
		fmt.Sprintf("Addr: %s", c.Addr),
		fmt.Sprintf("Duration: %s", c.Duration),
		fmt.Sprintf("Receive Timeout: %s", c.ReceiveTimeout),
	}
	if c.File != "" {
		lines = append(lines, fmt.Sprintf("Config File: %s", c.File))
	}
	return lines
}

// parsePairs reads "k=v,k=v".
func parsePairs(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("bad binding %q, want key=button", part)
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil, errors.New("no bindings")
	}
	return out, nil
}

// Environment variable helpers
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var i int
		if _, err := fmt.Sscanf(val, "%d", &i); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
