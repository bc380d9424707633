package dataset

import (
	"fmt"

	"github.com/brensch/sf2bot/features"
	"github.com/brensch/sf2bot/game"
)

const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// Open returns the sink for format. For csv, path is the file appended to;
// for parquet, path is the shard directory and shard names the file.
func Open(format, path, shard string) (Sink, error) {
	switch format {
	case FormatCSV, "":
		return OpenCSV(path)
	case FormatParquet:
		return OpenParquet(path, shard)
	}
	return nil, fmt.Errorf("unknown dataset format %q", format)
}

// Logger turns frames into rows.
type Logger struct {
	sink Sink
	rows int64
}

func NewLogger(sink Sink) *Logger { return &Logger{sink: sink} }

// Record appends one labelled row for state and the buttons held during it.
func (l *Logger) Record(state *game.GameState, held game.Buttons) error {
	if err := l.sink.Write(NewRow(features.Extract(state), held)); err != nil {
		return err
	}
	l.rows++
	return nil
}

func (l *Logger) Rows() int64 { return l.rows }

func (l *Logger) Close() error { return l.sink.Close() }
