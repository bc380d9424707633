package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const parquetSchema = "sf2_frame_v1"

// ParquetSink writes one shard per session. Rows go to outDir/tmp/ and the
// file is moved into outDir on Close, so readers never see a partial shard.
type ParquetSink struct {
	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[Row]
	rows   int
}

// OpenParquet starts a shard named <name>.parquet in outDir.
func OpenParquet(outDir, name string) (*ParquetSink, error) {
	if outDir == "" {
		return nil, fmt.Errorf("outDir is required")
	}
	if name == "" {
		return nil, fmt.Errorf("shard name is required")
	}

	absOut, err := filepath.Abs(outDir)
	if err != nil {
		absOut = outDir
	}
	tmpDir := filepath.Join(absOut, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	file := name + ".parquet"
	tmpPath := filepath.Join(tmpDir, file)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}

	w := parquet.NewGenericWriter[Row](
		f,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	w.SetKeyValueMetadata("schema", parquetSchema)

	return &ParquetSink{
		tmpPath: tmpPath,
		outPath: filepath.Join(absOut, file),
		file:    f,
		writer:  w,
	}, nil
}

func (p *ParquetSink) OutPath() string { return p.outPath }
func (p *ParquetSink) Rows() int       { return p.rows }

func (p *ParquetSink) Write(r Row) error {
	if p.writer == nil {
		return ErrClosed
	}
	if _, err := p.writer.Write([]Row{r}); err != nil {
		return fmt.Errorf("write parquet row: %w", err)
	}
	p.rows++
	return nil
}

// Close finalizes the shard. A session that recorded nothing leaves no file.
func (p *ParquetSink) Close() error {
	if p.writer == nil && p.file == nil {
		return nil
	}

	closeErr := p.writer.Close()
	p.writer = nil
	_ = p.file.Sync()
	fileErr := p.file.Close()
	p.file = nil

	if closeErr != nil {
		return fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		return fmt.Errorf("close parquet file: %w", fileErr)
	}

	if p.rows == 0 {
		_ = os.Remove(p.tmpPath)
		return nil
	}
	if err := os.Rename(p.tmpPath, p.outPath); err != nil {
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// ReadParquet loads every row of a shard.
func ReadParquet(path string) ([]Row, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}
