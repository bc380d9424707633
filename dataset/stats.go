package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// ActionRate is how often one label is pressed across a dataset.
type ActionRate struct {
	Column string
	Rate   float64
}

// Summary is a quick label-balance check run before training.
type Summary struct {
	Source  string
	Rows    int64
	Actions []ActionRate
	// MeanHealthDiff hints at whether the recordings are mostly winning or
	// losing rounds.
	MeanHealthDiff float64
}

// Stats scans a CSV file, a parquet shard, or a directory of shards with an
// in-memory DuckDB.
func Stats(ctx context.Context, path string) (*Summary, error) {
	src, err := sourceExpr(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	cols := ActionColumns()
	selects := make([]string, 0, len(cols)+2)
	selects = append(selects, "COUNT(*)", `AVG("p1_health_diff")`)
	for _, c := range cols {
		selects = append(selects, fmt.Sprintf(`AVG(CAST(%q AS DOUBLE))`, c))
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selects, ", "), src)

	var (
		rows       int64
		healthDiff sql.NullFloat64
		rates      = make([]sql.NullFloat64, len(cols))
	)
	dest := []any{&rows, &healthDiff}
	for i := range rates {
		dest = append(dest, &rates[i])
	}
	if err := db.QueryRowContext(ctx, query).Scan(dest...); err != nil {
		return nil, fmt.Errorf("query %s: %w", path, err)
	}

	sum := &Summary{Source: path, Rows: rows, MeanHealthDiff: healthDiff.Float64}
	for i, c := range cols {
		sum.Actions = append(sum.Actions, ActionRate{Column: c, Rate: rates[i].Float64})
	}
	return sum, nil
}

func sourceExpr(path string) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("dataset: %w", err)
	}
	quote := func(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

	switch {
	case st.IsDir():
		return fmt.Sprintf("read_parquet(%s)", quote(filepath.Join(path, "*.parquet"))), nil
	case strings.EqualFold(filepath.Ext(path), ".parquet"):
		return fmt.Sprintf("read_parquet(%s)", quote(path)), nil
	default:
		return fmt.Sprintf("read_csv_auto(%s, header=true)", quote(path)), nil
	}
}
