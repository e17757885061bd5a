package scoring

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// DatasetOptions controls how a reference CSV is read.
type DatasetOptions struct {
	// Target is the column holding the two-valued outcome. Defaults to "risk".
	Target string `yaml:"target"`
	// Drop lists columns to ignore, by normalised name.
	Drop []string `yaml:"drop"`
	// IndexColumn skips the first column (a row index written by pandas).
	IndexColumn bool `yaml:"index_column"`
}

// Dataset is a reference dataset encoded for fitting. Numeric columns are
// standardised with population statistics; categorical columns are
// label-encoded in sorted order. Y holds the index of each row's outcome
// in Classes, so 1 means the second class in sort order ("good" for
// good/bad data).
type Dataset struct {
	Schema  []Feature
	Classes []string
	X       [][]float64
	Y       []float64
}

// NormalizeColumn lower-cases a header and replaces spaces with underscores.
func NormalizeColumn(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// ReadDataset parses a CSV with a header row. Rows with an empty or NA
// value in any kept column are dropped.
func ReadDataset(r io.Reader, opts DatasetOptions) (*Dataset, error) {
	if opts.Target == "" {
		opts.Target = "risk"
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("scoring: read dataset header: %w", err)
	}

	type column struct {
		index int
		name  string
	}
	var cols []column
	target := -1
	for i, h := range header {
		if opts.IndexColumn && i == 0 {
			continue
		}
		name := NormalizeColumn(h)
		if slices.Contains(opts.Drop, name) {
			continue
		}
		if name == opts.Target {
			target = i
			continue
		}
		cols = append(cols, column{index: i, name: name})
	}
	if target < 0 {
		return nil, fmt.Errorf("scoring: dataset has no %q column", opts.Target)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("scoring: dataset has no feature columns")
	}

	var raw [][]string
	var outcomes []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scoring: read dataset: %w", err)
		}
		if len(rec) != len(header) || missing(rec[target]) {
			continue
		}
		row := make([]string, len(cols))
		complete := true
		for j, c := range cols {
			v := strings.TrimSpace(rec[c.index])
			if missing(v) {
				complete = false
				break
			}
			row[j] = v
		}
		if !complete {
			continue
		}
		raw = append(raw, row)
		outcomes = append(outcomes, strings.TrimSpace(rec[target]))
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("scoring: dataset has no complete rows")
	}

	ds := &Dataset{Classes: sortedUnique(outcomes)}
	if len(ds.Classes) != 2 {
		return nil, fmt.Errorf("scoring: target %q must have exactly two classes, found %d", opts.Target, len(ds.Classes))
	}
	for _, o := range outcomes {
		idx, _ := slices.BinarySearch(ds.Classes, o)
		ds.Y = append(ds.Y, float64(idx))
	}

	for j, c := range cols {
		values := make([]string, len(raw))
		for i := range raw {
			values[i] = raw[i][j]
		}
		ds.Schema = append(ds.Schema, inferFeature(c.name, values))
	}

	ds.X = make([][]float64, len(raw))
	for i, row := range raw {
		in := make(map[string]any, len(row))
		for j, f := range ds.Schema {
			in[f.Name] = row[j]
		}
		x, err := encodeAll(ds.Schema, in)
		if err != nil {
			return nil, fmt.Errorf("scoring: encode dataset row %d: %w", i+1, err)
		}
		ds.X[i] = x
	}
	return ds, nil
}

func missing(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "na", "nan", "null":
		return true
	}
	return false
}

func sortedUnique(values []string) []string {
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}

// inferFeature treats a column as numeric when every value parses as a
// float, and as categorical otherwise.
func inferFeature(name string, values []string) Feature {
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Feature{Name: name, Kind: KindCategorical, Classes: sortedUnique(values)}
		}
		nums = append(nums, f)
	}
	mean, std := stat.PopMeanStdDev(nums, nil)
	return Feature{Name: name, Kind: KindNumeric, Mean: mean, Std: std}
}
