package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"tastream/internal/parity"
	"tastream/internal/ta"
)

// readInput reads a price series from CSV. Single-input indicators read the
// column named by col; pair indicators read the "high" and "low" columns.
// Without a header row, col is a zero-based index and pairs use columns 0
// and 1. Empty cells are absent observations.
func readInput(r io.Reader, pair bool, col string) (parity.Input, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return parity.Input{}, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) == 0 {
		return parity.Input{}, fmt.Errorf("no input rows")
	}

	header := map[string]int{}
	if isHeader(rows[0]) {
		for i, name := range rows[0] {
			header[strings.ToLower(strings.TrimSpace(name))] = i
		}
		rows = rows[1:]
	}

	column := func(name string, fallback int) (int, error) {
		if len(header) == 0 {
			if n, err := strconv.Atoi(name); err == nil {
				return n, nil
			}
			return fallback, nil
		}
		if i, ok := header[strings.ToLower(name)]; ok {
			return i, nil
		}
		if n, err := strconv.Atoi(name); err == nil {
			return n, nil
		}
		return 0, fmt.Errorf("no %q column in header", name)
	}

	if pair {
		hi, err := column("high", 0)
		if err != nil {
			return parity.Input{}, err
		}
		lo, err := column("low", 1)
		if err != nil {
			return parity.Input{}, err
		}
		high, err := readColumn(rows, hi)
		if err != nil {
			return parity.Input{}, err
		}
		low, err := readColumn(rows, lo)
		if err != nil {
			return parity.Input{}, err
		}
		return parity.Input{High: high, Low: low}, nil
	}

	idx, err := column(col, 0)
	if err != nil {
		return parity.Input{}, err
	}
	values, err := readColumn(rows, idx)
	if err != nil {
		return parity.Input{}, err
	}
	return parity.Input{Values: values}, nil
}

func readColumn(rows [][]string, idx int) ([]ta.Value, error) {
	out := make([]ta.Value, len(rows))
	for i, row := range rows {
		if idx >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[idx])
		if cell == "" || strings.EqualFold(cell, "nan") {
			continue
		}
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out[i] = ta.Of(f)
	}
	return out, nil
}

// isHeader reports whether a row has a non-empty cell that is not a number.
func isHeader(row []string) bool {
	for _, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" || strings.EqualFold(cell, "nan") {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			return true
		}
	}
	return false
}

func formatValue(v ta.Value) string {
	return strconv.FormatFloat(v.OrNaN(), 'g', -1, 64)
}
