package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"envbme/internal/models"
)

// readRows parses a whitespace-separated numeric table, skipping blank
// lines and lines starting with '#'.
func readRows(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows [][]float64
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		row := make([]float64, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: column %d: %w", path, lineNo, i+1, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// loadHard reads hard observations: dims spatial columns, time, value.
func loadHard(path string, dims int) ([]models.HardObservation, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	want := dims + 2
	out := make([]models.HardObservation, len(rows))
	for i, row := range rows {
		if len(row) != want {
			return nil, fmt.Errorf("%s: row %d has %d columns, want %d", path, i+1, len(row), want)
		}
		out[i] = models.HardObservation{
			Point: models.Point{Space: row[:dims], Time: row[dims]},
			Value: row[dims+1],
		}
	}
	return out, nil
}

// loadSoft reads Gaussian soft observations: dims spatial columns, time,
// mean, variance, and optionally lower and upper support bounds.
func loadSoft(path string, dims int) ([]models.SoftObservation, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	base := dims + 3
	out := make([]models.SoftObservation, len(rows))
	for i, row := range rows {
		if len(row) != base && len(row) != base+2 {
			return nil, fmt.Errorf("%s: row %d has %d columns, want %d or %d",
				path, i+1, len(row), base, base+2)
		}
		s := models.SoftObservation{
			Point:    models.Point{Space: row[:dims], Time: row[dims]},
			Mean:     row[dims+1],
			Variance: row[dims+2],
		}
		if len(row) == base+2 {
			s.Lower = row[base]
			s.Upper = row[base+1]
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, i+1, err)
		}
		out[i] = s
	}
	return out, nil
}

// loadTargets reads estimation locations: dims spatial columns and time.
func loadTargets(path string, dims int) ([]models.Point, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	want := dims + 1
	out := make([]models.Point, len(rows))
	for i, row := range rows {
		if len(row) != want {
			return nil, fmt.Errorf("%s: row %d has %d columns, want %d", path, i+1, len(row), want)
		}
		out[i] = models.Point{Space: row[:dims], Time: row[dims]}
	}
	return out, nil
}
