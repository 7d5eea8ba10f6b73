package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// labelColumn holds the dataset's outcome; every other column is sent as-is
// except fractionColumn, which the dataset stores as a 0-1 fraction and the
// API takes as a percentage.
const (
	labelColumn    = "loan_status"
	fractionColumn = "loan_percent_income"
)

// LoanRow is one labelled application.
type LoanRow struct {
	Line     int
	Fields   map[string]any
	Approved bool
}

// readLoanCSV reads rows keyed by header name. Values stay strings for the
// server's normalizer to parse. Rows without a 0/1 label are skipped.
func readLoanCSV(r io.Reader, limit int) ([]LoanRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	labelIdx := -1
	for i, col := range header {
		if strings.EqualFold(col, labelColumn) {
			labelIdx = i
		}
	}
	if labelIdx < 0 {
		return nil, fmt.Errorf("missing %s column", labelColumn)
	}

	var rows []LoanRow
	line := 1
	for {
		record, err := reader.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil || len(record) != len(header) {
			continue // Skip malformed rows
		}

		label := strings.TrimSpace(record[labelIdx])
		if label != "0" && label != "1" {
			continue
		}

		fields := make(map[string]any, len(header)-1)
		for i, col := range header {
			if i == labelIdx {
				continue
			}
			fields[col] = record[i]
			if strings.EqualFold(col, fractionColumn) {
				if v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64); err == nil {
					fields[col] = v * 100
				}
			}
		}

		rows = append(rows, LoanRow{Line: line, Fields: fields, Approved: label == "1"})
		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	return rows, nil
}
