package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// csvRow gives header-based access to one record.
type csvRow struct {
	cols   map[string]int
	values []string
}

func (r csvRow) get(col string) string {
	if idx, ok := r.cols[col]; ok && idx < len(r.values) {
		return strings.TrimSpace(r.values[idx])
	}
	return ""
}

// readCSV parses header-based CSV. Header names are matched with fold
// applied; rows that fail to parse or have the wrong width become warnings.
func readCSV(data []byte, required string, fold func(string) string, res *Result, each func(rowNum int, row csvRow)) error {
	reader := csv.NewReader(bytes.NewReader(stripBOM(data)))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, col := range header {
		cols[fold(strings.TrimSpace(col))] = i
	}
	if _, ok := cols[required]; !ok {
		return fmt.Errorf("missing required column: %s", required)
	}

	for rowNum := 2; ; rowNum++ {
		values, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("row %d: failed to parse: %v", rowNum, err))
			continue
		}
		if len(values) != len(header) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("row %d: column count mismatch (expected %d, got %d)", rowNum, len(header), len(values)))
			continue
		}
		each(rowNum, csvRow{cols: cols, values: values})
	}
}

func identity(s string) string { return s }
