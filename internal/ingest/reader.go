package ingest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// sourcePrefix is the column prefix the upstream system stamps on every
// header. It is stripped at the parsing boundary so the rest of the engine
// sees canonical column names.
const sourcePrefix = "nt_"

func canonicalColumn(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, sourcePrefix)
	return strings.ToLower(name)
}

// ReadTable reads a dropped source file into header-keyed rows. The format
// is chosen by extension: .csv is parsed directly, .xlsx through its first
// sheet. Header names are canonicalized; cell values are trimmed with ""
// meaning null.
func ReadTable(path string) ([]map[string]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSV(path)
	case ".xlsx":
		return readXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported source file format: %s", path)
	}
}

func readCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	raw, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv %s: %w", path, err)
	}
	return tableFromCells(raw), nil
}

func readXLSX(path string) ([]map[string]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("source file %s has no sheets", path)
	}
	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet from %s: %w", path, err)
	}
	return tableFromCells(raw), nil
}

func tableFromCells(raw [][]string) []map[string]string {
	if len(raw) < 2 {
		return nil
	}

	header := make([]string, len(raw[0]))
	for i, name := range raw[0] {
		header[i] = canonicalColumn(name)
	}

	rows := make([]map[string]string, 0, len(raw)-1)
	for _, cells := range raw[1:] {
		row := make(map[string]string, len(header))
		empty := true
		for i, name := range header {
			var v string
			if i < len(cells) {
				v = strings.TrimSpace(cells[i])
			}
			row[name] = v
			if v != "" {
				empty = false
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return rows
}
