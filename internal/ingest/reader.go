// =============================================================================
// Billing Reconciler - Raw Row Readers
// =============================================================================
//
// This module turns billing exports into header-keyed raw rows. It knows
// nothing about invoices: every value stays a string and the aggregator
// decides what each column means through the field mapping.
//
// SUPPORTED FORMATS:
//   - .xlsx / .xlsm : read with excelize, raw cell values (dates stay Excel
//                     serial numbers, amounts stay unformatted)
//   - .csv / .txt   : encoding/csv with a configurable delimiter
//
// =============================================================================

package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ginjaninja78/billing-reconciler/internal/config"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for file extensions no reader handles.
var ErrUnsupportedFormat = errors.New("unsupported input format")

// ErrEmptyInput is returned when a file has no header row.
var ErrEmptyInput = errors.New("input has no header row")

// =============================================================================
// TABLE STRUCTURE
// =============================================================================

// Table is the parsed content of one input file.
type Table struct {
	// Headers are the cleaned column headers.
	Headers []string

	// Rows are the non-empty data rows in file order.
	Rows []Row

	// SourceFile is the path the table was read from.
	SourceFile string
}

// Row is one data row.
type Row struct {
	// Number is the 1-based row number in the source file.
	Number int

	// Values maps header -> trimmed cell value. Missing cells are "".
	Values map[string]string
}

// Get returns the value of a column, or "" when the column is unmapped.
func (r Row) Get(column string) string {
	if column == "" {
		return ""
	}
	return r.Values[column]
}

// =============================================================================
// READERS
// =============================================================================

// ReadFile reads an input file, choosing the reader from its extension.
//
// PARAMETERS:
//   - path: The input file.
//   - settings: The ingestion settings (sheet, header row, CSV delimiter).
//
// RETURNS:
//   - The parsed table.
//   - ErrUnsupportedFormat for unknown extensions, or a read error.
func ReadFile(path string, settings config.IngestConfig) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadWorkbook(path, settings.Sheet, settings.HeaderRow)
	case ".csv", ".txt":
		return ReadCSVFile(path, settings.CSV, settings.HeaderRow)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// ReadWorkbook reads one sheet of an XLSX workbook. An empty sheet name
// selects the first sheet.
func ReadWorkbook(path, sheet string, headerRow int) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: workbook has no sheets", ErrEmptyInput)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	table, err := buildTable(rows, headerRow)
	if err != nil {
		return nil, err
	}
	table.SourceFile = path
	return table, nil
}

// ReadCSVFile reads a CSV file from disk.
func ReadCSVFile(path string, settings config.CSVSettings, headerRow int) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	table, err := ReadCSV(file, settings, headerRow)
	if err != nil {
		return nil, err
	}
	table.SourceFile = path
	return table, nil
}

// ReadCSV reads CSV content from r.
func ReadCSV(r io.Reader, settings config.CSVSettings, headerRow int) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = delimiter(settings.Delimiter)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	return buildTable(rows, headerRow)
}

// delimiter maps the configured delimiter name to a rune.
func delimiter(name string) rune {
	switch name {
	case "\\t", "tab", "TAB":
		return '\t'
	case "|", "pipe", "PIPE":
		return '|'
	case ",", "comma":
		return ','
	case "", ";", "semicolon":
		return ';'
	default:
		return []rune(name)[0]
	}
}

// =============================================================================
// TABLE BUILDING
// =============================================================================

// buildTable converts raw rows into a Table. headerRow is 1-based; rows
// above it are ignored.
func buildTable(rows [][]string, headerRow int) (*Table, error) {
	if headerRow < 1 {
		headerRow = 1
	}
	if len(rows) < headerRow {
		return nil, ErrEmptyInput
	}

	headers := cleanHeaders(rows[headerRow-1])
	table := &Table{Headers: headers}

	for i := headerRow; i < len(rows); i++ {
		raw := rows[i]
		if isRowEmpty(raw) {
			continue
		}

		values := make(map[string]string, len(headers))
		for col, header := range headers {
			if col < len(raw) {
				values[header] = strings.TrimSpace(raw[col])
			} else {
				values[header] = ""
			}
		}
		table.Rows = append(table.Rows, Row{Number: i + 1, Values: values})
	}

	return table, nil
}

// cleanHeaders trims headers, strips a UTF-8 BOM and names blank columns.
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		header = strings.TrimSpace(strings.TrimPrefix(header, "\uFEFF"))
		if header == "" {
			header = fmt.Sprintf("Column_%d", i+1)
		}
		cleaned[i] = header
	}
	return cleaned
}

func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
