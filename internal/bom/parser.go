package bom

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// RawRow is one physical BOM line, keyed by normalized field name. Rows are
// never mutated after parsing.
type RawRow map[string]string

// ColumnMapping maps normalized field names back to the original header text.
type ColumnMapping map[string]string

// columnSynonyms maps the canonical field vocabulary to the header spellings
// seen in the wild. Matching is case-insensitive on the trimmed header.
var columnSynonyms = map[string][]string{
	"refdes":      {"refdes", "ref", "reference", "reference designator", "designator"},
	"mpn":         {"mpn", "manufacturer part number", "part number", "part#", "mfr part number"},
	"value":       {"value", "component value", "val"},
	"package":     {"package", "footprint", "case", "case code", "size"},
	"voltage":     {"voltage", "voltage rating", "v rating", "v"},
	"tolerance":   {"tolerance", "tol"},
	"power":       {"power", "power rating", "wattage", "w"},
	"description": {"description", "desc", "comment", "notes"},
	"quantity":    {"quantity", "qty", "qty per board"},
}

// Parser reads tabular BOM files into raw rows.
type Parser struct {
	log *zap.Logger
}

func NewParser(logger *zap.Logger) *Parser {
	return &Parser{log: logger}
}

// Parse dispatches on the file extension. Supported: .csv, .xlsx, .xlsm.
func (p *Parser) Parse(path string) ([]RawRow, ColumnMapping, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return p.ParseCSVFile(path)
	case ".xlsx", ".xlsm":
		return p.ParseExcel(path)
	default:
		return nil, nil, fmt.Errorf("unsupported file format: %s", filepath.Ext(path))
	}
}

// NormalizeColumnName maps a raw header to the canonical vocabulary.
// Unrecognized headers pass through lower-cased with spaces as underscores.
func NormalizeColumnName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return ""
	}
	for canonical, variants := range columnSynonyms {
		for _, v := range variants {
			if lower == v {
				return canonical
			}
		}
	}
	return strings.ReplaceAll(lower, " ", "_")
}

// prepareHeaders builds the normalized header list and the normalized to
// original mapping, disambiguating duplicates with numeric suffixes
// (package, package_2, ...).
func prepareHeaders(original []string) ([]string, ColumnMapping) {
	headers := make([]string, 0, len(original))
	mapping := make(ColumnMapping, len(original))
	counts := make(map[string]int, len(original))

	for idx, raw := range original {
		orig := strings.TrimSpace(raw)
		if orig == "" {
			orig = fmt.Sprintf("col_%d", idx)
		}
		base := NormalizeColumnName(orig)
		if base == "" {
			base = fmt.Sprintf("col_%d", idx)
		}

		count := counts[base]
		name := base
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
			for {
				if _, taken := mapping[name]; !taken {
					break
				}
				count++
				name = fmt.Sprintf("%s_%d", base, count+1)
			}
		}
		counts[base] = count + 1

		headers = append(headers, name)
		mapping[name] = orig
	}
	return headers, mapping
}

// ParseCSVFile reads a CSV BOM. Files that are not valid UTF-8 are retried
// through a GBK decoder before giving up, matching how PCB tools commonly
// export on Chinese-locale machines.
func (p *Parser) ParseCSVFile(path string) ([]RawRow, ColumnMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read BOM file: %w", err)
	}
	if !utf8.Valid(data) {
		p.log.Info("CSV is not valid UTF-8, retrying as GBK", zap.String("path", path))
		decoded, _, err := transform.Bytes(simplifiedchinese.GBK.NewDecoder(), data)
		if err != nil {
			return nil, nil, fmt.Errorf("decode GBK CSV: %w", err)
		}
		data = decoded
	}
	return p.ParseCSV(bytes.NewReader(data))
}

// ParseCSV reads a CSV BOM from a reader. The first record is the header row.
func (p *Parser) ParseCSV(r io.Reader) ([]RawRow, ColumnMapping, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("CSV file has no header row")
	}

	headers, mapping := prepareHeaders(records[0])
	rows := make([]RawRow, 0, len(records)-1)
	for _, record := range records[1:] {
		row := rowFromRecord(headers, record)
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}

	p.log.Info("Parsed CSV BOM", zap.Int("rows", len(rows)), zap.Int("columns", len(headers)))
	return rows, mapping, nil
}

// ParseExcel reads the first sheet of an Excel BOM with the header in row 1.
func (p *Parser) ParseExcel(path string) ([]RawRow, ColumnMapping, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open Excel file: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, nil, fmt.Errorf("workbook has no sheets")
	}
	cells, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(cells) == 0 {
		return nil, nil, fmt.Errorf("sheet %q has no header row", sheet)
	}

	headers, mapping := prepareHeaders(cells[0])
	rows := make([]RawRow, 0, len(cells)-1)
	for _, record := range cells[1:] {
		row := rowFromRecord(headers, record)
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}

	p.log.Info("Parsed Excel BOM",
		zap.String("sheet", sheet),
		zap.Int("rows", len(rows)),
		zap.Int("columns", len(headers)))
	return rows, mapping, nil
}

// rowFromRecord builds a RawRow, skipping rows with no values at all.
func rowFromRecord(headers []string, record []string) RawRow {
	row := make(RawRow, len(headers))
	hasData := false
	for i, h := range headers {
		val := ""
		if i < len(record) {
			val = strings.TrimSpace(record[i])
		}
		row[h] = val
		if val != "" {
			hasData = true
		}
	}
	if !hasData {
		return nil
	}
	return row
}
