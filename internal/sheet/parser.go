// Package sheet reads exported procurement reports (.xlsx) into raw rows,
// keeping the hyperlink targets attached to cells.
package sheet

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/tender-sync/internal/model"
)

// Parse reads the first sheet of the workbook at path. The first row is the
// header; every following non-empty row becomes a RawRow.
func Parse(path string) ([]model.RawRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return parse(path, data)
}

// ParseReader is Parse for an in-memory workbook. name is used in errors.
func ParseReader(name string, r io.Reader) ([]model.RawRow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Path: name, Err: err}
	}
	return parse(name, data)
}

func parse(name string, data []byte) ([]model.RawRow, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ParseError{Path: name, Err: eris.Wrap(err, "not an xlsx workbook")}
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Path: name, Err: eris.Wrap(err, "open workbook")}
	}
	defer f.Close() //nolint:errcheck

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ParseError{Path: name, Err: eris.New("workbook has no sheets")}
	}

	grid, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &ParseError{Path: name, Err: eris.Wrapf(err, "read sheet %q", sheets[0])}
	}
	if len(grid) == 0 {
		return nil, nil
	}

	headers := normalizeHeaders(grid[0])

	// Sheet row number (1-based) -> index into rows.
	byLine := make(map[int]int, len(grid))
	rows := make([]model.RawRow, 0, len(grid)-1)
	for i := 1; i < len(grid); i++ {
		row := model.NewRawRow(i + 1)
		for c, h := range headers {
			var cell string
			if c < len(grid[i]) {
				cell = grid[i][c]
			}
			row.Fields[h] = cellValue(cell)
		}
		for c := len(headers); c < len(grid[i]); c++ {
			row.Fields[columnName(c+1)] = cellValue(grid[i][c])
		}
		byLine[i+1] = len(rows)
		rows = append(rows, row)
	}

	links, err := firstSheetLinks(zr)
	if err != nil {
		// Values are still usable without links; enrichment will skip rows.
		zap.L().Warn("sheet: hyperlinks unreadable",
			zap.String("file", name),
			zap.Error(err),
		)
	}
	for _, l := range links {
		idx, ok := byLine[l.Row]
		if !ok {
			continue
		}
		header := columnName(l.Col)
		if l.Col <= len(headers) {
			header = headers[l.Col-1]
		}
		rows[idx].SetLink(header, l.Target)
	}

	out := rows[:0]
	for _, r := range rows {
		if !r.IsEmpty() {
			out = append(out, r)
		}
	}
	return out, nil
}

// normalizeHeaders NFC-normalizes and trims headers. Blank headers become
// Column<N>; a repeated header gets a " (2)", " (3)", ... suffix so every
// column keeps its own value and link.
func normalizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(norm.NFC.String(h))
		if h == "" {
			h = columnName(i + 1)
		}
		name := h
		for n := 2; seen[name]; n++ {
			name = fmt.Sprintf("%s (%d)", h, n)
		}
		seen[name] = true
		headers[i] = name
	}
	return headers
}

func cellValue(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func columnName(n int) string {
	return fmt.Sprintf("Column%d", n)
}
