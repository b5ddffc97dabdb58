package csv

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

// sliceRows serves pre-read spreadsheet rows through RowReader.
type sliceRows struct {
	rows [][]string
	next int
}

// NewSliceReader returns a RowReader over rows already in memory.
func NewSliceReader(rows [][]string) RowReader {
	return &sliceRows{rows: rows}
}

func (s *sliceRows) Read() ([]string, error) {
	if s.next >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.next]
	s.next++
	return row, nil
}

// OpenSpreadsheet reads the first sheet of an .xlsx or .xls workbook. The
// extension of path selects the reader.
func OpenSpreadsheet(path string, r io.ReadSeeker) (RowReader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err := readXLSX(r)
		if err != nil {
			return nil, err
		}
		return NewSliceReader(rows), nil
	case ".xls":
		rows, err := readXLS(r)
		if err != nil {
			return nil, err
		}
		return NewSliceReader(rows), nil
	default:
		return nil, fmt.Errorf("%w: %s is not a spreadsheet", domain.ErrFormat, path)
	}
}

func readXLSX(r io.Reader) ([][]string, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open workbook: %v", domain.ErrSourceUnreadable, err)
	}
	defer book.Close()

	sheet := book.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("%w: workbook has no sheets", domain.ErrSourceUnreadable)
	}
	rows, err := book.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sheet %q: %v", domain.ErrSourceUnreadable, sheet, err)
	}
	return rows, nil
}

func readXLS(r io.ReadSeeker) ([][]string, error) {
	book, err := xls.OpenReader(r, "utf-8")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open workbook: %v", domain.ErrSourceUnreadable, err)
	}
	if book.NumSheets() == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", domain.ErrSourceUnreadable)
	}
	sheet := book.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("%w: could not read first sheet", domain.ErrSourceUnreadable)
	}

	rows := make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for j := range cells {
			cells[j] = row.Col(j)
		}
		rows = append(rows, cells)
	}
	return trimTrailingBlank(rows), nil
}

func trimTrailingBlank(rows [][]string) [][]string {
	for len(rows) > 0 && blank(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	return rows
}
