package hmibox

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// ExcelStringReader reads the rows of one worksheet as raw string fields,
// so XLSX exports from historians or spreadsheets feed the same sample
// pipeline as text input. The whole sheet is loaded up front; XLSX is not a
// streamable format the way stdin is.
type ExcelStringReader struct {
	rows [][]string
	next int
}

// NewExcelStringReader opens an XLSX document and selects a worksheet by
// name; an empty name means the first sheet.
func NewExcelStringReader(input io.Reader, sheet string) (*ExcelStringReader, error) {
	f, err := excelize.OpenReader(input)
	if err != nil {
		return nil, fmt.Errorf("opening xlsx: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
		if sheet == "" {
			return nil, fmt.Errorf("xlsx document has no sheets")
		}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}

	logrus.WithFields(logrus.Fields{
		"tag":   "ExcelString",
		"sheet": sheet,
		"rows":  len(rows),
	}).Info("loaded worksheet")

	return &ExcelStringReader{rows: rows}, nil
}

func (r *ExcelStringReader) Read(ctx context.Context) ([]string, error) {
	for r.next < len(r.rows) {
		row := r.rows[r.next]
		r.next++
		if len(row) == 0 {
			continue
		}
		return row, nil
	}
	return nil, io.EOF
}
