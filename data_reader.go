package hmibox

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// The ingest pipeline starts with an io.Reader (usually stdin or a data
// file), wrapped by a StringReader that splits it into rows of raw fields.
// TextToSampleReader converts the fields into timestamped numeric samples,
// which the SampleBroadcaster fans out to websocket clients and keeps
// buffered for the analysis and plot endpoints.

var errIgnoreThisRow = errors.New("ignore this row")

// StringReader returns one row of raw string fields per Read call.
type StringReader interface {
	Read(context.Context) ([]string, error)
}

// Sample is one ingested row: an x value (usually a unix timestamp in
// seconds) plus one y value per column.
type Sample struct {
	X  float64
	Ys []float64

	streamEnded bool
	streamErr   error
}

// SampleReader produces samples and knows the column names of the ys.
type SampleReader interface {
	Read(context.Context) (Sample, error)
	Columns() []string
}

// CsvStringReader reads strictly formatted CSV. If the input is separated by
// spaces or loosely formatted, use RelaxedStringReader instead.
type CsvStringReader struct {
	input     io.Reader
	csvReader *csv.Reader

	lineCount int
}

func NewCsvStringReader(input io.Reader) *CsvStringReader {
	csvReader := csv.NewReader(input)
	csvReader.FieldsPerRecord = -1
	return &CsvStringReader{
		input:     input,
		csvReader: csvReader,
	}
}

func (r *CsvStringReader) Read(ctx context.Context) ([]string, error) {
	line, err := r.csvReader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}

	r.lineCount++

	if err != nil {
		logger := logrus.WithFields(logrus.Fields{
			"tag":     "CsvString",
			"line":    line,
			"lineNum": r.lineCount,
		})

		switch err.(type) {
		case *csv.ParseError:
			logger.WithError(err).Debug("unable to parse CSV, ignoring...")
			return nil, errIgnoreThisRow
		default:
			logger.WithError(err).Error("unable to read CSV")
			return nil, err
		}
	}

	return line, nil
}

// RelaxedStringReader splits lines on commas or any run of spaces/tabs. This
// is the default input mode since most tools print columns separated by
// whitespace rather than strict CSV.
type RelaxedStringReader struct {
	input   io.Reader
	scanner *bufio.Scanner
}

func NewRelaxedStringReader(input io.Reader) *RelaxedStringReader {
	return &RelaxedStringReader{
		input:   input,
		scanner: bufio.NewScanner(input),
	}
}

var relaxedSplitter = regexp.MustCompile("[ \t]+|,")

func (r *RelaxedStringReader) Read(ctx context.Context) ([]string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			logrus.WithField("tag", "RelaxedString").WithError(err).Error("unable to read line")
			return nil, err
		}
		return nil, io.EOF
	}

	fields := Filter(relaxedSplitter.Split(r.scanner.Text(), -1), func(value string) bool {
		return len(value) > 0
	})

	return fields, nil
}

// NowXGenerator generates the current unix timestamp in seconds. Micro is
// used so millisecond accuracy survives the float64 conversion.
func NowXGenerator(ys []float64) float64 {
	return float64(time.Now().UnixMicro()) / 1000000.0
}

// TextToSampleReader converts raw string rows into samples. Unparsable rows
// are skipped with a warning rather than failing the stream.
type TextToSampleReader struct {
	// Input is the raw field source (CsvStringReader, RelaxedStringReader or
	// ExcelStringReader).
	Input StringReader

	// XIndex is the column holding the x value. If < 0, x is produced by
	// XGenerator and every column becomes a y.
	XIndex int

	// XGenerator defaults to NowXGenerator.
	XGenerator func([]float64) float64

	// ColumnNames labels the y columns, excluding the x column. Column names
	// drive the analyzer's suggestion rules, so "temp"/"pressure" columns
	// should keep their real names.
	//
	// Header detection rewrites this from the ingest goroutine while the HTTP
	// handlers read it through Columns; columnsMutex synchronizes the two.
	ColumnNames []string

	// DetectHeader names the columns from the first row if it is entirely
	// non-numeric, overriding ColumnNames. The header row is not emitted as
	// data.
	DetectHeader bool

	// ExpectExactColumnCount skips rows whose width differs from the column
	// list.
	ExpectExactColumnCount bool

	headerChecked bool
	columnsMutex  sync.Mutex
}

func (r *TextToSampleReader) Read(ctx context.Context) (Sample, error) {
	line, err := r.Input.Read(ctx)
	if err != nil {
		return Sample{}, err
	}

	logger := logrus.WithFields(logrus.Fields{
		"tag":  "TextToSample",
		"line": line,
	})

	if r.DetectHeader && !r.headerChecked {
		r.headerChecked = true
		if header, ok := asHeader(line, r.XIndex); ok {
			r.columnsMutex.Lock()
			r.ColumnNames = header
			r.columnsMutex.Unlock()
			logger.WithField("columns", header).Info("detected header row")
			return Sample{}, errIgnoreThisRow
		}
	}

	sample := Sample{}

	for i, value := range line {
		floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			logger.Warn("cannot parse float, ignoring...")
			return Sample{}, errIgnoreThisRow
		}

		if i == r.XIndex {
			sample.X = floatValue
			continue
		}

		sample.Ys = append(sample.Ys, floatValue)
	}

	if r.ExpectExactColumnCount && (len(r.ColumnNames) != len(sample.Ys)) {
		logger.Warnf("expected column count (%d) is not observed (%d), skipping row", len(r.ColumnNames), len(sample.Ys))
		return Sample{}, errIgnoreThisRow
	}

	if r.XIndex < 0 {
		xGenerator := r.XGenerator
		if xGenerator == nil {
			xGenerator = NowXGenerator
		}

		sample.X = xGenerator(sample.Ys)
	}

	return sample, nil
}

func (r *TextToSampleReader) Columns() []string {
	r.columnsMutex.Lock()
	defer r.columnsMutex.Unlock()
	return r.ColumnNames
}

// asHeader decides whether a row is a header: non-empty and no field parses
// as a number. The x column, if any, is removed from the returned names.
func asHeader(line []string, xIndex int) ([]string, bool) {
	if len(line) == 0 {
		return nil, false
	}
	for _, field := range line {
		if _, err := strconv.ParseFloat(strings.TrimSpace(field), 64); err == nil {
			return nil, false
		}
	}

	names := make([]string, 0, len(line))
	for i, field := range line {
		if i == xIndex {
			continue
		}
		names = append(names, strings.TrimSpace(field))
	}
	if len(names) == 0 {
		return nil, false
	}
	return names, true
}

// DefaultColumnNames generates placeholder names ("y0", "y1", ...) for
// inputs that carry no header.
func DefaultColumnNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("y%d", i)
	}
	return names
}
