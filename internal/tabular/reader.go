package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrNoHeader is returned when a payload holds no header row at all.
var ErrNoHeader = errors.New("empty file: no header row")

// ParseError reports malformed input at a specific line.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid csv on line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Row is one data record. Fields are positional; Get looks them up by header.
type Row struct {
	Line   int      // line the record starts on, 1-based
	Index  int      // ordinal among data rows, 1-based
	Fields []string // cell values in header order

	index map[string]int
}

// Get returns the value under column and whether the row has that column.
// When a header repeats, the first occurrence wins.
func (r Row) Get(column string) (string, bool) {
	i, ok := r.index[column]
	if !ok || i >= len(r.Fields) {
		return "", false
	}
	return r.Fields[i], true
}

// Value returns the value under column, or "" when absent.
func (r Row) Value(column string) string {
	v, _ := r.Get(column)
	return v
}

// recordSource yields raw records with the line each one starts on.
type recordSource interface {
	Read() (record []string, line int, err error)
}

// Reader yields the data rows of one payload. It is not safe for
// concurrent use. Parse the same bytes again to restart.
type Reader struct {
	src     recordSource
	headers []string
	index   map[string]int
	count   int
}

// Parse prepares data for reading and consumes the header row.
func Parse(data []byte, f Format) (*Reader, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var in io.Reader = bytes.NewReader(data)
	enc, err := lookupEncoding(f.Encoding)
	if err != nil {
		return nil, err
	}
	if enc != nil {
		in = transform.NewReader(in, enc.NewDecoder())
	}
	in = newUTF8Sanitizer(newBOMSkippingReader(in))

	var src recordSource
	if f.Quote == '"' {
		src = newCSVSource(in, f.Delimiter)
	} else {
		src = newQuotedSource(in, f.Delimiter, f.Quote)
	}

	header, _, err := src.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, err
	}

	r := &Reader{
		src:     src,
		headers: normalize(header),
		index:   make(map[string]int, len(header)),
	}
	for i, h := range r.headers {
		if _, seen := r.index[h]; !seen {
			r.index[h] = i
		}
	}
	return r, nil
}

// Headers returns the column names from the first record.
func (r *Reader) Headers() []string {
	out := make([]string, len(r.headers))
	copy(out, r.headers)
	return out
}

// Next returns the next data row, or io.EOF once the payload is exhausted.
func (r *Reader) Next() (Row, error) {
	rec, line, err := r.src.Read()
	if err != nil {
		return Row{}, err
	}
	r.count++
	return Row{
		Line:   line,
		Index:  r.count,
		Fields: normalize(rec),
		index:  r.index,
	}, nil
}

// normalize converts every cell to NFC in place.
func normalize(fields []string) []string {
	for i, f := range fields {
		fields[i] = norm.NFC.String(f)
	}
	return fields
}

// csvSource adapts encoding/csv for double-quoted input.
type csvSource struct {
	r *csv.Reader
}

func newCSVSource(in io.Reader, delim rune) *csvSource {
	r := csv.NewReader(in)
	r.Comma = delim
	r.FieldsPerRecord = -1
	return &csvSource{r: r}
}

func (s *csvSource) Read() ([]string, int, error) {
	rec, err := s.r.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, 0, &ParseError{Line: pe.Line, Err: quoteError(pe.Err)}
		}
		return nil, 0, err
	}
	line, _ := s.r.FieldPos(0)
	return rec, line, nil
}

// quoteError maps encoding/csv's quoting errors to this package's, so both
// sources report malformed input the same way.
func quoteError(err error) error {
	switch {
	case errors.Is(err, csv.ErrQuote):
		return ErrQuote
	case errors.Is(err, csv.ErrBareQuote):
		return ErrBareQuote
	}
	return err
}
