package tabular

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Errors for malformed quoting; they match encoding/csv's rules.
var (
	ErrQuote     = errors.New(`extraneous or missing quote in quoted-field`)
	ErrBareQuote = errors.New(`bare quote in non-quoted-field`)
)

// quotedSource reads delimited records that use a quote character other
// than '"', which encoding/csv cannot be configured for. Quoting follows
// the same rules: a doubled quote inside a quoted field is a literal quote,
// quoted fields may span lines, and \r\n is read as \n.
type quotedSource struct {
	r     *bufio.Reader
	delim rune
	quote rune
	line  int
}

func newQuotedSource(in io.Reader, delim, quote rune) *quotedSource {
	return &quotedSource{r: bufio.NewReader(in), delim: delim, quote: quote, line: 1}
}

func (s *quotedSource) Read() ([]string, int, error) {
	for {
		rec, start, err := s.readRecord()
		if err != nil {
			return nil, 0, err
		}
		// Blank lines are skipped, as encoding/csv does.
		if len(rec) == 1 && rec[0] == "" {
			continue
		}
		return rec, start, nil
	}
}

func (s *quotedSource) readRecord() ([]string, int, error) {
	start := s.line
	var (
		fields []string
		field  strings.Builder
		quoted bool // inside a quoted field
		closed bool // a quoted field just ended
		read   bool
	)

	for {
		c, _, err := s.r.ReadRune()
		if err == io.EOF {
			if quoted {
				return nil, 0, &ParseError{Line: start, Err: ErrQuote}
			}
			if !read {
				return nil, 0, io.EOF
			}
			return append(fields, field.String()), start, nil
		}
		if err != nil {
			return nil, 0, err
		}
		read = true

		if c == '\r' && s.crlf() {
			c = '\n'
		}

		if quoted {
			switch c {
			case s.quote:
				next, _, err := s.r.ReadRune()
				if err == nil && next == s.quote {
					field.WriteRune(s.quote)
					continue
				}
				if err == nil {
					_ = s.r.UnreadRune()
				}
				quoted, closed = false, true
			case '\n':
				s.line++
				field.WriteRune(c)
			default:
				field.WriteRune(c)
			}
			continue
		}

		switch c {
		case s.delim:
			fields = append(fields, field.String())
			field.Reset()
			closed = false
		case '\n':
			s.line++
			return append(fields, field.String()), start, nil
		default:
			switch {
			case closed:
				return nil, 0, &ParseError{Line: s.line, Err: ErrQuote}
			case c == s.quote && field.Len() == 0:
				quoted = true
			case c == s.quote:
				return nil, 0, &ParseError{Line: s.line, Err: ErrBareQuote}
			default:
				field.WriteRune(c)
			}
		}
	}
}

// crlf reports whether the '\r' just read ends a line: it is followed by
// '\n', which is consumed, or by the end of input.
func (s *quotedSource) crlf() bool {
	next, _, err := s.r.ReadRune()
	if err != nil {
		return err == io.EOF
	}
	if next == '\n' {
		return true
	}
	_ = s.r.UnreadRune()
	return false
}
