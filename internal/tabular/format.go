// Package tabular turns uploaded delimited text into rows of named string
// fields.
//
// All text clean-up happens here, once per payload and once per row: the
// payload is decoded from its declared encoding, a UTF-8 BOM is dropped,
// invalid byte sequences are replaced, and every cell is normalized to
// Unicode NFC before a Row is handed to callers. Downstream code can treat
// every key and value as clean UTF-8.
package tabular

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// Format describes how a payload is laid out.
type Format struct {
	Delimiter rune   // field separator
	Quote     rune   // quote character
	Encoding  string // IANA charset name
}

// DefaultFormat is comma separated, double-quoted UTF-8.
func DefaultFormat() Format {
	return Format{Delimiter: ',', Quote: '"', Encoding: "UTF-8"}
}

var (
	// ErrUnsupportedEncoding is returned for charset names we cannot decode.
	ErrUnsupportedEncoding = errors.New("encoding error: unsupported text encoding")

	// ErrInvalidFormat is returned when a delimiter or quote is not a single character.
	ErrInvalidFormat = errors.New("invalid csv format option")
)

// ParseFormat builds a Format from user-supplied option strings. Blank
// options fall back to DefaultFormat.
func ParseFormat(delimiter, quote, enc string) (Format, error) {
	f := DefaultFormat()

	var err error
	if f.Delimiter, err = singleRune("delimiter", delimiter, f.Delimiter); err != nil {
		return Format{}, err
	}
	if f.Quote, err = singleRune("quote", quote, f.Quote); err != nil {
		return Format{}, err
	}
	if enc = strings.TrimSpace(enc); enc != "" {
		f.Encoding = enc
	}

	return f, f.Validate()
}

func singleRune(name, s string, def rune) (rune, error) {
	if s == "" {
		return def, nil
	}
	if s == `\t` {
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("%w: %s must be a single character, got %q", ErrInvalidFormat, name, s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// Validate checks that the format can be parsed.
func (f Format) Validate() error {
	if f.Delimiter == f.Quote {
		return fmt.Errorf("%w: delimiter and quote must differ", ErrInvalidFormat)
	}
	for _, r := range []rune{f.Delimiter, f.Quote} {
		if r == 0 || r == '\r' || r == '\n' || r == utf8.RuneError {
			return fmt.Errorf("%w: %q cannot be used as a delimiter or quote", ErrInvalidFormat, r)
		}
	}
	if _, err := lookupEncoding(f.Encoding); err != nil {
		return err
	}
	return nil
}

// lookupEncoding returns nil for UTF-8, which needs no decoding.
func lookupEncoding(name string) (encoding.Encoding, error) {
	if name == "" || strings.EqualFold(name, "UTF-8") || strings.EqualFold(name, "UTF8") {
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
	}
	return enc, nil
}
