package importer

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// ErrInvalidDate is wrapped by coercion errors for unparseable dates.
var ErrInvalidDate = errors.New("invalid date")

// ErrInvalidNumber is wrapped by coercion errors for unparseable numbers.
var ErrInvalidNumber = errors.New("invalid number")

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would land more than this many years in the future are
// moved to the previous century.
var TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling.
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2 January 2006",
		"20060102",
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
)

// ParseDate reads a calendar date in any supported layout.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t), nil
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return dateOnly(t), nil
		}
	}

	return time.Time{}, ErrInvalidDate
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var lineBreaks = regexp.MustCompile(`(?i)\r\n?|\\n|<br\s*/?>`)

// NormalizeLineBreaks rewrites CRLF, CR, literal "\n" and HTML break tags as "\n".
func NormalizeLineBreaks(s string) string {
	return lineBreaks.ReplaceAllString(s, "\n")
}

// Coercer converts raw values into the stored form of a custom field.
type Coercer struct {
	resolver    *Resolver
	addVersions bool
}

// NewCoercer returns a coercer resolving references through r.
func NewCoercer(r *Resolver, addVersions bool) *Coercer {
	return &Coercer{resolver: r, addVersions: addVersions}
}

// Coerce converts raw for field. Multi-valued lists return one element per
// value; every other format returns a single element. Failures are
// *FieldCoercionError.
func (c *Coercer) Coerce(ctx context.Context, project *tracker.Project, field tracker.CustomField, raw string) ([]string, error) {
	fail := func(err error) error {
		return &FieldCoercionError{Field: field.Name, Value: raw, Err: err}
	}

	switch field.Format {
	case tracker.FormatUser:
		u, err := c.resolver.User(ctx, strings.TrimSpace(raw))
		if err != nil {
			return nil, fail(err)
		}
		return []string{strconv.FormatInt(u.ID, 10)}, nil

	case tracker.FormatVersion:
		id, err := c.resolver.Version(ctx, project, strings.TrimSpace(raw), c.addVersions)
		if err != nil {
			return nil, fail(err)
		}
		return []string{strconv.FormatInt(id, 10)}, nil

	case tracker.FormatDate:
		d, err := ParseDate(raw)
		if err != nil {
			return nil, fail(err)
		}
		return []string{d.Format(tracker.DateLayout)}, nil

	case tracker.FormatList:
		if !field.Multiple {
			return []string{raw}, nil
		}
		var values []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
		return values, nil

	case tracker.FormatText:
		return []string{NormalizeLineBreaks(raw)}, nil

	default:
		return []string{raw}, nil
	}
}
