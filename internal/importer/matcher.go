package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// matchLimit caps unique-value queries: two hits already mean ambiguity.
const matchLimit = 2

// Matcher finds the existing ticket carrying a unique value.
//
// Results are memoized by value for the whole commit, and tickets saved
// during the commit are added with Remember so later rows resolve to them.
// Callers always receive a copy; the cached ticket only changes through
// Remember.
type Matcher struct {
	tickets       TicketStore
	attribute     string // as mapped, for messages
	byID          bool
	column        string // fixed attribute column
	customFieldID int64
	cache         map[string]*tracker.Ticket
}

// NewMatcher prepares lookups on attribute. A custom field name is
// translated to the field's ID here, once, so no row repeats the work.
func NewMatcher(ctx context.Context, tickets TicketStore, catalog CatalogStore, projectID int64, attribute string) (*Matcher, error) {
	m := &Matcher{
		tickets:   tickets,
		attribute: attribute,
		cache:     make(map[string]*tracker.Ticket),
	}

	if attribute == AttrID {
		m.byID = true
		return m, nil
	}
	if col, ok := tracker.FilterableAttributes[attribute]; ok {
		m.column = col
		return m, nil
	}

	fields, err := catalog.CustomFields(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load custom fields: %w", err)
	}
	for _, f := range fields {
		if f.Name == attribute {
			m.customFieldID = f.ID
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownUniqueField, attribute)
}

// Match returns the single ticket whose unique attribute equals value.
// Failures are *MatchError wrapping ErrNoMatch or ErrAmbiguousMatch.
//
// Values are compared without surrounding whitespace, for the cache and
// for the store query alike.
func (m *Matcher) Match(ctx context.Context, value string) (*tracker.Ticket, error) {
	value = strings.TrimSpace(value)
	if t, ok := m.cache[value]; ok {
		return t.Clone(), nil
	}
	if value == "" {
		return nil, m.fail(value, ErrNoMatch)
	}

	var found []*tracker.Ticket
	if m.byID {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, m.fail(value, ErrNoMatch)
		}
		t, err := m.tickets.Ticket(ctx, id)
		if errors.Is(err, tracker.ErrNotFound) {
			return nil, m.fail(value, ErrNoMatch)
		}
		if err != nil {
			return nil, err
		}
		found = append(found, t)
	} else {
		var err error
		found, err = m.tickets.FindTickets(ctx, tracker.TicketFilter{
			OpenOnly:      true,
			Attribute:     m.column,
			CustomFieldID: m.customFieldID,
			Value:         value,
			Limit:         matchLimit,
		})
		if err != nil {
			return nil, err
		}
	}

	switch len(found) {
	case 0:
		return nil, m.fail(value, ErrNoMatch)
	case 1:
		m.cache[value] = found[0].Clone()
		return found[0], nil
	default:
		return nil, m.fail(value, ErrAmbiguousMatch)
	}
}

// Remember records t as the ticket for value.
func (m *Matcher) Remember(value string, t *tracker.Ticket) {
	value = strings.TrimSpace(value)
	if value == "" || t == nil {
		return
	}
	m.cache[value] = t.Clone()
}

func (m *Matcher) fail(value string, err error) error {
	return &MatchError{Attribute: m.attribute, Value: value, Err: err}
}
