package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/issueimport/internal/tabular"
	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// linkRelations creates the typed relations a saved ticket's row asks for.
// Every mapped kind is attempted; a missing other ticket follows the
// skip/fail policy once all kinds ran. An ambiguous other ticket stops
// the batch.
func (p *processor) linkRelations(ctx context.Context, row tabular.Row, t *tracker.Ticket) *rowStop {
	if len(p.relations) == 0 {
		return nil
	}

	var (
		existing []tracker.Relation
		loaded   bool
		missing  []string
	)
	for _, rc := range p.relations {
		value := strings.TrimSpace(row.Value(rc.column))
		if value == "" {
			continue
		}

		other, err := p.matcher.Match(ctx, value)
		switch {
		case errors.Is(err, ErrAmbiguousMatch):
			return &rowStop{
				status:   OutcomeFailed,
				messages: []string{fmt.Sprintf("When adding the %s relation: multiple matches for the value %q were found", rc.typ, value)},
				abort:    true,
			}
		case errors.Is(err, ErrNoMatch):
			missing = append(missing, fmt.Sprintf("When adding the %s relation: no match for the value %q was found", rc.typ, value))
			continue
		case err != nil:
			return stopf(OutcomeFailed, "When adding the %s relation: %v", rc.typ, err)
		}

		if other.ID == t.ID {
			return stopf(OutcomeFailed, "When adding the %s relation: a ticket cannot be related to itself", rc.typ)
		}

		if !loaded {
			if existing, err = p.tickets.Relations(ctx, t.ID); err != nil {
				return stopf(OutcomeFailed, "When adding the %s relation: %v", rc.typ, err)
			}
			loaded = true
		}
		if hasRelation(existing, t.ID, other.ID, rc.typ) {
			continue
		}

		rel := tracker.NewRelation(t.ID, other.ID, rc.typ)
		if err := p.tickets.CreateRelation(ctx, &rel); err != nil {
			return stopf(OutcomeFailed, "When adding the %s relation: %v", rc.typ, err)
		}
		existing = append(existing, rel)
	}

	if len(missing) == 0 {
		return nil
	}
	status := OutcomeFailed
	if p.req.IgnoreMissing {
		status = OutcomeSkipped
	}
	return &rowStop{status: status, messages: missing}
}

func hasRelation(rels []tracker.Relation, ticketID, otherID int64, typ tracker.RelationType) bool {
	for _, r := range rels {
		if r.Links(ticketID, otherID, typ) {
			return true
		}
	}
	return false
}
