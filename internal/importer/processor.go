package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/issueimport/internal/tabular"
	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// rowStop ends a row before it succeeds.
type rowStop struct {
	status   Outcome
	messages []string
	abort    bool // stop the whole batch after this row
}

func stopf(status Outcome, format string, args ...any) *rowStop {
	return &rowStop{status: status, messages: []string{fmt.Sprintf(format, args...)}}
}

// rowRefs holds the references resolved from one row. Nil means the row
// did not supply the value.
type rowRefs struct {
	project  *tracker.Project
	tracker  *tracker.Tracker
	status   *tracker.Status
	priority *tracker.Priority
	author   *tracker.User
	assignee *tracker.User
	category *int64
	version  *int64
}

// processor carries the per-commit state the row stages share. It is used
// by one goroutine for one commit and then discarded.
type processor struct {
	req      *CommitRequest
	mapping  *FieldMapping
	project  *tracker.Project
	actor    *tracker.User
	tickets  TicketStore
	catalog  CatalogStore
	resolver *Resolver
	matcher  *Matcher // nil without a unique field
	coercer  *Coercer
	notifier Notifier

	relations       []relationColumn
	defaultTracker  int64
	defaultStatus   *tracker.Status
	defaultPriority *tracker.Priority
	fields          map[int64][]tracker.CustomField
	now             func() time.Time
}

// process runs one row to its outcome. abort reports that no further rows
// may be processed.
func (p *processor) process(ctx context.Context, row tabular.Row) (rec OutcomeRecord, project string, abort bool) {
	rec = OutcomeRecord{Ordinal: row.Index, Line: row.Line, Row: row.Fields}

	t, outcome, stop := p.run(ctx, row)
	if t != nil {
		rec.TicketID = t.ID
	}
	if stop != nil {
		rec.Status = stop.status
		rec.Messages = stop.messages
		return rec, "", stop.abort
	}

	rec.Status = outcome
	return rec, p.projectName(ctx, t.ProjectID), false
}

func (p *processor) run(ctx context.Context, row tabular.Row) (*tracker.Ticket, Outcome, *rowStop) {
	refs, stop := p.resolve(ctx, row)
	if stop != nil {
		return nil, "", stop
	}

	var (
		t, before *tracker.Ticket
		notes     string
		outcome   = OutcomeCreated
	)
	if p.req.UpdateMode {
		if t, stop = p.match(ctx, row, refs); stop != nil {
			return nil, "", stop
		}
		before = t.Clone()
		notes, _ = p.mapping.Value(row, AttrNotes)
		outcome = OutcomeUpdated
	} else {
		t = p.newTicket(refs)
	}

	if stop = p.apply(ctx, row, refs, t); stop != nil {
		return nil, "", stop
	}
	if stop = p.linkWatchers(ctx, row, t); stop != nil {
		return nil, "", stop
	}

	journal, stop := p.persist(ctx, t, before, refs.author, notes)
	if stop != nil {
		return nil, "", stop
	}
	if p.matcher != nil {
		p.matcher.Remember(row.Value(p.req.UniqueField), t)
	}
	p.notify(ctx, t, before == nil, journal)

	if stop = p.linkRelations(ctx, row, t); stop != nil {
		return t, "", stop
	}
	return t, outcome, nil
}

// value returns the trimmed value of target's column.
func (p *processor) value(row tabular.Row, target string) string {
	v, _ := p.mapping.Value(row, target)
	return strings.TrimSpace(v)
}

func (p *processor) resolve(ctx context.Context, row tabular.Row) (*rowRefs, *rowStop) {
	refs := &rowRefs{project: p.project, author: p.actor}
	var err error

	if name := p.value(row, AttrProject); name != "" {
		proj, err := p.resolver.ProjectByName(ctx, name)
		if err != nil {
			return nil, referenceFailure(err)
		}
		if proj != nil {
			refs.project = proj
		}
	}
	if name := p.value(row, AttrTracker); name != "" {
		if refs.tracker, err = p.resolver.Tracker(ctx, name); err != nil {
			return nil, referenceFailure(err)
		}
	}
	if name := p.value(row, AttrStatus); name != "" {
		if refs.status, err = p.resolver.Status(ctx, name); err != nil {
			return nil, referenceFailure(err)
		}
	}
	if name := p.value(row, AttrPriority); name != "" {
		if refs.priority, err = p.resolver.Priority(ctx, name); err != nil {
			return nil, referenceFailure(err)
		}
	}
	if login := p.value(row, AttrAuthor); login != "" {
		if refs.author, err = p.resolver.User(ctx, login); err != nil {
			return nil, referenceFailure(err)
		}
	}
	if name := p.value(row, AttrCategory); name != "" {
		id, err := p.resolver.Category(ctx, refs.project, name, p.req.AddCategories)
		if err != nil {
			return nil, referenceFailure(err)
		}
		refs.category = &id
	}
	if login := p.value(row, AttrAssignee); login != "" {
		if refs.assignee, err = p.resolver.User(ctx, login); err != nil {
			return nil, referenceFailure(err)
		}
	}
	if name := p.value(row, AttrFixedVersion); name != "" {
		id, err := p.resolver.Version(ctx, refs.project, name, p.req.AddVersions)
		if err != nil {
			return nil, referenceFailure(err)
		}
		refs.version = &id
	}

	return refs, nil
}

func referenceFailure(err error) *rowStop {
	var nf *ReferenceNotFoundError
	if errors.As(err, &nf) {
		return stopf(OutcomeFailed, "When adding the ticket, the %s %q was not found", nf.Kind, nf.Key)
	}
	return stopf(OutcomeFailed, "When adding the ticket, a lookup failed: %v", err)
}

func (p *processor) match(ctx context.Context, row tabular.Row, refs *rowRefs) (*tracker.Ticket, *rowStop) {
	value := row.Value(p.req.UniqueField)
	t, err := p.matcher.Match(ctx, value)
	if err != nil {
		return nil, p.matchFailure(err, "Could not update the ticket", value)
	}

	if t.ProjectID != p.project.ID && !p.req.UpdateOtherProjects {
		return nil, stopf(OutcomeSkipped, "Ticket #%d belongs to another project", t.ID)
	}

	if !p.req.UpdateClosed {
		current, err := p.resolver.StatusByID(ctx, t.StatusID)
		if err != nil {
			return nil, stopf(OutcomeFailed, "Could not update ticket #%d: %v", t.ID, err)
		}
		// A closed ticket may still be reopened.
		if current.IsClosed && refs.status != nil && refs.status.IsClosed {
			return nil, stopf(OutcomeSkipped, "Ticket #%d is closed", t.ID)
		}
	}

	return t, nil
}

// matchFailure applies the skip/fail policy to a Matcher error. Ambiguity
// always fails.
func (p *processor) matchFailure(err error, prefix, value string) *rowStop {
	switch {
	case errors.Is(err, ErrAmbiguousMatch):
		return stopf(OutcomeFailed, "%s: multiple matches for the value %q were found", prefix, value)
	case errors.Is(err, ErrNoMatch) && p.req.IgnoreMissing:
		return stopf(OutcomeSkipped, "%s: no match for the value %q was found", prefix, value)
	case errors.Is(err, ErrNoMatch):
		return stopf(OutcomeFailed, "%s: no match for the value %q was found", prefix, value)
	default:
		return stopf(OutcomeFailed, "%s: %v", prefix, err)
	}
}

func (p *processor) newTicket(refs *rowRefs) *tracker.Ticket {
	t := &tracker.Ticket{
		ProjectID: refs.project.ID,
		TrackerID: p.defaultTracker,
		AuthorID:  refs.author.ID,
	}
	if p.defaultStatus != nil {
		t.StatusID = p.defaultStatus.ID
	}
	if p.defaultPriority != nil {
		t.PriorityID = p.defaultPriority.ID
	}
	return t
}

func (p *processor) apply(ctx context.Context, row tabular.Row, refs *rowRefs, t *tracker.Ticket) *rowStop {
	if refs.tracker != nil {
		t.TrackerID = refs.tracker.ID
	}
	if refs.status != nil {
		t.StatusID = refs.status.ID
	}
	if refs.priority != nil {
		t.PriorityID = refs.priority.ID
	}
	if v := p.value(row, AttrSubject); v != "" {
		t.Subject = v
	}

	if v, _ := p.mapping.Value(row, AttrDescription); strings.TrimSpace(v) != "" {
		t.Description = NormalizeLineBreaks(v)
	}
	if refs.category != nil {
		t.CategoryID = refs.category
	}
	for _, d := range []struct {
		attr string
		dst  **time.Time
	}{
		{AttrStartDate, &t.StartDate},
		{AttrDueDate, &t.DueDate},
	} {
		raw, ok := p.mapping.Value(row, d.attr)
		if !ok {
			continue
		}
		if strings.TrimSpace(raw) == "" {
			*d.dst = nil
			continue
		}
		parsed, err := ParseDate(raw)
		if err != nil {
			return coercionFailure(&FieldCoercionError{Field: d.attr, Value: raw, Err: err})
		}
		*d.dst = &parsed
	}
	if refs.assignee != nil {
		id := refs.assignee.ID
		t.AssigneeID = &id
	}
	if refs.version != nil {
		t.FixedVersionID = refs.version
	}
	if v := p.value(row, AttrDoneRatio); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(v, "%")))
		if err != nil {
			return coercionFailure(&FieldCoercionError{Field: AttrDoneRatio, Value: v, Err: ErrInvalidNumber})
		}
		t.DoneRatio = n
	}
	if v := p.value(row, AttrEstimatedHours); v != "" {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return coercionFailure(&FieldCoercionError{Field: AttrEstimatedHours, Value: v, Err: ErrInvalidNumber})
		}
		t.EstimatedHours = &h
	}

	if stop := p.applyCustomFields(ctx, row, t); stop != nil {
		return stop
	}
	return p.applyParent(ctx, row, t)
}

func coercionFailure(err *FieldCoercionError) *rowStop {
	return stopf(OutcomeFailed, "When setting %s, value %q was invalid: %v", err.Field, err.Value, err.Err)
}

// applyCustomFields sets every mapped custom field of the ticket's project
// or none: values are collected first and copied only once all succeed.
func (p *processor) applyCustomFields(ctx context.Context, row tabular.Row, t *tracker.Ticket) *rowStop {
	project, err := p.resolver.Project(ctx, t.ProjectID)
	if err != nil {
		return stopf(OutcomeFailed, "When setting custom fields: %v", err)
	}
	fields, err := p.customFields(ctx, project.ID)
	if err != nil {
		return stopf(OutcomeFailed, "When setting custom fields: %v", err)
	}

	values := make(map[int64][]string)
	for _, f := range fields {
		raw, ok := p.mapping.Value(row, f.Name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := p.coercer.Coerce(ctx, project, f, raw)
		if err != nil {
			var ce *FieldCoercionError
			if errors.As(err, &ce) {
				return stopf(OutcomeFailed, "When setting custom field %s, value %q was invalid: %v", ce.Field, ce.Value, ce.Err)
			}
			return stopf(OutcomeFailed, "When setting custom field %s: %v", f.Name, err)
		}
		values[f.ID] = v
	}

	if len(values) == 0 {
		return nil
	}
	if t.CustomValues == nil {
		t.CustomValues = make(map[int64][]string, len(values))
	}
	for id, v := range values {
		t.CustomValues[id] = v
	}
	return nil
}

func (p *processor) customFields(ctx context.Context, projectID int64) ([]tracker.CustomField, error) {
	if f, ok := p.fields[projectID]; ok {
		return f, nil
	}
	f, err := p.catalog.CustomFields(ctx, projectID)
	if err != nil {
		return nil, err
	}
	p.fields[projectID] = f
	return f, nil
}

func (p *processor) applyParent(ctx context.Context, row tabular.Row, t *tracker.Ticket) *rowStop {
	v := p.value(row, AttrParent)
	if v == "" {
		return nil
	}
	parent, err := p.matcher.Match(ctx, v)
	if err != nil {
		return p.matchFailure(err, "When setting the parent", v)
	}
	id := parent.ID
	t.ParentID = &id
	return nil
}

// linkWatchers attempts every listed login before reporting failures.
func (p *processor) linkWatchers(ctx context.Context, row tabular.Row, t *tracker.Ticket) *rowStop {
	list, _ := p.mapping.Value(row, AttrWatchers)
	if strings.TrimSpace(list) == "" {
		return nil
	}

	var msgs []string
	for _, login := range strings.Split(list, ",") {
		if login = strings.TrimSpace(login); login == "" {
			continue
		}
		u, err := p.resolver.User(ctx, login)
		if err != nil {
			var nf *ReferenceNotFoundError
			if errors.As(err, &nf) {
				msgs = append(msgs, fmt.Sprintf("When adding watchers, user %q was not found", login))
			} else {
				msgs = append(msgs, fmt.Sprintf("When adding watcher %q: %v", login, err))
			}
			continue
		}
		if t.HasWatcher(u.ID) || !u.CanWatch() {
			continue
		}
		t.AddWatcher(u.ID)
	}

	if len(msgs) > 0 {
		return &rowStop{status: OutcomeFailed, messages: msgs}
	}
	return nil
}

// persist validates and saves t. For an update it returns the journal of
// changes made since before.
func (p *processor) persist(ctx context.Context, t, before *tracker.Ticket, author *tracker.User, notes string) (*tracker.Journal, *rowStop) {
	if err := t.Validate(); err != nil {
		return nil, saveFailure(err)
	}

	if before == nil {
		if err := p.tickets.CreateTicket(ctx, t); err != nil {
			return nil, saveFailure(err)
		}
		return nil, nil
	}

	journal := &tracker.Journal{
		TicketID:  t.ID,
		UserID:    author.ID,
		Notes:     strings.TrimSpace(notes),
		Details:   tracker.Diff(before, t),
		CreatedAt: p.now(),
	}
	if err := p.tickets.UpdateTicket(ctx, t, journal); err != nil {
		return nil, saveFailure(err)
	}
	return journal, nil
}

func saveFailure(err error) *rowStop {
	var verrs tracker.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := append([]string{"The following data-validation errors occurred"}, verrs.Messages()...)
		return &rowStop{status: OutcomeFailed, messages: msgs}
	}
	return stopf(OutcomeFailed, "Could not save the ticket: %v", err)
}

func (p *processor) notify(ctx context.Context, t *tracker.Ticket, created bool, journal *tracker.Journal) {
	if !p.req.SendNotifications || p.notifier == nil {
		return
	}
	if created {
		p.notifier.NotifyCreated(ctx, t)
		return
	}
	if !journal.Empty() {
		p.notifier.NotifyUpdated(ctx, t, journal)
	}
}

func (p *processor) projectName(ctx context.Context, id int64) string {
	if proj, err := p.resolver.Project(ctx, id); err == nil {
		return proj.Name
	}
	return strconv.FormatInt(id, 10)
}
