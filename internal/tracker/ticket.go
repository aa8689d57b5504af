package tracker

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// DateLayout is the canonical calendar date representation.
const DateLayout = "2006-01-02"

// MaxSubjectLength bounds ticket subjects.
const MaxSubjectLength = 255

// Ticket is a tracked issue. Nullable references are pointers; custom field
// values are keyed by field ID and always held as strings.
type Ticket struct {
	ID             int64              `json:"id"`
	ProjectID      int64              `json:"project_id"`
	TrackerID      int64              `json:"tracker_id"`
	StatusID       int64              `json:"status_id"`
	PriorityID     int64              `json:"priority_id"`
	AuthorID       int64              `json:"author_id"`
	AssigneeID     *int64             `json:"assignee_id,omitempty"`
	CategoryID     *int64             `json:"category_id,omitempty"`
	FixedVersionID *int64             `json:"fixed_version_id,omitempty"`
	ParentID       *int64             `json:"parent_id,omitempty"`
	Subject        string             `json:"subject"`
	Description    string             `json:"description"`
	StartDate      *time.Time         `json:"start_date,omitempty"`
	DueDate        *time.Time         `json:"due_date,omitempty"`
	DoneRatio      int                `json:"done_ratio"`
	EstimatedHours *float64           `json:"estimated_hours,omitempty"`
	CustomValues   map[int64][]string `json:"custom_values,omitempty"`
	WatcherIDs     []int64            `json:"watcher_ids,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate a ticket without touching
// a cached or stored instance.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.AssigneeID = cloneInt(t.AssigneeID)
	c.CategoryID = cloneInt(t.CategoryID)
	c.FixedVersionID = cloneInt(t.FixedVersionID)
	c.ParentID = cloneInt(t.ParentID)
	if t.StartDate != nil {
		d := *t.StartDate
		c.StartDate = &d
	}
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.EstimatedHours != nil {
		h := *t.EstimatedHours
		c.EstimatedHours = &h
	}
	if t.CustomValues != nil {
		c.CustomValues = make(map[int64][]string, len(t.CustomValues))
		for id, v := range t.CustomValues {
			c.CustomValues[id] = slices.Clone(v)
		}
	}
	c.WatcherIDs = slices.Clone(t.WatcherIDs)
	return &c
}

func cloneInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// HasWatcher reports whether userID already watches the ticket.
func (t *Ticket) HasWatcher(userID int64) bool {
	return slices.Contains(t.WatcherIDs, userID)
}

// AddWatcher adds userID to the watcher set if not already present.
func (t *Ticket) AddWatcher(userID int64) {
	if !t.HasWatcher(userID) {
		t.WatcherIDs = append(t.WatcherIDs, userID)
	}
}

// CustomValue returns the single string form of a custom field value.
func (t *Ticket) CustomValue(fieldID int64) string {
	return strings.Join(t.CustomValues[fieldID], ",")
}

// ValidationError is a single field-level problem found while validating a ticket.
type ValidationError struct {
	Field   string // Ticket attribute name
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationErrors collects every problem found on one ticket.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Messages returns one line per validation problem.
func (e ValidationErrors) Messages() []string {
	out := make([]string, len(e))
	for i, v := range e {
		out[i] = v.Error()
	}
	return out
}

// Validate checks the ticket before it is saved and returns every problem
// at once, or nil.
func (t *Ticket) Validate() error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if t.ProjectID == 0 {
		add("project", "cannot be blank")
	}
	if t.TrackerID == 0 {
		add("tracker", "cannot be blank")
	}
	if t.StatusID == 0 {
		add("status", "cannot be blank")
	}
	if t.PriorityID == 0 {
		add("priority", "cannot be blank")
	}
	if t.AuthorID == 0 {
		add("author", "cannot be blank")
	}
	if strings.TrimSpace(t.Subject) == "" {
		add("subject", "cannot be blank")
	} else if utf8.RuneCountInString(t.Subject) > MaxSubjectLength {
		add("subject", fmt.Sprintf("is too long (maximum is %d characters)", MaxSubjectLength))
	}
	if t.DoneRatio < 0 || t.DoneRatio > 100 {
		add("done_ratio", "is not included in the list")
	}
	if t.EstimatedHours != nil && *t.EstimatedHours < 0 {
		add("estimated_hours", "is invalid")
	}
	if t.StartDate != nil && t.DueDate != nil && t.DueDate.Before(*t.StartDate) {
		add("due_date", "must be greater than start date")
	}
	if t.ParentID != nil && t.ID != 0 && *t.ParentID == t.ID {
		add("parent_issue", "is invalid")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// JournalDetail records one changed property.
type JournalDetail struct {
	Property string `json:"property"` // "attr" or "cf"
	Name     string `json:"name"`     // attribute name or custom field ID
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// Journal is the change record attached to a ticket update.
type Journal struct {
	ID        int64           `json:"id"`
	TicketID  int64           `json:"ticket_id"`
	UserID    int64           `json:"user_id"`
	Notes     string          `json:"notes"`
	Details   []JournalDetail `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
}

// Empty reports whether the journal records neither a note nor a change.
func (j *Journal) Empty() bool {
	return j == nil || (strings.TrimSpace(j.Notes) == "" && len(j.Details) == 0)
}

// Diff lists the tracked properties that differ between before and after.
func Diff(before, after *Ticket) []JournalDetail {
	var details []JournalDetail
	attr := func(name, old, cur string) {
		if old != cur {
			details = append(details, JournalDetail{Property: "attr", Name: name, OldValue: old, NewValue: cur})
		}
	}

	attr("project_id", itoa(before.ProjectID), itoa(after.ProjectID))
	attr("tracker_id", itoa(before.TrackerID), itoa(after.TrackerID))
	attr("status_id", itoa(before.StatusID), itoa(after.StatusID))
	attr("priority_id", itoa(before.PriorityID), itoa(after.PriorityID))
	attr("assigned_to_id", ptoa(before.AssigneeID), ptoa(after.AssigneeID))
	attr("category_id", ptoa(before.CategoryID), ptoa(after.CategoryID))
	attr("fixed_version_id", ptoa(before.FixedVersionID), ptoa(after.FixedVersionID))
	attr("parent_id", ptoa(before.ParentID), ptoa(after.ParentID))
	attr("subject", before.Subject, after.Subject)
	attr("description", before.Description, after.Description)
	attr("start_date", dtoa(before.StartDate), dtoa(after.StartDate))
	attr("due_date", dtoa(before.DueDate), dtoa(after.DueDate))
	attr("done_ratio", strconv.Itoa(before.DoneRatio), strconv.Itoa(after.DoneRatio))
	attr("estimated_hours", ftoa(before.EstimatedHours), ftoa(after.EstimatedHours))

	ids := make([]int64, 0, len(after.CustomValues)+len(before.CustomValues))
	for id := range after.CustomValues {
		ids = append(ids, id)
	}
	for id := range before.CustomValues {
		if _, ok := after.CustomValues[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		old, cur := before.CustomValue(id), after.CustomValue(id)
		if old != cur {
			details = append(details, JournalDetail{Property: "cf", Name: itoa(id), OldValue: old, NewValue: cur})
		}
	}

	return details
}

func itoa(i int64) string {
	if i == 0 {
		return ""
	}
	return strconv.FormatInt(i, 10)
}

func ptoa(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

func dtoa(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(DateLayout)
}

func ftoa(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
