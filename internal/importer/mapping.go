package importer

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/JonMunkholm/issueimport/internal/tabular"
	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// Fixed ticket attributes a column can be mapped to.
const (
	AttrID             = "id"
	AttrProject        = "project"
	AttrSubject        = "subject"
	AttrDescription    = "description"
	AttrTracker        = "tracker"
	AttrStatus         = "status"
	AttrPriority       = "priority"
	AttrAuthor         = "author"
	AttrAssignee       = "assigned_to"
	AttrFixedVersion   = "fixed_version"
	AttrCategory       = "category"
	AttrStartDate      = "start_date"
	AttrDueDate        = "due_date"
	AttrDoneRatio      = "done_ratio"
	AttrEstimatedHours = "estimated_hours"
	AttrParent         = "parent_issue"
	AttrWatchers       = "watchers"
	AttrNotes          = "notes"
)

var ticketAttributes = []struct{ name, label string }{
	{AttrID, "#"},
	{AttrProject, "Project"},
	{AttrSubject, "Subject"},
	{AttrDescription, "Description"},
	{AttrTracker, "Tracker"},
	{AttrStatus, "Status"},
	{AttrPriority, "Priority"},
	{AttrAuthor, "Author"},
	{AttrAssignee, "Assignee"},
	{AttrFixedVersion, "Target version"},
	{AttrCategory, "Category"},
	{AttrStartDate, "Start date"},
	{AttrDueDate, "Due date"},
	{AttrDoneRatio, "% Done"},
	{AttrEstimatedHours, "Estimated time"},
	{AttrParent, "Parent task"},
	{AttrWatchers, "Watchers"},
	{AttrNotes, "Notes"},
}

// IsTicketAttribute reports whether name is a fixed ticket attribute.
func IsTicketAttribute(name string) bool {
	for _, a := range ticketAttributes {
		if a.name == name {
			return true
		}
	}
	return false
}

// TargetKind classifies a mapping target.
type TargetKind string

const (
	TargetAttribute   TargetKind = "attribute"
	TargetCustomField TargetKind = "custom_field"
	TargetRelation    TargetKind = "relation"
)

// Target is one choice offered when mapping a column.
type Target struct {
	Name  string     `json:"name"`
	Label string     `json:"label"`
	Kind  TargetKind `json:"kind"`
}

// Targets lists every mapping target for a project, sorted by label.
func Targets(fields []tracker.CustomField) []Target {
	out := make([]Target, 0, len(ticketAttributes)+len(fields)+9)
	for _, a := range ticketAttributes {
		out = append(out, Target{Name: a.name, Label: a.label, Kind: TargetAttribute})
	}
	for _, f := range fields {
		out = append(out, Target{Name: f.Name, Label: f.Name, Kind: TargetCustomField})
	}
	for _, t := range tracker.RelationTypes() {
		out = append(out, Target{Name: string(t), Label: t.Label(), Kind: TargetRelation})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// SuggestMapping proposes a target for each header whose name equals a
// target name or label, ignoring case.
func SuggestMapping(headers []string, targets []Target) map[string]string {
	out := make(map[string]string)
	for _, h := range headers {
		key := strings.TrimSpace(h)
		for _, t := range targets {
			if strings.EqualFold(key, t.Name) || strings.EqualFold(key, t.Label) {
				out[h] = t.Name
				break
			}
		}
	}
	return out
}

// FieldMapping is the column to target assignment for one commit, with its
// inverse. A column mapped to "" is present but ignored.
type FieldMapping struct {
	byColumn map[string]string
	byTarget map[string]string
}

// NewFieldMapping builds the mapping and rejects two columns mapped to one target.
func NewFieldMapping(assign map[string]string) (*FieldMapping, error) {
	m := &FieldMapping{
		byColumn: make(map[string]string, len(assign)),
		byTarget: make(map[string]string, len(assign)),
	}

	columns := make([]string, 0, len(assign))
	for c := range assign {
		columns = append(columns, c)
	}
	slices.Sort(columns)

	for _, column := range columns {
		target := assign[column]
		m.byColumn[column] = target
		if target == "" {
			continue
		}
		if prev, dup := m.byTarget[target]; dup {
			return nil, fmt.Errorf("%w: %q is mapped from both %q and %q", ErrInvalidMapping, target, prev, column)
		}
		m.byTarget[target] = column
	}
	return m, nil
}

// TargetFor returns the target of column. ok is false when the column is
// not part of the mapping; a mapped-but-ignored column returns "", true.
func (m *FieldMapping) TargetFor(column string) (string, bool) {
	t, ok := m.byColumn[column]
	return t, ok
}

// ColumnFor returns the column mapped to target, exactly as supplied.
func (m *FieldMapping) ColumnFor(target string) (string, bool) {
	c, ok := m.byTarget[target]
	return c, ok
}

// Mapped reports whether some column feeds target.
func (m *FieldMapping) Mapped(target string) bool {
	_, ok := m.byTarget[target]
	return ok
}

// Value reads target's column from row. ok is false when the target is
// unmapped or the row is too short to have the column.
func (m *FieldMapping) Value(row tabular.Row, target string) (string, bool) {
	c, ok := m.byTarget[target]
	if !ok {
		return "", false
	}
	return row.Get(c)
}

// CheckColumns reports mapped columns missing from headers.
func (m *FieldMapping) CheckColumns(headers []string) error {
	var missing []string
	for c, t := range m.byColumn {
		if t != "" && !slices.Contains(headers, c) {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("%w: column not found in file: %s", ErrInvalidMapping, strings.Join(missing, ", "))
}

// CheckTargets reports targets that are not a ticket attribute, a relation
// kind or the name of one of fields.
func (m *FieldMapping) CheckTargets(fields []tracker.CustomField) error {
	var unknown []string
	for t := range m.byTarget {
		if IsTicketAttribute(t) {
			continue
		}
		if _, ok := tracker.ParseRelationType(t); ok {
			continue
		}
		if slices.ContainsFunc(fields, func(f tracker.CustomField) bool { return f.Name == t }) {
			continue
		}
		unknown = append(unknown, t)
	}
	if len(unknown) == 0 {
		return nil
	}
	slices.Sort(unknown)
	return fmt.Errorf("%w: unknown target: %s", ErrInvalidMapping, strings.Join(unknown, ", "))
}

// relationColumn is a mapped relation kind and the column that feeds it.
type relationColumn struct {
	typ    tracker.RelationType
	column string
}

// relationColumns lists mapped relation kinds in stable kind order.
func (m *FieldMapping) relationColumns() []relationColumn {
	var out []relationColumn
	for _, t := range tracker.RelationTypes() {
		if c, ok := m.byTarget[string(t)]; ok {
			out = append(out, relationColumn{typ: t, column: c})
		}
	}
	return out
}
