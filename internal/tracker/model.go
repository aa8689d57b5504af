// Package tracker defines the issue-tracker entities the importer reads and
// writes: projects, tickets, the reference data tickets point at, relations
// between tickets, change journals and the stored import batches.
//
// The types here carry no persistence logic. Backends in internal/store map
// them onto PostgreSQL, SQLite or process memory.
package tracker

import "errors"

// ErrNotFound is returned by stores when a lookup matches nothing.
var ErrNotFound = errors.New("record not found")

// Project groups tickets, versions and categories.
type Project struct {
	ID         int64  `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

// Tracker is the ticket kind (Bug, Feature, Support...).
type Tracker struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Status is a workflow state. Closed statuses end the ticket's life cycle.
type Status struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsClosed bool   `json:"is_closed"`
}

// Priority is a ticket priority enumeration value.
type Priority struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// User is an account that can author, be assigned to or watch tickets.
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	Anonymous bool   `json:"anonymous"`
}

// CanWatch reports whether the user may be added as a ticket watcher.
func (u *User) CanWatch() bool {
	return u != nil && u.Active && !u.Anonymous
}

// Version is a project milestone a ticket can target.
type Version struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
}

// Category is a per-project ticket category.
type Category struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
}

// FieldFormat is the value type of a custom field.
type FieldFormat string

const (
	FormatString  FieldFormat = "string"
	FormatText    FieldFormat = "text"
	FormatInt     FieldFormat = "int"
	FormatFloat   FieldFormat = "float"
	FormatBool    FieldFormat = "bool"
	FormatDate    FieldFormat = "date"
	FormatList    FieldFormat = "list"
	FormatUser    FieldFormat = "user"
	FormatVersion FieldFormat = "version"
)

// CustomField is an administrator-defined ticket attribute.
type CustomField struct {
	ID       int64       `json:"id"`
	Name     string      `json:"name"`
	Format   FieldFormat `json:"format"`
	Multiple bool        `json:"multiple"`
}
