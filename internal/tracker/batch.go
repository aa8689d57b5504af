package tracker

import (
	"time"

	"github.com/google/uuid"
)

// ImportBatch is an uploaded payload waiting to be committed. A user owns at
// most one batch at a time; Handle fences a commit against a newer upload.
type ImportBatch struct {
	Handle    uuid.UUID `json:"handle"`
	UserID    int64     `json:"user_id"`
	ProjectID int64     `json:"project_id"`
	FileName  string    `json:"file_name"`
	Data      []byte    `json:"-"`
	Delimiter string    `json:"delimiter"`
	Quote     string    `json:"quote"`
	Encoding  string    `json:"encoding"`
	CreatedAt time.Time `json:"created_at"`
}

// TicketFilter selects tickets by equality on one attribute or custom field.
type TicketFilter struct {
	ProjectID     int64  // 0 matches every project
	OpenOnly      bool   // exclude tickets in a closed status
	Attribute     string // one of FilterableAttributes, or empty
	CustomFieldID int64  // used when Attribute is empty
	Value         string
	Limit         int // 0 means no cap
}

// FilterableAttributes lists the fixed ticket attributes a TicketFilter can
// compare on, mapped to their storage column.
var FilterableAttributes = map[string]string{
	"subject":     "subject",
	"description": "description",
}
