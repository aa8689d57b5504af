package importer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// TicketStore persists tickets and their relations. Lookups by ID return
// tracker.ErrNotFound when nothing matches.
type TicketStore interface {
	Ticket(ctx context.Context, id int64) (*tracker.Ticket, error)
	FindTickets(ctx context.Context, f tracker.TicketFilter) ([]*tracker.Ticket, error)
	CreateTicket(ctx context.Context, t *tracker.Ticket) error
	// UpdateTicket saves t and, when it is not empty, the journal describing the change.
	UpdateTicket(ctx context.Context, t *tracker.Ticket, j *tracker.Journal) error
	Relations(ctx context.Context, ticketID int64) ([]tracker.Relation, error)
	CreateRelation(ctx context.Context, r *tracker.Relation) error
}

// CatalogStore serves the reference data tickets point at.
type CatalogStore interface {
	Project(ctx context.Context, id int64) (*tracker.Project, error)
	ProjectByName(ctx context.Context, name string) (*tracker.Project, error)
	Tracker(ctx context.Context, id int64) (*tracker.Tracker, error)
	TrackerByName(ctx context.Context, name string) (*tracker.Tracker, error)
	Status(ctx context.Context, id int64) (*tracker.Status, error)
	StatusByName(ctx context.Context, name string) (*tracker.Status, error)
	DefaultStatus(ctx context.Context) (*tracker.Status, error)
	PriorityByName(ctx context.Context, name string) (*tracker.Priority, error)
	DefaultPriority(ctx context.Context) (*tracker.Priority, error)
	CustomFields(ctx context.Context, projectID int64) ([]tracker.CustomField, error)
	VersionByName(ctx context.Context, projectID int64, name string) (*tracker.Version, error)
	CreateVersion(ctx context.Context, v *tracker.Version) error
	CategoryByName(ctx context.Context, projectID int64, name string) (*tracker.Category, error)
	CreateCategory(ctx context.Context, c *tracker.Category) error
}

// IdentityStore resolves user accounts.
type IdentityStore interface {
	UserByLogin(ctx context.Context, login string) (*tracker.User, error)
	AnonymousUser(ctx context.Context) (*tracker.User, error)
}

// SessionStore keeps uploaded batches between Upload and Commit.
type SessionStore interface {
	// SaveBatch stores b, replacing any batch the same user already owns.
	SaveBatch(ctx context.Context, b *tracker.ImportBatch) error
	BatchForUser(ctx context.Context, userID int64) (*tracker.ImportBatch, error)
	DeleteBatch(ctx context.Context, handle uuid.UUID) error
	DeleteBatchesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Notifier receives ticket events. Calls are fire-and-forget.
type Notifier interface {
	NotifyCreated(ctx context.Context, t *tracker.Ticket)
	NotifyUpdated(ctx context.Context, t *tracker.Ticket, j *tracker.Journal)
}

// Store is everything a commit needs from a backend.
type Store interface {
	TicketStore
	CatalogStore
	IdentityStore
	SessionStore
}
