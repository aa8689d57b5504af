// Package notify delivers ticket events raised by an import.
package notify

import (
	"context"
	"log/slog"

	"github.com/JonMunkholm/issueimport/internal/logging"
	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// Sink receives the events that pass the Settings gate.
type Sink interface {
	TicketCreated(ctx context.Context, t *tracker.Ticket)
	TicketUpdated(ctx context.Context, t *tracker.Ticket, j *tracker.Journal)
}

// Settings mirrors the site-wide switches for ticket notifications.
type Settings struct {
	IssueAdded   bool
	IssueUpdated bool
}

// Notifier forwards events to a sink when the matching setting is on.
type Notifier struct {
	settings Settings
	sink     Sink
}

// New returns a notifier gating sink by settings.
func New(settings Settings, sink Sink) *Notifier {
	return &Notifier{settings: settings, sink: sink}
}

// NotifyCreated announces a new ticket.
func (n *Notifier) NotifyCreated(ctx context.Context, t *tracker.Ticket) {
	if !n.settings.IssueAdded {
		return
	}
	n.sink.TicketCreated(ctx, t)
}

// NotifyUpdated announces a change to a ticket. Empty journals are dropped.
func (n *Notifier) NotifyUpdated(ctx context.Context, t *tracker.Ticket, j *tracker.Journal) {
	if !n.settings.IssueUpdated || j == nil || j.Empty() {
		return
	}
	n.sink.TicketUpdated(ctx, t, j)
}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) TicketCreated(ctx context.Context, t *tracker.Ticket) {
	logging.FromContext(ctx).Info("ticket created",
		"ticket_id", t.ID,
		"project_id", t.ProjectID,
		"subject", t.Subject,
	)
}

func (LogSink) TicketUpdated(ctx context.Context, t *tracker.Ticket, j *tracker.Journal) {
	attrs := make([]string, 0, len(j.Details))
	for _, d := range j.Details {
		attrs = append(attrs, d.Name)
	}
	logging.FromContext(ctx).Info("ticket updated",
		"ticket_id", t.ID,
		"user_id", j.UserID,
		slog.Any("changed", attrs),
		"has_notes", j.Notes != "",
	)
}
