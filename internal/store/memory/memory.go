// Package memory is an in-process ticket store. It backs tests and the
// "memory" database driver; nothing survives a restart.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/issueimport/internal/tracker"
)

type fieldEntry struct {
	field    tracker.CustomField
	projects []int64 // empty: every project
}

// Store keeps every entity in maps guarded by one lock. Returned values
// are copies.
type Store struct {
	mu  sync.RWMutex
	seq map[string]int64
	now func() time.Time

	projects   map[int64]*tracker.Project
	trackers   map[int64]*tracker.Tracker
	statuses   map[int64]*tracker.Status
	priorities map[int64]*tracker.Priority
	users      map[int64]*tracker.User
	anonymous  int64
	versions   map[int64]*tracker.Version
	categories map[int64]*tracker.Category
	fields     []fieldEntry
	tickets    map[int64]*tracker.Ticket
	relations  map[int64]*tracker.Relation
	journals   []*tracker.Journal
	batches    map[uuid.UUID]*tracker.ImportBatch
}

// New returns an empty store holding only the anonymous user.
func New() *Store {
	s := &Store{
		seq:        make(map[string]int64),
		now:        time.Now,
		projects:   make(map[int64]*tracker.Project),
		trackers:   make(map[int64]*tracker.Tracker),
		statuses:   make(map[int64]*tracker.Status),
		priorities: make(map[int64]*tracker.Priority),
		users:      make(map[int64]*tracker.User),
		versions:   make(map[int64]*tracker.Version),
		categories: make(map[int64]*tracker.Category),
		tickets:    make(map[int64]*tracker.Ticket),
		relations:  make(map[int64]*tracker.Relation),
		batches:    make(map[uuid.UUID]*tracker.ImportBatch),
	}
	anon := s.AddUser(tracker.User{Login: "", Name: "Anonymous", Anonymous: true})
	s.anonymous = anon.ID
	return s
}

func (s *Store) next(kind string) int64 {
	s.seq[kind]++
	return s.seq[kind]
}

// sortedIDs returns the keys of m in ascending order, so name lookups
// return the first match by ID.
func sortedIDs[T any](m map[int64]*T) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func find[T any](m map[int64]*T, match func(*T) bool) (*T, error) {
	for _, id := range sortedIDs(m) {
		if v := m[id]; match(v) {
			cp := *v
			return &cp, nil
		}
	}
	return nil, tracker.ErrNotFound
}

func get[T any](m map[int64]*T, id int64) (*T, error) {
	v, ok := m[id]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

// Seeding helpers. Each assigns the next ID and returns the stored value.

func (s *Store) AddProject(p tracker.Project) *tracker.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.next("project")
	s.projects[p.ID] = &p
	return &p
}

func (s *Store) AddTracker(t tracker.Tracker) *tracker.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.next("tracker")
	s.trackers[t.ID] = &t
	return &t
}

func (s *Store) AddStatus(st tracker.Status) *tracker.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.ID = s.next("status")
	s.statuses[st.ID] = &st
	return &st
}

func (s *Store) AddPriority(p tracker.Priority) *tracker.Priority {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.next("priority")
	s.priorities[p.ID] = &p
	return &p
}

func (s *Store) AddUser(u tracker.User) *tracker.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.next("user")
	s.users[u.ID] = &u
	return &u
}

// AddCustomField makes f available to the given projects, or to every
// project when none are given.
func (s *Store) AddCustomField(f tracker.CustomField, projectIDs ...int64) *tracker.CustomField {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = s.next("custom_field")
	s.fields = append(s.fields, fieldEntry{field: f, projects: projectIDs})
	return &f
}

// Journals returns the journals recorded for a ticket, oldest first.
func (s *Store) Journals(ticketID int64) []tracker.Journal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tracker.Journal
	for _, j := range s.journals {
		if j.TicketID == ticketID {
			out = append(out, *j)
		}
	}
	return out
}

// TicketCount returns the number of stored tickets.
func (s *Store) TicketCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tickets)
}

// Catalog

func (s *Store) Project(_ context.Context, id int64) (*tracker.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get(s.projects, id)
}

func (s *Store) ProjectByName(_ context.Context, name string) (*tracker.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return find(s.projects, func(p *tracker.Project) bool { return p.Name == name })
}

func (s *Store) Tracker(_ context.Context, id int64) (*tracker.Tracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get(s.trackers, id)
}

func (s *Store) TrackerByName(_ context.Context, name string) (*tracker.Tracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return find(s.trackers, func(t *tracker.Tracker) bool { return t.Name == name })
}

func (s *Store) Status(_ context.Context, id int64) (*tracker.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get(s.statuses, id)
}

func (s *Store) StatusByName(_ context.Context, name string) (*tracker.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return find(s.statuses, func(st *tracker.Status) bool { return st.Name == name })
}

// DefaultStatus is the first status by ID.
func (s *Store) DefaultStatus(_ context.Context) (*tracker.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return find(s.statuses, func(*tracker.Status) bool { return true })
}

func (s *Store) PriorityByName(_ context.Context, name string) (*tracker.Priority, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return find(s.priorities, func(p *tracker.Priority) bool { return p.Name == name })
}

// DefaultPriority is the priority flagged as default, else the first by ID.
func (s *Store) DefaultPriority(_ context.Context) (*tracker.Priority, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, err := find(s.priorities, func(p *tracker.Priority) bool { return p.IsDefault }); err == nil {
		return p, nil
	}
	return find(s.priorities, func(*tracker.Priority) bool { return true })
}

func (s *Store) CustomFields(_ context.Context, projectID int64) ([]tracker.CustomField, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tracker.CustomField
	for _, e := range s.fields {
		if len(e.projects) == 0 || slices.Contains(e.projects, projectID) {
			out = append(out, e.field)
		}
	}
	return out, nil
}

func (s *Store) VersionByName(_ context.Context, projectID int64, name string) (*tracker.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return find(s.versions, func(v *tracker.Version) bool { return v.ProjectID == projectID && v.Name == name })
}

func (s *Store) CreateVersion(_ context.Context, v *tracker.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.ID = s.next("version")
	cp := *v
	s.versions[v.ID] = &cp
	return nil
}

func (s *Store) CategoryByName(_ context.Context, projectID int64, name string) (*tracker.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return find(s.categories, func(c *tracker.Category) bool { return c.ProjectID == projectID && c.Name == name })
}

func (s *Store) CreateCategory(_ context.Context, c *tracker.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.next("category")
	cp := *c
	s.categories[c.ID] = &cp
	return nil
}

// Identity

func (s *Store) UserByLogin(_ context.Context, login string) (*tracker.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return find(s.users, func(u *tracker.User) bool { return !u.Anonymous && u.Login == login })
}

func (s *Store) AnonymousUser(_ context.Context) (*tracker.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get(s.users, s.anonymous)
}

// Tickets

func (s *Store) Ticket(_ context.Context, id int64) (*tracker.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	return t.Clone(), nil
}

func (s *Store) FindTickets(_ context.Context, f tracker.TicketFilter) ([]*tracker.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*tracker.Ticket
	for _, id := range sortedIDs(s.tickets) {
		t := s.tickets[id]
		if f.ProjectID != 0 && t.ProjectID != f.ProjectID {
			continue
		}
		if f.OpenOnly {
			if st, ok := s.statuses[t.StatusID]; ok && st.IsClosed {
				continue
			}
		}
		if !matchesFilter(t, f) {
			continue
		}
		out = append(out, t.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func matchesFilter(t *tracker.Ticket, f tracker.TicketFilter) bool {
	switch f.Attribute {
	case "subject":
		return t.Subject == f.Value
	case "description":
		return t.Description == f.Value
	case "":
		return slices.Contains(t.CustomValues[f.CustomFieldID], f.Value)
	default:
		return false
	}
}

func (s *Store) CreateTicket(_ context.Context, t *tracker.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	t.ID = s.next("ticket")
	t.CreatedAt, t.UpdatedAt = now, now
	s.tickets[t.ID] = t.Clone()
	return nil
}

func (s *Store) UpdateTicket(_ context.Context, t *tracker.Ticket, j *tracker.Journal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; !ok {
		return tracker.ErrNotFound
	}
	t.UpdatedAt = s.now()
	s.tickets[t.ID] = t.Clone()

	if !j.Empty() {
		j.ID = s.next("journal")
		j.TicketID = t.ID
		cp := *j
		cp.Details = slices.Clone(j.Details)
		s.journals = append(s.journals, &cp)
	}
	return nil
}

func (s *Store) Relations(_ context.Context, ticketID int64) ([]tracker.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tracker.Relation
	for _, id := range sortedIDs(s.relations) {
		r := s.relations[id]
		if r.FromID == ticketID || r.ToID == ticketID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *Store) CreateRelation(_ context.Context, r *tracker.Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[r.FromID]; !ok {
		return tracker.ErrNotFound
	}
	if _, ok := s.tickets[r.ToID]; !ok {
		return tracker.ErrNotFound
	}
	r.ID = s.next("relation")
	cp := *r
	s.relations[r.ID] = &cp
	return nil
}

// Import batches

func (s *Store) SaveBatch(_ context.Context, b *tracker.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, existing := range s.batches {
		if existing.UserID == b.UserID {
			delete(s.batches, h)
		}
	}
	cp := *b
	cp.Data = slices.Clone(b.Data)
	s.batches[b.Handle] = &cp
	return nil
}

func (s *Store) BatchForUser(_ context.Context, userID int64) (*tracker.ImportBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.batches {
		if b.UserID == userID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, tracker.ErrNotFound
}

func (s *Store) DeleteBatch(_ context.Context, handle uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, handle)
	return nil
}

func (s *Store) DeleteBatchesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, b := range s.batches {
		if b.CreatedAt.Before(cutoff) {
			delete(s.batches, h)
			n++
		}
	}
	return n, nil
}

// Batches lists the stored batches by creation time, for inspection.
func (s *Store) Batches() []tracker.ImportBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.ImportBatch, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Migrate is a no-op; the store has no schema.
func (s *Store) Migrate(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
