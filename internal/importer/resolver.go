package importer

import (
	"context"
	"errors"
	"strings"

	"github.com/JonMunkholm/issueimport/internal/tracker"
)

type versionKey struct {
	projectID int64
	name      string
}

// Resolver turns raw row values into entity references, memoizing each
// answer for the rest of the commit.
type Resolver struct {
	catalog      CatalogStore
	identity     IdentityStore
	useAnonymous bool

	users      map[string]*tracker.User // nil entry: known missing
	anonymous  *tracker.User
	versions   map[versionKey]int64
	trackers   map[string]*tracker.Tracker
	statuses   map[string]*tracker.Status
	statusByID map[int64]*tracker.Status
	priorities map[string]*tracker.Priority
	projects   map[int64]*tracker.Project
}

// NewResolver returns a resolver with empty caches. With useAnonymous, an
// unknown login resolves to the anonymous user instead of failing.
func NewResolver(catalog CatalogStore, identity IdentityStore, useAnonymous bool) *Resolver {
	return &Resolver{
		catalog:      catalog,
		identity:     identity,
		useAnonymous: useAnonymous,
		users:        make(map[string]*tracker.User),
		versions:     make(map[versionKey]int64),
		trackers:     make(map[string]*tracker.Tracker),
		statuses:     make(map[string]*tracker.Status),
		statusByID:   make(map[int64]*tracker.Status),
		priorities:   make(map[string]*tracker.Priority),
		projects:     make(map[int64]*tracker.Project),
	}
}

// User resolves a login.
func (r *Resolver) User(ctx context.Context, login string) (*tracker.User, error) {
	if u, ok := r.users[login]; ok {
		if u == nil {
			return nil, &ReferenceNotFoundError{Kind: "User", Key: login}
		}
		return u, nil
	}

	u, err := r.identity.UserByLogin(ctx, login)
	switch {
	case err == nil:
	case errors.Is(err, tracker.ErrNotFound) && r.useAnonymous:
		if u, err = r.anonymousUser(ctx); err != nil {
			return nil, err
		}
	case errors.Is(err, tracker.ErrNotFound):
		r.users[login] = nil
		return nil, &ReferenceNotFoundError{Kind: "User", Key: login}
	default:
		return nil, err
	}

	r.users[login] = u
	return u, nil
}

func (r *Resolver) anonymousUser(ctx context.Context) (*tracker.User, error) {
	if r.anonymous == nil {
		u, err := r.identity.AnonymousUser(ctx)
		if err != nil {
			return nil, err
		}
		r.anonymous = u
	}
	return r.anonymous, nil
}

// Version resolves a version name within project, creating it when
// allowCreate is set and the name is not blank.
func (r *Resolver) Version(ctx context.Context, project *tracker.Project, name string, allowCreate bool) (int64, error) {
	key := versionKey{projectID: project.ID, name: name}
	if id, ok := r.versions[key]; ok {
		return id, nil
	}

	v, err := r.catalog.VersionByName(ctx, project.ID, name)
	if errors.Is(err, tracker.ErrNotFound) {
		if !allowCreate || strings.TrimSpace(name) == "" {
			return 0, &ReferenceNotFoundError{Kind: "Version", Key: name}
		}
		v = &tracker.Version{ProjectID: project.ID, Name: name}
		err = r.catalog.CreateVersion(ctx, v)
	}
	if err != nil {
		return 0, err
	}

	r.versions[key] = v.ID
	return v.ID, nil
}

// Category resolves a category name within project, creating it when
// allowCreate is set and the name is not blank. Categories are looked up
// on every call.
func (r *Resolver) Category(ctx context.Context, project *tracker.Project, name string, allowCreate bool) (int64, error) {
	c, err := r.catalog.CategoryByName(ctx, project.ID, name)
	if errors.Is(err, tracker.ErrNotFound) {
		if !allowCreate || strings.TrimSpace(name) == "" {
			return 0, &ReferenceNotFoundError{Kind: "Category", Key: name}
		}
		c = &tracker.Category{ProjectID: project.ID, Name: name}
		err = r.catalog.CreateCategory(ctx, c)
	}
	if err != nil {
		return 0, err
	}
	return c.ID, nil
}

// Tracker returns the tracker named name, or nil when there is none.
func (r *Resolver) Tracker(ctx context.Context, name string) (*tracker.Tracker, error) {
	return lookupByName(ctx, r.trackers, name, r.catalog.TrackerByName)
}

// Status returns the status named name, or nil when there is none.
func (r *Resolver) Status(ctx context.Context, name string) (*tracker.Status, error) {
	return lookupByName(ctx, r.statuses, name, r.catalog.StatusByName)
}

// Priority returns the priority named name, or nil when there is none.
func (r *Resolver) Priority(ctx context.Context, name string) (*tracker.Priority, error) {
	return lookupByName(ctx, r.priorities, name, r.catalog.PriorityByName)
}

// StatusByID returns the status with id.
func (r *Resolver) StatusByID(ctx context.Context, id int64) (*tracker.Status, error) {
	if s, ok := r.statusByID[id]; ok {
		return s, nil
	}
	s, err := r.catalog.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	r.statusByID[id] = s
	return s, nil
}

// Project returns the project with id.
func (r *Resolver) Project(ctx context.Context, id int64) (*tracker.Project, error) {
	if p, ok := r.projects[id]; ok {
		return p, nil
	}
	p, err := r.catalog.Project(ctx, id)
	if err != nil {
		return nil, err
	}
	r.projects[id] = p
	return p, nil
}

// ProjectByName returns the named project, or nil when there is none.
func (r *Resolver) ProjectByName(ctx context.Context, name string) (*tracker.Project, error) {
	p, err := r.catalog.ProjectByName(ctx, name)
	if errors.Is(err, tracker.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.projects[p.ID] = p
	return p, nil
}

// lookupByName is the shared memoized first-match lookup. A missing name
// caches and returns nil without error.
func lookupByName[T any](ctx context.Context, cache map[string]*T, name string,
	find func(context.Context, string) (*T, error)) (*T, error) {
	if v, ok := cache[name]; ok {
		return v, nil
	}
	v, err := find(ctx, name)
	if errors.Is(err, tracker.ErrNotFound) {
		v, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	cache[name] = v
	return v, nil
}
