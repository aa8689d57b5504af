package memory

import "github.com/JonMunkholm/issueimport/internal/tracker"

// SeedDefaults fills an empty store with a minimal working catalog: one
// project, the usual trackers, statuses and priorities, and an admin user.
func SeedDefaults(s *Store) {
	s.AddProject(tracker.Project{Identifier: "demo", Name: "Demo"})

	for _, name := range []string{"Bug", "Feature", "Support"} {
		s.AddTracker(tracker.Tracker{Name: name})
	}

	s.AddStatus(tracker.Status{Name: "New"})
	s.AddStatus(tracker.Status{Name: "In Progress"})
	s.AddStatus(tracker.Status{Name: "Resolved"})
	s.AddStatus(tracker.Status{Name: "Closed", IsClosed: true})
	s.AddStatus(tracker.Status{Name: "Rejected", IsClosed: true})

	s.AddPriority(tracker.Priority{Name: "Low"})
	s.AddPriority(tracker.Priority{Name: "Normal", IsDefault: true})
	s.AddPriority(tracker.Priority{Name: "High"})
	s.AddPriority(tracker.Priority{Name: "Urgent"})

	s.AddUser(tracker.User{Login: "admin", Name: "Administrator", Active: true})
}
