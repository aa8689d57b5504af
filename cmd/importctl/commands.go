package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/issueimport/internal/importer"
	"github.com/JonMunkholm/issueimport/internal/notify"
	"github.com/JonMunkholm/issueimport/internal/store"
	"github.com/JonMunkholm/issueimport/internal/tabular"
	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// session is an open backend plus the service running on it.
type session struct {
	backend store.Backend
	service *importer.Service
}

func openSession(ctx context.Context, sendNotifications bool) (*session, error) {
	backend, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := backend.Migrate(ctx); err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	var notifier importer.Notifier
	if sendNotifications {
		notifier = notify.New(notify.Settings{
			IssueAdded:   cfg.Notify.IssueAdded,
			IssueUpdated: cfg.Notify.IssueUpdated,
		}, notify.LogSink{})
	}

	svc := importer.NewService(backend, notifier, importer.Options{
		MaxFileSize:   int64(cfg.Import.MaxFileSize),
		SampleRows:    cfg.Import.SampleRows,
		Retention:     cfg.Import.BatchRetention,
		Timeout:       cfg.Import.Timeout,
		MaxConcurrent: 1,
		MaxWait:       cfg.Import.MaxWaitTime,
	})
	return &session{backend: backend, service: svc}, nil
}

// upload reads the file named by f and stores it as the user's batch.
func (s *session) upload(ctx context.Context, f *fileFlags) (*tracker.User, *importer.Preview, error) {
	user, err := s.backend.UserByLogin(ctx, f.user)
	if err != nil {
		return nil, nil, fmt.Errorf("user %q: %w", f.user, err)
	}
	project, err := findProject(ctx, s.backend, f.project)
	if err != nil {
		return nil, nil, fmt.Errorf("project %q: %w", f.project, err)
	}

	data, err := os.ReadFile(f.file)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	format, err := tabular.ParseFormat(f.delimiter, f.quote, f.encoding)
	if err != nil {
		return nil, nil, err
	}

	preview, err := s.service.Upload(ctx, user, project.ID, filepath.Base(f.file), data, format)
	if err != nil {
		return nil, nil, err
	}
	return user, preview, nil
}

type projectFinder interface {
	Project(ctx context.Context, id int64) (*tracker.Project, error)
	ProjectByName(ctx context.Context, name string) (*tracker.Project, error)
}

// findProject looks key up by ID when numeric and by name otherwise.
func findProject(ctx context.Context, pf projectFinder, key string) (*tracker.Project, error) {
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		return pf.Project(ctx, id)
	}
	return pf.ProjectByName(ctx, key)
}

// parseMappings turns Column=attribute pairs into a mapping. Column names
// may contain '='; the last one separates the attribute.
func parseMappings(pairs []string) (map[string]string, error) {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		i := strings.LastIndex(p, "=")
		if i <= 0 || i == len(p)-1 {
			return nil, fmt.Errorf("invalid --map %q: want Column=attribute", p)
		}
		column, target := p[:i], strings.TrimSpace(p[i+1:])
		if _, dup := m[column]; dup {
			return nil, fmt.Errorf("column %q mapped twice", column)
		}
		m[column] = target
	}
	return m, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, importFlags.notify)
	if err != nil {
		return err
	}
	defer s.backend.Close()

	mapping, err := parseMappings(importFlags.mappings)
	if err != nil {
		return err
	}

	req := importer.CommitRequest{
		UniqueField:         importFlags.uniqueField,
		UpdateMode:          importFlags.update,
		UpdateOtherProjects: importFlags.otherProjects,
		UpdateClosed:        importFlags.updateClosed,
		IgnoreMissing:       importFlags.ignoreMissing,
		SendNotifications:   importFlags.notify,
		AddCategories:       importFlags.addCategories,
		AddVersions:         importFlags.addVersions,
		UseAnonymous:        importFlags.useAnonymous,
	}
	if importFlags.defaultTracker != "" {
		t, err := s.backend.TrackerByName(ctx, importFlags.defaultTracker)
		if err != nil {
			return fmt.Errorf("tracker %q: %w", importFlags.defaultTracker, err)
		}
		req.DefaultTrackerID = t.ID
	}

	user, preview, err := s.upload(ctx, &importFlags.fileFlags)
	if err != nil {
		return err
	}
	req.Mapping = mapping
	if len(req.Mapping) == 0 {
		req.Mapping = preview.Suggested
	}

	res, err := s.service.Commit(ctx, user, preview.Handle, req)
	if err != nil {
		return fmt.Errorf("%s\n  %w", importer.FormatUserError(err), err)
	}

	if err := printResult(os.Stdout, res); err != nil {
		return err
	}
	if res.Aborted {
		return fmt.Errorf("import aborted: %s", res.AbortReason)
	}
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.backend.Close()

	_, preview, err := s.upload(ctx, &previewFlags)
	if err != nil {
		return err
	}
	return printPreview(os.Stdout, preview)
}

func runGC(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if gcOlderThan > 0 {
		cfg.Import.BatchRetention = gcOlderThan
	}
	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.backend.Close()

	n, err := s.service.GC(ctx)
	if err != nil {
		return fmt.Errorf("gc: %w", err)
	}
	fmt.Printf("Removed %d expired uploads (older than %s)\n", n, cfg.Import.BatchRetention)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	backend, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	if err := backend.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Printf("Database schema is up to date (%s)\n", cfg.Database.Driver)
	return nil
}
