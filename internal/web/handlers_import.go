package web

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/issueimport/internal/importer"
	"github.com/JonMunkholm/issueimport/internal/tabular"
	"github.com/JonMunkholm/issueimport/internal/tracker"
	"github.com/JonMunkholm/issueimport/internal/web/middleware"
)

// maxCommitBody bounds the JSON or form body of a commit request.
const maxCommitBody = 1 << 20

// handleHealth reports liveness and commit slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"imports": s.service.Limiter().Status(),
	})
}

// handleUpload stores a multipart CSV upload as the user's current import
// and answers with the preview used for mapping.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	project, err := s.project(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	maxSize := int64(s.cfg.Import.MaxFileSize)
	if maxSize > 0 {
		// Leave room for the multipart envelope; the service checks the file itself.
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+64<<10)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondError(w, r, importer.ErrFileTooLarge)
			return
		}
		s.respondError(w, r, fmt.Errorf("%w: invalid form: %v", errBadRequest, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: no file provided", errBadRequest))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	format, err := tabular.ParseFormat(r.FormValue("delimiter"), r.FormValue("quote"), r.FormValue("encoding"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	actor, _ := middleware.User(r.Context())
	preview, err := s.service.Upload(r.Context(), actor, project.ID, header.Filename, data, format)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// handleCommit runs the import named by the handle. The result is JSON,
// or with ?format=csv the failed rows as a CSV download.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	res, _, err := s.commit(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeFailedRowsCSV(w, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCommitPage runs the import and renders the result page.
func (s *Server) handleCommitPage(w http.ResponseWriter, r *http.Request) {
	res, project, err := s.commit(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := resultPage(project, res).Render(r.Context(), w); err != nil {
		s.respondError(w, r, fmt.Errorf("render result: %w", err))
	}
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request) (*importer.Result, *tracker.Project, error) {
	project, err := s.project(r)
	if err != nil {
		return nil, nil, err
	}

	handle, err := uuid.Parse(chi.URLParam(r, "handle"))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid import handle", errBadRequest)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCommitBody)
	req, err := decodeCommitRequest(r)
	if err != nil {
		return nil, nil, err
	}

	actor, _ := middleware.User(r.Context())
	res, err := s.service.Commit(r.Context(), actor, handle, req)
	if err != nil {
		return nil, nil, err
	}
	return res, project, nil
}

// project resolves the {project} path segment, by ID when numeric and by
// name otherwise.
func (s *Server) project(r *http.Request) (*tracker.Project, error) {
	key := chi.URLParam(r, "project")
	if key == "" {
		return nil, fmt.Errorf("%w: missing project", errBadRequest)
	}
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		return s.dir.Project(r.Context(), id)
	}
	return s.dir.ProjectByName(r.Context(), key)
}

// decodeCommitRequest reads a JSON body, or the fields of an HTML form
// where mapping[Column]=target entries carry the mapping.
func decodeCommitRequest(r *http.Request) (importer.CommitRequest, error) {
	var req importer.CommitRequest

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("%w: invalid commit request: %v", errBadRequest, err)
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("%w: invalid form: %v", errBadRequest, err)
	}
	f := r.PostForm
	req.UniqueField = f.Get("unique_field")
	req.UpdateMode = formBool(f.Get("update_mode"))
	req.UpdateOtherProjects = formBool(f.Get("update_other_projects"))
	req.UpdateClosed = formBool(f.Get("update_closed"))
	req.IgnoreMissing = formBool(f.Get("ignore_missing"))
	req.SendNotifications = formBool(f.Get("send_notifications"))
	req.AddCategories = formBool(f.Get("add_categories"))
	req.AddVersions = formBool(f.Get("add_versions"))
	req.UseAnonymous = formBool(f.Get("use_anonymous"))
	if v := f.Get("default_tracker_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, fmt.Errorf("%w: default_tracker_id %q is not a number", errBadRequest, v)
		}
		req.DefaultTrackerID = id
	}

	req.Mapping = make(map[string]string)
	for key, values := range f {
		if !strings.HasPrefix(key, "mapping[") || !strings.HasSuffix(key, "]") || len(values) == 0 {
			continue
		}
		column := key[len("mapping[") : len(key)-1]
		if column == "" || values[0] == "" {
			continue
		}
		req.Mapping[column] = values[0]
	}
	return req, nil
}

func formBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "on", "true", "yes":
		return true
	}
	return false
}

// writeFailedRowsCSV writes the failed rows with their line and errors
// ahead of the original columns, ready to be fixed and uploaded again.
func writeFailedRowsCSV(w http.ResponseWriter, res *importer.Result) {
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("failed_rows_%s.csv", timestamp)
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	csvWriter := csv.NewWriter(w)
	csvWriter.Write(append([]string{"_line", "_error"}, res.Headers...))
	for _, row := range res.FailedRows() {
		record := append([]string{
			strconv.Itoa(row.Line),
			strings.Join(row.Messages, "; "),
		}, row.Row...)
		csvWriter.Write(record)
	}
	csvWriter.Flush()
}
