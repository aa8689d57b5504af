package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/issueimport/internal/logging"
	"github.com/JonMunkholm/issueimport/internal/tabular"
	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// Defaults applied by NewService to zero Options fields.
const (
	DefaultSampleRows = 5
	DefaultRetention  = 72 * time.Hour
)

// Options tunes a Service. Zero fields select defaults; a zero MaxFileSize
// or Timeout means no limit.
type Options struct {
	MaxFileSize   int64
	SampleRows    int
	Retention     time.Duration
	Timeout       time.Duration
	MaxConcurrent int
	MaxWait       time.Duration
}

// Service runs the two-step import: Upload stores a payload and previews
// it, Commit processes it against the store.
type Service struct {
	store    Store
	notifier Notifier
	limiter  *CommitLimiter
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

// NewService returns a service over store. notifier may be nil.
func NewService(store Store, notifier Notifier, opts Options) *Service {
	if opts.SampleRows <= 0 {
		opts.SampleRows = DefaultSampleRows
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &Service{
		store:    store,
		notifier: notifier,
		limiter:  NewCommitLimiter(opts.MaxConcurrent, opts.MaxWait),
		opts:     opts,
		now:      time.Now,
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// Limiter exposes the commit limiter for status reporting and shutdown.
func (s *Service) Limiter() *CommitLimiter {
	return s.limiter
}

// Preview is what Upload reports back for the mapping step.
type Preview struct {
	Handle    uuid.UUID         `json:"handle"`
	ProjectID int64             `json:"project_id"`
	FileName  string            `json:"file_name"`
	Headers   []string          `json:"headers"`
	Samples   [][]string        `json:"samples"`
	Targets   []Target          `json:"attributes"`
	Suggested map[string]string `json:"suggested_mapping"`
}

// Upload checks a payload, stores it as the actor's current batch and
// returns a preview. Any batch the actor had before is replaced, which
// makes its handle stale.
func (s *Service) Upload(ctx context.Context, actor *tracker.User, projectID int64, fileName string, data []byte, f tabular.Format) (*Preview, error) {
	if s.opts.MaxFileSize > 0 && int64(len(data)) > s.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrFileTooLarge, len(data), s.opts.MaxFileSize)
	}

	project, err := s.store.Project(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("project %d: %w", projectID, err)
	}

	r, err := tabular.Parse(data, f)
	if err != nil {
		return nil, inputError(err)
	}
	headers := r.Headers()
	if err := checkHeaders(headers, f); err != nil {
		return nil, err
	}

	// Read every row so a malformed line is reported here, not at commit.
	var samples [][]string
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, inputError(err)
		}
		if len(samples) < s.opts.SampleRows {
			samples = append(samples, row.Fields)
		}
	}
	if len(samples) == 0 {
		return nil, ErrEmptyInput
	}

	fields, err := s.store.CustomFields(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("load custom fields: %w", err)
	}
	targets := Targets(fields)

	batch := &tracker.ImportBatch{
		Handle:    uuid.New(),
		UserID:    actor.ID,
		ProjectID: project.ID,
		FileName:  fileName,
		Data:      data,
		Delimiter: string(f.Delimiter),
		Quote:     string(f.Quote),
		Encoding:  f.Encoding,
		CreatedAt: s.now(),
	}
	if err := s.store.SaveBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("save import: %w", err)
	}

	logging.ForBatch(ctx, batch.Handle).Info("import uploaded",
		"user_id", actor.ID,
		"project", project.Identifier,
		"file", fileName,
		"bytes", len(data),
	)

	return &Preview{
		Handle:    batch.Handle,
		ProjectID: project.ID,
		FileName:  fileName,
		Headers:   headers,
		Samples:   samples,
		Targets:   targets,
		Suggested: SuggestMapping(headers, targets),
	}, nil
}

// checkHeaders rejects a header row with unnamed columns, listing their
// 1-based positions out of the total.
func checkHeaders(headers []string, f tabular.Format) error {
	var blank []string
	for i, h := range headers {
		if strings.TrimSpace(h) == "" {
			blank = append(blank, strconv.Itoa(i+1))
		}
	}
	if len(blank) == 0 {
		return nil
	}
	return &InputError{
		Line:   1,
		Reason: fmt.Sprintf("column header missing: %s / %d", strings.Join(blank, " "), len(headers)),
		Header: strings.Join(headers, string(f.Delimiter)),
		Err:    ErrMalformedInput,
	}
}

func inputError(err error) error {
	if errors.Is(err, tabular.ErrNoHeader) {
		return ErrEmptyInput
	}
	if errors.Is(err, tabular.ErrUnsupportedEncoding) || errors.Is(err, tabular.ErrInvalidFormat) {
		return err
	}
	var pe *tabular.ParseError
	if errors.As(err, &pe) {
		return &InputError{Line: pe.Line, Reason: "invalid csv: " + pe.Err.Error(), Err: ErrMalformedInput}
	}
	return fmt.Errorf("%w: %v", ErrMalformedInput, err)
}

// Commit processes the actor's current batch, which handle must name.
// Errors returned here mean no row ran; row-level problems are reported
// in the Result.
func (s *Service) Commit(ctx context.Context, actor *tracker.User, handle uuid.UUID, req CommitRequest) (*Result, error) {
	log := logging.ForBatch(ctx, handle)
	ctx = logging.NewContext(ctx, log)

	// Claim the handle before loading the batch so a commit that just
	// finished has already deleted it.
	if !s.begin(handle) {
		return nil, ErrBatchInProgress
	}
	defer s.finish(handle)

	batch, err := s.store.BatchForUser(ctx, actor.ID)
	if errors.Is(err, tracker.ErrNotFound) {
		return nil, ErrNoBatch
	}
	if err != nil {
		return nil, fmt.Errorf("load import: %w", err)
	}
	if batch.Handle != handle {
		return nil, ErrStaleBatch
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	format, err := tabular.ParseFormat(batch.Delimiter, batch.Quote, batch.Encoding)
	if err != nil {
		return nil, err
	}
	headers, rows, err := readAll(batch.Data, format)
	if err != nil {
		return nil, err
	}

	mapping, err := NewFieldMapping(req.Mapping)
	if err != nil {
		return nil, err
	}
	if err := req.validate(mapping, headers); err != nil {
		return nil, err
	}

	project, err := s.store.Project(ctx, batch.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("project %d: %w", batch.ProjectID, err)
	}
	fields, err := s.store.CustomFields(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("load custom fields: %w", err)
	}
	if err := mapping.CheckTargets(fields); err != nil {
		return nil, err
	}
	p, err := s.newProcessor(ctx, &req, mapping, project, actor)
	if err != nil {
		return nil, err
	}

	log.Info("import started", "user_id", actor.ID, "project", project.Identifier, "rows", len(rows))

	agg := NewAggregator(handle, headers)
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			agg.Abort(fmt.Sprintf("request cancelled: %v", err))
			break
		}
		rec, projectName, abort := p.process(ctx, row)
		agg.Record(rec, projectName)
		log.Debug("row processed", "line", rec.Line, "status", rec.Status, "ticket_id", rec.TicketID)
		if abort {
			agg.Abort(strings.Join(rec.Messages, "; "))
			break
		}
	}
	res := agg.Result()

	cleanup := context.WithoutCancel(ctx)
	if err := s.store.DeleteBatch(cleanup, handle); err != nil {
		log.Warn("failed to delete import", "error", err)
	}
	if n, err := s.GC(cleanup); err != nil {
		log.Warn("failed to remove expired imports", "error", err)
	} else if n > 0 {
		log.Info("removed expired imports", "count", n)
	}

	log.Info("import finished",
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"aborted", res.Aborted,
		"duration", res.Duration,
	)
	return res, nil
}

// GC removes batches older than the retention period and reports how many
// were removed.
func (s *Service) GC(ctx context.Context) (int64, error) {
	return s.store.DeleteBatchesBefore(ctx, s.now().Add(-s.opts.Retention))
}

func (s *Service) begin(handle uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[handle]; busy {
		return false
	}
	s.inflight[handle] = struct{}{}
	return true
}

func (s *Service) finish(handle uuid.UUID) {
	s.mu.Lock()
	delete(s.inflight, handle)
	s.mu.Unlock()
}

func (s *Service) newProcessor(ctx context.Context, req *CommitRequest, mapping *FieldMapping, project *tracker.Project, actor *tracker.User) (*processor, error) {
	resolver := NewResolver(s.store, s.store, req.UseAnonymous)
	p := &processor{
		req:       req,
		mapping:   mapping,
		project:   project,
		actor:     actor,
		tickets:   s.store,
		catalog:   s.store,
		resolver:  resolver,
		coercer:   NewCoercer(resolver, req.AddVersions),
		notifier:  s.notifier,
		relations: mapping.relationColumns(),
		fields:    make(map[int64][]tracker.CustomField),
		now:       s.now,
	}

	if req.UniqueField != "" {
		attr, _ := mapping.TargetFor(req.UniqueField)
		m, err := NewMatcher(ctx, s.store, s.store, project.ID, attr)
		if err != nil {
			return nil, err
		}
		p.matcher = m
	}

	if req.DefaultTrackerID != 0 {
		t, err := s.store.Tracker(ctx, req.DefaultTrackerID)
		if err != nil {
			return nil, fmt.Errorf("default tracker %d: %w", req.DefaultTrackerID, err)
		}
		p.defaultTracker = t.ID
	}

	st, err := s.store.DefaultStatus(ctx)
	if err != nil && !errors.Is(err, tracker.ErrNotFound) {
		return nil, fmt.Errorf("load default status: %w", err)
	}
	p.defaultStatus = st

	pr, err := s.store.DefaultPriority(ctx)
	if err != nil && !errors.Is(err, tracker.ErrNotFound) {
		return nil, fmt.Errorf("load default priority: %w", err)
	}
	p.defaultPriority = pr

	return p, nil
}

// readAll parses a whole payload up front so malformed input is rejected
// before any row is processed.
func readAll(data []byte, f tabular.Format) ([]string, []tabular.Row, error) {
	r, err := tabular.Parse(data, f)
	if err != nil {
		return nil, nil, inputError(err)
	}
	headers := r.Headers()
	if err := checkHeaders(headers, f); err != nil {
		return nil, nil, err
	}

	var rows []tabular.Row
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, inputError(err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, nil, ErrEmptyInput
	}
	return headers, rows, nil
}
