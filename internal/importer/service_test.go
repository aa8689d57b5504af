package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/issueimport/internal/store/memory"
	"github.com/JonMunkholm/issueimport/internal/tabular"
	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// recordingNotifier captures notifications instead of sending them.
type recordingNotifier struct {
	created []int64
	updated []int64
}

func (n *recordingNotifier) NotifyCreated(_ context.Context, t *tracker.Ticket) {
	n.created = append(n.created, t.ID)
}

func (n *recordingNotifier) NotifyUpdated(_ context.Context, t *tracker.Ticket, _ *tracker.Journal) {
	n.updated = append(n.updated, t.ID)
}

// countingStore counts the lookups that caches are expected to absorb.
type countingStore struct {
	*memory.Store
	userLookups int
	findCalls   int
}

func (c *countingStore) UserByLogin(ctx context.Context, login string) (*tracker.User, error) {
	c.userLookups++
	return c.Store.UserByLogin(ctx, login)
}

func (c *countingStore) FindTickets(ctx context.Context, f tracker.TicketFilter) ([]*tracker.Ticket, error) {
	c.findCalls++
	return c.Store.FindTickets(ctx, f)
}

type fixture struct {
	store    *countingStore
	svc      *Service
	notifier *recordingNotifier

	project      *tracker.Project
	other        *tracker.Project
	admin        *tracker.User
	alice        *tracker.User
	bug          *tracker.Tracker
	feature      *tracker.Tracker
	statusNew    *tracker.Status
	statusClosed *tracker.Status
	normal       *tracker.Priority
	code         *tracker.CustomField
	deadline     *tracker.CustomField
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	f := &fixture{store: &countingStore{Store: s}, notifier: &recordingNotifier{}}

	f.project = s.AddProject(tracker.Project{Identifier: "web", Name: "Website"})
	f.other = s.AddProject(tracker.Project{Identifier: "ops", Name: "Operations"})
	f.bug = s.AddTracker(tracker.Tracker{Name: "Bug"})
	f.feature = s.AddTracker(tracker.Tracker{Name: "Feature"})
	f.statusNew = s.AddStatus(tracker.Status{Name: "New"})
	f.statusClosed = s.AddStatus(tracker.Status{Name: "Closed", IsClosed: true})
	s.AddPriority(tracker.Priority{Name: "Low"})
	f.normal = s.AddPriority(tracker.Priority{Name: "Normal", IsDefault: true})
	f.admin = s.AddUser(tracker.User{Login: "admin", Name: "Admin", Active: true})
	f.alice = s.AddUser(tracker.User{Login: "alice", Name: "Alice", Active: true})
	s.AddUser(tracker.User{Login: "locked", Name: "Locked", Active: false})
	f.code = s.AddCustomField(tracker.CustomField{Name: "Code", Format: tracker.FormatString})
	f.deadline = s.AddCustomField(tracker.CustomField{Name: "Deadline", Format: tracker.FormatDate})

	f.svc = NewService(f.store, f.notifier, Options{})
	return f
}

// ticket stores an open Bug in the main project, overriding fields from tk.
func (f *fixture) ticket(t *testing.T, tk tracker.Ticket) *tracker.Ticket {
	t.Helper()
	if tk.ProjectID == 0 {
		tk.ProjectID = f.project.ID
	}
	if tk.TrackerID == 0 {
		tk.TrackerID = f.bug.ID
	}
	if tk.StatusID == 0 {
		tk.StatusID = f.statusNew.ID
	}
	if tk.PriorityID == 0 {
		tk.PriorityID = f.normal.ID
	}
	if tk.AuthorID == 0 {
		tk.AuthorID = f.admin.ID
	}
	if tk.Subject == "" {
		tk.Subject = "existing"
	}
	if err := f.store.CreateTicket(context.Background(), &tk); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return &tk
}

func (f *fixture) load(t *testing.T, id int64) *tracker.Ticket {
	t.Helper()
	tk, err := f.store.Ticket(context.Background(), id)
	if err != nil {
		t.Fatalf("Ticket(%d): %v", id, err)
	}
	return tk
}

func (f *fixture) upload(t *testing.T, data string) uuid.UUID {
	t.Helper()
	p, err := f.svc.Upload(context.Background(), f.admin, f.project.ID, "import.csv", []byte(data), tabular.DefaultFormat())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return p.Handle
}

// run uploads data and commits it with req.
func (f *fixture) run(t *testing.T, data string, req CommitRequest) *Result {
	t.Helper()
	handle := f.upload(t, data)
	res, err := f.svc.Commit(context.Background(), f.admin, handle, req)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return res
}

// identity maps each column to the target of the same name.
func identity(columns ...string) map[string]string {
	m := make(map[string]string, len(columns))
	for _, c := range columns {
		m[c] = c
	}
	return m
}

func outcomeStatuses(res *Result) []Outcome {
	out := make([]Outcome, len(res.Outcomes))
	for i, o := range res.Outcomes {
		out[i] = o.Status
	}
	return out
}

func hasMessage(rec OutcomeRecord, substr string) bool {
	for _, m := range rec.Messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func TestCommit_CreatesTicket(t *testing.T) {
	f := newFixture(t)

	res := f.run(t, "subject,tracker,status\nFix bug,Bug,New\n", CommitRequest{
		DefaultTrackerID: f.feature.ID,
		Mapping:          identity("subject", "tracker", "status"),
	})

	if res.Created != 1 || res.Failed != 0 {
		t.Fatalf("created=%d failed=%d, want 1/0: %+v", res.Created, res.Failed, res.Outcomes)
	}
	tk := f.load(t, res.Outcomes[0].TicketID)
	if tk.Subject != "Fix bug" {
		t.Errorf("Subject = %q, want %q", tk.Subject, "Fix bug")
	}
	if tk.TrackerID != f.bug.ID {
		t.Errorf("TrackerID = %d, want Bug (%d)", tk.TrackerID, f.bug.ID)
	}
	if tk.StatusID != f.statusNew.ID {
		t.Errorf("StatusID = %d, want New (%d)", tk.StatusID, f.statusNew.ID)
	}
	if tk.PriorityID != f.normal.ID {
		t.Errorf("PriorityID = %d, want the default priority (%d)", tk.PriorityID, f.normal.ID)
	}
	if tk.AuthorID != f.admin.ID {
		t.Errorf("AuthorID = %d, want the acting user (%d)", tk.AuthorID, f.admin.ID)
	}
	if res.ProjectCounts["Website"] != 1 {
		t.Errorf("ProjectCounts = %v, want Website: 1", res.ProjectCounts)
	}
}

func TestCommit_CreateRoundTrip(t *testing.T) {
	f := newFixture(t)
	const n = 7

	var b strings.Builder
	b.WriteString("subject,project\n")
	for i := 0; i < n; i++ {
		project := "Website"
		if i%3 == 0 {
			project = "Operations"
		}
		fmt.Fprintf(&b, "ticket %d,%s\n", i, project)
	}

	res := f.run(t, b.String(), CommitRequest{
		DefaultTrackerID: f.bug.ID,
		Mapping:          identity("subject", "project"),
	})

	if res.Created != n || res.Updated != 0 {
		t.Fatalf("created=%d updated=%d, want %d/0", res.Created, res.Updated, n)
	}
	sum := 0
	for _, c := range res.ProjectCounts {
		sum += c
	}
	if sum != n {
		t.Errorf("ProjectCounts sum to %d, want %d (%v)", sum, n, res.ProjectCounts)
	}
	if res.ProjectCounts["Operations"] != 3 {
		t.Errorf("Operations count = %d, want 3", res.ProjectCounts["Operations"])
	}
	if got := f.store.TicketCount(); got != n {
		t.Errorf("stored tickets = %d, want %d", got, n)
	}
}

func TestCommit_UpdateByID(t *testing.T) {
	f := newFixture(t)
	existing := f.ticket(t, tracker.Ticket{Subject: "open ticket"})

	data := fmt.Sprintf("id,status\n%d,Closed\n", existing.ID)
	res := f.run(t, data, CommitRequest{
		UniqueField:       "id",
		UpdateMode:        true,
		SendNotifications: false,
		Mapping:           identity("id", "status"),
	})

	if res.Updated != 1 {
		t.Fatalf("updated = %d, want 1: %+v", res.Updated, res.Outcomes)
	}
	tk := f.load(t, existing.ID)
	if tk.StatusID != f.statusClosed.ID {
		t.Errorf("StatusID = %d, want Closed (%d)", tk.StatusID, f.statusClosed.ID)
	}
	if tk.Subject != "open ticket" {
		t.Errorf("unmapped subject changed to %q", tk.Subject)
	}
	if len(f.notifier.created)+len(f.notifier.updated) != 0 {
		t.Errorf("notifications sent while disabled: %+v", f.notifier)
	}

	journals := f.store.Journals(existing.ID)
	if len(journals) != 1 || len(journals[0].Details) != 1 || journals[0].Details[0].Name != "status_id" {
		t.Errorf("journals = %+v, want one status_id change", journals)
	}
	if journals[0].UserID != f.admin.ID {
		t.Errorf("journal user = %d, want %d", journals[0].UserID, f.admin.ID)
	}
}

func TestCommit_AmbiguousMatchIsNeverSkipped(t *testing.T) {
	f := newFixture(t)
	f.ticket(t, tracker.Ticket{CustomValues: map[int64][]string{f.code.ID: {"X"}}})
	f.ticket(t, tracker.Ticket{CustomValues: map[int64][]string{f.code.ID: {"X"}}})

	res := f.run(t, "code,subject\nX,renamed\nY,other\n", CommitRequest{
		UniqueField:   "code",
		UpdateMode:    true,
		IgnoreMissing: true,
		Mapping:       map[string]string{"code": "Code", "subject": "subject"},
	})

	want := []Outcome{OutcomeFailed, OutcomeSkipped}
	if got := outcomeStatuses(res); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("outcomes = %v, want %v", got, want)
	}
	if !hasMessage(res.Outcomes[0], "multiple matches") {
		t.Errorf("messages = %v, want an ambiguity diagnostic", res.Outcomes[0].Messages)
	}
	if res.Aborted {
		t.Error("an ambiguous row match must not abort the batch")
	}
	if res.Outcomes[0].Row == nil {
		t.Error("failed rows keep their raw values")
	}
}

func TestCommit_NoMatchPolicy(t *testing.T) {
	for _, ignore := range []bool{false, true} {
		t.Run(fmt.Sprintf("ignore_missing=%v", ignore), func(t *testing.T) {
			f := newFixture(t)
			res := f.run(t, "id,subject\n999,x\n", CommitRequest{
				UniqueField:   "id",
				UpdateMode:    true,
				IgnoreMissing: ignore,
				Mapping:       identity("id", "subject"),
			})

			want := OutcomeFailed
			if ignore {
				want = OutcomeSkipped
			}
			if res.Outcomes[0].Status != want {
				t.Errorf("status = %s, want %s", res.Outcomes[0].Status, want)
			}
		})
	}
}

func TestCommit_RelationAmbiguityAbortsBatch(t *testing.T) {
	f := newFixture(t)
	f.ticket(t, tracker.Ticket{CustomValues: map[int64][]string{f.code.ID: {"X"}}})
	f.ticket(t, tracker.Ticket{CustomValues: map[int64][]string{f.code.ID: {"X"}}})

	res := f.run(t, "code,subject,blocks\nA,first,X\nB,second,\n", CommitRequest{
		UniqueField:      "code",
		DefaultTrackerID: f.bug.ID,
		Mapping:          map[string]string{"code": "Code", "subject": "subject", "blocks": "blocks"},
	})

	if !res.Aborted {
		t.Fatal("relation ambiguity should abort the batch")
	}
	if len(res.Outcomes) != 1 || res.Outcomes[0].Status != OutcomeFailed {
		t.Fatalf("outcomes = %+v, want a single failed row", res.Outcomes)
	}
	if res.Outcomes[0].TicketID == 0 {
		t.Error("the aborting row's ticket was saved and should be reported")
	}
	if got := f.store.TicketCount(); got != 3 {
		t.Errorf("stored tickets = %d, want 3 (row two never ran)", got)
	}
}

func TestCommit_Relations(t *testing.T) {
	f := newFixture(t)
	target := f.ticket(t, tracker.Ticket{CustomValues: map[int64][]string{f.code.ID: {"T"}}})

	res := f.run(t, "code,subject,blocks,blocked,relates\nA,first,T,,\nB,second,,T,missing\n", CommitRequest{
		UniqueField:      "code",
		DefaultTrackerID: f.bug.ID,
		IgnoreMissing:    true,
		Mapping: map[string]string{
			"code": "Code", "subject": "subject",
			"blocks": "blocks", "blocked": "blocked", "relates": "relates",
		},
	})

	want := []Outcome{OutcomeCreated, OutcomeSkipped}
	if got := outcomeStatuses(res); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("outcomes = %v, want %v: %+v", got, want, res.Outcomes)
	}

	a := res.Outcomes[0].TicketID
	b := res.Outcomes[1].TicketID
	if b == 0 {
		t.Fatal("a skipped relation still reports the saved ticket")
	}

	rels, _ := f.store.Relations(context.Background(), target.ID)
	if len(rels) != 2 {
		t.Fatalf("relations on target = %+v, want 2", rels)
	}
	var sawBlocks, sawBlocked bool
	for _, r := range rels {
		switch {
		case r.FromID == a && r.ToID == target.ID && r.Type == tracker.RelationBlocks:
			sawBlocks = true
		case r.FromID == target.ID && r.ToID == b && r.Type == tracker.RelationBlocks:
			sawBlocked = true
		}
	}
	if !sawBlocks {
		t.Error("row A should block T")
	}
	if !sawBlocked {
		t.Error("row B is blocked by T, stored as T blocks B")
	}
	if !hasMessage(res.Outcomes[1], `"missing"`) {
		t.Errorf("messages = %v, want the unmatched relation value", res.Outcomes[1].Messages)
	}
}

func TestCommit_RelationsAreNotDuplicated(t *testing.T) {
	f := newFixture(t)
	a := f.ticket(t, tracker.Ticket{CustomValues: map[int64][]string{f.code.ID: {"A"}}})
	b := f.ticket(t, tracker.Ticket{CustomValues: map[int64][]string{f.code.ID: {"B"}}})
	existing := tracker.NewRelation(b.ID, a.ID, tracker.RelationBlocks)
	if err := f.store.CreateRelation(context.Background(), &existing); err != nil {
		t.Fatalf("CreateRelation: %v", err)
	}

	// "A blocked by B" is the relation that already exists.
	res := f.run(t, "code,blocked,relates\nA,B,B\nA,B,B\n", CommitRequest{
		UniqueField: "code",
		UpdateMode:  true,
		Mapping:     map[string]string{"code": "Code", "blocked": "blocked", "relates": "relates"},
	})
	if res.Updated != 2 {
		t.Fatalf("updated = %d: %+v", res.Updated, res.Outcomes)
	}

	rels, _ := f.store.Relations(context.Background(), a.ID)
	if len(rels) != 2 {
		t.Errorf("relations = %+v, want the existing one plus one relates", rels)
	}
}

func TestCommit_ClosedTicketPolicy(t *testing.T) {
	tests := []struct {
		name         string
		status       string
		updateClosed bool
		want         Outcome
	}{
		{"closing again is skipped", "Closed", false, OutcomeSkipped},
		{"reopen is allowed", "New", false, OutcomeUpdated},
		{"unspecified status is allowed", "", false, OutcomeUpdated},
		{"override allows closed", "Closed", true, OutcomeUpdated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			closed := f.ticket(t, tracker.Ticket{StatusID: f.statusClosed.ID})

			data := fmt.Sprintf("id,status,subject\n%d,%s,renamed\n", closed.ID, tt.status)
			res := f.run(t, data, CommitRequest{
				UniqueField:  "id",
				UpdateMode:   true,
				UpdateClosed: tt.updateClosed,
				Mapping:      identity("id", "status", "subject"),
			})

			if got := res.Outcomes[0].Status; got != tt.want {
				t.Errorf("status = %s, want %s (%v)", got, tt.want, res.Outcomes[0].Messages)
			}
		})
	}
}

func TestCommit_OtherProjectTickets(t *testing.T) {
	for _, allow := range []bool{false, true} {
		t.Run(fmt.Sprintf("update_other_projects=%v", allow), func(t *testing.T) {
			f := newFixture(t)
			foreign := f.ticket(t, tracker.Ticket{ProjectID: f.other.ID})

			res := f.run(t, fmt.Sprintf("id,subject\n%d,renamed\n", foreign.ID), CommitRequest{
				UniqueField:         "id",
				UpdateMode:          true,
				UpdateOtherProjects: allow,
				Mapping:             identity("id", "subject"),
			})

			if !allow {
				if res.Skipped != 1 {
					t.Errorf("skipped = %d, want 1", res.Skipped)
				}
				return
			}
			if res.Updated != 1 {
				t.Fatalf("updated = %d, want 1", res.Updated)
			}
			if res.ProjectCounts["Operations"] != 1 {
				t.Errorf("ProjectCounts = %v, want Operations: 1", res.ProjectCounts)
			}
			if tk := f.load(t, foreign.ID); tk.ProjectID != f.other.ID {
				t.Errorf("ticket moved to project %d", tk.ProjectID)
			}
		})
	}
}

func TestCommit_CustomFieldsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	existing := f.ticket(t, tracker.Ticket{})

	res := f.run(t, fmt.Sprintf("id,Code,Deadline\n%d,C-1,31/31/2020\n", existing.ID), CommitRequest{
		UniqueField: "id",
		UpdateMode:  true,
		Mapping:     identity("id", "Code", "Deadline"),
	})

	if res.Failed != 1 {
		t.Fatalf("failed = %d, want 1: %+v", res.Failed, res.Outcomes)
	}
	if !hasMessage(res.Outcomes[0], "Deadline") || !hasMessage(res.Outcomes[0], "31/31/2020") {
		t.Errorf("messages = %v, want the failing field and value", res.Outcomes[0].Messages)
	}
	if got := f.load(t, existing.ID).CustomValue(f.code.ID); got != "" {
		t.Errorf("Code = %q, want nothing persisted", got)
	}
}

func TestCommit_CustomFieldValues(t *testing.T) {
	f := newFixture(t)
	owner := f.store.AddCustomField(tracker.CustomField{Name: "Owner", Format: tracker.FormatUser})
	tags := f.store.AddCustomField(tracker.CustomField{Name: "Tags", Format: tracker.FormatList, Multiple: true})

	res := f.run(t, "subject,Deadline,Owner,Tags\nx,2024-03-01,alice,\"a, b,,c\"\n", CommitRequest{
		DefaultTrackerID: f.bug.ID,
		Mapping:          identity("subject", "Deadline", "Owner", "Tags"),
	})
	if res.Created != 1 {
		t.Fatalf("created = %d: %+v", res.Created, res.Outcomes)
	}

	tk := f.load(t, res.Outcomes[0].TicketID)
	if got := tk.CustomValue(f.deadline.ID); got != "2024-03-01" {
		t.Errorf("Deadline = %q", got)
	}
	if got := tk.CustomValue(owner.ID); got != fmt.Sprint(f.alice.ID) {
		t.Errorf("Owner = %q, want alice's ID", got)
	}
	if got := tk.CustomValues[tags.ID]; fmt.Sprint(got) != "[a b c]" {
		t.Errorf("Tags = %v, want [a b c]", got)
	}
}

func TestCommit_UniqueValueCache(t *testing.T) {
	f := newFixture(t)

	res := f.run(t, "code,subject,parent_issue\nP1,parent,\nC1,child,P1\nC2,child two,P1\n", CommitRequest{
		UniqueField:      "code",
		DefaultTrackerID: f.bug.ID,
		Mapping:          map[string]string{"code": "Code", "subject": "subject", "parent_issue": "parent_issue"},
	})

	if res.Created != 3 {
		t.Fatalf("created = %d: %+v", res.Created, res.Outcomes)
	}
	parent := res.Outcomes[0].TicketID
	for _, o := range res.Outcomes[1:] {
		tk := f.load(t, o.TicketID)
		if tk.ParentID == nil || *tk.ParentID != parent {
			t.Errorf("ticket #%d parent = %v, want #%d", tk.ID, tk.ParentID, parent)
		}
	}
	if f.store.findCalls != 0 {
		t.Errorf("FindTickets called %d times, want cache hits only", f.store.findCalls)
	}
}

func TestCommit_UniqueValueWhitespace(t *testing.T) {
	f := newFixture(t)

	res := f.run(t, "code,subject,parent_issue\n\"X \",parent,\nY,child,\"X \"\nZ,child two, X\n", CommitRequest{
		UniqueField:      "code",
		DefaultTrackerID: f.bug.ID,
		Mapping:          map[string]string{"code": "Code", "subject": "subject", "parent_issue": "parent_issue"},
	})

	if res.Created != 3 {
		t.Fatalf("created = %d, want 3: %+v", res.Created, res.Outcomes)
	}
	parent := res.Outcomes[0].TicketID
	for _, o := range res.Outcomes[1:] {
		tk := f.load(t, o.TicketID)
		if tk.ParentID == nil || *tk.ParentID != parent {
			t.Errorf("line %d: parent = %v, want #%d", o.Line, tk.ParentID, parent)
		}
	}
}

func TestCommit_ParentPolicy(t *testing.T) {
	f := newFixture(t)
	f.ticket(t, tracker.Ticket{CustomValues: map[int64][]string{f.code.ID: {"DUP"}}})
	f.ticket(t, tracker.Ticket{CustomValues: map[int64][]string{f.code.ID: {"DUP"}}})

	res := f.run(t, "code,subject,parent_issue\nA,a,NOPE\nB,b,DUP\n", CommitRequest{
		UniqueField:      "code",
		DefaultTrackerID: f.bug.ID,
		IgnoreMissing:    true,
		Mapping:          map[string]string{"code": "Code", "subject": "subject", "parent_issue": "parent_issue"},
	})

	want := []Outcome{OutcomeSkipped, OutcomeFailed}
	if got := outcomeStatuses(res); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("outcomes = %v, want %v", got, want)
	}
	if got := f.store.TicketCount(); got != 2 {
		t.Errorf("stored tickets = %d, want 2 (nothing saved for either row)", got)
	}
}

func TestCommit_Watchers(t *testing.T) {
	f := newFixture(t)

	res := f.run(t, "subject,watchers\nA,\"alice, admin\"\nB,\"ghost,alice,phantom\"\nC,\"locked,alice,alice\"\n", CommitRequest{
		DefaultTrackerID: f.bug.ID,
		Mapping:          identity("subject", "watchers"),
	})

	want := []Outcome{OutcomeCreated, OutcomeFailed, OutcomeCreated}
	if got := outcomeStatuses(res); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("outcomes = %v, want %v: %+v", got, want, res.Outcomes)
	}
	if n := len(res.Outcomes[1].Messages); n != 2 {
		t.Errorf("row B messages = %v, want one per unknown watcher", res.Outcomes[1].Messages)
	}
	if got := f.load(t, res.Outcomes[0].TicketID).WatcherIDs; len(got) != 2 {
		t.Errorf("row A watchers = %v, want 2", got)
	}
	if got := f.load(t, res.Outcomes[2].TicketID).WatcherIDs; len(got) != 1 || got[0] != f.alice.ID {
		t.Errorf("row C watchers = %v, want only alice", got)
	}
}

func TestCommit_References(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		value   string
		req     CommitRequest
		want    Outcome
		message string
	}{
		{"unknown assignee", "assigned_to", "nobody", CommitRequest{}, OutcomeFailed, `User "nobody" was not found`},
		{"anonymous fallback", "assigned_to", "nobody", CommitRequest{UseAnonymous: true}, OutcomeCreated, ""},
		{"unknown author", "author", "nobody", CommitRequest{}, OutcomeFailed, `User "nobody"`},
		{"missing version", "fixed_version", "1.0", CommitRequest{}, OutcomeFailed, `Version "1.0" was not found`},
		{"created version", "fixed_version", "1.0", CommitRequest{AddVersions: true}, OutcomeCreated, ""},
		{"missing category", "category", "UI", CommitRequest{}, OutcomeFailed, `Category "UI" was not found`},
		{"created category", "category", "UI", CommitRequest{AddCategories: true}, OutcomeCreated, ""},
		{"unknown tracker falls back", "tracker", "Epic", CommitRequest{}, OutcomeCreated, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := tt.req
			req.DefaultTrackerID = f.bug.ID
			req.Mapping = identity("subject", tt.header)

			res := f.run(t, fmt.Sprintf("subject,%s\nx,%s\n", tt.header, tt.value), req)
			rec := res.Outcomes[0]
			if rec.Status != tt.want {
				t.Fatalf("status = %s, want %s (%v)", rec.Status, tt.want, rec.Messages)
			}
			if tt.message != "" && !hasMessage(rec, tt.message) {
				t.Errorf("messages = %v, want %q", rec.Messages, tt.message)
			}
		})
	}
}

func TestCommit_VersionCreatedOnce(t *testing.T) {
	f := newFixture(t)

	res := f.run(t, "subject,fixed_version\na,2.0\nb,2.0\n", CommitRequest{
		DefaultTrackerID: f.bug.ID,
		AddVersions:      true,
		Mapping:          identity("subject", "fixed_version"),
	})
	if res.Created != 2 {
		t.Fatalf("created = %d: %+v", res.Created, res.Outcomes)
	}
	a := f.load(t, res.Outcomes[0].TicketID)
	b := f.load(t, res.Outcomes[1].TicketID)
	if a.FixedVersionID == nil || b.FixedVersionID == nil || *a.FixedVersionID != *b.FixedVersionID {
		t.Errorf("versions = %v / %v, want the same created version", a.FixedVersionID, b.FixedVersionID)
	}
}

func TestCommit_UserLookupsAreCached(t *testing.T) {
	f := newFixture(t)

	f.run(t, "subject,assigned_to\na,alice\nb,alice\nc,alice\nd,nobody\ne,nobody\n", CommitRequest{
		DefaultTrackerID: f.bug.ID,
		Mapping:          identity("subject", "assigned_to"),
	})
	if f.store.userLookups != 2 {
		t.Errorf("UserByLogin called %d times, want 2", f.store.userLookups)
	}
}

func TestCommit_AppliesAttributes(t *testing.T) {
	f := newFixture(t)
	existing := f.ticket(t, tracker.Ticket{Subject: "keep me", Description: "old"})
	due := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	existing.DueDate = &due
	f.store.UpdateTicket(context.Background(), existing, nil)

	data := fmt.Sprintf("id,subject,description,start_date,due_date,done_ratio,estimated_hours,priority\n"+
		"%d,,line one\\nline two<br>three,03/01/2024,,40%%,2.5,Low\n", existing.ID)
	res := f.run(t, data, CommitRequest{
		UniqueField: "id",
		UpdateMode:  true,
		Mapping:     identity("id", "subject", "description", "start_date", "due_date", "done_ratio", "estimated_hours", "priority"),
	})
	if res.Updated != 1 {
		t.Fatalf("updated = %d: %+v", res.Updated, res.Outcomes)
	}

	tk := f.load(t, existing.ID)
	if tk.Subject != "keep me" {
		t.Errorf("blank subject replaced the existing one: %q", tk.Subject)
	}
	if tk.Description != "line one\nline two\nthree" {
		t.Errorf("Description = %q", tk.Description)
	}
	if tk.StartDate == nil || tk.StartDate.Format(tracker.DateLayout) != "2024-03-01" {
		t.Errorf("StartDate = %v", tk.StartDate)
	}
	if tk.DueDate != nil {
		t.Errorf("blank due date should clear it, got %v", tk.DueDate)
	}
	if tk.DoneRatio != 40 {
		t.Errorf("DoneRatio = %d, want 40", tk.DoneRatio)
	}
	if tk.EstimatedHours == nil || *tk.EstimatedHours != 2.5 {
		t.Errorf("EstimatedHours = %v, want 2.5", tk.EstimatedHours)
	}
	if tk.PriorityID == f.normal.ID {
		t.Error("priority should have changed to Low")
	}
}

func TestCommit_FieldErrors(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		message string
	}{
		{"bad date", "subject,start_date\nx,someday\n", "start_date"},
		{"bad ratio", "subject,done_ratio\nx,lots\n", "done_ratio"},
		{"ratio out of range", "subject,done_ratio\nx,150\n", "done_ratio is not included in the list"},
		{"bad hours", "subject,estimated_hours\nx,two\n", "estimated_hours"},
		{"blank subject", "subject,description\n,no subject\n", "subject cannot be blank"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			header := strings.SplitN(tt.csv, "\n", 2)[0]
			res := f.run(t, tt.csv, CommitRequest{
				DefaultTrackerID: f.bug.ID,
				Mapping:          identity(strings.Split(header, ",")...),
			})
			if res.Failed != 1 {
				t.Fatalf("failed = %d: %+v", res.Failed, res.Outcomes)
			}
			if !hasMessage(res.Outcomes[0], tt.message) {
				t.Errorf("messages = %v, want %q", res.Outcomes[0].Messages, tt.message)
			}
			if f.store.TicketCount() != 0 {
				t.Error("a failed row must not persist a ticket")
			}
		})
	}
}

func TestCommit_Notifications(t *testing.T) {
	f := newFixture(t)
	existing := f.ticket(t, tracker.Ticket{Subject: "same"})

	data := fmt.Sprintf("id,subject,notes\n,brand new,\n%d,same,\n%d,same,a note\n", existing.ID, existing.ID)
	res := f.run(t, data, CommitRequest{
		UniqueField:       "id",
		SendNotifications: true,
		DefaultTrackerID:  f.bug.ID,
		Mapping:           identity("id", "subject", "notes"),
	})
	if res.Created != 3 {
		t.Fatalf("create mode with an id column still creates: %+v", res.Outcomes)
	}
	if len(f.notifier.created) != 3 {
		t.Errorf("created notifications = %d, want 3", len(f.notifier.created))
	}

	f.notifier.created = nil
	res = f.run(t, data, CommitRequest{
		UniqueField:       "id",
		UpdateMode:        true,
		SendNotifications: true,
		Mapping:           identity("id", "subject", "notes"),
	})
	want := []Outcome{OutcomeFailed, OutcomeUpdated, OutcomeUpdated}
	if got := outcomeStatuses(res); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("outcomes = %v, want %v", got, want)
	}
	if len(f.notifier.updated) != 1 {
		t.Errorf("updated notifications = %d, want 1 (only the row with a note changed anything)", len(f.notifier.updated))
	}
}

func TestCommit_RejectedBeforeAnyRow(t *testing.T) {
	const data = "subject,parent_issue,tracker\nx,,Bug\n"

	tests := []struct {
		name string
		req  CommitRequest
		want error
	}{
		{"update without unique field", CommitRequest{UpdateMode: true, Mapping: identity("subject")}, ErrUniqueFieldRequired},
		{"parent without unique field", CommitRequest{Mapping: identity("subject", "parent_issue")}, ErrUniqueFieldRequired},
		{"relation without unique field", CommitRequest{Mapping: map[string]string{"subject": "subject", "tracker": "blocks"}}, ErrUniqueFieldRequired},
		{"duplicate target", CommitRequest{Mapping: map[string]string{"subject": "subject", "tracker": "subject"}}, ErrInvalidMapping},
		{"unknown target", CommitRequest{Mapping: map[string]string{"subject": "subject", "tracker": "Severity"}}, ErrInvalidMapping},
		{"column not in file", CommitRequest{Mapping: map[string]string{"title": "subject"}}, ErrInvalidMapping},
		{"unique column not in file", CommitRequest{UniqueField: "code", Mapping: identity("subject")}, ErrInvalidMapping},
		{"unique column unmapped", CommitRequest{UniqueField: "subject", Mapping: map[string]string{"subject": ""}}, ErrUniqueFieldRequired},
		{"unique column not matchable", CommitRequest{UniqueField: "tracker", Mapping: identity("subject", "tracker")}, ErrUnknownUniqueField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			handle := f.upload(t, data)

			_, err := f.svc.Commit(context.Background(), f.admin, handle, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Commit error = %v, want %v", err, tt.want)
			}
			if f.store.TicketCount() != 0 {
				t.Error("no row may run when the request is rejected")
			}
			if _, err := f.store.BatchForUser(context.Background(), f.admin.ID); err != nil {
				t.Error("a rejected commit keeps the upload for another attempt")
			}
		})
	}
}

func TestCommit_MalformedInputRejected(t *testing.T) {
	f := newFixture(t)
	var b strings.Builder
	b.WriteString("subject\n")
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&b, "row %d\n", i)
	}
	b.WriteString("bad \"quote\n")

	// Upload refuses such a file, so store it the way an older upload would have.
	handle := uuid.New()
	batch := &tracker.ImportBatch{
		Handle:    handle,
		UserID:    f.admin.ID,
		ProjectID: f.project.ID,
		FileName:  "import.csv",
		Data:      []byte(b.String()),
		Delimiter: ",",
		Quote:     "\"",
		Encoding:  "UTF-8",
		CreatedAt: time.Now(),
	}
	if err := f.store.SaveBatch(context.Background(), batch); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	_, err := f.svc.Commit(context.Background(), f.admin, handle, CommitRequest{
		DefaultTrackerID: f.bug.ID,
		Mapping:          identity("subject"),
	})

	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("Commit error = %v, want ErrMalformedInput", err)
	}
	var ie *InputError
	if !errors.As(err, &ie) || ie.Line != 10 {
		t.Errorf("error = %#v, want an InputError on line 10", err)
	}
	if f.store.TicketCount() != 0 {
		t.Error("malformed input must be rejected before any row runs")
	}
}

func TestCommit_Session(t *testing.T) {
	ctx := context.Background()
	req := CommitRequest{Mapping: identity("subject")}

	t.Run("no upload", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Commit(ctx, f.admin, uuid.New(), req)
		if !errors.Is(err, ErrNoBatch) {
			t.Errorf("error = %v, want ErrNoBatch", err)
		}
	})

	t.Run("replaced upload is stale", func(t *testing.T) {
		f := newFixture(t)
		first := f.upload(t, "subject\na\n")
		f.upload(t, "subject\nb\n")

		_, err := f.svc.Commit(ctx, f.admin, first, req)
		if !errors.Is(err, ErrStaleBatch) {
			t.Errorf("error = %v, want ErrStaleBatch", err)
		}
	})

	t.Run("concurrent commit of one upload", func(t *testing.T) {
		f := newFixture(t)
		handle := f.upload(t, "subject\na\n")
		f.svc.begin(handle)
		defer f.svc.finish(handle)

		_, err := f.svc.Commit(ctx, f.admin, handle, req)
		if !errors.Is(err, ErrBatchInProgress) {
			t.Errorf("error = %v, want ErrBatchInProgress", err)
		}
	})

	t.Run("second commit of one upload", func(t *testing.T) {
		f := newFixture(t)
		handle := f.upload(t, "subject\na\n")
		commit := CommitRequest{DefaultTrackerID: f.bug.ID, Mapping: identity("subject")}

		if _, err := f.svc.Commit(ctx, f.admin, handle, commit); err != nil {
			t.Fatalf("first Commit: %v", err)
		}
		_, err := f.svc.Commit(ctx, f.admin, handle, commit)
		if !errors.Is(err, ErrNoBatch) {
			t.Errorf("error = %v, want ErrNoBatch", err)
		}
		if n := f.store.TicketCount(); n != 1 {
			t.Errorf("tickets = %d, want 1", n)
		}
	})

	t.Run("claim is checked before the upload is loaded", func(t *testing.T) {
		f := newFixture(t)
		handle := f.upload(t, "subject\na\n")
		if err := f.store.DeleteBatch(ctx, handle); err != nil {
			t.Fatalf("DeleteBatch: %v", err)
		}
		f.svc.begin(handle)
		defer f.svc.finish(handle)

		_, err := f.svc.Commit(ctx, f.admin, handle, req)
		if !errors.Is(err, ErrBatchInProgress) {
			t.Errorf("error = %v, want ErrBatchInProgress", err)
		}
	})

	t.Run("commit consumes the upload and collects expired ones", func(t *testing.T) {
		f := newFixture(t)
		stale := &tracker.ImportBatch{Handle: uuid.New(), UserID: f.alice.ID, CreatedAt: time.Now().Add(-4 * 24 * time.Hour)}
		if err := f.store.SaveBatch(ctx, stale); err != nil {
			t.Fatalf("SaveBatch: %v", err)
		}
		handle := f.upload(t, "subject\na\n")

		if _, err := f.svc.Commit(ctx, f.admin, handle, CommitRequest{DefaultTrackerID: f.bug.ID, Mapping: identity("subject")}); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if _, err := f.store.BatchForUser(ctx, f.admin.ID); !errors.Is(err, tracker.ErrNotFound) {
			t.Error("the committed upload should be deleted")
		}
		if _, err := f.store.BatchForUser(ctx, f.alice.ID); !errors.Is(err, tracker.ErrNotFound) {
			t.Error("uploads past the retention window should be collected")
		}
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		f := newFixture(t)
		handle := f.upload(t, "subject\na\n")
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		res, err := f.svc.Commit(cctx, f.admin, handle, CommitRequest{DefaultTrackerID: f.bug.ID, Mapping: identity("subject")})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.Errorf("error = %v, want context.Canceled", err)
			}
			return
		}
		if !res.Aborted || res.Processed() != 0 {
			t.Errorf("result = %+v, want an aborted commit with no rows", res)
		}
	})
}

func TestUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var b strings.Builder
	b.WriteString("Subject,Code,blocks,extra\n")
	for i := 0; i < 9; i++ {
		fmt.Fprintf(&b, "s%d,c%d,,e\n", i, i)
	}

	p, err := f.svc.Upload(ctx, f.admin, f.project.ID, "x.csv", []byte(b.String()), tabular.DefaultFormat())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(p.Samples) != DefaultSampleRows {
		t.Errorf("samples = %d, want %d", len(p.Samples), DefaultSampleRows)
	}
	if fmt.Sprint(p.Headers) != "[Subject Code blocks extra]" {
		t.Errorf("headers = %v", p.Headers)
	}
	wantSuggested := map[string]string{"Subject": "subject", "Code": "Code", "blocks": "blocks"}
	if fmt.Sprint(p.Suggested) != fmt.Sprint(wantSuggested) {
		t.Errorf("suggested = %v, want %v", p.Suggested, wantSuggested)
	}

	batch, err := f.store.BatchForUser(ctx, f.admin.ID)
	if err != nil || batch.Handle != p.Handle {
		t.Errorf("stored batch = %+v, %v; want handle %s", batch, err, p.Handle)
	}
}

func TestUpload_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		project  int64
		maxSize  int64
		samples  int
		want     error
		contains string
	}{
		{name: "header only", data: "subject\n", want: ErrEmptyInput},
		{name: "nothing", data: "", want: ErrEmptyInput},
		{name: "unnamed columns", data: "subject,,x,\n1,2,3,4\n", want: ErrMalformedInput, contains: "column header missing: 2 4 / 4"},
		{name: "too large", data: "subject\nabc\n", maxSize: 4, want: ErrFileTooLarge},
		{name: "unknown project", data: "subject\nabc\n", project: 999, want: tracker.ErrNotFound},
		{name: "bad sample line", data: "subject\n\"open\n", want: ErrMalformedInput},
		{name: "bad line past the samples", data: "subject\na\nb\nc \"d\n", samples: 1, want: ErrMalformedInput, contains: "line 4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.svc.opts.MaxFileSize = tt.maxSize
			if tt.samples > 0 {
				f.svc.opts.SampleRows = tt.samples
			}
			project := f.project.ID
			if tt.project != 0 {
				project = tt.project
			}

			_, err := f.svc.Upload(context.Background(), f.admin, project, "x.csv", []byte(tt.data), tabular.DefaultFormat())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Upload error = %v, want %v", err, tt.want)
			}
			if tt.contains != "" && !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error = %q, want it to contain %q", err, tt.contains)
			}
		})
	}
}

func TestService_GC(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	for i, age := range []time.Duration{time.Hour, 71 * time.Hour, 73 * time.Hour, 200 * time.Hour} {
		b := &tracker.ImportBatch{Handle: uuid.New(), UserID: int64(100 + i), CreatedAt: now.Add(-age)}
		if err := f.store.SaveBatch(ctx, b); err != nil {
			t.Fatalf("SaveBatch: %v", err)
		}
	}

	n, err := f.svc.GC(ctx)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if n != 2 {
		t.Errorf("GC removed %d batches, want 2", n)
	}
}
