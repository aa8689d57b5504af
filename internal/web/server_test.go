package web

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/issueimport/internal/config"
	"github.com/JonMunkholm/issueimport/internal/importer"
	"github.com/JonMunkholm/issueimport/internal/store/memory"
	"github.com/JonMunkholm/issueimport/internal/tracker"
)

const sampleCSV = "Subject,Tracker\nFirst,Bug\nSecond,Nope\n"

type testServer struct {
	*Server
	store *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memory.New()
	memory.SeedDefaults(st)

	cfg := &config.Config{}
	cfg.Security.RemoteUserHeader = "X-Remote-User"
	cfg.Import.MaxFileSize = 1 << 20

	svc := importer.NewService(st, nil, importer.Options{MaxFileSize: int64(cfg.Import.MaxFileSize)})
	return &testServer{Server: NewServer(cfg, svc, st), store: st}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if req.Header.Get("X-Remote-User") == "" {
		req.Header.Set("X-Remote-User", "admin")
	}
	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, req)
	return rec
}

// upload posts data to the Demo project and returns the new handle.
func (ts *testServer) upload(t *testing.T, data string) string {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "tickets.csv")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(data))
	mw.WriteField("delimiter", ",")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/projects/Demo/imports", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := ts.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var preview struct {
		Handle  string     `json:"handle"`
		Headers []string   `json:"headers"`
		Samples [][]string `json:"samples"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&preview); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	return preview.Handle
}

func commitJSON(path string, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

const mappingJSON = `{"mapping":{"Subject":"subject","Tracker":"tracker"}}`

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestUploadAndCommit(t *testing.T) {
	ts := newTestServer(t)
	handle := ts.upload(t, sampleCSV)

	rec := ts.do(t, commitJSON("/api/projects/Demo/imports/"+handle+"/commit", mappingJSON))
	if rec.Code != http.StatusOK {
		t.Fatalf("commit status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var res importer.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Created != 1 || res.Failed != 1 {
		t.Errorf("created=%d failed=%d, want 1 and 1", res.Created, res.Failed)
	}
	if ts.store.TicketCount() != 1 {
		t.Errorf("TicketCount() = %d, want 1", ts.store.TicketCount())
	}

	// The batch is consumed by the commit.
	rec = ts.do(t, commitJSON("/api/projects/Demo/imports/"+handle+"/commit", mappingJSON))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second commit status = %d, want 404", rec.Code)
	}
}

func TestCommit_FailedRowsCSV(t *testing.T) {
	ts := newTestServer(t)
	handle := ts.upload(t, sampleCSV)

	rec := ts.do(t, commitJSON("/api/projects/1/imports/"+handle+"/commit?format=csv", mappingJSON))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q", ct)
	}

	records, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want header and one failed row", len(records))
	}
	if got := strings.Join(records[0], ","); got != "_line,_error,Subject,Tracker" {
		t.Errorf("header = %q", got)
	}
	row := records[1]
	if row[0] != "3" || row[2] != "Second" || row[3] != "Nope" {
		t.Errorf("failed row = %q", row)
	}
	if !strings.Contains(row[1], "Nope") {
		t.Errorf("error column = %q, want it to name the tracker", row[1])
	}
}

func TestCommitPage(t *testing.T) {
	ts := newTestServer(t)
	handle := ts.upload(t, sampleCSV)

	form := url.Values{}
	form.Set("mapping[Subject]", "subject")
	form.Set("mapping[Tracker]", "tracker")
	req := httptest.NewRequest(http.MethodPost, "/projects/Demo/imports/"+handle+"/commit", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := ts.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{"Import results for Demo", "Rows not saved", "Nope"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestCommitPage_EscapesValues(t *testing.T) {
	ts := newTestServer(t)
	handle := ts.upload(t, "Subject,Tracker\nx,<script>\n")

	form := url.Values{"mapping[Subject]": {"subject"}, "mapping[Tracker]": {"tracker"}}
	req := httptest.NewRequest(http.MethodPost, "/projects/Demo/imports/"+handle+"/commit", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body := ts.do(t, req).Body.String()
	if strings.Contains(body, "<script>") {
		t.Error("row value rendered unescaped")
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Error("escaped row value missing")
	}
}

func TestErrors(t *testing.T) {
	ts := newTestServer(t)
	handle := ts.upload(t, sampleCSV)
	current := ts.upload(t, sampleCSV)

	tests := []struct {
		name     string
		req      *http.Request
		user     string
		wantCode int
		wantErr  string
	}{
		{
			name:     "unknown project",
			req:      commitJSON("/api/projects/Nowhere/imports/"+handle+"/commit", mappingJSON),
			wantCode: http.StatusNotFound,
			wantErr:  "REQ001",
		},
		{
			name:     "invalid handle",
			req:      commitJSON("/api/projects/Demo/imports/not-a-uuid/commit", mappingJSON),
			wantCode: http.StatusBadRequest,
			wantErr:  "REQ002",
		},
		{
			name:     "stale handle",
			req:      commitJSON("/api/projects/Demo/imports/"+handle+"/commit", mappingJSON),
			wantCode: http.StatusConflict,
			wantErr:  "IMP001",
		},
		{
			name:     "invalid json",
			req:      commitJSON("/api/projects/Demo/imports/"+current+"/commit", `{"mapping":`),
			wantCode: http.StatusBadRequest,
			wantErr:  "REQ002",
		},
		{
			name:     "duplicate mapping target",
			req:      commitJSON("/api/projects/Demo/imports/"+current+"/commit", `{"mapping":{"Subject":"subject","Tracker":"subject"}}`),
			wantCode: http.StatusBadRequest,
			wantErr:  "IMP005",
		},
		{
			name:     "unknown user",
			req:      commitJSON("/api/projects/Demo/imports/"+current+"/commit", mappingJSON),
			user:     "mallory",
			wantCode: http.StatusForbidden,
			wantErr:  "AUTH_UNKNOWN_USER",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.user != "" {
				tt.req.Header.Set("X-Remote-User", tt.user)
			}
			rec := ts.do(t, tt.req)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantErr) {
				t.Errorf("body = %s, want code %s", rec.Body.String(), tt.wantErr)
			}
		})
	}
}

func TestCommit_NoBatch(t *testing.T) {
	ts := newTestServer(t)
	ts.store.AddUser(tracker.User{Login: "alice", Active: true})

	req := commitJSON("/api/projects/Demo/imports/"+"6f1c2a9e-3b7d-4c1e-9f0a-2d5e8b7c4a31"+"/commit", mappingJSON)
	req.Header.Set("X-Remote-User", "alice")
	rec := ts.do(t, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "UPL003") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestUpload_Errors(t *testing.T) {
	ts := newTestServer(t)

	t.Run("missing remote user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/projects/Demo/imports", nil)
		rec := httptest.NewRecorder()
		ts.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("no file", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		mw.WriteField("delimiter", ",")
		mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/api/projects/Demo/imports", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())

		rec := ts.do(t, req)
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "FILE004") {
			t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("empty file", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, _ := mw.CreateFormFile("file", "empty.csv")
		fw.Write([]byte("Subject\n"))
		mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/api/projects/Demo/imports", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())

		rec := ts.do(t, req)
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "FILE005") {
			t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{importer.ErrNoBatch, http.StatusNotFound},
		{fmt.Errorf("project 3: %w", tracker.ErrNotFound), http.StatusNotFound},
		{importer.ErrStaleBatch, http.StatusConflict},
		{importer.ErrBatchInProgress, http.StatusConflict},
		{importer.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{importer.ErrTooManyImports, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&importer.InputError{Line: 4, Reason: "bad quote", Err: importer.ErrMalformedInput}, http.StatusBadRequest},
		{fmt.Errorf("%w: x", importer.ErrInvalidMapping), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	defer rl.stop()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.allow("1.2.3.4") || !rl.allow("1.2.3.4") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("1.2.3.4") {
		t.Error("third request should be limited")
	}
	if !rl.allow("5.6.7.8") {
		t.Error("other clients have their own window")
	}

	now = now.Add(time.Minute)
	if !rl.allow("1.2.3.4") {
		t.Error("a new window should allow requests again")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	defer rl.stop()

	h := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if first.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d", first.Code)
	}
	if got := first.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}
	if !strings.Contains(second.Body.String(), "RATE001") {
		t.Errorf("body = %s", second.Body.String())
	}
}
