package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/JonMunkholm/issueimport/internal/tabular"
	"github.com/JonMunkholm/issueimport/internal/tracker"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"stale import", ErrStaleBatch, "IMP001"},
		{"commit running", ErrBatchInProgress, "IMP002"},
		{"unique field required", fmt.Errorf("%w: specify the unique field", ErrUniqueFieldRequired), "IMP003"},
		{"unique field unusable", fmt.Errorf("%w: %q", ErrUnknownUniqueField, "tracker"), "IMP004"},
		{"invalid mapping", ErrInvalidMapping, "IMP005"},
		{"blank header", &InputError{Line: 1, Reason: "column header missing: 2 / 3", Err: ErrMalformedInput}, "IMP006"},
		{"busy", ErrTooManyImports, "IMP007"},
		{"file too large", ErrFileTooLarge, "FILE001"},
		{"bad quote", &InputError{Line: 4, Reason: "invalid csv: bare quote", Err: ErrMalformedInput}, "FILE002"},
		{"unknown charset", tabular.ErrUnsupportedEncoding, "FILE003"},
		{"empty file", ErrEmptyInput, "FILE005"},
		{"no upload", ErrNoBatch, "UPL003"},
		{"cancelled", context.Canceled, "UPL004"},
		{"deadline", context.DeadlineExceeded, "UPL005"},
		{"missing project", fmt.Errorf("project 9: %w", tracker.ErrNotFound), "REQ001"},
		{"bad request", errors.New("bad request: invalid import handle"), "REQ002"},
		{"connection refused", errors.New("dial tcp: connection refused"), "DB004"},
		{"timeout", errors.New("i/o timeout"), "DB006"},
		{"case insensitive", errors.New("DEADLOCK detected"), "DB007"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}

	got := FormatUserError(ErrStaleBatch)
	if !strings.Contains(got, "(Code: IMP001)") {
		t.Errorf("FormatUserError = %q, want the IMP001 code", got)
	}
	if !strings.HasSuffix(got, MapError(ErrStaleBatch).Action) {
		t.Errorf("FormatUserError = %q, want it to end with the action", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrEmptyInput, true},
		{errors.New("nil pointer dereference"), false},
	}

	for _, tt := range tests {
		if got := IsUserFacing(tt.err); got != tt.want {
			t.Errorf("IsUserFacing(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
