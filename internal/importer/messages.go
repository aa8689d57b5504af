package importer

// messages.go maps technical errors to user-facing messages with a code
// support staff can look up.
//
// Codes by category:
//
//	IMP001 - Stale import: another import replaced this one
//	IMP002 - Import running: the same upload is already being committed
//	IMP003 - Unique field required: the options need a unique column
//	IMP004 - Unique field unusable: the unique column cannot be matched on
//	IMP005 - Invalid mapping: two columns share a target or a column is missing
//	IMP006 - Header missing: a column of the header row has no name
//	IMP007 - System busy: too many imports in progress
//
//	FILE001 - File too large
//	FILE002 - Invalid CSV
//	FILE003 - Encoding error
//	FILE004 - No file
//	FILE005 - Empty file
//
//	UPL003 - Upload not found
//	UPL004 - Request cancelled
//	UPL005 - Request timeout
//
//	REQ001 - Record not found
//	REQ002 - Bad request
//
//	DB004 - Connection refused
//	DB005 - Connection reset
//	DB006 - Timeout
//	DB007 - Deadlock
//
//	ERR000 - Unknown error, check the logs for the technical error
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage is user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Import session and options
	{
		pattern: "stale import",
		msg: UserMessage{
			Message: "Another import was started since this one",
			Action:  "Upload the file again and repeat the mapping",
			Code:    "IMP001",
		},
	},
	{
		pattern: "already in progress",
		msg: UserMessage{
			Message: "This upload is already being imported",
			Action:  "Wait for the running import to finish",
			Code:    "IMP002",
		},
	},
	{
		pattern: "unique field is required",
		msg: UserMessage{
			Message: "A unique field is required for these options",
			Action:  "Choose the column that identifies tickets",
			Code:    "IMP003",
		},
	},
	{
		pattern: "cannot be matched on",
		msg: UserMessage{
			Message: "The unique field cannot be used to find tickets",
			Action:  "Map the unique column to #, Subject, Description or a custom field",
			Code:    "IMP004",
		},
	},
	{
		pattern: "invalid field mapping",
		msg: UserMessage{
			Message: "The column mapping is not valid",
			Action:  "Map each attribute from at most one column present in the file",
			Code:    "IMP005",
		},
	},
	{
		pattern: "column header missing",
		msg: UserMessage{
			Message: "A column of the header row has no name",
			Action:  "Name every column in the first line of the file",
			Code:    "IMP006",
		},
	},
	{
		pattern: "too many imports",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP007",
		},
	},

	// Payload
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Check the delimiter and quote character options",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File encoding is not supported",
			Action:  "Choose the encoding the file was saved with, or save it as UTF-8",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file has no data rows",
			Action:  "Upload a CSV file with a header line and data rows",
			Code:    "FILE005",
		},
	},

	// Request lifecycle
	{
		pattern: "upload not found",
		msg: UserMessage{
			Message: "No import is in progress",
			Action:  "The upload may have expired. Please start a new upload",
			Code:    "UPL003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try importing a smaller file or try again later",
			Code:    "UPL005",
		},
	},
	{
		pattern: "record not found",
		msg: UserMessage{
			Message: "The project or record was not found",
			Action:  "Check the project in the address and try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "bad request",
		msg: UserMessage{
			Message: "The request could not be read",
			Action:  "Check the request parameters and try again",
			Code:    "REQ002",
		},
	},

	// Database connectivity
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try importing a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. The
// zero UserMessage is returned for a nil error and ERR000 when nothing
// matches.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
