// Package status maps numeric gRPC status codes onto their canonical names and
// human-readable descriptions.
//
// The table is fixed and total: every int has a description, codes outside
// 0..16 get a fallback string. Nothing in this package returns an error.
package status

import (
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
)

// Code is a gRPC status code. It shares its numbering with codes.Code.
type Code = codes.Code

const (
	// UnknownName is reported for codes outside the canonical table.
	UnknownName = "UNKNOWN_STATUS_CODE"
	// UnknownDescription is the fallback text for codes outside the canonical table.
	UnknownDescription = "unknown status code"
)

type entry struct {
	name string
	text string
}

var table = [...]entry{
	codes.OK:                 {"OK", "The operation completed successfully."},
	codes.Canceled:           {"CANCELLED", "The operation was cancelled (typically by the caller)."},
	codes.Unknown:            {"UNKNOWN", "Unknown error. Usually means an internal error occurred."},
	codes.InvalidArgument:    {"INVALID_ARGUMENT", "The client specified an invalid argument."},
	codes.DeadlineExceeded:   {"DEADLINE_EXCEEDED", "The operation took too long and exceeded the time limit."},
	codes.NotFound:           {"NOT_FOUND", "A specified resource was not found."},
	codes.AlreadyExists:      {"ALREADY_EXISTS", "The resource already exists."},
	codes.PermissionDenied:   {"PERMISSION_DENIED", "The caller does not have permission to execute the operation."},
	codes.ResourceExhausted:  {"RESOURCE_EXHAUSTED", "A resource (such as quota) was exhausted."},
	codes.FailedPrecondition: {"FAILED_PRECONDITION", "The operation was rejected due to a failed precondition."},
	codes.Aborted:            {"ABORTED", "The operation was aborted, typically due to a concurrency issue."},
	codes.OutOfRange:         {"OUT_OF_RANGE", "The operation attempted to access an out-of-range value."},
	codes.Unimplemented:      {"UNIMPLEMENTED", "The operation is not implemented or supported by the server."},
	codes.Internal:           {"INTERNAL", "Internal server error."},
	codes.Unavailable:        {"UNAVAILABLE", "The service is unavailable (e.g., network issues, server down)."},
	codes.DataLoss:           {"DATA_LOSS", "Unrecoverable data loss or corruption."},
	codes.Unauthenticated:    {"UNAUTHENTICATED", "The request is missing or has invalid authentication credentials."},
}

func lookup(code int) (entry, bool) {
	if code < 0 || code >= len(table) {
		return entry{}, false
	}
	return table[code], true
}

// Name returns the canonical upper-case name, e.g. "UNAVAILABLE" for 14.
func Name(code int) string {
	if e, ok := lookup(code); ok {
		return e.name
	}
	return UnknownName
}

// Describe returns "NAME: description" for a canonical code and
// UnknownDescription for anything else.
func Describe(code int) string {
	if e, ok := lookup(code); ok {
		return e.name + ": " + e.text
	}
	return UnknownDescription
}

// IsOK reports whether code selects the success path.
func IsOK(code int) bool {
	return code == int(codes.OK)
}

// Parse reads a grpc-status header value. Malformed values map to Unknown.
func Parse(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return int(codes.Unknown)
	}
	return n
}

// FromHTTP derives a gRPC code from an HTTP status when the response carried
// no grpc-status at all.
func FromHTTP(httpStatus int) Code {
	switch {
	case httpStatus >= 200 && httpStatus < 300:
		return codes.OK
	case httpStatus == http.StatusBadRequest:
		return codes.Internal
	case httpStatus == http.StatusUnauthorized:
		return codes.Unauthenticated
	case httpStatus == http.StatusForbidden:
		return codes.PermissionDenied
	case httpStatus == http.StatusNotFound:
		return codes.Unimplemented
	case httpStatus == http.StatusTooManyRequests,
		httpStatus == http.StatusBadGateway,
		httpStatus == http.StatusServiceUnavailable,
		httpStatus == http.StatusGatewayTimeout:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}
