package errors

import (
	stderrors "errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

// Domain is the error domain for relayer errors.
const Domain = "github.com/louisbranch/soropass"

// MetadataDiagnostic holds the ledger-provided diagnostic payload, unmodified.
const MetadataDiagnostic = "diagnostic"

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs/telemetry)
	Metadata map[string]string // Additional context, e.g. ledger diagnostics
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error with metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithMetadata creates a domain error with both metadata and a cause.
func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
		Cause:    cause,
	}
}

// WrapDiagnostic wraps cause and records the ledger diagnostic payload verbatim.
func WrapDiagnostic(code Code, message string, diagnostic string, cause error) *Error {
	var metadata map[string]string
	if diagnostic != "" {
		metadata = map[string]string{MetadataDiagnostic: diagnostic}
	}
	return WrapWithMetadata(code, message, metadata, cause)
}

// CodeOf returns the code of the first domain error in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// HasCode reports whether err carries a domain error with code.
func HasCode(err error, code Code) bool {
	return stderrors.Is(err, New(code, ""))
}

// Diagnostic returns the ledger diagnostic attached to err, if any.
func Diagnostic(err error) string {
	var domainErr *Error
	if stderrors.As(err, &domainErr) && domainErr.Metadata != nil {
		return domainErr.Metadata[MetadataDiagnostic]
	}
	return ""
}

// ToGRPCStatus converts the error to a gRPC status with errdetails.
func (e *Error) ToGRPCStatus() *status.Status {
	grpcCode := e.Code.GRPCCode()
	st := status.New(grpcCode, e.Error())

	withDetails, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   Domain,
		Metadata: e.Metadata,
	})
	if err != nil {
		// If we can't attach details, return the basic status
		return st
	}
	return withDetails
}

// StatusOf converts any error into a gRPC status, keeping domain details.
func StatusOf(err error) *status.Status {
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		return domainErr.ToGRPCStatus()
	}
	return Wrap(CodeUnknown, "internal error", err).ToGRPCStatus()
}
