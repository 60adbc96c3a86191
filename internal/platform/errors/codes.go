// Package errors provides structured error handling for the relayer pipeline.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Request errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Registration errors
	CodeMalformedCredential    Code = "MALFORMED_CREDENTIAL"
	CodeKeyPersistenceConflict Code = "KEY_PERSISTENCE_CONFLICT"
	CodeDeploymentFailed       Code = "DEPLOYMENT_FAILED"

	// Simulation errors
	CodeSimulationFailed Code = "SIMULATION_FAILED"
	CodeRestoreRequired  Code = "RESTORE_REQUIRED"

	// Passkey ceremony errors
	CodeAuthenticatorUnavailable Code = "AUTHENTICATOR_UNAVAILABLE"
	CodeUserCancelled            Code = "USER_CANCELLED"
	CodeAssertionFailed          Code = "ASSERTION_FAILED"

	// Submission errors
	CodeExpiredAuthorization Code = "EXPIRED_AUTHORIZATION"
	CodeSubmissionRejected   Code = "SUBMISSION_REJECTED"
	CodePollingTimedOut      Code = "POLLING_TIMED_OUT"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - bad input from the caller or the authenticator
	case CodeInvalidArgument,
		CodeMalformedCredential,
		CodeAssertionFailed:
		return codes.InvalidArgument

	// FailedPrecondition - ledger state does not allow the operation
	case CodeSimulationFailed,
		CodeRestoreRequired,
		CodeExpiredAuthorization,
		CodeSubmissionRejected,
		CodeDeploymentFailed:
		return codes.FailedPrecondition

	// Unavailable - platform or ledger cannot serve right now
	case CodeAuthenticatorUnavailable:
		return codes.Unavailable

	case CodeUserCancelled:
		return codes.Canceled

	case CodePollingTimedOut:
		return codes.DeadlineExceeded

	case CodeKeyPersistenceConflict:
		return codes.Aborted

	case CodeNotFound:
		return codes.NotFound

	default:
		return codes.Internal
	}
}
