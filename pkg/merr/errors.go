// Package merr implements casecore's error taxonomy: typed errors that
// shape a command failure at the caller boundary, plus a ValidateBusinessError
// translator from the sentinel codes in pkg/constant. Grounded on the
// teacher's common/errors.go.
package merr

import (
	"errors"
	"fmt"

	"github.com/caseledger/casecore/pkg/constant"
)

// EntityNotFoundError records a failed lookup.
type EntityNotFoundError struct {
	EntityType string
	Code       string
	Title      string
	Message    string
	Err        error
}

func (e EntityNotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.EntityType != "" {
		return fmt.Sprintf("entity %s not found", e.EntityType)
	}

	return "entity not found"
}

func (e EntityNotFoundError) Unwrap() error { return e.Err }

// ValidationError records a shape/enum/precondition failure at a boundary.
type ValidationError struct {
	EntityType string
	Code       string
	Title      string
	Message    string
	Err        error
}

func (e ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "validation failed"
}

func (e ValidationError) Unwrap() error { return e.Err }

// EntityConflictError records a uniqueness/state conflict (e.g. supersession
// rule violations, duplicate disbursement rows).
type EntityConflictError struct {
	EntityType string
	Code       string
	Title      string
	Message    string
	Err        error
}

func (e EntityConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "entity conflict"
}

func (e EntityConflictError) Unwrap() error { return e.Err }

// FailedPreconditionError records a domain invariant violation where the
// system state does not permit the requested operation (e.g. disbursement
// authorize without a completed verification).
type FailedPreconditionError struct {
	EntityType string
	Code       string
	Title      string
	Message    string
	Err        error
}

func (e FailedPreconditionError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "failed precondition"
}

func (e FailedPreconditionError) Unwrap() error { return e.Err }

// UnprocessableOperationError records a request that is well-formed but
// cannot be carried out given current state (e.g. illegal lifecycle
// transition).
type UnprocessableOperationError struct {
	EntityType string
	Code       string
	Title      string
	Message    string
	Err        error
}

func (e UnprocessableOperationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "unprocessable operation"
}

func (e UnprocessableOperationError) Unwrap() error { return e.Err }

// InternalServerError wraps a transient infrastructure failure (database,
// bus, signature machinery) for propagation to a top-level logger.
type InternalServerError struct {
	Message string
	Err     error
}

func (e InternalServerError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "internal server error"
}

func (e InternalServerError) Unwrap() error { return e.Err }

// ValidateBusinessError maps a sentinel error from pkg/constant onto one of
// the typed errors above, attaching entityType for caller-side shaping.
// Unrecognized errors pass through unchanged so infrastructure failures are
// never silently reclassified.
//
//nolint:gocyclo
func ValidateBusinessError(err error, entityType string) error {
	switch {
	case errors.Is(err, constant.ErrInsufficientAuthorityForSupersession):
		return EntityConflictError{EntityType: entityType, Code: err.Error(), Title: "Insufficient Authority For Supersession",
			Message: "The actor's authority level is lower than the commit being superseded.", Err: err}
	case errors.Is(err, constant.ErrSystemCannotSupersedeHumanAuthority):
		return EntityConflictError{EntityType: entityType, Code: err.Error(), Title: "System Cannot Supersede Human Authority",
			Message: "A SYSTEM-authored commit may never supersede a commit authored with HUMAN authority.", Err: err}
	case errors.Is(err, constant.ErrEqualAuthoritySupersessionEscalation):
		return EntityConflictError{EntityType: entityType, Code: err.Error(), Title: "Equal Authority Supersession Requires Escalation",
			Message: "Superseding a commit of equal authority requires an explicit escalation proof.", Err: err}
	case errors.Is(err, constant.ErrSupersededCommitNotFound):
		return EntityNotFoundError{EntityType: entityType, Code: err.Error(), Title: "Superseded Commit Not Found",
			Message: "The commit referenced by supersedesCommitId does not exist.", Err: err}
	case errors.Is(err, constant.ErrCrossTenantSupersessionForbidden):
		return ValidationError{EntityType: entityType, Code: err.Error(), Title: "Cross Tenant Supersession Forbidden",
			Message: "A commit may only supersede a commit within the same tenant.", Err: err}
	case errors.Is(err, constant.ErrCommitAlreadySuperseded):
		return EntityConflictError{EntityType: entityType, Code: err.Error(), Title: "Commit Already Superseded",
			Message: "The referenced commit has already been superseded.", Err: err}
	case errors.Is(err, constant.ErrMissingLedgerFields):
		return ValidationError{EntityType: entityType, Code: err.Error(), Title: "Missing Ledger Fields",
			Message: "tenantId, eventType, actorKind and authorityProof are required.", Err: err}
	case errors.Is(err, constant.ErrActorUserIDRequired):
		return ValidationError{EntityType: entityType, Code: err.Error(), Title: "Actor User ID Required",
			Message: "HUMAN-authored commits require actorUserId.", Err: err}
	case errors.Is(err, constant.ErrActorUserIDForbidden):
		return ValidationError{EntityType: entityType, Code: err.Error(), Title: "Actor User ID Forbidden",
			Message: "SYSTEM-authored commits must not carry actorUserId.", Err: err}
	case errors.Is(err, constant.ErrInvalidUUID):
		return ValidationError{EntityType: entityType, Code: err.Error(), Title: "Invalid UUID",
			Message: "The supplied identifier is not a valid UUID.", Err: err}
	case errors.Is(err, constant.ErrIllegalLifecycleTransition):
		return UnprocessableOperationError{EntityType: entityType, Code: err.Error(), Title: "Illegal Lifecycle Transition",
			Message: "The requested lifecycle transition is not permitted from the case's current state.", Err: err}
	case errors.Is(err, constant.ErrCaseNotFound):
		return EntityNotFoundError{EntityType: entityType, Code: err.Error(), Title: "Case Not Found",
			Message: "No case was found for the given id.", Err: err}
	case errors.Is(err, constant.ErrDisbursementPreconditionFailed):
		return FailedPreconditionError{EntityType: entityType, Code: err.Error(), Title: "Disbursement Precondition Failed",
			Message: "Disbursement authorization requires lifecycle VERIFIED, execution COMPLETED and a reached consensus; execution requires the disbursement to be in AUTHORIZED status.", Err: err}
	case errors.Is(err, constant.ErrDisbursementNotAuthorized):
		return FailedPreconditionError{EntityType: entityType, Code: err.Error(), Title: "Disbursement Not Authorized",
			Message: "Disbursement execution requires the disbursement to be in AUTHORIZED status.", Err: err}
	case errors.Is(err, constant.ErrDisbursementAlreadyExists):
		return EntityConflictError{EntityType: entityType, Code: err.Error(), Title: "Disbursement Already Exists",
			Message: "A disbursement for this case already exists in a non-authorized status.", Err: err}
	case errors.Is(err, constant.ErrDisbursementNotFound):
		return EntityNotFoundError{EntityType: entityType, Code: err.Error(), Title: "Disbursement Not Found",
			Message: "No disbursement was found for the given case.", Err: err}
	case errors.Is(err, constant.ErrInvalidCursor):
		return ValidationError{EntityType: entityType, Code: err.Error(), Title: "Invalid Cursor",
			Message: "The supplied pagination cursor could not be decoded.", Err: err}
	case errors.Is(err, constant.ErrIdempotencyKeyRequired):
		return ValidationError{EntityType: entityType, Code: err.Error(), Title: "Idempotency Key Required",
			Message: "This command requires an Idempotency-Key.", Err: err}
	default:
		return err
	}
}
