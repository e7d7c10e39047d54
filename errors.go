package govmirror

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind identifies a class of error reported by the library. The string
// values double as stable machine-readable codes for consumers that match on
// them rather than on errors.Is.
type ErrorKind string

// Read-path error kinds. Read operations only surface these when every
// fallback stage has been exhausted; most callers will instead receive a
// degraded result tagged with its provenance.
const (
	// ErrTransient is a remote failure that may succeed if reissued. The
	// library itself never retries reads outside the post-submission
	// reconciliation loop.
	ErrTransient = ErrorKind("transient_failure")

	// ErrNotFound is returned when a point lookup targets an id the
	// ledger has no record of.
	ErrNotFound = ErrorKind("not_exists")

	// ErrUnsupported is returned by ledger clients whose remote lacks an
	// optional read, such as the aggregate tally getter.
	ErrUnsupported = ErrorKind("unsupported")

	// ErrDecode is returned when remote data was retrieved but could not
	// be interpreted, for example a malformed creation log entry.
	ErrDecode = ErrorKind("decode_failed")

	// ErrStaleOverlay marks a pending local mutation that aged past its
	// bound before the authoritative state absorbed it.
	ErrStaleOverlay = ErrorKind("stale_overlay")
)

// Write-path error kinds. Submission failures are always surfaced to the
// caller and never retried by the library.
const (
	ErrRejected          = ErrorKind("rejected")
	ErrInsufficientFunds = ErrorKind("insufficient_balance")
	ErrAlreadyVoted      = ErrorKind("already_voted")
	ErrProposalNotActive = ErrorKind("proposal_not_active")
	ErrNoVotingPower     = ErrorKind("no_voting_power")
	ErrSubmitFailed      = ErrorKind("submit_failed")
)

// Registration error kinds.
const (
	// ErrExist is returned when creating something that already exists,
	// such as a second tracking task for one proposal.
	ErrExist = ErrorKind("exists")

	// ErrListenerAlreadyExist is returned when registering a
	// notification listener under an id that is already taken.
	ErrListenerAlreadyExist = ErrorKind("listener_already_exist")
)

// Error satisfies the error interface and provides human readable errors by
// accessing the description field.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies a library error. It has full support for errors.Is and
// errors.As, so the caller can ascertain the specific kind by checking the
// underlying error.
type Error struct {
	Err         error
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// makeError creates an Error given a set of arguments.
func makeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}

// errorf creates an Error with a formatted description.
func errorf(kind ErrorKind, format string, args ...interface{}) Error {
	return makeError(kind, fmt.Sprintf(format, args...))
}

// IsErr reports whether err is or wraps the given kind.
func IsErr(err error, kind ErrorKind) bool {
	return errors.Is(err, kind)
}

// translateSubmitError normalizes raw submission failures from a ledger
// client into the user-facing write-path kinds. Errors already carrying a
// kind pass through untouched.
func translateSubmitError(err error) error {
	if err == nil {
		return nil
	}
	var kinded Error
	if errors.As(err, &kinded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "denied") || strings.Contains(msg, "rejected"):
		return errorf(ErrRejected, "vote submission rejected by signer: %v", err)
	case strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "insufficient balance"):
		return errorf(ErrInsufficientFunds, "account cannot cover the submission fee: %v", err)
	case strings.Contains(msg, "already cast") || strings.Contains(msg, "already voted"):
		return errorf(ErrAlreadyVoted, "ledger reports an existing vote: %v", err)
	case strings.Contains(msg, "not currently active") || strings.Contains(msg, "voting is closed"):
		return errorf(ErrProposalNotActive, "proposal is not accepting votes: %v", err)
	default:
		return errorf(ErrSubmitFailed, "vote submission failed: %v", err)
	}
}
