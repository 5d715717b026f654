package license

import (
	"errors"
	"fmt"

	"github.com/jahboukie/codecontext-keygen/internal/authority"
)

// ReasonNoLicense extends the authority reason set for the local condition
// of having no cached entitlement when one is required.
const ReasonNoLicense authority.Reason = "NO_LICENSE"

// ErrNoLicense is returned when an operation requires a cached entitlement
// and none exists. Callers must surface an actionable message instructing
// the user to activate.
var ErrNoLicense = errors.New("no license activated - run 'codecontext activate <key>' to activate one")

// ActivationError reports why an activation could not complete. The Reason
// is always one of the closed taxonomy codes, suitable for branching; Err
// carries the underlying cause for logs.
type ActivationError struct {
	Reason authority.Reason
	Err    error
}

// Error implements the error interface
func (e *ActivationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("license activation failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("license activation failed (%s)", e.Reason)
}

// Unwrap supports errors.Is / errors.As chains
func (e *ActivationError) Unwrap() error {
	return e.Err
}

// newActivationError builds an ActivationError for a reason code
func newActivationError(reason authority.Reason, err error) *ActivationError {
	return &ActivationError{Reason: reason, Err: err}
}

// Remediation returns the plain-language next step for a failure reason.
// Activation failures always explain the reason and what to do about it.
func Remediation(reason authority.Reason) string {
	switch reason {
	case authority.ReasonInvalidInput:
		return "The license key is empty or malformed. Check the key and run activate again."
	case authority.ReasonUnauthorized:
		return "The licensing service rejected this client's credentials. This is a configuration problem with the application, not your license - please report it."
	case authority.ReasonLicenseNotFound:
		return "This license key is not recognized. Check for typos, or purchase a license."
	case authority.ReasonInvalid:
		return "This license key is recognized but no longer valid. It may have expired or been revoked."
	case authority.ReasonActivationLimit:
		return "This license has reached its activation limit. Deactivate another machine or upgrade your plan."
	case authority.ReasonActivationFailed:
		return "The licensing service could not complete the activation. Try again, and report the problem if it persists."
	case authority.ReasonServiceError:
		return "The licensing service had an internal problem. Try again later."
	case authority.ReasonNetworkError:
		return "Could not reach the licensing service. Check your internet connection and try again."
	case ReasonNoLicense:
		return "No license is activated for this project. Run 'codecontext activate <key>'."
	default:
		return "An unexpected licensing error occurred. Try again, and report the problem if it persists."
	}
}
