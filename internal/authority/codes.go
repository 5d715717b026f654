package authority

// Reason is the closed set of outcome codes for authority operations.
// Every transport, HTTP, or payload condition is normalized to one of these
// before leaving this package.
type Reason string

const (
	// ReasonOK indicates a conclusive successful outcome
	ReasonOK Reason = "OK"
	// ReasonInvalidInput indicates a malformed key rejected before any network call
	ReasonInvalidInput Reason = "INVALID_INPUT"
	// ReasonUnauthorized indicates the client's own credentials were rejected.
	// This is a configuration problem, not a user error.
	ReasonUnauthorized Reason = "UNAUTHORIZED"
	// ReasonLicenseNotFound indicates the authority does not know the key
	ReasonLicenseNotFound Reason = "LICENSE_NOT_FOUND"
	// ReasonInvalid indicates the key is recognized but not currently valid
	ReasonInvalid Reason = "INVALID"
	// ReasonActivationLimit indicates the activation ceiling was reached,
	// or this machine is already activated
	ReasonActivationLimit Reason = "ACTIVATION_LIMIT_EXCEEDED"
	// ReasonActivationFailed indicates an unexpected activation failure
	ReasonActivationFailed Reason = "ACTIVATION_FAILED"
	// ReasonServiceError indicates an authority 5xx or unexpected status
	ReasonServiceError Reason = "SERVICE_ERROR"
	// ReasonNetworkError indicates a transport, timeout, or parse failure
	ReasonNetworkError Reason = "NETWORK_ERROR"
)

// Conclusive reports whether this reason represents a definitive answer
// from the authority. Inconclusive reasons must never downgrade a cached
// entitlement.
func (r Reason) Conclusive() bool {
	switch r {
	case ReasonNetworkError, ReasonServiceError, ReasonUnauthorized:
		return false
	default:
		return true
	}
}

// String returns the wire form of the reason code
func (r Reason) String() string {
	return string(r)
}
