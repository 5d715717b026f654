// Package authority implements the client for the remote license authority.
//
// The client exposes exactly two operations, validate-key and activate, and
// normalizes every transport, HTTP, and payload condition into a closed set
// of Reason codes. Nothing above this package ever sees a raw HTTP status or
// an undecoded payload. The client is stateless and performs no retries;
// bounded retry policy belongs to the service layer.
package authority
