package trust

import (
	"errors"
)

// Failure taxonomy surfaced by bootstrap and the signing operations. Callers
// classify with errors.Is; the offending identifier rides along in the
// wrapped message.
var (
	// The homeserver rejected the bootstrap credential.
	ErrAuth = errors.New("authentication rejected")
	// Transport or server failure; transient, caller may resubmit.
	ErrNetwork = errors.New("network failure")
	// A cryptographic primitive failed; not retriable.
	ErrKeyGeneration = errors.New("key generation failed")
	// Target user not present in the directory.
	ErrUnknownUserID = errors.New("unknown user id")
	// Target device not present in the directory.
	ErrUnknownDeviceID = errors.New("unknown device id")
	// Private key not obtainable, or its public key did not match the
	// published one.
	ErrKeyUnavailable = errors.New("private key unavailable")
	// Another bootstrap is already in flight.
	ErrBootstrapInProgress = errors.New("bootstrap already in progress")
	// The pending private-key request was abandoned by the caller.
	ErrKeyRequestCancelled = errors.New("private key request cancelled")
)
