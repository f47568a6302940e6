package panel

import (
	"context"
	"errors"
	"fmt"
)

// Session is the authentication artifact produced by one Login call. Each
// login yields a fresh immutable value; nothing is reused across attempts
// because remote panels have been observed to silently invalidate tokens and
// cookies mid-session.
type Session interface {
	sessionArtifact()
}

// Result is the remote panel's reply to a credit grant. RawBody is kept
// verbatim for the audit trail and is opaque to the platform.
type Result struct {
	RawBody string
}

// Adapter hides one panel family's login protocol and credit call behind a
// single contract. The retry loop depends only on this interface, never on
// the concrete family.
type Adapter interface {
	// Login establishes a brand-new session with the stored admin credentials.
	Login(ctx context.Context) (Session, error)
	// ApplyCredit grants credits to the reseller's remote account using the
	// session from Login. The direction is always an increase; this path never
	// deducts.
	ApplyCredit(ctx context.Context, session Session, externalID string, credits int) (Result, error)
}

// Credentials is the data half of a registry entry: everything needed to
// construct an adapter for one panel, fetched from the record store.
type Credentials struct {
	BaseURL  string
	Username string
	Password string
}

// AuthError means no remote session could be established: bad credentials,
// an unrecognizable login response, or a login page without an anti-forgery
// field.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "panel authentication failed: " + e.Reason
}

// RejectionError means the panel accepted the call but reported a
// business-level failure, or replied with something that cannot be read as
// success. RawBody carries the reply verbatim.
type RejectionError struct {
	Message string
	RawBody string
}

func (e *RejectionError) Error() string {
	return "panel rejected credit grant: " + e.Message
}

// NetworkError is a transport-level failure: timeout, refused connection,
// broken body read.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("panel %s failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

func IsRejectionError(err error) bool {
	var target *RejectionError
	return errors.As(err, &target)
}

func IsNetworkError(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}
