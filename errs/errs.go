// Package errs defines the sentinel error kinds surfaced to HTTP callers
// (spec §7), mirroring the teacher's db.ErrRecordNotFound style rather
// than a custom error-code framework. Every package that can fail in a
// caller-visible way wraps one of these with fmt.Errorf("...: %w", ...)
// so handlers can recover the kind with errors.Is.
package errs

import "errors"

var (
	// ErrAlreadyRunning: a running Container Record already exists for
	// the (subject, exercise) pair the caller tried to launch.
	ErrAlreadyRunning = errors.New("already running")

	// ErrQuotaExceeded: the subject is already at MAX_PER_USER running
	// containers.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrUnknownExercise: no catalog entry matches the requested id.
	ErrUnknownExercise = errors.New("unknown exercise")

	// ErrRuntimeUnavailable: the runtime client cannot connect.
	ErrRuntimeUnavailable = errors.New("runtime unavailable")

	// ErrRuntimeRefused: create/start failed, or the container never
	// reached a usable running state (e.g. no host port bound).
	ErrRuntimeRefused = errors.New("runtime refused")

	// ErrInvalidBundle: a missing required archive member or invalid
	// metadata.json field.
	ErrInvalidBundle = errors.New("invalid bundle")

	// ErrBuildFailed: the runtime reported a build error.
	ErrBuildFailed = errors.New("build failed")

	// ErrNotFound: no container/subdomain/exercise matches the request.
	ErrNotFound = errors.New("not found")

	// ErrForbidden: a subject attempted to stop a container they do not
	// own.
	ErrForbidden = errors.New("forbidden")

	// ErrProxyUpstream: the proxy could not reach or got no response
	// from the backend before any bytes were written to the client.
	ErrProxyUpstream = errors.New("proxy upstream error")

	// ErrInternal: any other unexpected failure.
	ErrInternal = errors.New("internal error")
)

// AlreadyRunningError carries the subdomain of the existing running
// container alongside ErrAlreadyRunning, so callers can echo it back to
// the client (spec §6.1 "400 AlreadyRunning, echoing the existing
// subdomain") without parsing an error string.
type AlreadyRunningError struct {
	Subdomain string
}

func (e *AlreadyRunningError) Error() string {
	return "already running: subdomain " + e.Subdomain
}

func (e *AlreadyRunningError) Unwrap() error {
	return ErrAlreadyRunning
}
