package services

import "errors"

var (
	// ErrInvalidInput covers missing or malformed caller input; always
	// recoverable by correcting the request.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType is returned for filenames outside the
	// office-document allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrPersistence is an infrastructure fault while writing bytes or
	// metadata; surfaced to clients as an opaque 500.
	ErrPersistence = errors.New("persistence failure")

	// ErrNotFound means the referenced resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDenied is the single refusal for grant redemption: unknown
	// token, foreign user, expired, or already used. Callers never learn
	// which.
	ErrDenied = errors.New("denied")

	// ErrStorageMissing means the registry row exists but the bytes are
	// gone from durable storage; a server-side integrity fault, not a
	// client error.
	ErrStorageMissing = errors.New("storage missing")
)
