package model

import "errors"

var (
	// ErrNotFound covers unresolved join codes, sessions, members and
	// store paths. Surfaced to the user as "not found", never fatal.
	ErrNotFound = errors.New("not found")

	// ErrBuzzerLocked rejects a buzz while the buzzer is not open.
	ErrBuzzerLocked = errors.New("buzzer is locked")

	// ErrToolConflict rejects activating a tool while a different one is
	// active without an explicit switch, and participant actions against
	// an inactive or mismatched tool.
	ErrToolConflict = errors.New("another tool is active")

	// ErrTransactionConflict is a transient write race on a document.
	// Retried internally with bounded backoff before it surfaces.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrStoreUnavailable is a transport-level store failure.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrSessionEnded rejects actions against an ended session.
	ErrSessionEnded = errors.New("session has ended")

	// ErrNotHost rejects host-only operations from non-hosts.
	ErrNotHost = errors.New("caller is not the session host")
)
