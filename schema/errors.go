package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidUser indicates an invalid user identifier.
	ErrInvalidUser = errors.New("invalid user")
	// ErrTabNotFound indicates a requested tab could not be found.
	ErrTabNotFound = errors.New("tab not found")
	// ErrNoTabs indicates no tabs exist for the user.
	ErrNoTabs = errors.New("no tabs")
	// ErrEmptyStatement indicates there was no statement to execute.
	ErrEmptyStatement = errors.New("empty statement")
	// ErrEmptyTabLabel indicates a rename to a blank label.
	ErrEmptyTabLabel = errors.New("tab label must not be empty")
	// ErrInvalidFormat indicates an unsupported output format.
	ErrInvalidFormat = errors.New("invalid output format")
	// ErrMissingConnection indicates no connection target was given or configured.
	ErrMissingConnection = errors.New("connection target is required")
	// ErrInvalidLimit indicates a negative row limit.
	ErrInvalidLimit = errors.New("invalid row limit")
	// ErrQueryItemNotFound indicates a terminal item id is unknown.
	ErrQueryItemNotFound = errors.New("query item not found")
	// ErrQueryItemFinalized indicates a finished item was asked to change.
	ErrQueryItemFinalized = errors.New("query item already finished")
	// ErrQueryItemNotRunning indicates a finish for an item that was never dispatched.
	ErrQueryItemNotRunning = errors.New("query item not running")
	// ErrSQLUnavailable indicates no SQL client is configured.
	ErrSQLUnavailable = errors.New("sql service not configured")
	// ErrHistoryUnavailable indicates no history client is configured.
	ErrHistoryUnavailable = errors.New("query history service not configured")
)
