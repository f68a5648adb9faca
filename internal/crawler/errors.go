package crawler

import "errors"

// Error taxonomy. Only ErrSessionInit and ErrStoreWrite are fatal to a run.
var (
	// ErrSessionInit means the browsing session could not be launched.
	ErrSessionInit = errors.New("session init failed")
	// ErrNavigationTimeout means a results page did not settle in time.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrExtractionParse means one candidate item could not be read.
	ErrExtractionParse = errors.New("extraction parse error")
	// ErrStoreWrite means a run or result could not be recorded.
	ErrStoreWrite = errors.New("store write failed")
	// ErrInvalidRequest flags a malformed job request.
	ErrInvalidRequest = errors.New("invalid job request")
	// ErrSessionClosed is returned when using a session after Close.
	ErrSessionClosed = errors.New("session closed")
)
