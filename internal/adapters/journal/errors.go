package journal

import "errors"

// Sentinel kinds for journal errors.
var (
	ErrClosed         = errors.New("journal closed")
	ErrUnknownSession = errors.New("journal has no such session")
)
