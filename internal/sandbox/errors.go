package sandbox

import "errors"

// Sentinel errors returned by sandbox operations.
var (
	ErrChecksumMismatch = errors.New("gear checksum mismatch")
	ErrPathEscape       = errors.New("path escapes permitted root")
	ErrPrivateNetwork   = errors.New("target resolves to a private or loopback address")
	ErrPluginDisabled   = errors.New("gear is disabled")
	ErrRateLimited      = errors.New("gear call rate limit exceeded")
	ErrShuttingDown     = errors.New("sandbox host is shutting down")
)
