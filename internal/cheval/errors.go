package cheval

import "errors"

// Sentinel errors for the cheval domain.
var (
	ErrMissingHeaders  = errors.New("missing hmac headers")
	ErrHMACInvalid     = errors.New("hmac signature invalid")
	ErrReplayDetected  = errors.New("nonce replay detected")
	ErrHMACNotConfigured = errors.New("hmac secret not configured")
	ErrInvalidJSON     = errors.New("invalid json body")
	ErrMissingProvider = errors.New("missing provider base_url or api_key")
	ErrNotImplemented  = errors.New("not implemented")
	ErrBudgetOverflow  = errors.New("BUDGET_OVERFLOW")
)
