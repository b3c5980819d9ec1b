package odoo

import "errors"

var (
	// ErrRemoteUnavailable marks transport-level failures (connection refused,
	// timeout, 5xx). These are retryable.
	ErrRemoteUnavailable = errors.New("odoo unavailable")

	// ErrRejectedByERP marks a validation failure reported by Odoo itself
	// (JSON-RPC error payload). These are not retryable and must surface to
	// the caller.
	ErrRejectedByERP = errors.New("rejected by odoo")
)
