package stats

import "errors"

var (
	// Source outcome errors. Every adapter failure resolves to one of these;
	// adapters never surface raw transport errors to callers.

	// ErrNotFound indicates the entity does not exist at the source.
	// This is a normal outcome, not a failure.
	ErrNotFound = errors.New("stats: entity not found at source")

	// ErrUnavailable indicates a transport or auth failure at the source
	// after the adapter's own bounded retry policy was exhausted.
	ErrUnavailable = errors.New("stats: source unavailable")

	// ErrRateLimited indicates the source rejected the request for rate
	// limiting after backoff was honored and exhausted.
	ErrRateLimited = errors.New("stats: source rate limited")

	// ErrSourceNotConfigured indicates the source has no usable credentials
	// or endpoint. Fatal at startup for enabled sources.
	ErrSourceNotConfigured = errors.New("stats: source not configured")

	// ErrUnsupportedKind indicates an adapter was asked for an entity kind
	// it does not serve.
	ErrUnsupportedKind = errors.New("stats: entity kind not served by source")

	// Reconciliation errors

	// ErrNoSources indicates no adapter serves the requested entity kind.
	ErrNoSources = errors.New("stats: no source serves entity kind")

	// ErrInvalidEntityKey indicates an empty or malformed entity key.
	ErrInvalidEntityKey = errors.New("stats: invalid entity key")
)
