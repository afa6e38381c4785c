package replay

import (
	"context"
	"time"
)

// LocatorResolver obtains a time-limited download locator for a match's
// replay file. Implemented by the REST source adapter.
type LocatorResolver interface {
	// ResolveReplayLocator returns the download URL for a match's replay,
	// or ErrLocatorNotFound when the match has no recorded replay.
	ResolveReplayLocator(ctx context.Context, matchID string) (string, error)
}

// ArtifactStore is the object-storage collaborator used for decoded
// replay artifacts. Existence checks make uploads idempotent.
type ArtifactStore interface {
	// ObjectExists reports whether an object is already stored at key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Upload stores data at key with the given content type.
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// Decoder runs the external native decoder against a downloaded replay
// file and returns the decode summary.
type Decoder interface {
	// Version returns the decoder binary's version string.
	Version() string

	// Decode invokes the decoder on the replay at inputPath with a bounded
	// wall-clock timeout. On nonzero exit or timeout the returned error
	// wraps ErrDecodeFailed and carries the captured process output.
	Decode(ctx context.Context, matchID, inputPath string, timeout time.Duration) (*DecodeSummary, error)
}
