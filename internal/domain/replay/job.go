package replay

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLocatorNotFound indicates no replay locator exists for the match.
	// Older and non-recorded matches hit this; it is a normal terminal
	// outcome, not a retryable error.
	ErrLocatorNotFound = errors.New("replay: no locator for match")

	// ErrDecodeFailed indicates the external decoder exited nonzero or
	// timed out. Terminal for the job; not retried automatically.
	ErrDecodeFailed = errors.New("replay: decode failed")

	// ErrInvalidTransition indicates a state transition the machine
	// does not allow.
	ErrInvalidTransition = errors.New("replay: invalid job state transition")
)

// ---------------------------------------------------------------------------
// JobState
// ---------------------------------------------------------------------------

// JobState is the state of one replay decode job.
type JobState string

const (
	StatePending         JobState = "PENDING"
	StateLocatorResolved JobState = "LOCATOR_RESOLVED"
	StateDownloaded      JobState = "DOWNLOADED"
	StateDecoded         JobState = "DECODED"
	StatePersisted       JobState = "PERSISTED"
	StateFailed          JobState = "FAILED"
)

// IsTerminal returns true for the two terminal states.
func (s JobState) IsTerminal() bool {
	return s == StatePersisted || s == StateFailed
}

// next reports whether a transition from s to target follows the success
// path. Failed is reachable from any non-terminal state and handled
// separately in Fail.
func (s JobState) next(target JobState) bool {
	switch s {
	case StatePending:
		return target == StateLocatorResolved
	case StateLocatorResolved:
		return target == StateDownloaded
	case StateDownloaded:
		return target == StateDecoded
	case StateDecoded:
		return target == StatePersisted
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// DecodeSummary
// ---------------------------------------------------------------------------

// DecodeSummary is the structured outcome of one successful decode,
// annotated onto the artifact before upload.
type DecodeSummary struct {
	// MatchID is the match the replay belongs to.
	MatchID string
	// DecoderVersion is the version string reported by the decoder binary.
	DecoderVersion string
	// DecodeDuration is the wall-clock decode time.
	DecodeDuration time.Duration
	// OutputPath is the local path of the decoder's output file.
	OutputPath string
	// OutputBytes is the size of the decoded artifact.
	OutputBytes int64
}

// ArtifactKey returns the deterministic object-storage key for one
// match's decoded artifact. Deterministic keys keep re-runs idempotent.
func ArtifactKey(matchID string, at time.Time) string {
	return fmt.Sprintf("replays/%s/%s.json", at.UTC().Format("2006-01-02"), matchID)
}

// ---------------------------------------------------------------------------
// Job
// ---------------------------------------------------------------------------

// Job is the state machine instance for one match's replay decode.
// Local artifacts are deleted on terminal success; error detail is
// retained on terminal failure for operator inspection.
type Job struct {
	ID              uuid.UUID
	MatchID         string
	State           JobState
	LocatorURL      string
	LocalPath       string
	RemoteObjectKey string
	Summary         *DecodeSummary
	Errors          []string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// NewJob creates a pending job for one match.
func NewJob(matchID string) *Job {
	return &Job{
		ID:        uuid.New(),
		MatchID:   matchID,
		State:     StatePending,
		CreatedAt: time.Now(),
	}
}

// MarkLocatorResolved records the time-limited download locator.
func (j *Job) MarkLocatorResolved(url string) error {
	if !j.State.next(StateLocatorResolved) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, StateLocatorResolved)
	}
	j.State = StateLocatorResolved
	j.LocatorURL = url
	return nil
}

// MarkDownloaded records the local scratch path of the replay binary.
func (j *Job) MarkDownloaded(localPath string) error {
	if !j.State.next(StateDownloaded) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, StateDownloaded)
	}
	j.State = StateDownloaded
	j.LocalPath = localPath
	return nil
}

// MarkDecoded records the decode summary.
func (j *Job) MarkDecoded(summary *DecodeSummary) error {
	if !j.State.next(StateDecoded) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, StateDecoded)
	}
	j.State = StateDecoded
	j.Summary = summary
	return nil
}

// MarkPersisted records the remote object key and completes the job.
func (j *Job) MarkPersisted(objectKey string) error {
	if !j.State.next(StatePersisted) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, StatePersisted)
	}
	j.State = StatePersisted
	j.RemoteObjectKey = objectKey
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// Fail moves the job to the terminal Failed state from any non-terminal
// state, retaining the failing step's error.
func (j *Job) Fail(step string, err error) {
	if j.State.IsTerminal() {
		return
	}
	j.State = StateFailed
	j.Errors = append(j.Errors, fmt.Sprintf("%s: %v", step, err))
	now := time.Now()
	j.CompletedAt = &now
}

// Succeeded returns true when the job reached terminal success.
func (j *Job) Succeeded() bool {
	return j.State == StatePersisted
}

// ---------------------------------------------------------------------------
// BatchResult
// ---------------------------------------------------------------------------

// BatchResult aggregates the outcomes of one batch of replay jobs.
// One job's failure never aborts the batch.
type BatchResult struct {
	Total     int
	Succeeded int
	Failed    int
	Jobs      []*Job
}

// Add folds a completed job into the aggregate.
func (b *BatchResult) Add(job *Job) {
	b.Total++
	b.Jobs = append(b.Jobs, job)
	if job.Succeeded() {
		b.Succeeded++
	} else {
		b.Failed++
	}
}
