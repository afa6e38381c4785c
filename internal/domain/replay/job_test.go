package replay

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobSuccessPath(t *testing.T) {
	job := NewJob("7000000001")
	assert.Equal(t, StatePending, job.State)
	assert.False(t, job.State.IsTerminal())

	require.NoError(t, job.MarkLocatorResolved("http://replays.example.com/7000000001.dem.bz2"))
	assert.Equal(t, StateLocatorResolved, job.State)

	require.NoError(t, job.MarkDownloaded("/tmp/replays/7000000001.dem"))
	assert.Equal(t, StateDownloaded, job.State)

	require.NoError(t, job.MarkDecoded(&DecodeSummary{
		MatchID:        "7000000001",
		DecoderVersion: "1.4.2",
		DecodeDuration: 90 * time.Second,
	}))
	assert.Equal(t, StateDecoded, job.State)

	require.NoError(t, job.MarkPersisted("replays/2026-08-22/7000000001.json"))
	assert.Equal(t, StatePersisted, job.State)
	assert.True(t, job.Succeeded())
	assert.True(t, job.State.IsTerminal())
	assert.NotNil(t, job.CompletedAt)
}

func TestJobRejectsSkippedTransitions(t *testing.T) {
	job := NewJob("42")

	err := job.MarkDownloaded("/tmp/42.dem")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = job.MarkPersisted("replays/2026-08-22/42.json")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, StatePending, job.State)
}

func TestJobFailFromAnyNonTerminalState(t *testing.T) {
	job := NewJob("42")
	require.NoError(t, job.MarkLocatorResolved("http://x"))
	require.NoError(t, job.MarkDownloaded("/tmp/42.dem"))

	job.Fail("decode", errors.New("decoder exited with code 2"))

	assert.Equal(t, StateFailed, job.State)
	assert.False(t, job.Succeeded())
	require.Len(t, job.Errors, 1)
	assert.Contains(t, job.Errors[0], "decode:")
	assert.NotNil(t, job.CompletedAt)
}

func TestJobFailIsNoOpOnTerminalJob(t *testing.T) {
	job := NewJob("42")
	job.Fail("locator", ErrLocatorNotFound)
	completed := job.CompletedAt

	job.Fail("download", errors.New("late error"))

	assert.Len(t, job.Errors, 1)
	assert.Equal(t, completed, job.CompletedAt)
}

func TestBatchResultAggregation(t *testing.T) {
	var batch BatchResult

	ok := NewJob("1")
	_ = ok.MarkLocatorResolved("u")
	_ = ok.MarkDownloaded("p")
	_ = ok.MarkDecoded(&DecodeSummary{MatchID: "1"})
	_ = ok.MarkPersisted("k")

	bad := NewJob("2")
	bad.Fail("decode", ErrDecodeFailed)

	batch.Add(ok)
	batch.Add(bad)

	assert.Equal(t, 2, batch.Total)
	assert.Equal(t, 1, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	assert.Len(t, batch.Jobs, 2)
}

func TestArtifactKeyIsDeterministic(t *testing.T) {
	at := time.Date(2026, 8, 20, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "replays/2026-08-20/7000000001.json", ArtifactKey("7000000001", at))

	// Same instant in another zone yields the same UTC-dated key.
	offset := time.FixedZone("UTC+5", 5*3600)
	assert.Equal(t, ArtifactKey("7000000001", at), ArtifactKey("7000000001", at.In(offset)))
}
