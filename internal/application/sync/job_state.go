package sync

import (
	stdsync "sync"
	"time"

	"github.com/esports/backend/internal/domain/stats"
)

// Status is a point-in-time snapshot of the orchestrator's job state,
// safe to hand to the operational surface.
type Status struct {
	Running         bool       `json:"running"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	TotalEntities   int        `json:"total_entities"`
	CompletedCount  int        `json:"completed_count"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// jobState guards "is a sync running" and its progress behind one mutex
// so a concurrent trigger gets a clean rejection instead of a race.
type jobState struct {
	mu              stdsync.Mutex
	running         bool
	startedAt       time.Time
	totalEntities   int
	completedCount  int
	lastCompletedAt time.Time
	lastError       string
}

// tryStart claims the running slot. Returns false when a pass already
// holds it.
func (s *jobState) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.startedAt = time.Now()
	s.totalEntities = 0
	s.completedCount = 0
	return true
}

// addTotal grows the expected entity count. Player work is discovered
// mid-pass from team rosters, so the total is not known up front.
func (s *jobState) addTotal(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalEntities += n
}

func (s *jobState) incrCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedCount++
}

// finish releases the running slot and records the pass outcome.
func (s *jobState) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastCompletedAt = time.Now()
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
}

func (s *jobState) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:        s.running,
		TotalEntities:  s.totalEntities,
		CompletedCount: s.completedCount,
		LastError:      s.lastError,
	}
	if s.running {
		startedAt := s.startedAt
		status.StartedAt = &startedAt
	}
	if !s.lastCompletedAt.IsZero() {
		lastCompletedAt := s.lastCompletedAt
		status.LastCompletedAt = &lastCompletedAt
	}
	return status
}

// ---------------------------------------------------------------------------
// Pass history
// ---------------------------------------------------------------------------

// PassSummary is the retained record of one completed sync pass.
type PassSummary struct {
	StartedAt  time.Time                             `json:"started_at"`
	FinishedAt time.Time                             `json:"finished_at"`
	WindowFrom time.Time                             `json:"window_from"`
	WindowTo   time.Time                             `json:"window_to"`
	Results    map[stats.SourceName]stats.SyncResult `json:"results"`
	// Replay batch counts for the pass's replay sweep.
	ReplayTotal     int `json:"replay_total"`
	ReplaySucceeded int `json:"replay_succeeded"`
	ReplayFailed    int `json:"replay_failed"`
}

const historyCapacity = 50

// passHistory is a fixed-capacity ring of recent pass summaries.
type passHistory struct {
	mu      stdsync.Mutex
	entries []PassSummary
}

func (h *passHistory) add(summary PassSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, summary)
	if len(h.entries) > historyCapacity {
		h.entries = h.entries[len(h.entries)-historyCapacity:]
	}
}

// recent returns the retained summaries, newest last.
func (h *passHistory) recent() []PassSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PassSummary, len(h.entries))
	copy(out, h.entries)
	return out
}
