// Package source implements the three external source adapters behind the
// stats.SourceAdapter port: a REST statistics API, a GraphQL statistics
// API, and a headless-browser scraper.
package source

import (
	"sync"
	"time"

	"github.com/esports/backend/internal/domain/stats"
)

// sourceHealth tracks per-adapter request accounting for the
// orchestrator's health gate. Safe for concurrent use.
type sourceHealth struct {
	mu            sync.Mutex
	available     bool
	lastSuccessAt time.Time
	requestCount  int64
}

func newSourceHealth() *sourceHealth {
	return &sourceHealth{available: true}
}

func (h *sourceHealth) recordRequest() {
	h.mu.Lock()
	h.requestCount++
	h.mu.Unlock()
}

func (h *sourceHealth) recordSuccess() {
	h.mu.Lock()
	h.available = true
	h.lastSuccessAt = time.Now()
	h.mu.Unlock()
}

func (h *sourceHealth) recordFailure() {
	h.mu.Lock()
	h.available = false
	h.mu.Unlock()
}

func (h *sourceHealth) snapshot(source stats.SourceName) stats.SourceStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return stats.SourceStatus{
		Source:        source,
		Available:     h.available,
		LastSuccessAt: h.lastSuccessAt,
		RequestCount:  h.requestCount,
	}
}
