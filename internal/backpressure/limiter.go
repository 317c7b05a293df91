// Package backpressure provides the global agent concurrency ceiling for Foreman
package backpressure

import (
	"log"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxInFlight is the process-wide agent ceiling when none is configured
const DefaultMaxInFlight = 5

// Limiter caps how many agent processes are in flight across all pipelines.
// Spawns that find the ceiling reached are rejected, never queued.
type Limiter struct {
	sem *semaphore.Weighted
	max int64

	mu         sync.Mutex
	inFlight   int64
	peak       int64
	acquired   int64
	rejections int64
}

// NewLimiter creates a limiter allowing max concurrent holders
func NewLimiter(max int) *Limiter {
	if max <= 0 {
		max = DefaultMaxInFlight
	}
	return &Limiter{
		sem: semaphore.NewWeighted(int64(max)),
		max: int64(max),
	}
}

// TryAcquire takes a slot without blocking. It reports false when the
// ceiling is already reached.
func (l *Limiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		l.mu.Lock()
		l.rejections++
		inFlight := l.inFlight
		l.mu.Unlock()
		log.Printf("[backpressure] agent ceiling reached (%d/%d in flight), rejecting spawn", inFlight, l.max)
		return false
	}

	l.mu.Lock()
	l.inFlight++
	l.acquired++
	if l.inFlight > l.peak {
		l.peak = l.inFlight
	}
	l.mu.Unlock()
	return true
}

// Release returns a slot taken by TryAcquire
func (l *Limiter) Release() {
	l.mu.Lock()
	if l.inFlight == 0 {
		l.mu.Unlock()
		log.Printf("[backpressure] release without matching acquire ignored")
		return
	}
	l.inFlight--
	l.mu.Unlock()
	l.sem.Release(1)
}

// InFlight returns the number of currently held slots
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.inFlight)
}

// Max returns the configured ceiling
func (l *Limiter) Max() int {
	return int(l.max)
}

// Stats is a snapshot of limiter counters
type Stats struct {
	Max        int   // Configured ceiling
	InFlight   int   // Currently held slots
	Peak       int   // Highest in-flight count observed
	Acquired   int64 // Successful acquisitions
	Rejections int64 // Spawns refused at the ceiling
}

// GetStats returns current statistics
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Max:        int(l.max),
		InFlight:   int(l.inFlight),
		Peak:       int(l.peak),
		Acquired:   l.acquired,
		Rejections: l.rejections,
	}
}
