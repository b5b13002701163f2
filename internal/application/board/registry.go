package board

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Factory builds the board for a new visitor session.
type Factory func(sessionID string) (*Board, error)

type registryEntry struct {
	board    *Board
	lastSeen time.Time
}

// Registry maps visitor session IDs to their boards and expires idle ones.
type Registry struct {
	factory Factory
	ttl     time.Duration
	now     func() time.Time

	mu     sync.Mutex
	boards map[string]*registryEntry
}

// NewRegistry creates an empty registry.
// PRE: factory is non-nil; ttl > 0
// POST: Returns a registry with no boards
func NewRegistry(factory Factory, ttl time.Duration) *Registry {
	return &Registry{
		factory: factory,
		ttl:     ttl,
		now:     time.Now,
		boards:  map[string]*registryEntry{},
	}
}

// Get returns the board for sessionID, creating it on first use.
// PRE: sessionID is non-empty
// POST: The board's idle timer is reset
func (r *Registry) Get(sessionID string) (*Board, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.boards[sessionID]; ok {
		e.lastSeen = r.now()
		return e.board, nil
	}
	b, err := r.factory(sessionID)
	if err != nil {
		return nil, err
	}
	r.boards[sessionID] = &registryEntry{board: b, lastSeen: r.now()}
	return b, nil
}

// Peek returns the board for sessionID without creating one.
func (r *Registry) Peek(sessionID string) (*Board, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.boards[sessionID]
	if !ok {
		return nil, false
	}
	return e.board, true
}

// Len returns the number of live boards.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.boards)
}

// Sweep drops boards idle for longer than the TTL and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	dropped := 0
	for id, e := range r.boards {
		if e.lastSeen.Before(cutoff) {
			delete(r.boards, id)
			dropped++
		}
	}
	return dropped
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				slog.Info("board_event", "event", "boards_expired", "count", n, "live", r.Len())
			}
		}
	}
}
