package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pitchside/auction-engine/internal/fault"
	"github.com/pitchside/auction-engine/internal/store"
)

// defaultDisposeGrace is how long a completed session stays resident so that
// late snapshot reads and trailing websocket refetches still hit live
// state instead of forcing a rehydration.
const defaultDisposeGrace = 5 * time.Minute

// Registry holds at most one live session per tournament. Concurrent
// lookups for the same tournament always converge on the same session,
// so the single-writer guarantee holds process-wide.
type Registry struct {
	deps  Deps
	grace time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewRegistry creates a session registry. The deps are cloned into every
// session it creates; OnComplete is owned by the registry.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		deps:     deps,
		grace:    defaultDisposeGrace,
		sessions: make(map[string]*Session),
	}
	return r
}

// Get returns the live session for a tournament, if one is resident.
func (r *Registry) Get(tournamentID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tournamentID]
	return s, ok
}

// GetOrCreate returns the live session for a tournament, hydrating one
// from the store on first access. Hydration happens outside the registry
// lock; when two callers race, the loser's freshly built session is
// discarded and the winner's is returned.
func (r *Registry) GetOrCreate(ctx context.Context, tournamentID string) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s, ok := r.sessions[tournamentID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	s, err := r.hydrate(ctx, tournamentID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		s.timer.Cancel()
		s.cancel()
		return nil, ErrSessionClosed
	}
	if existing, ok := r.sessions[tournamentID]; ok {
		// Lost the race; the loser's loop was never started.
		s.timer.Cancel()
		s.cancel()
		return existing, nil
	}
	r.sessions[tournamentID] = s
	s.run()
	slog.Info("session hydrated", "tournament", tournamentID, "status", s.status)
	return s, nil
}

func (r *Registry) hydrate(ctx context.Context, tournamentID string) (*Session, error) {
	t, err := r.deps.Store.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	players, err := r.deps.Store.ListPlayers(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("hydrate players for %s: %w", tournamentID, err)
	}
	teams, err := r.deps.Store.ListTeams(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("hydrate teams for %s: %w", tournamentID, err)
	}

	snap, err := r.deps.Store.GetSnapshot(ctx, tournamentID)
	if err != nil {
		var nf *fault.NotFound
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("hydrate session snapshot for %s: %w", tournamentID, err)
		}
		snap = nil // first session for this tournament
	}

	deps := r.deps
	deps.OnComplete = r.scheduleDispose
	if deps.Seats == nil {
		deps.Seats = &StoreSeatDirectory{Store: r.deps.Store}
	}
	return newSession(t, players, teams, snap, deps), nil
}

// scheduleDispose evicts a completed session after a grace period.
func (r *Registry) scheduleDispose(tournamentID string) {
	r.deps.Clock.AfterFunc(r.grace, func() {
		r.mu.Lock()
		s, ok := r.sessions[tournamentID]
		if ok {
			delete(r.sessions, tournamentID)
		}
		r.mu.Unlock()
		if ok {
			s.Close()
			slog.Info("session disposed", "tournament", tournamentID)
		}
	})
}

// Shutdown tears down every resident session. Persisted snapshots remain;
// a restarted process rehydrates from them.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// StoreSeatDirectory reads per-team ready seats from the store's team
// records, which the seat collaborator keeps current.
type StoreSeatDirectory struct {
	Store store.Store
}

func (d *StoreSeatDirectory) SeatsReady(ctx context.Context, tournamentID string) (map[string]int, error) {
	teams, err := d.Store.ListTeams(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	seats := make(map[string]int, len(teams))
	for _, t := range teams {
		seats[t.ID] = t.SeatsReady
	}
	return seats, nil
}
