package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pitchside/auction-engine/internal/fault"
	"github.com/pitchside/auction-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	tournaments map[string]*model.Tournament
	players     map[string]*model.Player
	playerOrder []string
	teams       map[string]*model.Team
	sales       []model.SaleRecord
	snapshots   map[string]*model.SessionSnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tournaments: make(map[string]*model.Tournament),
		players:     make(map[string]*model.Player),
		teams:       make(map[string]*model.Team),
		snapshots:   make(map[string]*model.SessionSnapshot),
	}
}

// --- Seeding helpers (the CRUD platform owns these records in production) ---

// PutTournament inserts or replaces a tournament record.
func (s *MemoryStore) PutTournament(t *model.Tournament) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tournaments[t.ID] = &cp
}

// PutPlayer inserts or replaces a player record, preserving insert order
// for queue construction.
func (s *MemoryStore) PutPlayer(p *model.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[p.ID]; !ok {
		s.playerOrder = append(s.playerOrder, p.ID)
	}
	cp := *p
	cp.BidHistory = append([]model.BidEntry(nil), p.BidHistory...)
	s.players[p.ID] = &cp
}

// PutTeam inserts or replaces a team record.
func (s *MemoryStore) PutTeam(t *model.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.teams[t.ID] = &cp
}

// --- Store implementation ---

func (s *MemoryStore) GetTournament(_ context.Context, id string) (*model.Tournament, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tournaments[id]
	if !ok {
		return nil, &fault.NotFound{Kind: "tournament", ID: id}
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListPlayers(_ context.Context, tournamentID string) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]model.Player, 0)
	for _, id := range s.playerOrder {
		p := s.players[id]
		if p.TournamentID != tournamentID {
			continue
		}
		cp := *p
		cp.BidHistory = append([]model.BidEntry(nil), p.BidHistory...)
		players = append(players, cp)
	}
	return players, nil
}

func (s *MemoryStore) UpdatePlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[p.ID]; !ok {
		return &fault.NotFound{Kind: "player", ID: p.ID}
	}
	cp := *p
	cp.BidHistory = append([]model.BidEntry(nil), p.BidHistory...)
	s.players[p.ID] = &cp
	return nil
}

func (s *MemoryStore) ListTeams(_ context.Context, tournamentID string) ([]model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teams := make([]model.Team, 0)
	for _, t := range s.teams {
		if t.TournamentID == tournamentID {
			teams = append(teams, *t)
		}
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

func (s *MemoryStore) UpdateTeam(_ context.Context, t *model.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[t.ID]; !ok {
		return &fault.NotFound{Kind: "team", ID: t.ID}
	}
	cp := *t
	s.teams[t.ID] = &cp
	return nil
}

func (s *MemoryStore) AppendSale(_ context.Context, rec *model.SaleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sales = append(s.sales, *rec)
	return nil
}

func (s *MemoryStore) ListSales(_ context.Context, tournamentID string) ([]model.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SaleRecord
	for _, rec := range s.sales {
		if rec.TournamentID == tournamentID {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *model.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *snap
	cp.Queue = append([]string(nil), snap.Queue...)
	s.snapshots[snap.TournamentID] = &cp
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, tournamentID string) (*model.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[tournamentID]
	if !ok {
		return nil, &fault.NotFound{Kind: "session", ID: tournamentID}
	}
	cp := *snap
	cp.Queue = append([]string(nil), snap.Queue...)
	return &cp, nil
}
