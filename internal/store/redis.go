package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitchside/auction-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the read paths the snapshot endpoints hammer: clients refetch
// the team and player views on every broadcast event. Writes go to the
// primary store and invalidate the cache.
//
// Session snapshots are never cached — they are the restart-recovery record
// and must always reflect the primary store.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetTournament(ctx context.Context, id string) (*model.Tournament, error) {
	data, err := s.rdb.Get(ctx, tournamentKey(id)).Bytes()
	if err == nil {
		var t model.Tournament
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.GetTournament(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, tournamentKey(id), data, s.ttl)
	}
	return t, nil
}

func (s *CachedStore) ListPlayers(ctx context.Context, tournamentID string) ([]model.Player, error) {
	data, err := s.rdb.Get(ctx, playersKey(tournamentID)).Bytes()
	if err == nil {
		var players []model.Player
		if json.Unmarshal(data, &players) == nil {
			return players, nil
		}
	}

	players, err := s.primary.ListPlayers(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(players); err == nil {
		s.rdb.Set(ctx, playersKey(tournamentID), data, s.ttl)
	}
	return players, nil
}

func (s *CachedStore) ListTeams(ctx context.Context, tournamentID string) ([]model.Team, error) {
	data, err := s.rdb.Get(ctx, teamsKey(tournamentID)).Bytes()
	if err == nil {
		var teams []model.Team
		if json.Unmarshal(data, &teams) == nil {
			return teams, nil
		}
	}

	teams, err := s.primary.ListTeams(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(teams); err == nil {
		s.rdb.Set(ctx, teamsKey(tournamentID), data, s.ttl)
	}
	return teams, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpdatePlayer(ctx context.Context, p *model.Player) error {
	if err := s.primary.UpdatePlayer(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, playersKey(p.TournamentID))
	return nil
}

func (s *CachedStore) UpdateTeam(ctx context.Context, t *model.Team) error {
	if err := s.primary.UpdateTeam(ctx, t); err != nil {
		return err
	}
	s.rdb.Del(ctx, teamsKey(t.TournamentID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) AppendSale(ctx context.Context, rec *model.SaleRecord) error {
	return s.primary.AppendSale(ctx, rec)
}

func (s *CachedStore) ListSales(ctx context.Context, tournamentID string) ([]model.SaleRecord, error) {
	return s.primary.ListSales(ctx, tournamentID)
}

func (s *CachedStore) SaveSnapshot(ctx context.Context, snap *model.SessionSnapshot) error {
	return s.primary.SaveSnapshot(ctx, snap)
}

func (s *CachedStore) GetSnapshot(ctx context.Context, tournamentID string) (*model.SessionSnapshot, error) {
	return s.primary.GetSnapshot(ctx, tournamentID)
}

// --- Cache keys ---

func tournamentKey(id string) string { return fmt.Sprintf("tournament:%s", id) }
func playersKey(id string) string    { return fmt.Sprintf("players:%s", id) }
func teamsKey(id string) string      { return fmt.Sprintf("teams:%s", id) }
