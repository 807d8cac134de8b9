// Package store defines the persistence interface for the auction engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for the poll-heavy snapshot endpoints), and in-memory (for testing).
//
// Tournaments, players, and teams are created by the surrounding
// tournament-management platform; the engine only reads them and writes
// back the auction-relevant fields.
package store

import (
	"context"

	"github.com/pitchside/auction-engine/internal/model"
)

// Store is the persistence interface used by sessions and the gateway.
type Store interface {
	// GetTournament retrieves a tournament with its auction configuration.
	GetTournament(ctx context.Context, id string) (*model.Tournament, error)

	// ListPlayers returns the auction view of every player registered for
	// the tournament, in queue order.
	ListPlayers(ctx context.Context, tournamentID string) ([]model.Player, error)

	// UpdatePlayer writes back a player's auction fields.
	UpdatePlayer(ctx context.Context, p *model.Player) error

	// ListTeams returns the budget view of every team in the tournament.
	ListTeams(ctx context.Context, tournamentID string) ([]model.Team, error)

	// UpdateTeam writes back a team's budget and roster counters.
	UpdateTeam(ctx context.Context, t *model.Team) error

	// AppendSale appends an immutable sale-history record.
	AppendSale(ctx context.Context, rec *model.SaleRecord) error

	// ListSales returns the chronological sale history for a tournament.
	ListSales(ctx context.Context, tournamentID string) ([]model.SaleRecord, error)

	// SaveSnapshot persists the session state needed to survive a restart.
	SaveSnapshot(ctx context.Context, snap *model.SessionSnapshot) error

	// GetSnapshot retrieves the persisted session state, if any.
	GetSnapshot(ctx context.Context, tournamentID string) (*model.SessionSnapshot, error)
}
