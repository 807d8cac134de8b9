package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pitchside/auction-engine/internal/fault"
	"github.com/pitchside/auction-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are stored as NUMERIC for exact decimal precision;
// structured configuration and bid history are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetTournament(ctx context.Context, id string) (*model.Tournament, error) {
	var t model.Tournament
	var rulesJSON, automationJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, registration_closed, quorum_enabled, min_seats_per_team,
		        auction_rules, automation_rules
		 FROM tournaments WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.RegistrationClosed, &t.QuorumEnabled, &t.MinSeatsPerTeam,
			&rulesJSON, &automationJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &fault.NotFound{Kind: "tournament", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get tournament %s: %w", id, err)
	}

	if err := json.Unmarshal(rulesJSON, &t.Rules); err != nil {
		return nil, fmt.Errorf("decode auction rules for %s: %w", id, err)
	}
	if err := json.Unmarshal(automationJSON, &t.Automation); err != nil {
		return nil, fmt.Errorf("decode automation rules for %s: %w", id, err)
	}
	return &t, nil
}

func (s *PostgresStore) ListPlayers(ctx context.Context, tournamentID string) ([]model.Player, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tournament_id, name, auction_status,
		        base_price::TEXT, current_bid::TEXT, sold_price::TEXT,
		        COALESCE(sold_to_team_id, ''), quota_bypassed,
		        COALESCE(withdrawn_for, ''), withdrawn_at, bid_history
		 FROM auction_players
		 WHERE tournament_id = $1
		 ORDER BY queue_position, id`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []model.Player
	for rows.Next() {
		var p model.Player
		var basePrice, currentBid, soldPrice string
		var historyJSON []byte

		if err := rows.Scan(&p.ID, &p.TournamentID, &p.Name, &p.Status,
			&basePrice, &currentBid, &soldPrice,
			&p.SoldToTeamID, &p.QuotaBypassed,
			&p.WithdrawnFor, &p.WithdrawnAt, &historyJSON); err != nil {
			return nil, err
		}
		p.BasePrice, _ = decimal.NewFromString(basePrice)
		p.CurrentBid, _ = decimal.NewFromString(currentBid)
		p.SoldPrice, _ = decimal.NewFromString(soldPrice)
		if len(historyJSON) > 0 {
			if err := json.Unmarshal(historyJSON, &p.BidHistory); err != nil {
				return nil, fmt.Errorf("decode bid history for %s: %w", p.ID, err)
			}
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *PostgresStore) UpdatePlayer(ctx context.Context, p *model.Player) error {
	historyJSON, err := json.Marshal(p.BidHistory)
	if err != nil {
		return fmt.Errorf("encode bid history for %s: %w", p.ID, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE auction_players
		 SET auction_status = $2,
		     current_bid = $3::NUMERIC,
		     sold_price = $4::NUMERIC,
		     sold_to_team_id = NULLIF($5, ''),
		     quota_bypassed = $6,
		     withdrawn_for = NULLIF($7, ''),
		     withdrawn_at = $8,
		     bid_history = $9
		 WHERE id = $1`,
		p.ID, p.Status,
		p.CurrentBid.String(), p.SoldPrice.String(),
		p.SoldToTeamID, p.QuotaBypassed,
		p.WithdrawnFor, p.WithdrawnAt, historyJSON,
	)
	if err != nil {
		return fmt.Errorf("update player %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &fault.NotFound{Kind: "player", ID: p.ID}
	}
	return nil
}

func (s *PostgresStore) ListTeams(ctx context.Context, tournamentID string) ([]model.Team, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tournament_id, name,
		        budget::TEXT, budget_used::TEXT,
		        players_bought, max_players, seats_ready
		 FROM teams WHERE tournament_id = $1 ORDER BY id`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		var t model.Team
		var budget, budgetUsed string
		if err := rows.Scan(&t.ID, &t.TournamentID, &t.Name,
			&budget, &budgetUsed,
			&t.PlayersBought, &t.MaxPlayers, &t.SeatsReady); err != nil {
			return nil, err
		}
		t.Budget, _ = decimal.NewFromString(budget)
		t.BudgetUsed, _ = decimal.NewFromString(budgetUsed)
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (s *PostgresStore) UpdateTeam(ctx context.Context, t *model.Team) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE teams
		 SET budget_used = $2::NUMERIC, players_bought = $3
		 WHERE id = $1`,
		t.ID, t.BudgetUsed.String(), t.PlayersBought,
	)
	if err != nil {
		return fmt.Errorf("update team %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &fault.NotFound{Kind: "team", ID: t.ID}
	}
	return nil
}

func (s *PostgresStore) AppendSale(ctx context.Context, rec *model.SaleRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sale_records (id, tournament_id, player_id, team_id, price, kind, quota_bypassed, at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
		rec.ID, rec.TournamentID, rec.PlayerID, rec.TeamID,
		rec.Price.String(), rec.Kind, rec.QuotaBypassed, rec.At,
	)
	return err
}

func (s *PostgresStore) ListSales(ctx context.Context, tournamentID string) ([]model.SaleRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tournament_id, player_id, team_id, price::TEXT, kind, quota_bypassed, at
		 FROM sale_records WHERE tournament_id = $1 ORDER BY at`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.SaleRecord
	for rows.Next() {
		var rec model.SaleRecord
		var price string
		if err := rows.Scan(&rec.ID, &rec.TournamentID, &rec.PlayerID, &rec.TeamID,
			&price, &rec.Kind, &rec.QuotaBypassed, &rec.At); err != nil {
			return nil, err
		}
		rec.Price, _ = decimal.NewFromString(price)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.SessionSnapshot) error {
	queueJSON, err := json.Marshal(snap.Queue)
	if err != nil {
		return fmt.Errorf("encode queue for %s: %w", snap.TournamentID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO auction_sessions (tournament_id, status, current_player_id, queue, timer_deadline, timer_remaining_ms, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
		 ON CONFLICT (tournament_id) DO UPDATE
		 SET status = EXCLUDED.status,
		     current_player_id = EXCLUDED.current_player_id,
		     queue = EXCLUDED.queue,
		     timer_deadline = EXCLUDED.timer_deadline,
		     timer_remaining_ms = EXCLUDED.timer_remaining_ms,
		     updated_at = EXCLUDED.updated_at`,
		snap.TournamentID, snap.Status, snap.CurrentPlayerID, queueJSON,
		snap.TimerDeadline, snap.TimerRemaining.Milliseconds(), snap.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, tournamentID string) (*model.SessionSnapshot, error) {
	var snap model.SessionSnapshot
	var currentPlayerID *string
	var queueJSON []byte
	var remainingMS int64

	err := s.pool.QueryRow(ctx,
		`SELECT tournament_id, status, current_player_id, queue, timer_deadline, timer_remaining_ms, updated_at
		 FROM auction_sessions WHERE tournament_id = $1`, tournamentID).
		Scan(&snap.TournamentID, &snap.Status, &currentPlayerID, &queueJSON,
			&snap.TimerDeadline, &remainingMS, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &fault.NotFound{Kind: "session", ID: tournamentID}
	}
	if err != nil {
		return nil, fmt.Errorf("get session snapshot %s: %w", tournamentID, err)
	}

	if currentPlayerID != nil {
		snap.CurrentPlayerID = *currentPlayerID
	}
	if len(queueJSON) > 0 {
		if err := json.Unmarshal(queueJSON, &snap.Queue); err != nil {
			return nil, fmt.Errorf("decode queue for %s: %w", tournamentID, err)
		}
	}
	snap.TimerRemaining = time.Duration(remainingMS) * time.Millisecond
	return &snap, nil
}
