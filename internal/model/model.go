// Package model defines the core domain types shared across the auction engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a tournament's auction session.
type SessionStatus string

const (
	SessionStopped   SessionStatus = "stopped"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionLastCall  SessionStatus = "last_call"
	SessionCompleted SessionStatus = "completed"
	SessionLocked    SessionStatus = "locked"
)

// Active reports whether the session is in a state where an auction round
// is underway (timer may be live, players may be resolved).
func (s SessionStatus) Active() bool {
	switch s {
	case SessionRunning, SessionPaused, SessionLastCall:
		return true
	}
	return false
}

// PlayerStatus is a player's position in the auction flow.
type PlayerStatus string

const (
	PlayerQueued    PlayerStatus = "queued"
	PlayerInAuction PlayerStatus = "in_auction"
	PlayerPending   PlayerStatus = "pending"
	PlayerSold      PlayerStatus = "sold"
	PlayerUnsold    PlayerStatus = "unsold"
	PlayerWithdrawn PlayerStatus = "withdrawn"
)

// BidEntry is one accepted bid on a player. Entries are append-only and
// strictly increasing in amount within a player's history.
type BidEntry struct {
	ID       string          `json:"id" db:"id"`
	TeamID   string          `json:"team_id" db:"team_id"`
	Amount   decimal.Decimal `json:"amount" db:"amount"`
	PlacedAt time.Time       `json:"placed_at" db:"placed_at"`
}

// Player is the auction-relevant view of a tournament player. The wider
// player record (profile, stats, images) belongs to the tournament domain.
type Player struct {
	ID            string          `json:"id" db:"id"`
	TournamentID  string          `json:"tournament_id" db:"tournament_id"`
	Name          string          `json:"name" db:"name"`
	Status        PlayerStatus    `json:"status" db:"status"`
	BasePrice     decimal.Decimal `json:"base_price" db:"base_price"`
	CurrentBid    decimal.Decimal `json:"current_bid" db:"current_bid"`
	BidHistory    []BidEntry      `json:"bid_history" db:"bid_history"`
	SoldPrice     decimal.Decimal `json:"sold_price" db:"sold_price"`
	SoldToTeamID  string          `json:"sold_to_team_id,omitempty" db:"sold_to_team_id"`
	QuotaBypassed bool            `json:"quota_bypassed" db:"quota_bypassed"`
	WithdrawnFor  string          `json:"withdrawn_for,omitempty" db:"withdrawn_for"`
	WithdrawnAt   *time.Time      `json:"withdrawn_at,omitempty" db:"withdrawn_at"`
}

// LeadingTeamID returns the team holding the current bid, or "" before the
// first accepted bid.
func (p *Player) LeadingTeamID() string {
	if len(p.BidHistory) == 0 {
		return ""
	}
	return p.BidHistory[len(p.BidHistory)-1].TeamID
}

// BidCountFor returns how many bids a team has placed on this player.
func (p *Player) BidCountFor(teamID string) int {
	n := 0
	for _, b := range p.BidHistory {
		if b.TeamID == teamID {
			n++
		}
	}
	return n
}

// Team is the budget/roster view of a bidding participant.
type Team struct {
	ID            string          `json:"id" db:"id"`
	TournamentID  string          `json:"tournament_id" db:"tournament_id"`
	Name          string          `json:"name" db:"name"`
	Budget        decimal.Decimal `json:"budget" db:"budget"`
	BudgetUsed    decimal.Decimal `json:"budget_used" db:"budget_used"`
	PlayersBought int             `json:"players_bought" db:"players_bought"`
	MaxPlayers    int             `json:"max_players" db:"max_players"`
	SeatsReady    int             `json:"seats_ready" db:"seats_ready"`
}

// RemainingBudget is budget minus budget already committed to sales.
func (t *Team) RemainingBudget() decimal.Decimal {
	return t.Budget.Sub(t.BudgetUsed)
}

// BidLimitMode controls per-team bid counts on a single player.
type BidLimitMode string

const (
	BidLimitNone  BidLimitMode = "unlimited"
	BidLimitCount BidLimitMode = "limit"
)

// IncrementRange maps a [From, To) band of current bids to the increment
// required to raise within it.
type IncrementRange struct {
	From      decimal.Decimal `json:"from"`
	To        decimal.Decimal `json:"to"`
	Increment decimal.Decimal `json:"increment"`
}

// AuctionRules is the tournament-level bidding configuration.
// When Ranges is non-empty it takes precedence over FixedIncrement.
type AuctionRules struct {
	FixedIncrement    decimal.Decimal  `json:"fixed_increment"`
	Ranges            []IncrementRange `json:"ranges,omitempty"`
	BaseValueOfPlayer decimal.Decimal  `json:"base_value_of_player"`
	MaxFundForTeam    decimal.Decimal  `json:"max_fund_for_team"`
	BidLimitMode      BidLimitMode     `json:"bid_limit_mode"`
	BidLimitCount     int              `json:"bid_limit_count"`
}

// TimeoutAction decides what happens to a bidless player when the clock
// runs out.
type TimeoutAction string

const (
	TimeoutToPending TimeoutAction = "pending"
	TimeoutToUnsold  TimeoutAction = "unsold"
)

// AutomationRules are the operator toggles for hands-off rounds.
type AutomationRules struct {
	AutoNextEnabled        bool          `json:"auto_next_enabled"`
	AutoTimerEnabled       bool          `json:"auto_timer_enabled"`
	TimerSeconds           int           `json:"timer_seconds"`
	LastCallTimerSeconds   int           `json:"last_call_timer_seconds"`
	AutoTimeoutAction      TimeoutAction `json:"auto_timeout_action"`
	PendingRound2          bool          `json:"pending_round2_enabled"`
	PendingRound2Threshold int           `json:"pending_round2_threshold"`
	TimerUnsold            bool          `json:"timer_unsold_enabled"`
	TimerUnsoldSeconds     int           `json:"timer_unsold_seconds"`
}

// Tournament is the auction-relevant view of a tournament record.
type Tournament struct {
	ID                 string          `json:"id" db:"id"`
	Name               string          `json:"name" db:"name"`
	RegistrationClosed bool            `json:"registration_closed" db:"registration_closed"`
	QuorumEnabled      bool            `json:"quorum_enabled" db:"quorum_enabled"`
	MinSeatsPerTeam    int             `json:"min_seats_per_team" db:"min_seats_per_team"`
	Rules              AuctionRules    `json:"rules" db:"rules"`
	Automation         AutomationRules `json:"automation" db:"automation"`
}

// SaleKind distinguishes how a sale record came to exist.
type SaleKind string

const (
	SaleAuction SaleKind = "auction"
	SaleDirect  SaleKind = "direct_assign"
	SaleRevoked SaleKind = "revoked"
)

// SaleRecord is an immutable entry in the chronological sale history.
// Revocations append a negating record rather than deleting the original.
type SaleRecord struct {
	ID            string          `json:"id" db:"id"`
	TournamentID  string          `json:"tournament_id" db:"tournament_id"`
	PlayerID      string          `json:"player_id" db:"player_id"`
	TeamID        string          `json:"team_id" db:"team_id"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Kind          SaleKind        `json:"kind" db:"kind"`
	QuotaBypassed bool            `json:"quota_bypassed" db:"quota_bypassed"`
	At            time.Time       `json:"at" db:"at"`
}

// SessionSnapshot is the persisted state a session needs to survive a
// process restart. The countdown is re-derived from TimerDeadline, never
// from elapsed ticks.
type SessionSnapshot struct {
	TournamentID    string        `json:"tournament_id" db:"tournament_id"`
	Status          SessionStatus `json:"status" db:"status"`
	CurrentPlayerID string        `json:"current_player_id,omitempty" db:"current_player_id"`
	Queue           []string      `json:"queue" db:"queue"`
	TimerDeadline   *time.Time    `json:"timer_deadline,omitempty" db:"timer_deadline"`
	TimerRemaining  time.Duration `json:"timer_remaining,omitempty" db:"timer_remaining"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}
