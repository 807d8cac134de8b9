// Package broadcast fans auction state transitions out to WebSocket
// subscribers, scoped per tournament. Delivery is best-effort/at-least-once:
// clients treat events as hints to refetch the authoritative snapshot, not
// as the source of truth.
package broadcast

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a session state transition.
type EventType string

const (
	EventAuctionStart  EventType = "auction:start"
	EventAuctionPause  EventType = "auction:pause"
	EventAuctionResume EventType = "auction:resume"
	EventAuctionStop   EventType = "auction:stop"
	EventAuctionEnd    EventType = "auction:end"
	EventAuctionUpdate EventType = "auction:update"
	EventPlayerNext    EventType = "player:next"
	EventPlayerSold    EventType = "player:sold"
	EventPlayerUnsold  EventType = "player:unsold"
	EventPlayerPending EventType = "player:pending"
	EventBidUpdate     EventType = "bid:update"
)

// Event is the wire payload pushed to subscribers. It carries enough
// identifying data for a client to decide whether to refetch.
type Event struct {
	Type         EventType       `json:"type"`
	TournamentID string          `json:"tournament_id"`
	PlayerID     string          `json:"player_id,omitempty"`
	TeamID       string          `json:"team_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	At           time.Time       `json:"at"`
}
