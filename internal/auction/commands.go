package auction

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pitchside/auction-engine/internal/broadcast"
	"github.com/pitchside/auction-engine/internal/model"
)

// CommandType names an operator command applied to a session.
type CommandType string

const (
	CmdStart        CommandType = "start"
	CmdPause        CommandType = "pause"
	CmdResume       CommandType = "resume"
	CmdStop         CommandType = "stop"
	CmdEnd          CommandType = "end"
	CmdNext         CommandType = "next"
	CmdBid          CommandType = "bid"
	CmdSold         CommandType = "sold"
	CmdUnsold       CommandType = "unsold"
	CmdPending      CommandType = "pending"
	CmdLastCall     CommandType = "last_call"
	CmdWithdraw     CommandType = "withdraw"
	CmdReauction    CommandType = "reauction"
	CmdForceAuction CommandType = "force_auction"
	CmdDirectAssign CommandType = "direct_assign"
	CmdRevokeSale   CommandType = "revoke_sale"
	CmdLock         CommandType = "lock"
)

// Command is one validated operator instruction. The gateway constructs
// these from strictly decoded request bodies; unknown shapes never reach
// the session.
type Command struct {
	Type            CommandType
	BypassReadiness bool
	BypassQuota     bool
	TeamID          string
	PlayerID        string
	Amount          decimal.Decimal
	TimerSeconds    int
	Reason          string
}

// Snapshot is a read-only view of a session's live state.
type Snapshot struct {
	TournamentID  string               `json:"tournament_id"`
	Status        model.SessionStatus  `json:"status"`
	CurrentPlayer *model.Player        `json:"current_player,omitempty"`
	QueueLength   int                  `json:"queue_length"`
	TimerDeadline *time.Time           `json:"timer_deadline,omitempty"`
}

// Broadcaster publishes session state transitions to subscribers. Satisfied
// by *broadcast.Hub; tests use a recording fake.
type Broadcaster interface {
	Publish(e broadcast.Event)
}

// Mailbox message types. Every mutation and every timer expiry flows
// through the same inbox, so a bid racing an expiry is ordered FIFO, not
// resolved by locking.

type message interface{ isMessage() }

type commandMsg struct {
	cmd   Command
	reply chan error
}

type timerMsg struct{ gen uint64 }

type snapshotMsg struct {
	reply chan Snapshot
}

type shutdownMsg struct{}

func (commandMsg) isMessage()  {}
func (timerMsg) isMessage()    {}
func (snapshotMsg) isMessage() {}
func (shutdownMsg) isMessage() {}
