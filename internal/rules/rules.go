// Package rules implements the pure bidding math for the auction engine:
// required increments, minimum next bids, bid admissibility, and the
// reserve-aware maximum a team can commit to a single player.
//
// Everything here is a pure function over model values — no I/O, no clocks,
// no mutation. The session actor consults this package before any write, so
// a violation can never leave partial state behind.
//
// All monetary values use shopspring/decimal — never float64 for money.
package rules

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/pitchside/auction-engine/internal/fault"
	"github.com/pitchside/auction-engine/internal/model"
)

var (
	// ErrNoRangeCovers is returned when increment ranges are configured but
	// none of them contains the current bid. Undefined coverage is an error,
	// not a silent fallback to the fixed increment.
	ErrNoRangeCovers = errors.New("rules: no increment range covers current bid")

	// ErrNoIncrement is returned when neither ranges nor a positive fixed
	// increment are configured.
	ErrNoIncrement = errors.New("rules: no bid increment configured")
)

// RequiredIncrement returns the increment a raise over currentBid must meet.
// If Ranges is non-empty the range whose [From, To) contains currentBid
// decides; otherwise FixedIncrement applies.
func RequiredIncrement(currentBid decimal.Decimal, r model.AuctionRules) (decimal.Decimal, error) {
	if len(r.Ranges) > 0 {
		for _, band := range r.Ranges {
			if currentBid.GreaterThanOrEqual(band.From) && currentBid.LessThan(band.To) {
				return band.Increment, nil
			}
		}
		return decimal.Zero, ErrNoRangeCovers
	}
	if r.FixedIncrement.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrNoIncrement
	}
	return r.FixedIncrement, nil
}

// MinNextBid returns the lowest acceptable bid on a player. For the first
// bid (no accepted bids yet) this is the player's base price, falling back
// to the tournament-wide base value when the player has none.
func MinNextBid(p *model.Player, r model.AuctionRules) (decimal.Decimal, error) {
	if p.CurrentBid.IsZero() {
		if p.BasePrice.IsPositive() {
			return p.BasePrice, nil
		}
		return r.BaseValueOfPlayer, nil
	}
	inc, err := RequiredIncrement(p.CurrentBid, r)
	if err != nil {
		return decimal.Zero, err
	}
	return p.CurrentBid.Add(inc), nil
}

// CanBid validates a proposed bid against every bidding rule. A nil return
// means the bid is admissible; otherwise the error names the violated rule.
func CanBid(team *model.Team, p *model.Player, amount decimal.Decimal, r model.AuctionRules) error {
	min, err := MinNextBid(p, r)
	if err != nil {
		return err
	}
	if amount.LessThan(min) {
		return fault.NewInvariant("bid %s below minimum next bid %s", amount, min)
	}
	if p.LeadingTeamID() == team.ID {
		return fault.NewInvariant("team %s already holds the leading bid", team.ID)
	}
	if r.BidLimitMode == model.BidLimitCount && p.BidCountFor(team.ID) >= r.BidLimitCount {
		return fault.NewInvariant("team %s reached the bid limit of %d on this player", team.ID, r.BidLimitCount)
	}
	if amount.GreaterThan(team.RemainingBudget()) {
		return fault.NewInvariant("bid %s exceeds remaining budget %s", amount, team.RemainingBudget())
	}
	if team.PlayersBought >= team.MaxPlayers && !p.QuotaBypassed {
		return fault.NewInvariant("team %s roster is full (%d/%d)", team.ID, team.PlayersBought, team.MaxPlayers)
	}
	return nil
}

// MaxPossibleBid returns the most a team may commit to one player without
// making its remaining mandatory minimum purchases unaffordable: remaining
// budget minus a reserve of baseValueOfPlayer per unfilled slot beyond this
// one, clamped at zero.
func MaxPossibleBid(team *model.Team, r model.AuctionRules) decimal.Decimal {
	slotsLeft := team.MaxPlayers - team.PlayersBought
	if slotsLeft <= 0 {
		return decimal.Zero
	}
	reserve := r.BaseValueOfPlayer.Mul(decimal.NewFromInt(int64(slotsLeft - 1)))
	max := team.RemainingBudget().Sub(reserve)
	if max.IsNegative() {
		return decimal.Zero
	}
	return max
}

// ValidateRules rejects unusable bidding configurations before a session
// starts.
func ValidateRules(r model.AuctionRules) error {
	if len(r.Ranges) == 0 && r.FixedIncrement.LessThanOrEqual(decimal.Zero) {
		return fault.NewValidation("either ranges or a positive fixed increment is required")
	}
	for i, band := range r.Ranges {
		if band.To.LessThanOrEqual(band.From) {
			return fault.NewValidation("range %d: to must exceed from", i)
		}
		if band.Increment.LessThanOrEqual(decimal.Zero) {
			return fault.NewValidation("range %d: increment must be positive", i)
		}
	}
	if r.BidLimitMode == model.BidLimitCount && r.BidLimitCount <= 0 {
		return fault.NewValidation("bid limit mode requires a positive bid limit count")
	}
	return nil
}

// ValidateAutomation rejects automation configurations the engine cannot
// honor. PendingRound2 and TimerUnsold both enabled is rejected until their
// precedence is defined by product.
func ValidateAutomation(a model.AutomationRules) error {
	if a.TimerSeconds <= 0 {
		return fault.NewValidation("timer seconds must be positive")
	}
	if a.LastCallTimerSeconds <= 0 {
		return fault.NewValidation("last call timer seconds must be positive")
	}
	switch a.AutoTimeoutAction {
	case model.TimeoutToPending, model.TimeoutToUnsold:
	default:
		return fault.NewValidation("unknown auto timeout action %q", a.AutoTimeoutAction)
	}
	if a.PendingRound2 && a.TimerUnsold {
		return fault.NewValidation("pending round 2 and timer-unsold automation cannot both be enabled")
	}
	if a.TimerUnsold && a.TimerUnsoldSeconds <= 0 {
		return fault.NewValidation("timer-unsold automation requires positive seconds")
	}
	return nil
}
