// Package auction implements the live auction engine: one serialized
// session per tournament driving players through bidding rounds, a
// countdown timer, and a process-wide registry of live sessions.
//
// A Session is a single-writer actor. All commands — operator actions and
// timer expiries alike — are delivered through one mailbox and applied by
// one goroutine in arrival order. Many bidders racing for the same player
// therefore collapse into a linearizable command log; there are no locks
// around the money fields because there is no concurrent access to them.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/pitchside/auction-engine/internal/broadcast"
	"github.com/pitchside/auction-engine/internal/fault"
	"github.com/pitchside/auction-engine/internal/metrics"
	"github.com/pitchside/auction-engine/internal/model"
	"github.com/pitchside/auction-engine/internal/rules"
	"github.com/pitchside/auction-engine/internal/store"
)

// ErrSessionClosed is returned for commands sent to a torn-down session.
var ErrSessionClosed = errors.New("auction: session closed")

// persistRetryDelay is the re-arm delay when an automatic resolution fails
// to persist. The session never advances past an unresolved player; it
// retries the same idempotent resolution when the retry timer fires.
const persistRetryDelay = 5 * time.Second

// SeatDirectory reports per-team ready voter seats, queried from the
// external team/seat collaborator for quorum-enabled tournaments.
type SeatDirectory interface {
	SeatsReady(ctx context.Context, tournamentID string) (map[string]int, error)
}

// Deps are the collaborators a session needs.
type Deps struct {
	Store store.Store
	Hub   Broadcaster
	Clock clockwork.Clock
	Seats SeatDirectory

	// OnComplete is called once when the session reaches Completed, so the
	// registry can schedule disposal.
	OnComplete func(tournamentID string)
}

// Session is the live auction state machine for one tournament.
type Session struct {
	tournamentID string
	deps         Deps

	inbox  chan message
	ctx    context.Context
	cancel context.CancelFunc

	// Everything below is owned by the loop goroutine.
	status          model.SessionStatus
	tournament      *model.Tournament
	players         map[string]*model.Player
	teams           map[string]*model.Team
	queue           []string
	current         string
	timer           *playerTimer
	pausedRemaining time.Duration
	resumeStatus    model.SessionStatus
	lastBidAt       time.Time
}

// newSession hydrates a session from store records and, when a persisted
// snapshot exists, resumes from it — re-deriving the countdown from the
// stored deadline rather than any elapsed-tick state.
func newSession(t *model.Tournament, players []model.Player, teams []model.Team,
	snap *model.SessionSnapshot, deps Deps) *Session {

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		tournamentID: t.ID,
		deps:         deps,
		inbox:        make(chan message, 64),
		ctx:          ctx,
		cancel:       cancel,
		status:       model.SessionStopped,
		tournament:   t,
		players:      make(map[string]*model.Player, len(players)),
		teams:        make(map[string]*model.Team, len(teams)),
	}
	s.timer = newPlayerTimer(deps.Clock, s.enqueueExpiry)

	for i := range players {
		p := players[i]
		s.players[p.ID] = &p
	}
	for i := range teams {
		tm := teams[i]
		s.teams[tm.ID] = &tm
	}

	if snap != nil {
		s.status = snap.Status
		s.current = snap.CurrentPlayerID
		s.queue = append([]string(nil), snap.Queue...)
		s.pausedRemaining = snap.TimerRemaining
		s.resumeStatus = model.SessionRunning

		if s.status.Active() && s.current != "" && snap.TimerDeadline != nil && s.status != model.SessionPaused {
			remaining := snap.TimerDeadline.Sub(deps.Clock.Now())
			if remaining < time.Second {
				remaining = time.Second // give operators a beat after restart
			}
			s.timer.Arm(remaining)
		}
	} else {
		for _, p := range players {
			if p.Status == model.PlayerQueued {
				s.queue = append(s.queue, p.ID)
			}
			if p.Status == model.PlayerInAuction {
				s.current = p.ID
			}
		}
	}

	return s
}

func (s *Session) run() {
	metrics.ActiveSessions.Inc()
	go s.loop()
}

// Do submits a command and waits for the session's verdict.
func (s *Session) Do(ctx context.Context, cmd Command) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- commandMsg{cmd: cmd, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// Snapshot returns a read-only view of the live state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case s.inbox <- snapshotMsg{reply: reply}:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-s.ctx.Done():
		return Snapshot{}, ErrSessionClosed
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-s.ctx.Done():
		return Snapshot{}, ErrSessionClosed
	}
}

// Close tears the session down without touching persisted state.
func (s *Session) Close() {
	select {
	case s.inbox <- shutdownMsg{}:
	case <-s.ctx.Done():
	}
}

func (s *Session) enqueueExpiry(gen uint64) {
	select {
	case s.inbox <- timerMsg{gen: gen}:
	case <-s.ctx.Done():
	}
}

func (s *Session) loop() {
	defer metrics.ActiveSessions.Dec()
	for {
		select {
		case <-s.ctx.Done():
			s.timer.Cancel()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case commandMsg:
				start := s.deps.Clock.Now()
				err := s.dispatch(msg.cmd)
				metrics.CommandDuration.WithLabelValues(string(msg.cmd.Type)).
					Observe(s.deps.Clock.Since(start).Seconds())
				msg.reply <- err

			case timerMsg:
				s.handleExpiry(msg.gen)

			case snapshotMsg:
				msg.reply <- s.snapshotView()

			case shutdownMsg:
				s.timer.Cancel()
				s.cancel()
				return
			}
		}
	}
}

func (s *Session) dispatch(cmd Command) error {
	ctx, cancelCtx := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancelCtx()

	if s.status == model.SessionLocked && cmd.Type != CmdLock {
		return fault.NewInvariant("session is locked")
	}

	switch cmd.Type {
	case CmdStart:
		return s.handleStart(ctx, cmd.BypassReadiness)
	case CmdPause:
		return s.handlePause(ctx)
	case CmdResume:
		return s.handleResume(ctx)
	case CmdStop:
		return s.handleStop(ctx)
	case CmdEnd:
		return s.handleEnd(ctx)
	case CmdNext:
		return s.handleNext(ctx)
	case CmdBid:
		return s.handleBid(ctx, cmd.TeamID, cmd.Amount)
	case CmdSold:
		return s.handleSold(ctx)
	case CmdUnsold:
		return s.handleUnsold(ctx)
	case CmdPending:
		return s.handlePending(ctx)
	case CmdLastCall:
		return s.handleLastCall(ctx, cmd.TimerSeconds)
	case CmdWithdraw:
		return s.handleWithdraw(ctx, cmd.Reason)
	case CmdReauction:
		return s.handleReauction(ctx, cmd.PlayerID)
	case CmdForceAuction:
		return s.handleForceAuction(ctx, cmd.PlayerID)
	case CmdDirectAssign:
		return s.handleDirectAssign(ctx, cmd.PlayerID, cmd.TeamID, cmd.Amount, cmd.BypassQuota)
	case CmdRevokeSale:
		return s.handleRevokeSale(ctx, cmd.PlayerID)
	case CmdLock:
		return s.handleLock(ctx)
	default:
		return fault.NewValidation("unknown command %q", cmd.Type)
	}
}

// --- Lifecycle commands ---

func (s *Session) handleStart(ctx context.Context, bypassReadiness bool) error {
	switch s.status {
	case model.SessionStopped:
	case model.SessionCompleted:
		return fault.NewInvariant("auction already completed")
	default:
		return fault.NewInvariant("auction already running")
	}

	if err := rules.ValidateRules(s.tournament.Rules); err != nil {
		return err
	}
	if err := rules.ValidateAutomation(s.tournament.Automation); err != nil {
		return err
	}
	if !bypassReadiness {
		if err := s.checkReadiness(ctx); err != nil {
			return err
		}
	}

	s.status = model.SessionRunning
	s.publish(broadcast.EventAuctionStart, "", "", decimal.Zero)
	slog.Info("auction started", "tournament", s.tournamentID, "queued", len(s.queue))

	// Put the first player on the block immediately; an explicit "next" is
	// only needed between players.
	if s.current == "" && len(s.queue) > 0 {
		if err := s.advance(ctx); err != nil {
			return err
		}
	} else if s.current != "" {
		s.armRoundTimer()
	}
	return s.persistSnapshot(ctx)
}

func (s *Session) handlePause(ctx context.Context) error {
	if s.status != model.SessionRunning && s.status != model.SessionLastCall {
		return fault.NewInvariant("cannot pause while %s", s.status)
	}
	s.resumeStatus = s.status
	s.pausedRemaining = s.timer.Cancel()
	s.status = model.SessionPaused
	s.publish(broadcast.EventAuctionPause, s.current, "", decimal.Zero)
	return s.persistSnapshot(ctx)
}

func (s *Session) handleResume(ctx context.Context) error {
	if s.status != model.SessionPaused {
		return fault.NewInvariant("cannot resume while %s", s.status)
	}
	s.status = s.resumeStatus
	if s.status == "" {
		s.status = model.SessionRunning
	}
	// Timer resumes with the remaining budget, not a fresh countdown.
	if s.current != "" && s.pausedRemaining > 0 && s.tournament.Automation.AutoTimerEnabled {
		s.timer.Arm(s.pausedRemaining)
	}
	s.pausedRemaining = 0
	s.publish(broadcast.EventAuctionResume, s.current, "", decimal.Zero)
	return s.persistSnapshot(ctx)
}

func (s *Session) handleStop(ctx context.Context) error {
	if !s.status.Active() {
		return fault.NewInvariant("cannot stop while %s", s.status)
	}
	s.timer.Cancel()

	// A stopped round is void: the current player returns to the front of
	// the queue with a clean slate.
	if s.current != "" {
		p := s.players[s.current]
		np := *p
		np.Status = model.PlayerQueued
		np.CurrentBid = decimal.Zero
		np.BidHistory = nil
		if err := s.deps.Store.UpdatePlayer(ctx, &np); err != nil {
			return fmt.Errorf("stop: reset player %s: %w", p.ID, err)
		}
		*p = np
		s.queue = append([]string{p.ID}, s.queue...)
		s.current = ""
	}

	s.status = model.SessionStopped
	s.pausedRemaining = 0
	s.publish(broadcast.EventAuctionStop, "", "", decimal.Zero)
	return s.persistSnapshot(ctx)
}

func (s *Session) handleEnd(ctx context.Context) error {
	if !s.status.Active() {
		return fault.NewInvariant("cannot end while %s", s.status)
	}
	s.timer.Cancel()

	// Force-resolve everything still open to Unsold, current player included.
	open := make([]string, 0, len(s.queue)+1)
	if s.current != "" {
		open = append(open, s.current)
	}
	open = append(open, s.queue...)
	for _, p := range s.players {
		if p.Status == model.PlayerPending {
			open = append(open, p.ID)
		}
	}
	for _, id := range open {
		p := s.players[id]
		np := *p
		np.Status = model.PlayerUnsold
		np.CurrentBid = decimal.Zero
		if err := s.deps.Store.UpdatePlayer(ctx, &np); err != nil {
			return fmt.Errorf("end: resolve player %s: %w", id, err)
		}
		*p = np
	}
	s.queue = nil
	s.current = ""
	s.status = model.SessionCompleted
	s.publish(broadcast.EventAuctionEnd, "", "", decimal.Zero)
	slog.Info("auction completed", "tournament", s.tournamentID, "unsold", len(open))

	if err := s.persistSnapshot(ctx); err != nil {
		return err
	}
	if s.deps.OnComplete != nil {
		s.deps.OnComplete(s.tournamentID)
	}
	return nil
}

func (s *Session) handleLock(ctx context.Context) error {
	if s.status != model.SessionCompleted && s.status != model.SessionStopped {
		return fault.NewInvariant("only a completed or stopped auction can be locked")
	}
	s.status = model.SessionLocked
	s.publish(broadcast.EventAuctionUpdate, "", "", decimal.Zero)
	return s.persistSnapshot(ctx)
}

// --- Round commands ---

func (s *Session) handleNext(ctx context.Context) error {
	if s.status != model.SessionRunning && s.status != model.SessionLastCall {
		return fault.NewInvariant("cannot advance while %s", s.status)
	}
	if s.current != "" {
		return fault.NewInvariant("resolve the current player first")
	}
	if len(s.queue) == 0 {
		return fault.NewInvariant("no players left in the queue")
	}
	s.status = model.SessionRunning
	if err := s.advance(ctx); err != nil {
		return err
	}
	return s.persistSnapshot(ctx)
}

func (s *Session) handleBid(ctx context.Context, teamID string, amount decimal.Decimal) error {
	if s.status != model.SessionRunning && s.status != model.SessionLastCall {
		metrics.BidsRejected.WithLabelValues("session_state").Inc()
		return fault.NewInvariant("bidding is closed while %s", s.status)
	}
	if s.current == "" {
		metrics.BidsRejected.WithLabelValues("no_player").Inc()
		return fault.NewInvariant("no player on the block")
	}
	team, ok := s.teams[teamID]
	if !ok {
		metrics.BidsRejected.WithLabelValues("unknown_team").Inc()
		return &fault.NotFound{Kind: "team", ID: teamID}
	}
	p := s.players[s.current]

	if err := rules.CanBid(team, p, amount, s.tournament.Rules); err != nil {
		metrics.BidsRejected.WithLabelValues("rules").Inc()
		return err
	}

	np := *p
	np.BidHistory = append(append([]model.BidEntry(nil), p.BidHistory...), model.BidEntry{
		ID:       uuid.NewString(),
		TeamID:   teamID,
		Amount:   amount,
		PlacedAt: s.monotonicNow(),
	})
	np.CurrentBid = amount
	if err := s.deps.Store.UpdatePlayer(ctx, &np); err != nil {
		return fmt.Errorf("bid: persist player %s: %w", p.ID, err)
	}
	*p = np

	// Every accepted bid restarts the countdown. In LastCall the shortened
	// last-call window restarts, not the full round timer: each raise buys
	// the room another "going once".
	s.armRoundTimer()

	metrics.BidsAccepted.Inc()
	s.publish(broadcast.EventBidUpdate, p.ID, teamID, amount)
	return s.persistSnapshot(ctx)
}

func (s *Session) handleSold(ctx context.Context) error {
	p, err := s.requireCurrent()
	if err != nil {
		return err
	}
	if p.CurrentBid.IsZero() {
		return fault.NewInvariant("cannot sell without an accepted bid")
	}
	team := s.teams[p.LeadingTeamID()]
	if err := s.sell(ctx, p, team, p.CurrentBid, model.SaleAuction); err != nil {
		return err
	}
	s.finishRound()
	metrics.Sales.WithLabelValues("sold").Inc()
	s.publish(broadcast.EventPlayerSold, p.ID, team.ID, p.SoldPrice)
	return s.persistSnapshot(ctx)
}

func (s *Session) handleUnsold(ctx context.Context) error {
	p, err := s.requireCurrent()
	if err != nil {
		return err
	}
	if len(p.BidHistory) > 0 {
		return fault.NewInvariant("cannot mark unsold: bids are present")
	}
	np := *p
	np.Status = model.PlayerUnsold
	if err := s.deps.Store.UpdatePlayer(ctx, &np); err != nil {
		return fmt.Errorf("unsold: persist player %s: %w", p.ID, err)
	}
	*p = np
	s.finishRound()
	metrics.Sales.WithLabelValues("unsold").Inc()
	s.publish(broadcast.EventPlayerUnsold, p.ID, "", decimal.Zero)
	return s.persistSnapshot(ctx)
}

func (s *Session) handlePending(ctx context.Context) error {
	p, err := s.requireCurrent()
	if err != nil {
		return err
	}
	if !p.CurrentBid.IsZero() {
		return fault.NewInvariant("cannot defer to pending: bids are present")
	}
	np := *p
	np.Status = model.PlayerPending
	if err := s.deps.Store.UpdatePlayer(ctx, &np); err != nil {
		return fmt.Errorf("pending: persist player %s: %w", p.ID, err)
	}
	*p = np
	s.finishRound()
	metrics.Sales.WithLabelValues("pending").Inc()
	s.publish(broadcast.EventPlayerPending, p.ID, "", decimal.Zero)
	return s.persistSnapshot(ctx)
}

func (s *Session) handleLastCall(ctx context.Context, seconds int) error {
	if s.status != model.SessionRunning {
		return fault.NewInvariant("last call requires a running auction")
	}
	if s.current == "" {
		return fault.NewInvariant("no player on the block")
	}
	if seconds <= 0 {
		seconds = s.tournament.Automation.LastCallTimerSeconds
	}
	s.status = model.SessionLastCall
	s.timer.Arm(time.Duration(seconds) * time.Second)
	s.publish(broadcast.EventAuctionUpdate, s.current, "", decimal.Zero)
	return s.persistSnapshot(ctx)
}

func (s *Session) handleWithdraw(ctx context.Context, reason string) error {
	p, err := s.requireCurrent()
	if err != nil {
		return err
	}
	now := s.deps.Clock.Now().UTC()
	np := *p
	np.Status = model.PlayerWithdrawn
	np.WithdrawnFor = reason
	np.WithdrawnAt = &now
	np.CurrentBid = decimal.Zero
	if err := s.deps.Store.UpdatePlayer(ctx, &np); err != nil {
		return fmt.Errorf("withdraw: persist player %s: %w", p.ID, err)
	}
	*p = np
	s.finishRound()
	metrics.Sales.WithLabelValues("withdrawn").Inc()
	s.publish(broadcast.EventAuctionUpdate, p.ID, "", decimal.Zero)
	return s.persistSnapshot(ctx)
}

// --- Administrative commands ---

func (s *Session) handleReauction(ctx context.Context, playerID string) error {
	p, ok := s.players[playerID]
	if !ok {
		return &fault.NotFound{Kind: "player", ID: playerID}
	}
	if p.Status != model.PlayerUnsold {
		return fault.NewInvariant("only unsold players can be re-auctioned")
	}
	np := *p
	np.Status = model.PlayerQueued
	np.CurrentBid = decimal.Zero
	np.BidHistory = nil
	if err := s.deps.Store.UpdatePlayer(ctx, &np); err != nil {
		return fmt.Errorf("reauction: persist player %s: %w", playerID, err)
	}
	*p = np
	s.queue = append(s.queue, playerID)
	s.publish(broadcast.EventAuctionUpdate, playerID, "", decimal.Zero)
	return s.persistSnapshot(ctx)
}

func (s *Session) handleForceAuction(ctx context.Context, playerID string) error {
	p, ok := s.players[playerID]
	if !ok {
		return &fault.NotFound{Kind: "player", ID: playerID}
	}
	if p.Status != model.PlayerPending {
		return fault.NewInvariant("only pending players can be force-auctioned")
	}
	np := *p
	np.Status = model.PlayerQueued
	np.QuotaBypassed = true // teams at quota may still win this player
	if err := s.deps.Store.UpdatePlayer(ctx, &np); err != nil {
		return fmt.Errorf("force-auction: persist player %s: %w", playerID, err)
	}
	*p = np
	s.queue = append(s.queue, playerID)
	s.publish(broadcast.EventAuctionUpdate, playerID, "", decimal.Zero)
	return s.persistSnapshot(ctx)
}

func (s *Session) handleDirectAssign(ctx context.Context, playerID, teamID string, price decimal.Decimal, bypassQuota bool) error {
	p, ok := s.players[playerID]
	if !ok {
		return &fault.NotFound{Kind: "player", ID: playerID}
	}
	if p.Status != model.PlayerPending {
		return fault.NewInvariant("only pending players can be directly assigned")
	}
	team, ok := s.teams[teamID]
	if !ok {
		return &fault.NotFound{Kind: "team", ID: teamID}
	}
	if price.IsNegative() {
		return fault.NewValidation("price must not be negative")
	}
	// Quota may be bypassed; the budget bound never is.
	if price.GreaterThan(team.RemainingBudget()) {
		return fault.NewInvariant("price %s exceeds remaining budget %s", price, team.RemainingBudget())
	}
	if team.PlayersBought >= team.MaxPlayers && !bypassQuota && !p.QuotaBypassed {
		return fault.NewInvariant("team %s roster is full (%d/%d)", teamID, team.PlayersBought, team.MaxPlayers)
	}
	if bypassQuota {
		p.QuotaBypassed = true
	}
	if err := s.sell(ctx, p, team, price, model.SaleDirect); err != nil {
		return err
	}
	metrics.Sales.WithLabelValues("sold").Inc()
	s.publish(broadcast.EventPlayerSold, playerID, teamID, price)
	return s.persistSnapshot(ctx)
}

func (s *Session) handleRevokeSale(ctx context.Context, playerID string) error {
	p, ok := s.players[playerID]
	if !ok {
		return &fault.NotFound{Kind: "player", ID: playerID}
	}
	if p.Status != model.PlayerSold {
		// No-op error by design: revoking twice must not crash or mutate.
		return fault.NewInvariant("player %s is not sold", playerID)
	}
	team := s.teams[p.SoldToTeamID]
	if team == nil {
		return &fault.NotFound{Kind: "team", ID: p.SoldToTeamID}
	}

	np := *p
	nt := *team
	nt.BudgetUsed = nt.BudgetUsed.Sub(np.SoldPrice)
	nt.PlayersBought--
	rec := &model.SaleRecord{
		ID:            uuid.NewString(),
		TournamentID:  s.tournamentID,
		PlayerID:      playerID,
		TeamID:        team.ID,
		Price:         np.SoldPrice,
		Kind:          model.SaleRevoked,
		QuotaBypassed: np.QuotaBypassed,
		At:            s.deps.Clock.Now().UTC(),
	}
	np.Status = model.PlayerQueued
	np.SoldPrice = decimal.Zero
	np.SoldToTeamID = ""
	np.CurrentBid = decimal.Zero
	np.BidHistory = nil

	if err := s.deps.Store.UpdatePlayer(ctx, &np); err != nil {
		return fmt.Errorf("revoke: persist player %s: %w", playerID, err)
	}
	if err := s.deps.Store.UpdateTeam(ctx, &nt); err != nil {
		return fmt.Errorf("revoke: persist team %s: %w", team.ID, err)
	}
	if err := s.deps.Store.AppendSale(ctx, rec); err != nil {
		return fmt.Errorf("revoke: append sale record: %w", err)
	}
	*p = np
	*team = nt
	s.queue = append(s.queue, playerID)
	metrics.Sales.WithLabelValues("revoked").Inc()
	s.publish(broadcast.EventAuctionUpdate, playerID, team.ID, decimal.Zero)
	return s.persistSnapshot(ctx)
}

// --- Timer expiry ---

func (s *Session) handleExpiry(gen uint64) {
	if !s.timer.Live(gen) {
		return // cancelled or re-armed after this expiry was enqueued
	}
	s.timer.Cancel()
	metrics.TimerExpiries.Inc()

	if (s.status != model.SessionRunning && s.status != model.SessionLastCall) || s.current == "" {
		return
	}

	ctx, cancelCtx := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancelCtx()

	p := s.players[s.current]
	var err error
	if !p.CurrentBid.IsZero() {
		// The sold button would be live: auto-resolve to the leading bid.
		team := s.teams[p.LeadingTeamID()]
		if err = s.sell(ctx, p, team, p.CurrentBid, model.SaleAuction); err == nil {
			s.finishRound()
			metrics.Sales.WithLabelValues("sold").Inc()
			s.publish(broadcast.EventPlayerSold, p.ID, team.ID, p.SoldPrice)
		}
	} else {
		action := s.tournament.Automation.AutoTimeoutAction
		np := *p
		if action == model.TimeoutToUnsold {
			np.Status = model.PlayerUnsold
		} else {
			np.Status = model.PlayerPending
		}
		if err = s.deps.Store.UpdatePlayer(ctx, &np); err == nil {
			*p = np
			s.finishRound()
			if action == model.TimeoutToUnsold {
				metrics.Sales.WithLabelValues("unsold").Inc()
				s.publish(broadcast.EventPlayerUnsold, p.ID, "", decimal.Zero)
			} else {
				metrics.Sales.WithLabelValues("pending").Inc()
				s.publish(broadcast.EventPlayerPending, p.ID, "", decimal.Zero)
			}
		}
	}

	if err != nil {
		// Do not advance past an unresolved player. Retry the identical
		// resolution after a delay.
		slog.Error("auto-resolution failed, retrying",
			"tournament", s.tournamentID, "player", s.current, "err", err)
		s.timer.Arm(persistRetryDelay)
		return
	}

	if err := s.persistSnapshot(ctx); err != nil {
		slog.Error("snapshot persist failed", "tournament", s.tournamentID, "err", err)
	}

	if s.tournament.Automation.AutoNextEnabled && len(s.queue) > 0 {
		if err := s.advance(ctx); err != nil {
			slog.Error("auto-advance failed", "tournament", s.tournamentID, "err", err)
			return
		}
		if err := s.persistSnapshot(ctx); err != nil {
			slog.Error("snapshot persist failed", "tournament", s.tournamentID, "err", err)
		}
	}
}

// --- Helpers (loop goroutine only) ---

func (s *Session) requireCurrent() (*model.Player, error) {
	if !s.status.Active() || s.status == model.SessionPaused {
		return nil, fault.NewInvariant("no active round while %s", s.status)
	}
	if s.current == "" {
		return nil, fault.NewInvariant("no player on the block")
	}
	return s.players[s.current], nil
}

// advance puts the next queued player on the block.
func (s *Session) advance(ctx context.Context) error {
	id := s.queue[0]
	p := s.players[id]
	np := *p
	np.Status = model.PlayerInAuction
	np.CurrentBid = decimal.Zero
	np.BidHistory = nil
	if err := s.deps.Store.UpdatePlayer(ctx, &np); err != nil {
		return fmt.Errorf("advance: persist player %s: %w", id, err)
	}
	*p = np
	s.queue = s.queue[1:]
	s.current = id
	s.armRoundTimer()
	s.publish(broadcast.EventPlayerNext, id, "", decimal.Zero)
	return nil
}

// finishRound clears the block after a resolution and drops back to
// Running if the round ended during last call.
func (s *Session) finishRound() {
	s.timer.Cancel()
	s.current = ""
	if s.status == model.SessionLastCall {
		s.status = model.SessionRunning
	}
}

// armRoundTimer starts the countdown appropriate to the session state.
func (s *Session) armRoundTimer() {
	if !s.tournament.Automation.AutoTimerEnabled {
		return
	}
	seconds := s.tournament.Automation.TimerSeconds
	if s.status == model.SessionLastCall {
		seconds = s.tournament.Automation.LastCallTimerSeconds
	}
	s.timer.Arm(time.Duration(seconds) * time.Second)
}

// sell performs the Sold transition for p at price, updating the team's
// budget and roster counters and appending a sale record. In-memory state
// is committed only after every write succeeds, so a retry re-runs the
// same idempotent writes.
func (s *Session) sell(ctx context.Context, p *model.Player, team *model.Team, price decimal.Decimal, kind model.SaleKind) error {
	np := *p
	np.Status = model.PlayerSold
	np.SoldPrice = price
	np.SoldToTeamID = team.ID
	nt := *team
	nt.BudgetUsed = nt.BudgetUsed.Add(price)
	nt.PlayersBought++
	rec := &model.SaleRecord{
		ID:            uuid.NewString(),
		TournamentID:  s.tournamentID,
		PlayerID:      p.ID,
		TeamID:        team.ID,
		Price:         price,
		Kind:          kind,
		QuotaBypassed: np.QuotaBypassed,
		At:            s.deps.Clock.Now().UTC(),
	}

	if err := s.deps.Store.UpdatePlayer(ctx, &np); err != nil {
		return fmt.Errorf("sell: persist player %s: %w", p.ID, err)
	}
	if err := s.deps.Store.UpdateTeam(ctx, &nt); err != nil {
		return fmt.Errorf("sell: persist team %s: %w", team.ID, err)
	}
	if err := s.deps.Store.AppendSale(ctx, rec); err != nil {
		return fmt.Errorf("sell: append sale record: %w", err)
	}
	*p = np
	*team = nt
	return nil
}

func (s *Session) checkReadiness(ctx context.Context) error {
	var reasons []string
	if !s.tournament.RegistrationClosed {
		reasons = append(reasons, "registration is still open")
	}
	if s.tournament.QuorumEnabled {
		seats, err := s.deps.Seats.SeatsReady(ctx, s.tournamentID)
		if err != nil {
			return fmt.Errorf("query seat readiness: %w", err)
		}
		for _, team := range s.teams {
			if seats[team.ID] < s.tournament.MinSeatsPerTeam {
				reasons = append(reasons, fmt.Sprintf("team %s has %d of %d required voter seats ready",
					team.Name, seats[team.ID], s.tournament.MinSeatsPerTeam))
			}
		}
	}
	if len(reasons) > 0 {
		return &fault.Readiness{Reasons: reasons}
	}
	return nil
}

// monotonicNow returns a timestamp strictly after the previous bid's, even
// if the wall clock has not ticked between two bids.
func (s *Session) monotonicNow() time.Time {
	now := s.deps.Clock.Now().UTC()
	if !now.After(s.lastBidAt) {
		now = s.lastBidAt.Add(time.Millisecond)
	}
	s.lastBidAt = now
	return now
}

func (s *Session) persistSnapshot(ctx context.Context) error {
	snap := &model.SessionSnapshot{
		TournamentID:    s.tournamentID,
		Status:          s.status,
		CurrentPlayerID: s.current,
		Queue:           append([]string(nil), s.queue...),
		TimerRemaining:  s.pausedRemaining,
		UpdatedAt:       s.deps.Clock.Now().UTC(),
	}
	if deadline, ok := s.timer.Deadline(); ok {
		deadline := deadline
		snap.TimerDeadline = &deadline
	}
	if err := s.deps.Store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("persist session snapshot: %w", err)
	}
	return nil
}

func (s *Session) snapshotView() Snapshot {
	snap := Snapshot{
		TournamentID: s.tournamentID,
		Status:       s.status,
		QueueLength:  len(s.queue),
	}
	if s.current != "" {
		p := *s.players[s.current]
		p.BidHistory = append([]model.BidEntry(nil), p.BidHistory...)
		snap.CurrentPlayer = &p
	}
	if deadline, ok := s.timer.Deadline(); ok {
		deadline := deadline
		snap.TimerDeadline = &deadline
	}
	return snap
}

func (s *Session) publish(t broadcast.EventType, playerID, teamID string, amount decimal.Decimal) {
	if s.deps.Hub == nil {
		return
	}
	s.deps.Hub.Publish(broadcast.Event{
		Type:         t,
		TournamentID: s.tournamentID,
		PlayerID:     playerID,
		TeamID:       teamID,
		Amount:       amount,
		At:           s.deps.Clock.Now().UTC(),
	})
}
