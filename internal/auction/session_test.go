package auction_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/pitchside/auction-engine/internal/auction"
	"github.com/pitchside/auction-engine/internal/broadcast"
	"github.com/pitchside/auction-engine/internal/fault"
	"github.com/pitchside/auction-engine/internal/model"
	"github.com/pitchside/auction-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// recordingHub captures published events for assertions.
type recordingHub struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (h *recordingHub) Publish(e broadcast.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *recordingHub) types() []broadcast.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]broadcast.EventType, len(h.events))
	for i, e := range h.events {
		out[i] = e.Type
	}
	return out
}

type testEnv struct {
	registry *auction.Registry
	store    *store.MemoryStore
	clock    *clockwork.FakeClock
	hub      *recordingHub
}

// newTestEnv seeds a tournament with three queued players and two teams
// and returns a registry backed by an in-memory store and a fake clock.
func newTestEnv(t *testing.T, mutate func(*model.Tournament)) *testEnv {
	t.Helper()

	tournament := &model.Tournament{
		ID:                 "t1",
		Name:               "Spring Invitational",
		RegistrationClosed: true,
		Rules: model.AuctionRules{
			FixedIncrement:    d(10),
			BaseValueOfPlayer: d(50),
		},
		Automation: model.AutomationRules{
			AutoTimerEnabled:     true,
			TimerSeconds:         30,
			LastCallTimerSeconds: 10,
			AutoTimeoutAction:    model.TimeoutToPending,
		},
	}
	if mutate != nil {
		mutate(tournament)
	}

	ms := store.NewMemoryStore()
	ms.PutTournament(tournament)
	for _, id := range []string{"p1", "p2", "p3"} {
		ms.PutPlayer(&model.Player{
			ID: id, TournamentID: "t1", Name: "Player " + id,
			Status: model.PlayerQueued, BasePrice: d(50),
		})
	}
	for _, id := range []string{"team-a", "team-b"} {
		ms.PutTeam(&model.Team{
			ID: id, TournamentID: "t1", Name: id,
			Budget: d(1000), MaxPlayers: 3, SeatsReady: 2,
		})
	}

	fc := clockwork.NewFakeClock()
	hub := &recordingHub{}
	registry := auction.NewRegistry(auction.Deps{
		Store: ms,
		Hub:   hub,
		Clock: fc,
	})
	t.Cleanup(registry.Shutdown)

	return &testEnv{registry: registry, store: ms, clock: fc, hub: hub}
}

func (env *testEnv) session(t *testing.T) *auction.Session {
	t.Helper()
	sess, err := env.registry.GetOrCreate(context.Background(), "t1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return sess
}

func (env *testEnv) do(t *testing.T, sess *auction.Session, cmd auction.Command) {
	t.Helper()
	if err := sess.Do(context.Background(), cmd); err != nil {
		t.Fatalf("command %s: %v", cmd.Type, err)
	}
}

func (env *testEnv) player(t *testing.T, id string) model.Player {
	t.Helper()
	players, err := env.store.ListPlayers(context.Background(), "t1")
	if err != nil {
		t.Fatalf("list players: %v", err)
	}
	for _, p := range players {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("player %s not found", id)
	return model.Player{}
}

func (env *testEnv) team(t *testing.T, id string) model.Team {
	t.Helper()
	teams, err := env.store.ListTeams(context.Background(), "t1")
	if err != nil {
		t.Fatalf("list teams: %v", err)
	}
	for _, tm := range teams {
		if tm.ID == id {
			return tm
		}
	}
	t.Fatalf("team %s not found", id)
	return model.Team{}
}

// waitFor polls until cond holds; timer expiries travel through the
// session mailbox asynchronously.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func bid(team string, amount float64) auction.Command {
	return auction.Command{Type: auction.CmdBid, TeamID: team, Amount: d(amount)}
}

// --- Lifecycle ---

func TestStartPresentsFirstPlayer(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)

	env.do(t, sess, auction.Command{Type: auction.CmdStart})

	snap, err := sess.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != model.SessionRunning {
		t.Errorf("expected running, got %s", snap.Status)
	}
	if snap.CurrentPlayer == nil || snap.CurrentPlayer.ID != "p1" {
		t.Fatalf("expected p1 on the block, got %+v", snap.CurrentPlayer)
	}
	if snap.TimerDeadline == nil {
		t.Error("expected armed timer deadline")
	}
	if env.player(t, "p1").Status != model.PlayerInAuction {
		t.Error("p1 should be in_auction in the store")
	}
}

func TestStartTwiceRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)

	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	err := sess.Do(context.Background(), auction.Command{Type: auction.CmdStart})
	if !fault.IsInvariant(err) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestStartBlockedByOpenRegistration(t *testing.T) {
	env := newTestEnv(t, func(tn *model.Tournament) {
		tn.RegistrationClosed = false
	})
	sess := env.session(t)

	err := sess.Do(context.Background(), auction.Command{Type: auction.CmdStart})
	var readiness *fault.Readiness
	if !errors.As(err, &readiness) {
		t.Fatalf("expected readiness error, got %v", err)
	}
	if len(readiness.Reasons) != 1 {
		t.Errorf("expected one reason, got %v", readiness.Reasons)
	}

	// The bypass flag overrides the gate.
	env.do(t, sess, auction.Command{Type: auction.CmdStart, BypassReadiness: true})
}

func TestStartBlockedByMissingQuorum(t *testing.T) {
	env := newTestEnv(t, func(tn *model.Tournament) {
		tn.QuorumEnabled = true
		tn.MinSeatsPerTeam = 3 // seeded teams have 2 ready seats
	})
	sess := env.session(t)

	err := sess.Do(context.Background(), auction.Command{Type: auction.CmdStart})
	var readiness *fault.Readiness
	if !errors.As(err, &readiness) {
		t.Fatalf("expected readiness error, got %v", err)
	}
	if len(readiness.Reasons) != 2 {
		t.Errorf("expected a reason per team, got %v", readiness.Reasons)
	}
}

func TestPauseAndResumeKeepRemainingTime(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})

	env.clock.Advance(10 * time.Second)
	env.do(t, sess, auction.Command{Type: auction.CmdPause})

	snap, _ := sess.Snapshot(context.Background())
	if snap.Status != model.SessionPaused {
		t.Fatalf("expected paused, got %s", snap.Status)
	}
	if snap.TimerDeadline != nil {
		t.Error("paused session should have no live deadline")
	}

	// Time passing while paused must not consume the countdown.
	env.clock.Advance(time.Hour)
	env.do(t, sess, auction.Command{Type: auction.CmdResume})

	snap, _ = sess.Snapshot(context.Background())
	if snap.Status != model.SessionRunning {
		t.Fatalf("expected running, got %s", snap.Status)
	}
	want := env.clock.Now().Add(20 * time.Second)
	if snap.TimerDeadline == nil || !snap.TimerDeadline.Equal(want) {
		t.Errorf("expected deadline %s, got %v", want, snap.TimerDeadline)
	}
}

func TestStopVoidsCurrentRound(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, bid("team-a", 60))

	env.do(t, sess, auction.Command{Type: auction.CmdStop})

	p1 := env.player(t, "p1")
	if p1.Status != model.PlayerQueued {
		t.Errorf("expected p1 back in queue, got %s", p1.Status)
	}
	if !p1.CurrentBid.IsZero() || len(p1.BidHistory) != 0 {
		t.Error("voided round must clear bids")
	}

	// Restarting presents the same player first.
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	snap, _ := sess.Snapshot(context.Background())
	if snap.CurrentPlayer == nil || snap.CurrentPlayer.ID != "p1" {
		t.Errorf("expected p1 re-presented, got %+v", snap.CurrentPlayer)
	}
}

func TestEndResolvesOpenPlayersUnsold(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})

	env.do(t, sess, auction.Command{Type: auction.CmdEnd})

	snap, _ := sess.Snapshot(context.Background())
	if snap.Status != model.SessionCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	for _, id := range []string{"p1", "p2", "p3"} {
		if got := env.player(t, id).Status; got != model.PlayerUnsold {
			t.Errorf("player %s: expected unsold, got %s", id, got)
		}
	}
}

func TestLockedSessionRejectsCommands(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, auction.Command{Type: auction.CmdEnd})
	env.do(t, sess, auction.Command{Type: auction.CmdLock})

	err := sess.Do(context.Background(), auction.Command{Type: auction.CmdStart})
	if !fault.IsInvariant(err) {
		t.Fatalf("expected locked rejection, got %v", err)
	}
}

// --- Bidding ---

func TestBidFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})

	env.do(t, sess, bid("team-a", 50)) // opening bid at base price
	env.do(t, sess, bid("team-b", 60))

	// The leading team cannot raise itself.
	err := sess.Do(context.Background(), bid("team-b", 70))
	if !fault.IsInvariant(err) {
		t.Fatalf("expected self re-bid rejected, got %v", err)
	}

	env.do(t, sess, bid("team-a", 70))

	p1 := env.player(t, "p1")
	if !p1.CurrentBid.Equal(d(70)) {
		t.Errorf("expected current bid 70, got %s", p1.CurrentBid)
	}
	if len(p1.BidHistory) != 3 {
		t.Fatalf("expected 3 bids, got %d", len(p1.BidHistory))
	}
	// Timestamps are strictly increasing even when the clock does not tick.
	for i := 1; i < len(p1.BidHistory); i++ {
		if !p1.BidHistory[i].PlacedAt.After(p1.BidHistory[i-1].PlacedAt) {
			t.Errorf("bid %d timestamp not after bid %d", i, i-1)
		}
	}
}

func TestBidRestartsCountdown(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})

	env.clock.Advance(20 * time.Second)
	env.do(t, sess, bid("team-a", 50))

	snap, _ := sess.Snapshot(context.Background())
	want := env.clock.Now().Add(30 * time.Second)
	if snap.TimerDeadline == nil || !snap.TimerDeadline.Equal(want) {
		t.Errorf("expected fresh 30s deadline %s, got %v", want, snap.TimerDeadline)
	}
}

func TestSoldCommitsSale(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, bid("team-a", 50))
	env.do(t, sess, bid("team-b", 60))

	env.do(t, sess, auction.Command{Type: auction.CmdSold})

	p1 := env.player(t, "p1")
	if p1.Status != model.PlayerSold || p1.SoldToTeamID != "team-b" || !p1.SoldPrice.Equal(d(60)) {
		t.Errorf("unexpected sale state: %+v", p1)
	}
	teamB := env.team(t, "team-b")
	if !teamB.BudgetUsed.Equal(d(60)) || teamB.PlayersBought != 1 {
		t.Errorf("unexpected team state: used=%s bought=%d", teamB.BudgetUsed, teamB.PlayersBought)
	}

	sales, _ := env.store.ListSales(context.Background(), "t1")
	if len(sales) != 1 || sales[0].Kind != model.SaleAuction || !sales[0].Price.Equal(d(60)) {
		t.Errorf("unexpected sale records: %+v", sales)
	}
}

func TestSoldWithoutBidRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})

	err := sess.Do(context.Background(), auction.Command{Type: auction.CmdSold})
	if !fault.IsInvariant(err) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestUnsoldWithBidsRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, bid("team-a", 50))

	err := sess.Do(context.Background(), auction.Command{Type: auction.CmdUnsold})
	if !fault.IsInvariant(err) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestNextRequiresResolvedRound(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})

	err := sess.Do(context.Background(), auction.Command{Type: auction.CmdNext})
	if !fault.IsInvariant(err) {
		t.Fatalf("expected invariant violation, got %v", err)
	}

	env.do(t, sess, auction.Command{Type: auction.CmdUnsold})
	env.do(t, sess, auction.Command{Type: auction.CmdNext})

	snap, _ := sess.Snapshot(context.Background())
	if snap.CurrentPlayer == nil || snap.CurrentPlayer.ID != "p2" {
		t.Errorf("expected p2 on the block, got %+v", snap.CurrentPlayer)
	}
}

// --- Timer expiry ---

func TestExpiryWithBidsAutoSells(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, bid("team-a", 50))

	env.clock.Advance(31 * time.Second)

	waitFor(t, func() bool {
		return env.player(t, "p1").Status == model.PlayerSold
	})
	p1 := env.player(t, "p1")
	if p1.SoldToTeamID != "team-a" || !p1.SoldPrice.Equal(d(50)) {
		t.Errorf("expected auto-sale to team-a at 50, got %+v", p1)
	}
	snap, _ := sess.Snapshot(context.Background())
	if snap.CurrentPlayer != nil {
		t.Error("block should be empty after auto-resolution")
	}
}

func TestExpiryWithoutBidsFollowsTimeoutAction(t *testing.T) {
	env := newTestEnv(t, nil) // action: pending
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})

	env.clock.Advance(31 * time.Second)

	waitFor(t, func() bool {
		return env.player(t, "p1").Status == model.PlayerPending
	})
}

func TestExpiryWithoutBidsUnsoldAction(t *testing.T) {
	env := newTestEnv(t, func(tn *model.Tournament) {
		tn.Automation.AutoTimeoutAction = model.TimeoutToUnsold
	})
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})

	env.clock.Advance(31 * time.Second)

	waitFor(t, func() bool {
		return env.player(t, "p1").Status == model.PlayerUnsold
	})
}

func TestAutoNextPresentsFollowingPlayer(t *testing.T) {
	env := newTestEnv(t, func(tn *model.Tournament) {
		tn.Automation.AutoNextEnabled = true
	})
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})

	env.clock.Advance(31 * time.Second)

	waitFor(t, func() bool {
		snap, err := sess.Snapshot(context.Background())
		return err == nil && snap.CurrentPlayer != nil && snap.CurrentPlayer.ID == "p2"
	})
}

func TestBidRacingExpiryIsOrdered(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, bid("team-a", 50))

	// A raise landing after cancellation of the old countdown must not be
	// lost: whichever message the mailbox orders first wins consistently.
	env.do(t, sess, bid("team-b", 60))
	env.clock.Advance(31 * time.Second)

	waitFor(t, func() bool {
		return env.player(t, "p1").Status == model.PlayerSold
	})
	if p1 := env.player(t, "p1"); p1.SoldToTeamID != "team-b" {
		t.Errorf("expected team-b to win, got %s", p1.SoldToTeamID)
	}
}

// --- Last call ---

func TestLastCallShortensCountdownAndRearmsOnBid(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, bid("team-a", 50))

	env.do(t, sess, auction.Command{Type: auction.CmdLastCall})
	snap, _ := sess.Snapshot(context.Background())
	if snap.Status != model.SessionLastCall {
		t.Fatalf("expected last_call, got %s", snap.Status)
	}
	want := env.clock.Now().Add(10 * time.Second)
	if snap.TimerDeadline == nil || !snap.TimerDeadline.Equal(want) {
		t.Errorf("expected 10s deadline, got %v", snap.TimerDeadline)
	}

	// A raise during last call restarts the short window, not the full timer.
	env.clock.Advance(5 * time.Second)
	env.do(t, sess, bid("team-b", 60))
	snap, _ = sess.Snapshot(context.Background())
	want = env.clock.Now().Add(10 * time.Second)
	if snap.TimerDeadline == nil || !snap.TimerDeadline.Equal(want) {
		t.Errorf("expected re-armed 10s deadline, got %v", snap.TimerDeadline)
	}

	env.clock.Advance(11 * time.Second)
	waitFor(t, func() bool {
		return env.player(t, "p1").Status == model.PlayerSold
	})
	snap, _ = sess.Snapshot(context.Background())
	if snap.Status != model.SessionRunning {
		t.Errorf("expected running after last-call resolution, got %s", snap.Status)
	}
}

// --- Administrative flows ---

func TestWithdrawRemovesCurrentPlayer(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})

	env.do(t, sess, auction.Command{Type: auction.CmdWithdraw, Reason: "injury"})

	p1 := env.player(t, "p1")
	if p1.Status != model.PlayerWithdrawn || p1.WithdrawnFor != "injury" || p1.WithdrawnAt == nil {
		t.Errorf("unexpected withdraw state: %+v", p1)
	}
}

func TestReauctionRequeuesUnsoldPlayer(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, auction.Command{Type: auction.CmdUnsold})

	env.do(t, sess, auction.Command{Type: auction.CmdReauction, PlayerID: "p1"})
	if got := env.player(t, "p1").Status; got != model.PlayerQueued {
		t.Errorf("expected queued, got %s", got)
	}

	// Only unsold players qualify.
	err := sess.Do(context.Background(), auction.Command{Type: auction.CmdReauction, PlayerID: "p2"})
	if !fault.IsInvariant(err) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestForceAuctionBypassesQuotaWithAudit(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, auction.Command{Type: auction.CmdPending})

	env.do(t, sess, auction.Command{Type: auction.CmdForceAuction, PlayerID: "p1"})

	p1 := env.player(t, "p1")
	if p1.Status != model.PlayerQueued || !p1.QuotaBypassed {
		t.Fatalf("expected re-queued with quota bypass, got %+v", p1)
	}

	// Run the queue until p1 comes back up, sell it, and check the audit
	// flag lands on the sale record.
	env.do(t, sess, auction.Command{Type: auction.CmdNext}) // p2
	env.do(t, sess, auction.Command{Type: auction.CmdUnsold})
	env.do(t, sess, auction.Command{Type: auction.CmdNext}) // p3
	env.do(t, sess, auction.Command{Type: auction.CmdUnsold})
	env.do(t, sess, auction.Command{Type: auction.CmdNext}) // p1 again
	env.do(t, sess, bid("team-a", 50))
	env.do(t, sess, auction.Command{Type: auction.CmdSold})

	sales, _ := env.store.ListSales(context.Background(), "t1")
	if len(sales) != 1 || !sales[0].QuotaBypassed {
		t.Errorf("expected audited bypass sale, got %+v", sales)
	}
}

func TestDirectAssignEnforcesBudget(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, auction.Command{Type: auction.CmdPending})

	// Budget is never bypassable, not even with the quota flag set.
	err := sess.Do(context.Background(), auction.Command{
		Type: auction.CmdDirectAssign, PlayerID: "p1", TeamID: "team-a",
		Amount: d(1500), BypassQuota: true,
	})
	if !fault.IsInvariant(err) {
		t.Fatalf("expected budget rejection, got %v", err)
	}
	if got := env.player(t, "p1").Status; got != model.PlayerPending {
		t.Errorf("rejected assign must not change state, got %s", got)
	}

	env.do(t, sess, auction.Command{
		Type: auction.CmdDirectAssign, PlayerID: "p1", TeamID: "team-a", Amount: d(200),
	})
	p1 := env.player(t, "p1")
	if p1.Status != model.PlayerSold || p1.SoldToTeamID != "team-a" {
		t.Errorf("unexpected assign state: %+v", p1)
	}
	sales, _ := env.store.ListSales(context.Background(), "t1")
	if len(sales) != 1 || sales[0].Kind != model.SaleDirect {
		t.Errorf("expected direct_assign sale record, got %+v", sales)
	}
}

func TestQuotaExceededOnlyThroughBypass(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.PutTeam(&model.Team{
		ID: "team-full", TournamentID: "t1", Name: "team-full",
		Budget: d(1000), BudgetUsed: d(300), PlayersBought: 3, MaxPlayers: 3, SeatsReady: 2,
	})
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, auction.Command{Type: auction.CmdPending})

	// Without the bypass flag a full roster blocks the assignment.
	err := sess.Do(context.Background(), auction.Command{
		Type: auction.CmdDirectAssign, PlayerID: "p1", TeamID: "team-full", Amount: d(100),
	})
	if !fault.IsInvariant(err) {
		t.Fatalf("expected quota rejection, got %v", err)
	}

	env.do(t, sess, auction.Command{
		Type: auction.CmdDirectAssign, PlayerID: "p1", TeamID: "team-full",
		Amount: d(100), BypassQuota: true,
	})

	full := env.team(t, "team-full")
	if full.PlayersBought != 4 {
		t.Errorf("expected roster at max+1, got %d", full.PlayersBought)
	}
	sales, _ := env.store.ListSales(context.Background(), "t1")
	if len(sales) != 1 || !sales[0].QuotaBypassed {
		t.Errorf("expected audited bypass in sale history, got %+v", sales)
	}
}

func TestRevokeSaleRestoresBudget(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, bid("team-a", 50))
	env.do(t, sess, auction.Command{Type: auction.CmdSold})

	env.do(t, sess, auction.Command{Type: auction.CmdRevokeSale, PlayerID: "p1"})

	p1 := env.player(t, "p1")
	if p1.Status != model.PlayerQueued || !p1.SoldPrice.IsZero() || len(p1.BidHistory) != 0 {
		t.Errorf("unexpected revoked state: %+v", p1)
	}
	teamA := env.team(t, "team-a")
	if !teamA.BudgetUsed.IsZero() || teamA.PlayersBought != 0 {
		t.Errorf("expected team restored, got used=%s bought=%d", teamA.BudgetUsed, teamA.PlayersBought)
	}
	sales, _ := env.store.ListSales(context.Background(), "t1")
	if len(sales) != 2 || sales[1].Kind != model.SaleRevoked {
		t.Errorf("expected auction + revoked records, got %+v", sales)
	}

	// Revoking again is a rejected no-op.
	err := sess.Do(context.Background(), auction.Command{Type: auction.CmdRevokeSale, PlayerID: "p1"})
	if !fault.IsInvariant(err) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

// --- Events ---

func TestEventsPublishedForKeyTransitions(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, bid("team-a", 50))
	env.do(t, sess, auction.Command{Type: auction.CmdSold})

	want := []broadcast.EventType{
		broadcast.EventAuctionStart,
		broadcast.EventPlayerNext,
		broadcast.EventBidUpdate,
		broadcast.EventPlayerSold,
	}
	got := env.hub.types()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

// --- Restart recovery ---

func TestRehydrationResumesFromSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, bid("team-a", 50))

	// Simulate a process restart: new registry over the same store.
	env.registry.Shutdown()
	registry2 := auction.NewRegistry(auction.Deps{
		Store: env.store,
		Hub:   env.hub,
		Clock: env.clock,
	})
	t.Cleanup(registry2.Shutdown)

	sess2, err := registry2.GetOrCreate(context.Background(), "t1")
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	snap, err := sess2.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != model.SessionRunning {
		t.Errorf("expected running, got %s", snap.Status)
	}
	if snap.CurrentPlayer == nil || snap.CurrentPlayer.ID != "p1" {
		t.Fatalf("expected p1 restored, got %+v", snap.CurrentPlayer)
	}
	if !snap.CurrentPlayer.CurrentBid.Equal(d(50)) {
		t.Errorf("expected current bid 50 restored, got %s", snap.CurrentPlayer.CurrentBid)
	}
	if snap.TimerDeadline == nil {
		t.Error("expected countdown re-armed from persisted deadline")
	}
}
