// Package gateway provides the HTTP surface of the auction engine: command
// routes that feed the per-tournament session, snapshot reads, and the
// websocket event stream.
//
// All monetary values use shopspring/decimal — never float64 for money.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pitchside/auction-engine/internal/auction"
	"github.com/pitchside/auction-engine/internal/broadcast"
	"github.com/pitchside/auction-engine/internal/fault"
	"github.com/pitchside/auction-engine/internal/model"
	"github.com/pitchside/auction-engine/internal/rules"
	"github.com/pitchside/auction-engine/internal/store"
)

// Service routes auction commands and snapshot queries.
type Service struct {
	registry *auction.Registry
	store    store.Store
	hub      *broadcast.Hub
	auth     *Auth
}

// NewService creates the gateway service.
func NewService(registry *auction.Registry, st store.Store, hub *broadcast.Hub, auth *Auth) *Service {
	return &Service{registry: registry, store: st, hub: hub, auth: auth}
}

// Routes mounts everything under /tournaments/{tournamentID}.
func (s *Service) Routes(r chi.Router) {
	r.Route("/tournaments/{tournamentID}", func(r chi.Router) {
		// Viewer-facing reads.
		r.Get("/auction", s.GetAuction)
		r.Get("/auction/teams", s.GetTeams)
		r.Get("/auction/summary", s.GetSummary)
		r.Get("/auction/sales", s.GetSales)
		r.Get("/auction/ws", s.HandleWS)

		// Operator commands.
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Require)
			r.Post("/auction/start", s.Start)
			r.Post("/auction/pause", s.command(auction.CmdPause))
			r.Post("/auction/resume", s.command(auction.CmdResume))
			r.Post("/auction/stop", s.command(auction.CmdStop))
			r.Post("/auction/end", s.command(auction.CmdEnd))
			r.Post("/auction/next", s.command(auction.CmdNext))
			r.Post("/auction/bid", s.Bid)
			r.Post("/auction/sold", s.command(auction.CmdSold))
			r.Post("/auction/mark-unsold", s.command(auction.CmdUnsold))
			r.Post("/auction/pending", s.command(auction.CmdPending))
			r.Post("/auction/last-call/start", s.LastCall)
			r.Post("/auction/withdraw", s.Withdraw)
			r.Post("/auction/reauction/{playerID}", s.Reauction)
			r.Post("/auction/pending/force-auction/{playerID}", s.ForceAuction)
			r.Post("/auction/pending/direct-assign/{playerID}", s.DirectAssign)
			r.Post("/auction/revoke-sale/{playerID}", s.RevokeSale)
			r.Post("/auction/lock", s.Lock)
		})
	})
}

// --- Request types ---

// StartRequest is the JSON body for POST .../auction/start.
type StartRequest struct {
	BypassReadiness bool `json:"bypass_readiness"`
}

// BidRequest is the JSON body for POST .../auction/bid.
type BidRequest struct {
	TeamID string          `json:"team_id"`
	Amount decimal.Decimal `json:"amount"`
}

// LastCallRequest is the JSON body for POST .../auction/last-call/start.
type LastCallRequest struct {
	TimerSeconds int `json:"timer_seconds"`
}

// WithdrawRequest is the JSON body for POST .../auction/withdraw.
type WithdrawRequest struct {
	Reason string `json:"reason"`
}

// DirectAssignRequest is the JSON body for POST .../auction/pending/direct-assign/{playerID}.
type DirectAssignRequest struct {
	TeamID      string          `json:"team_id"`
	Price       decimal.Decimal `json:"price"`
	BypassQuota bool            `json:"bypass_quota"`
}

// --- Command handlers ---

// command builds a handler for body-less commands.
func (s *Service) command(t auction.CommandType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.apply(w, r, auction.Command{Type: t})
	}
}

// Start handles POST .../auction/start.
func (s *Service) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.apply(w, r, auction.Command{Type: auction.CmdStart, BypassReadiness: req.BypassReadiness})
}

// Bid handles POST .../auction/bid.
func (s *Service) Bid(w http.ResponseWriter, r *http.Request) {
	var req BidRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TeamID == "" {
		writeFault(w, fault.NewValidation("team_id is required"))
		return
	}
	if !req.Amount.IsPositive() {
		writeFault(w, fault.NewValidation("amount must be positive"))
		return
	}
	s.apply(w, r, auction.Command{Type: auction.CmdBid, TeamID: req.TeamID, Amount: req.Amount})
}

// LastCall handles POST .../auction/last-call/start.
func (s *Service) LastCall(w http.ResponseWriter, r *http.Request) {
	var req LastCallRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TimerSeconds < 0 {
		writeFault(w, fault.NewValidation("timer_seconds must not be negative"))
		return
	}
	s.apply(w, r, auction.Command{Type: auction.CmdLastCall, TimerSeconds: req.TimerSeconds})
}

// Withdraw handles POST .../auction/withdraw.
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.apply(w, r, auction.Command{Type: auction.CmdWithdraw, Reason: req.Reason})
}

// Reauction handles POST .../auction/reauction/{playerID}.
func (s *Service) Reauction(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, auction.Command{Type: auction.CmdReauction, PlayerID: chi.URLParam(r, "playerID")})
}

// ForceAuction handles POST .../auction/pending/force-auction/{playerID}.
func (s *Service) ForceAuction(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, auction.Command{Type: auction.CmdForceAuction, PlayerID: chi.URLParam(r, "playerID")})
}

// DirectAssign handles POST .../auction/pending/direct-assign/{playerID}.
func (s *Service) DirectAssign(w http.ResponseWriter, r *http.Request) {
	var req DirectAssignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TeamID == "" {
		writeFault(w, fault.NewValidation("team_id is required"))
		return
	}
	s.apply(w, r, auction.Command{
		Type:        auction.CmdDirectAssign,
		PlayerID:    chi.URLParam(r, "playerID"),
		TeamID:      req.TeamID,
		Amount:      req.Price,
		BypassQuota: req.BypassQuota,
	})
}

// RevokeSale handles POST .../auction/revoke-sale/{playerID}.
func (s *Service) RevokeSale(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, auction.Command{Type: auction.CmdRevokeSale, PlayerID: chi.URLParam(r, "playerID")})
}

// Lock handles POST .../auction/lock. Super-admin only: locking is the
// terminal, irreversible archive step.
func (s *Service) Lock(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	s.apply(w, r, auction.Command{Type: auction.CmdLock})
}

// apply routes a command to the tournament's session and writes the
// refreshed snapshot on success.
func (s *Service) apply(w http.ResponseWriter, r *http.Request, cmd auction.Command) {
	tournamentID := chi.URLParam(r, "tournamentID")
	ctx := r.Context()

	sess, err := s.registry.GetOrCreate(ctx, tournamentID)
	if err != nil {
		writeFault(w, err)
		return
	}
	if err := sess.Do(ctx, cmd); err != nil {
		writeFault(w, err)
		return
	}

	snap, err := sess.Snapshot(ctx)
	if err != nil {
		writeFault(w, err)
		return
	}
	slog.Info("command applied", "tournament", tournamentID, "command", cmd.Type, "status", snap.Status)
	writeJSON(w, http.StatusOK, snap)
}

// --- Snapshot handlers ---

// GetAuction handles GET .../auction — the live session view.
func (s *Service) GetAuction(w http.ResponseWriter, r *http.Request) {
	tournamentID := chi.URLParam(r, "tournamentID")

	sess, err := s.registry.GetOrCreate(r.Context(), tournamentID)
	if err != nil {
		writeFault(w, err)
		return
	}
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// TeamView is a team record extended with the derived bidding headroom
// the operator console displays next to each budget.
type TeamView struct {
	model.Team
	RemainingBudget decimal.Decimal `json:"remaining_budget"`
	MaxPossibleBid  decimal.Decimal `json:"max_possible_bid"`
}

// GetTeams handles GET .../auction/teams — budgets, rosters, and the
// reserve-aware maximum each team can still commit to one player.
func (s *Service) GetTeams(w http.ResponseWriter, r *http.Request) {
	tournamentID := chi.URLParam(r, "tournamentID")
	ctx := r.Context()

	tournament, err := s.store.GetTournament(ctx, tournamentID)
	if err != nil {
		writeFault(w, err)
		return
	}
	teams, err := s.store.ListTeams(ctx, tournamentID)
	if err != nil {
		writeFault(w, err)
		return
	}

	views := make([]TeamView, 0, len(teams))
	for i := range teams {
		views = append(views, TeamView{
			Team:            teams[i],
			RemainingBudget: teams[i].RemainingBudget(),
			MaxPossibleBid:  rules.MaxPossibleBid(&teams[i], tournament.Rules),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// SummaryResponse is the aggregate view returned by GET .../auction/summary.
type SummaryResponse struct {
	TournamentID string              `json:"tournament_id"`
	Status       model.SessionStatus `json:"status"`
	Players      map[string]int      `json:"players_by_status"`
	TotalSpent   decimal.Decimal     `json:"total_spent"`
	TeamCount    int                 `json:"team_count"`
}

// GetSummary handles GET .../auction/summary.
func (s *Service) GetSummary(w http.ResponseWriter, r *http.Request) {
	tournamentID := chi.URLParam(r, "tournamentID")
	ctx := r.Context()

	players, err := s.store.ListPlayers(ctx, tournamentID)
	if err != nil {
		writeFault(w, err)
		return
	}
	teams, err := s.store.ListTeams(ctx, tournamentID)
	if err != nil {
		writeFault(w, err)
		return
	}

	resp := SummaryResponse{
		TournamentID: tournamentID,
		Status:       model.SessionStopped,
		Players:      make(map[string]int),
		TotalSpent:   decimal.Zero,
		TeamCount:    len(teams),
	}
	for _, p := range players {
		resp.Players[string(p.Status)]++
	}
	for _, t := range teams {
		resp.TotalSpent = resp.TotalSpent.Add(t.BudgetUsed)
	}
	if sess, ok := s.registry.Get(tournamentID); ok {
		if snap, err := sess.Snapshot(ctx); err == nil {
			resp.Status = snap.Status
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSales handles GET .../auction/sales — the immutable sale ledger.
func (s *Service) GetSales(w http.ResponseWriter, r *http.Request) {
	sales, err := s.store.ListSales(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	if sales == nil {
		sales = []model.SaleRecord{}
	}
	writeJSON(w, http.StatusOK, sales)
}

// HandleWS handles GET .../auction/ws.
func (s *Service) HandleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleWS(chi.URLParam(r, "tournamentID"), w, r)
}

// --- Encoding helpers ---

// decodeBody strictly decodes a JSON request body. An empty body decodes
// to the zero request; unknown fields are rejected so a typoed flag never
// silently turns into a default.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		writeFault(w, fault.NewValidation("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeFault maps the error taxonomy onto HTTP statuses.
func writeFault(w http.ResponseWriter, err error) {
	var (
		validation *fault.Validation
		permission *fault.Permission
		notFound   *fault.NotFound
		readiness  *fault.Readiness
		invariant  *fault.Invariant
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Reason})
	case errors.As(err, &permission):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": permission.Reason})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": notFound.Error()})
	case errors.As(err, &readiness):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "auction is not ready to start",
			"reasons": readiness.Reasons,
		})
	case errors.As(err, &invariant):
		writeJSON(w, http.StatusConflict, map[string]string{"error": invariant.Reason})
	case errors.Is(err, auction.ErrSessionClosed):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session is shutting down"})
	default:
		slog.Error("internal error", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
