package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	xerrors "VelocityVault/internal/errors"
	"VelocityVault/internal/intent"
	"VelocityVault/internal/portfolio"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
		"version":   Version,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "VelocityVault API",
		"version":     Version,
		"description": "Backend API for VelocityVault autonomous trading agent",
		"endpoints": map[string]string{
			"/health":              "Health check",
			"/session":             "Yellow Network mandate management",
			"/intent":              "Agent start/stop controls",
			"/intents":             "Agent trade intent queue",
			"/state/:address":      "Portfolio state",
			"/logs/:address":       "Activity feed",
			"/ens/:address/update": "Update ENS reputation records",
			"/ens/:ensName":        "Read ENS VelocityVault records",
		},
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mandate *portfolio.Mandate `json:"mandate"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Mandate == nil {
		writeError(w, http.StatusBadRequest, "Invalid mandate: mandate is required")
		return
	}
	created, err := s.portfolio.CreateSession(r.Context(), *body.Mandate)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	mandate, err := s.portfolio.ActiveSession(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, mandate)
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.portfolio.RevokeSession(r.Context(), chi.URLParam(r, "address")); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var in portfolio.Intent
	if !decodeBody(w, r, &in) {
		return
	}
	state, err := s.portfolio.ApplyIntent(r.Context(), in)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, state)
}

func (s *Server) handleUpdatePnL(w http.ResponseWriter, r *http.Request) {
	var update portfolio.PnLUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	if err := s.portfolio.UpdatePnL(r.Context(), update); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Server) handleListIntents(w http.ResponseWriter, r *http.Request) {
	if s.intents == nil {
		writeFailure(w, r, xerrors.New(xerrors.CodeNotConfigured, "Intent queue not configured"))
		return
	}
	var statuses []intent.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = append(statuses, intent.Status(raw))
	}
	stats, err := s.intents.Stats(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	items, err := s.intents.List(r.Context(), queryInt(r, "limit", 20), statuses...)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"stats": stats, "intents": items})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	includeENS := r.URL.Query().Get("includeEns") == "true"
	state, err := s.portfolio.State(r.Context(), chi.URLParam(r, "address"), includeENS)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, state)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.portfolio.Positions(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, positions)
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	summary, err := s.portfolio.PnL(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, summary)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	feed, err := s.portfolio.Activity(r.Context(), chi.URLParam(r, "address"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, feed)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.portfolio.Trades(r.Context(), chi.URLParam(r, "address"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, trades)
}

func (s *Server) handlePnLHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.portfolio.PnLHistory(r.Context(), chi.URLParam(r, "address"), queryInt(r, "limit", 100))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, history)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.portfolio.Stats(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

func (s *Server) handleUpdateENS(w http.ResponseWriter, r *http.Request) {
	update, err := s.portfolio.UpdateENS(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, update)
}

func (s *Server) handleRegisterENS(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ENSName string `json:"ensName"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	user, err := s.portfolio.RegisterENSName(r.Context(), chi.URLParam(r, "address"), body.ENSName)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (s *Server) handleReadENS(w http.ResponseWriter, r *http.Request) {
	view, err := s.portfolio.ReadENS(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}
