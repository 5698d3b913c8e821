package web

import (
	"net/http"

	"github.com/vitos/brokerage_gateway/internal/domain"
)

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	summary, err := s.positions.PortfolioSummary(r.Context())
	s.strict(w, http.StatusOK, "Failed to load portfolio", summary, err)
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	list, err := s.positions.List(r.Context())
	s.strict(w, http.StatusOK, "Failed to load positions", list, err)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	position, err := s.positions.Get(r.Context(), r.PathValue("symbol"))
	s.strict(w, http.StatusOK, "Failed to load position", position, err)
}

func (s *Server) handleSyncPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.positions.Reconcile(r.Context())
	if err != nil {
		s.fail(w, "Failed to sync positions", err)
		return
	}
	if positions == nil {
		positions = []*domain.Position{}
	}
	s.writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Positions synchronized",
		Data: map[string]any{
			"synced_positions": len(positions),
			"positions":        positions,
		},
	})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	verr := domain.NewValidationError()
	days := queryInt(r, "days", verr)
	if verr.HasErrors() {
		s.fail(w, "Failed to load performance", verr)
		return
	}
	perf, err := s.analytics.Performance(r.Context(), days)
	s.bestEffort(w, "Failed to load performance", perf, err)
}

func (s *Server) handleDiversification(w http.ResponseWriter, r *http.Request) {
	div, err := s.analytics.Diversification(r.Context())
	s.bestEffort(w, "Failed to load diversification", div, err)
}
