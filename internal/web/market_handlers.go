package web

import (
	"net/http"
	"strings"

	"github.com/vitos/brokerage_gateway/internal/domain"
	"github.com/vitos/brokerage_gateway/internal/usecase"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.bestEffort(w, "Failed to load dashboard", s.analytics.Dashboard(r.Context()), nil)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := s.analytics.Analytics(r.Context())
	s.bestEffort(w, "Failed to load analytics", analytics, err)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := s.market.Quote(r.Context(), r.PathValue("symbol"))
	s.strict(w, http.StatusOK, "Failed to load quote", quote, err)
}

func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	verr := domain.NewValidationError()
	q := usecase.BarsQuery{
		Symbol:    r.PathValue("symbol"),
		Timeframe: r.URL.Query().Get("timeframe"),
		Start:     queryDate(r, "start", verr),
		End:       queryDate(r, "end", verr),
		Limit:     queryInt(r, "limit", verr),
	}
	if verr.HasErrors() {
		s.fail(w, "Failed to retrieve historical data", verr)
		return
	}
	data, err := s.market.HistoricalBars(r.Context(), q)
	s.strict(w, http.StatusOK, "Failed to retrieve historical data", data, err)
}

func (s *Server) handleCompany(w http.ResponseWriter, r *http.Request) {
	overview, err := s.market.CompanyInfo(r.Context(), r.PathValue("symbol"))
	s.strict(w, http.StatusOK, "Failed to retrieve company information", overview, err)
}

func (s *Server) handleSearchSymbols(w http.ResponseWriter, r *http.Request) {
	matches, err := s.market.SearchSymbols(r.Context(), r.URL.Query().Get("keywords"))
	s.strict(w, http.StatusOK, "Failed to search symbols", matches, err)
}

func (s *Server) handleCrypto(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			ids = append(ids, id)
		}
	}
	prices, err := s.market.CryptoPrices(r.Context(), ids, r.URL.Query().Get("vs_currency"))
	s.strict(w, http.StatusOK, "Failed to load crypto prices", prices, err)
}

func (s *Server) handleMarketStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: s.market.MarketStatus()})
}
