package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vitos/brokerage_gateway/internal/usecase"
	"go.uber.org/zap"
)

const apiPrefix = "/api/v1"

// Services are the use cases the API exposes.
type Services struct {
	Orders    *usecase.OrderService
	Positions *usecase.PositionService
	Analytics *usecase.AnalyticsService
	Market    *usecase.MarketService
}

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	orders    *usecase.OrderService
	positions *usecase.PositionService
	analytics *usecase.AnalyticsService
	market    *usecase.MarketService
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewServer(port int, services Services, logger *zap.Logger) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		orders:    services.Orders,
		positions: services.Positions,
		analytics: services.Analytics,
		market:    services.Market,
		logger:    logger,
		timeNow:   time.Now,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Trading
	s.router.HandleFunc("POST "+apiPrefix+"/trading/orders", s.handleSubmitOrder)
	s.router.HandleFunc("GET "+apiPrefix+"/trading/orders", s.handleListOrders)
	s.router.HandleFunc("GET "+apiPrefix+"/trading/orders/{id}", s.handleGetOrder)
	s.router.HandleFunc("DELETE "+apiPrefix+"/trading/orders/{id}", s.handleCancelOrder)
	s.router.HandleFunc("POST "+apiPrefix+"/trading/orders/{id}/sync", s.handleSyncOrder)
	s.router.HandleFunc("GET "+apiPrefix+"/trading/stats", s.handleTradingStats)

	// Portfolio
	s.router.HandleFunc("GET "+apiPrefix+"/portfolio", s.handlePortfolio)
	s.router.HandleFunc("GET "+apiPrefix+"/portfolio/positions", s.handleListPositions)
	s.router.HandleFunc("GET "+apiPrefix+"/portfolio/positions/{symbol}", s.handleGetPosition)
	s.router.HandleFunc("POST "+apiPrefix+"/portfolio/positions/sync", s.handleSyncPositions)
	s.router.HandleFunc("GET "+apiPrefix+"/portfolio/performance", s.handlePerformance)
	s.router.HandleFunc("GET "+apiPrefix+"/portfolio/diversification", s.handleDiversification)

	// Dashboard
	s.router.HandleFunc("GET "+apiPrefix+"/dashboard", s.handleDashboard)
	s.router.HandleFunc("GET "+apiPrefix+"/dashboard/analytics", s.handleAnalytics)

	// Market data
	s.router.HandleFunc("GET "+apiPrefix+"/market-data/quote/{symbol}", s.handleQuote)
	s.router.HandleFunc("GET "+apiPrefix+"/market-data/historical/{symbol}", s.handleHistorical)
	s.router.HandleFunc("GET "+apiPrefix+"/market-data/company/{symbol}", s.handleCompany)
	s.router.HandleFunc("GET "+apiPrefix+"/market-data/search", s.handleSearchSymbols)
	s.router.HandleFunc("GET "+apiPrefix+"/market-data/crypto", s.handleCrypto)
	s.router.HandleFunc("GET "+apiPrefix+"/market-data/status", s.handleMarketStatus)

	// Status
	s.router.HandleFunc("GET "+apiPrefix+"/health", s.handleHealth)
}

// Handler is the routed API with request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.router)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
