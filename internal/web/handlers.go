package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/brokerage_gateway/internal/domain"
	"github.com/vitos/brokerage_gateway/internal/usecase"
)

// submittedOrder is the creation receipt returned by POST /trading/orders.
type submittedOrder struct {
	TradeID     int64               `json:"trade_id"`
	ExternalID  string              `json:"external_id"`
	Symbol      string              `json:"symbol"`
	Side        domain.OrderSide    `json:"side"`
	Type        domain.OrderType    `json:"type"`
	Quantity    decimal.Decimal     `json:"quantity"`
	Price       decimal.NullDecimal `json:"price"`
	Status      domain.OrderStatus  `json:"status"`
	SubmittedAt *time.Time          `json:"submitted_at"`
}

type pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type orderList struct {
	Orders     []*domain.Order `json:"orders"`
	Pagination pagination      `json:"pagination"`
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var in usecase.SubmitOrderInput
	if err := decodeBody(r, &in); err != nil {
		s.fail(w, "Failed to submit order", err)
		return
	}

	order, err := s.orders.Submit(r.Context(), in)
	if err != nil {
		s.fail(w, "Failed to submit order", err)
		return
	}

	s.writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Message: "Order submitted successfully",
		Data: submittedOrder{
			TradeID:     order.ID,
			ExternalID:  order.ExternalID,
			Symbol:      order.Symbol,
			Side:        order.Side,
			Type:        order.Type,
			Quantity:    order.Quantity,
			Price:       order.Price,
			Status:      order.Status,
			SubmittedAt: order.SubmittedAt,
		},
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	verr := domain.NewValidationError()
	q := r.URL.Query()
	filter := domain.OrderFilter{
		Symbol:  q.Get("symbol"),
		Status:  domain.OrderStatus(strings.ToLower(q.Get("status"))),
		Side:    domain.OrderSide(strings.ToLower(q.Get("side"))),
		Page:    queryInt(r, "page", verr),
		PerPage: queryInt(r, "per_page", verr),
	}
	if filter.Side != "" && !filter.Side.Valid() {
		verr.Add("side", "must be one of buy, sell")
	}
	if verr.HasErrors() {
		s.fail(w, "Failed to list orders", verr)
		return
	}

	orders, total, err := s.orders.List(r.Context(), filter)
	if err != nil {
		s.fail(w, "Failed to list orders", err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}

	filter = filter.Normalize()
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: orderList{
		Orders: orders,
		Pagination: pagination{
			Page:       filter.Page,
			PerPage:    filter.PerPage,
			Total:      total,
			TotalPages: (total + filter.PerPage - 1) / filter.PerPage,
		},
	}})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, "Failed to load order", err)
		return
	}
	order, err := s.orders.Get(r.Context(), id)
	s.strict(w, http.StatusOK, "Failed to load order", order, err)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, "Failed to cancel order", err)
		return
	}

	order, err := s.orders.Cancel(r.Context(), id)
	if err != nil {
		s.fail(w, "Failed to cancel order", err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Order canceled successfully",
		Data: map[string]any{
			"trade_id":    order.ID,
			"status":      order.Status,
			"canceled_at": order.CanceledAt,
		},
	})
}

func (s *Server) handleSyncOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, "Failed to sync order", err)
		return
	}
	order, err := s.orders.Sync(r.Context(), id)
	s.strict(w, http.StatusOK, "Failed to sync order", order, err)
}

func (s *Server) handleTradingStats(w http.ResponseWriter, r *http.Request) {
	verr := domain.NewValidationError()
	from := queryDate(r, "from", verr)
	to := queryDate(r, "to", verr)
	if verr.HasErrors() {
		s.fail(w, "Failed to load trading stats", verr)
		return
	}

	stats, err := s.analytics.TradingStats(r.Context(), from, to)
	s.bestEffort(w, "Failed to load trading stats", stats, err)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{
		"status":    "ok",
		"timestamp": s.timeNow().UTC(),
	}})
}

// queryDate accepts YYYY-MM-DD or an RFC 3339 timestamp.
func queryDate(r *http.Request, name string, verr *domain.ValidationError) time.Time {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		verr.Add(name, "must be a date in YYYY-MM-DD or RFC 3339 format")
		return time.Time{}
	}
	return t.UTC()
}
