package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vitos/brokerage_gateway/internal/domain"
)

// TradeExecutor sends validated order requests to the broker, tagging each
// with an idempotency key the broker echoes back.
type TradeExecutor struct {
	broker domain.Broker
	newID  func() string
}

func NewTradeExecutor(broker domain.Broker) *TradeExecutor {
	return &TradeExecutor{
		broker: broker,
		newID:  func() string { return uuid.NewString() },
	}
}

// Prepare assigns a client order id if the request has none.
func (e *TradeExecutor) Prepare(req domain.OrderRequest) domain.OrderRequest {
	if req.ClientOrderID == "" {
		req.ClientOrderID = e.newID()
	}
	return req
}

func (e *TradeExecutor) Execute(ctx context.Context, req domain.OrderRequest) (*domain.BrokerOrder, error) {
	if !req.Side.Valid() {
		return nil, fmt.Errorf("invalid side: %s", req.Side)
	}
	req = e.Prepare(req)

	order, err := e.broker.SubmitOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = req.ClientOrderID
	}
	return order, nil
}
