package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/brokerage_gateway/internal/domain"
)

func TestTradeExecutor_Execute(t *testing.T) {
	broker := NewMockBroker()
	broker.SubmitResp = &domain.BrokerOrder{ID: "ext-1", Status: domain.OrderStatusAccepted}
	executor := NewTradeExecutor(broker)
	executor.newID = func() string { return "client-1" }
	ctx := context.Background()

	// Buy
	bo, err := executor.Execute(ctx, domain.OrderRequest{Symbol: "AAPL", Quantity: dec("1"), Side: domain.OrderSideBuy})
	require.NoError(t, err)
	assert.Equal(t, "client-1", bo.ClientOrderID)
	assert.Equal(t, "client-1", broker.Submitted[0].ClientOrderID)

	// Sell keeps a caller-supplied id
	bo, err = executor.Execute(ctx, domain.OrderRequest{ClientOrderID: "mine", Symbol: "AAPL", Quantity: dec("1"), Side: domain.OrderSideSell})
	require.NoError(t, err)
	assert.Equal(t, "mine", bo.ClientOrderID)

	_, err = executor.Execute(ctx, domain.OrderRequest{Symbol: "AAPL", Quantity: dec("1"), Side: "hold"})
	assert.Error(t, err)
	assert.Len(t, broker.Submitted, 2)
}

func TestTradeExecutor_PrepareGeneratesUniqueIDs(t *testing.T) {
	executor := NewTradeExecutor(NewMockBroker())

	a := executor.Prepare(domain.OrderRequest{})
	b := executor.Prepare(domain.OrderRequest{})
	assert.NotEmpty(t, a.ClientOrderID)
	assert.NotEqual(t, a.ClientOrderID, b.ClientOrderID)
}
