package usecase

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/brokerage_gateway/internal/domain"
	"go.uber.org/zap"
)

const maxSymbolLength = 10

// SubmitOrderInput is the caller's order as received over the API.
type SubmitOrderInput struct {
	Symbol      string              `json:"symbol"`
	Quantity    decimal.NullDecimal `json:"quantity"`
	Side        string              `json:"side"`
	Type        string              `json:"type"`
	TimeInForce string              `json:"time_in_force"`
	Price       decimal.NullDecimal `json:"price"`
	StopPrice   decimal.NullDecimal `json:"stop_price"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
}

// Validate normalizes the input and turns it into a broker request.
func (in SubmitOrderInput) Validate() (domain.OrderRequest, error) {
	verr := domain.NewValidationError()

	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	switch {
	case symbol == "":
		verr.Add("symbol", "is required")
	case len(symbol) > maxSymbolLength:
		verr.Add("symbol", "must be at most 10 characters")
	}

	switch {
	case !in.Quantity.Valid:
		verr.Add("quantity", "is required")
	case !in.Quantity.Decimal.IsPositive():
		verr.Add("quantity", "must be greater than 0")
	}

	side := domain.OrderSide(strings.ToLower(strings.TrimSpace(in.Side)))
	switch {
	case side == "":
		verr.Add("side", "is required")
	case !side.Valid():
		verr.Add("side", "must be one of buy, sell")
	}

	orderType := domain.OrderType(strings.ToLower(strings.TrimSpace(in.Type)))
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}
	if !orderType.Valid() {
		verr.Add("type", "must be one of market, limit, stop, stop_limit")
	}

	tif := domain.TimeInForce(strings.ToLower(strings.TrimSpace(in.TimeInForce)))
	if tif == "" {
		tif = domain.TimeInForceDay
	}
	if !tif.Valid() {
		verr.Add("time_in_force", "must be one of day, gtc, ioc, fok")
	}

	if in.Price.Valid && in.Price.Decimal.IsNegative() {
		verr.Add("price", "must not be negative")
	}
	if in.StopPrice.Valid && in.StopPrice.Decimal.IsNegative() {
		verr.Add("stop_price", "must not be negative")
	}
	if orderType.NeedsLimitPrice() && (!in.Price.Valid || !in.Price.Decimal.IsPositive()) {
		verr.Add("price", "is required for "+string(orderType)+" orders")
	}
	if orderType.NeedsStopPrice() && (!in.StopPrice.Valid || !in.StopPrice.Decimal.IsPositive()) {
		verr.Add("stop_price", "is required for "+string(orderType)+" orders")
	}

	if verr.HasErrors() {
		return domain.OrderRequest{}, verr
	}

	req := domain.OrderRequest{
		Symbol:      symbol,
		Quantity:    in.Quantity.Decimal,
		Side:        side,
		Type:        orderType,
		TimeInForce: tif,
	}
	if orderType.NeedsLimitPrice() {
		req.LimitPrice = in.Price
	}
	if orderType.NeedsStopPrice() {
		req.StopPrice = in.StopPrice
	}
	return req, nil
}

type positionReconciler interface {
	Reconcile(ctx context.Context) ([]*domain.Position, error)
}

// OrderService runs the order lifecycle between the local ledger and the broker.
type OrderService struct {
	orders    domain.OrderRepository
	issues    domain.InconsistencyRepository
	assets    *AssetResolver
	executor  *TradeExecutor
	broker    domain.Broker
	positions positionReconciler
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewOrderService(
	orders domain.OrderRepository,
	issues domain.InconsistencyRepository,
	assets *AssetResolver,
	broker domain.Broker,
	positions positionReconciler,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		orders:    orders,
		issues:    issues,
		assets:    assets,
		executor:  NewTradeExecutor(broker),
		broker:    broker,
		positions: positions,
		logger:    logger,
		timeNow:   time.Now,
	}
}

// Submit validates, sends the order to the broker and records it. No row is
// written unless the broker accepted the order.
func (s *OrderService) Submit(ctx context.Context, in SubmitOrderInput) (*domain.Order, error) {
	req, err := in.Validate()
	if err != nil {
		s.logger.Info("Order rejected", zap.Error(err))
		return nil, err
	}

	asset := s.assets.Resolve(ctx, req.Symbol)
	req = s.executor.Prepare(req)

	bo, err := s.executor.Execute(ctx, req)
	if err != nil {
		s.logger.Error("Failed to submit order",
			zap.String("symbol", req.Symbol),
			zap.String("client_order_id", req.ClientOrderID),
			zap.Error(err))
		return nil, err
	}

	now := s.timeNow().UTC()
	status := bo.Status
	if status == "" {
		status = domain.OrderStatusNew
	}
	order := &domain.Order{
		ClientOrderID:  req.ClientOrderID,
		ExternalID:     bo.ID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		TimeInForce:    req.TimeInForce,
		Quantity:       req.Quantity,
		Price:          in.Price,
		StopPrice:      in.StopPrice,
		FilledQuantity: decimal.Zero,
		Status:         status,
		SubmittedAt:    &now,
		CreatedAt:      now,
		Metadata: domain.OrderMetadata{
			BrokerOrder: bo.Raw,
			Tags:        in.Metadata,
		},
	}

	if err := s.orders.CreateOrder(ctx, asset, order); err != nil {
		return nil, s.reportOrphan(ctx, order, bo, err)
	}

	s.logger.Info("Order submitted",
		zap.Int64("trade_id", order.ID),
		zap.String("external_id", order.ExternalID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("quantity", order.Quantity.String()))
	return order, nil
}

// reportOrphan records a broker-accepted order the ledger could not store.
func (s *OrderService) reportOrphan(ctx context.Context, order *domain.Order, bo *domain.BrokerOrder, cause error) error {
	cerr := &domain.ConsistencyError{
		ClientOrderID: order.ClientOrderID,
		ExternalID:    bo.ID,
		Symbol:        order.Symbol,
		Err:           cause,
	}
	s.logger.Error("Broker accepted order but ledger write failed",
		zap.String("client_order_id", cerr.ClientOrderID),
		zap.String("external_id", cerr.ExternalID),
		zap.String("symbol", cerr.Symbol),
		zap.Error(cause))

	issue := &domain.Inconsistency{
		ClientOrderID: order.ClientOrderID,
		ExternalID:    bo.ID,
		Symbol:        order.Symbol,
		Reason:        cause.Error(),
		Payload:       bo.Raw,
		DetectedAt:    s.timeNow().UTC(),
	}
	if err := s.issues.RecordInconsistency(ctx, issue); err != nil {
		s.logger.Error("Failed to record inconsistency",
			zap.String("external_id", bo.ID),
			zap.Error(err))
	}
	return cerr
}

// Cancel asks the broker to cancel and marks the order canceled locally.
func (s *OrderService) Cancel(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.ExternalID == "" {
		return nil, &domain.InvalidStateError{OrderID: id, Status: order.Status, Reason: "order has no broker id"}
	}
	if order.Status.Terminal() || order.Status == domain.OrderStatusPendingCancel {
		return nil, &domain.InvalidStateError{OrderID: id, Status: order.Status, Reason: "order can no longer be canceled"}
	}

	if err := s.broker.CancelOrder(ctx, order.ExternalID); err != nil {
		s.logger.Error("Failed to cancel order",
			zap.Int64("trade_id", id),
			zap.String("external_id", order.ExternalID),
			zap.Error(err))
		return nil, err
	}

	now := s.timeNow().UTC()
	order.Status = domain.OrderStatusCanceled
	if order.CanceledAt == nil {
		order.CanceledAt = &now
	}
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		s.logger.Error("Broker canceled order but ledger update failed",
			zap.Int64("trade_id", id),
			zap.String("external_id", order.ExternalID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Order canceled", zap.Int64("trade_id", id), zap.String("external_id", order.ExternalID))
	return order, nil
}

// Sync pulls the broker's view of a ledger order and merges it in.
func (s *OrderService) Sync(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.syncOrder(ctx, order)
}

// SyncByExternalID is Sync keyed by the broker's order id.
func (s *OrderService) SyncByExternalID(ctx context.Context, externalID string) (*domain.Order, error) {
	order, err := s.orders.GetOrderByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return s.syncOrder(ctx, order)
}

func (s *OrderService) syncOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if order.ExternalID == "" {
		return nil, &domain.InvalidStateError{OrderID: order.ID, Status: order.Status, Reason: "order has no broker id"}
	}

	bo, err := s.broker.GetOrder(ctx, order.ExternalID)
	if err != nil {
		s.logger.Error("Failed to fetch order from broker",
			zap.Int64("trade_id", order.ID),
			zap.String("external_id", order.ExternalID),
			zap.Error(err))
		return nil, err
	}

	MergeBrokerOrder(order, bo)
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		s.logger.Error("Failed to store synced order", zap.Int64("trade_id", order.ID), zap.Error(err))
		return nil, err
	}

	if order.Status.HasFills() && s.positions != nil {
		if _, err := s.positions.Reconcile(ctx); err != nil {
			s.logger.Warn("Position reconcile after fill failed",
				zap.Int64("trade_id", order.ID),
				zap.String("symbol", order.Symbol),
				zap.Error(err))
		}
	}
	return order, nil
}

// statusRank orders lifecycle stages. Cancel and replace requests can follow
// a partial fill, so they share its stage and the broker's latest report wins.
func statusRank(s domain.OrderStatus) int {
	switch {
	case s == "":
		return 0
	case s.Terminal():
		return 3
	case s == domain.OrderStatusPartiallyFilled,
		s == domain.OrderStatusPendingCancel,
		s == domain.OrderStatusPendingReplace:
		return 2
	default:
		return 1
	}
}

// MergeBrokerOrder folds the broker's view into order. Filled quantity never
// decreases and never exceeds the requested quantity, timestamps are only
// ever set, and a status never moves back to an earlier stage.
func MergeBrokerOrder(order *domain.Order, bo *domain.BrokerOrder) {
	if statusRank(bo.Status) >= statusRank(order.Status) {
		order.Status = bo.Status
	}

	filled := decimal.Max(order.FilledQuantity, bo.FilledQuantity)
	if order.Quantity.IsPositive() && filled.GreaterThan(order.Quantity) {
		filled = order.Quantity
	}
	order.FilledQuantity = filled

	if bo.FilledAvgPrice.Valid {
		order.FilledAvgPrice = bo.FilledAvgPrice
	}

	order.SubmittedAt = keepTime(order.SubmittedAt, bo.SubmittedAt)
	order.FilledAt = keepTime(order.FilledAt, bo.FilledAt)
	order.CanceledAt = keepTime(order.CanceledAt, bo.CanceledAt)
	order.ExpiredAt = keepTime(order.ExpiredAt, bo.ExpiredAt)

	if len(bo.Raw) > 0 {
		order.Metadata.BrokerOrder = bo.Raw
	}
}

func keepTime(local, remote *time.Time) *time.Time {
	if remote == nil {
		return local
	}
	t := remote.UTC()
	return &t
}

// RecoveryReport summarizes one RecoverOrphans pass.
type RecoveryReport struct {
	Checked   int      `json:"checked"`
	Recovered int      `json:"recovered"`
	Missing   int      `json:"missing"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// RecoverOrphans re-queries the broker by client order id for every
// unresolved inconsistency and writes the missing ledger rows.
func (s *OrderService) RecoverOrphans(ctx context.Context) (*RecoveryReport, error) {
	issues, err := s.issues.ListUnresolvedInconsistencies(ctx)
	if err != nil {
		return nil, err
	}

	report := &RecoveryReport{}
	for _, issue := range issues {
		report.Checked++
		if err := s.recoverOne(ctx, issue, report); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, issue.ClientOrderID+": "+err.Error())
			s.logger.Error("Orphan recovery failed",
				zap.String("client_order_id", issue.ClientOrderID),
				zap.String("external_id", issue.ExternalID),
				zap.Error(err))
		}
	}

	s.logger.Info("Orphan recovery finished",
		zap.Int("checked", report.Checked),
		zap.Int("recovered", report.Recovered),
		zap.Int("missing", report.Missing),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (s *OrderService) recoverOne(ctx context.Context, issue *domain.Inconsistency, report *RecoveryReport) error {
	now := s.timeNow().UTC()

	if _, err := s.orders.GetOrderByClientID(ctx, issue.ClientOrderID); err == nil {
		report.Recovered++
		return s.issues.ResolveInconsistency(ctx, issue.ID, now)
	} else if !domain.IsNotFound(err) {
		return err
	}

	bo, err := s.broker.GetOrderByClientID(ctx, issue.ClientOrderID)
	if err != nil {
		if domain.IsBrokerStatus(err, http.StatusNotFound) {
			// Left unresolved for manual reconciliation.
			report.Missing++
			s.logger.Warn("Orphaned order unknown to broker",
				zap.Int64("issue_id", issue.ID),
				zap.String("client_order_id", issue.ClientOrderID),
				zap.String("external_id", issue.ExternalID))
			return nil
		}
		return err
	}

	order := orderFromBroker(bo, issue)
	asset := s.assets.Resolve(ctx, order.Symbol)
	if err := s.orders.CreateOrder(ctx, asset, order); err != nil {
		return err
	}
	report.Recovered++
	s.logger.Info("Recovered orphaned order",
		zap.Int64("trade_id", order.ID),
		zap.String("external_id", order.ExternalID),
		zap.String("client_order_id", order.ClientOrderID))
	return s.issues.ResolveInconsistency(ctx, issue.ID, now)
}

func orderFromBroker(bo *domain.BrokerOrder, issue *domain.Inconsistency) *domain.Order {
	symbol := strings.ToUpper(bo.Symbol)
	if symbol == "" {
		symbol = issue.Symbol
	}
	submitted := bo.SubmittedAt
	if submitted == nil {
		t := issue.DetectedAt
		submitted = &t
	}
	order := &domain.Order{
		ClientOrderID:  issue.ClientOrderID,
		ExternalID:     bo.ID,
		Symbol:         symbol,
		Side:           bo.Side,
		Type:           bo.Type,
		TimeInForce:    bo.TimeInForce,
		Quantity:       bo.Quantity,
		Price:          bo.LimitPrice,
		StopPrice:      bo.StopPrice,
		FilledQuantity: decimal.Zero,
		Status:         domain.OrderStatusNew,
		SubmittedAt:    submitted,
		Metadata:       domain.OrderMetadata{Tags: map[string]string{"recovered": "true"}},
	}
	if order.Type == "" {
		order.Type = domain.OrderTypeMarket
	}
	if order.TimeInForce == "" {
		order.TimeInForce = domain.TimeInForceDay
	}
	MergeBrokerOrder(order, bo)
	return order
}

// List returns one page of ledger orders, newest first, and the total count.
func (s *OrderService) List(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, int, error) {
	filter.Symbol = strings.ToUpper(strings.TrimSpace(filter.Symbol))
	return s.orders.ListOrders(ctx, filter.Normalize())
}

func (s *OrderService) Get(ctx context.Context, id int64) (*domain.Order, error) {
	return s.orders.GetOrder(ctx, id)
}
