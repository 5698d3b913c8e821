package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/brokerage_gateway/internal/domain"
	"go.uber.org/zap"
)

// PositionList is the positions endpoint payload.
type PositionList struct {
	Positions []*domain.Position `json:"positions"`
	Summary   PositionSummary    `json:"summary"`
}

type PositionSummary struct {
	TotalPositions           int             `json:"total_positions"`
	TotalValue               decimal.Decimal `json:"total_value"`
	TotalUnrealizedPL        decimal.Decimal `json:"total_unrealized_pl"`
	TotalUnrealizedPLPercent decimal.Decimal `json:"total_unrealized_pl_percent"`
}

// PortfolioSummary combines the broker account with the mirrored positions.
type PortfolioSummary struct {
	Account           domain.Account     `json:"account"`
	Positions         []*domain.Position `json:"positions"`
	TotalPositions    int                `json:"total_positions"`
	TotalUnrealizedPL decimal.Decimal    `json:"total_unrealized_pl"`
	Error             string             `json:"error,omitempty"`
}

// PositionService mirrors broker holdings into the ledger.
type PositionService struct {
	positions domain.PositionRepository
	assets    *AssetResolver
	broker    domain.Broker
	logger    *zap.Logger
	timeNow   func() time.Time

	// mu serializes reconciliations inside this process; the store
	// serializes them across processes.
	mu sync.Mutex
}

func NewPositionService(positions domain.PositionRepository, assets *AssetResolver, broker domain.Broker, logger *zap.Logger) *PositionService {
	return &PositionService{
		positions: positions,
		assets:    assets,
		broker:    broker,
		logger:    logger,
		timeNow:   time.Now,
	}
}

// Reconcile replaces the stored positions with the broker's current list.
func (s *PositionService) Reconcile(ctx context.Context) ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remote, err := s.broker.ListPositions(ctx)
	if err != nil {
		s.logger.Error("Failed to fetch broker positions", zap.Error(err))
		return nil, err
	}

	now := s.timeNow().UTC()
	bySymbol := make(map[string]*domain.Position, len(remote))
	symbols := make([]string, 0, len(remote))
	for _, bp := range remote {
		symbol := strings.ToUpper(strings.TrimSpace(bp.Symbol))
		if symbol == "" {
			continue
		}
		if _, seen := bySymbol[symbol]; !seen {
			symbols = append(symbols, symbol)
		}
		bySymbol[symbol] = s.mirror(ctx, symbol, bp, now)
	}

	positions := make([]*domain.Position, 0, len(symbols))
	for _, symbol := range symbols {
		positions = append(positions, bySymbol[symbol])
	}

	if err := s.positions.ReplacePositions(ctx, positions); err != nil {
		s.logger.Error("Failed to replace positions", zap.Error(err))
		return nil, err
	}

	s.logger.Info("Positions reconciled", zap.Int("count", len(positions)))
	return positions, nil
}

func (s *PositionService) mirror(ctx context.Context, symbol string, bp domain.BrokerPosition, now time.Time) *domain.Position {
	asset := s.assets.Resolve(ctx, symbol)
	if asset.ID == 0 && bp.AssetClass != "" {
		asset.Class = bp.AssetClass
	}

	side := bp.Side
	if side == "" {
		side = domain.PositionSideLong
		if bp.Quantity.IsNegative() {
			side = domain.PositionSideShort
		}
	}

	return &domain.Position{
		Symbol:         symbol,
		Quantity:       bp.Quantity.Abs(),
		Side:           side,
		AvgEntryPrice:  bp.AvgEntryPrice,
		MarketValue:    bp.MarketValue,
		CostBasis:      bp.CostBasis,
		UnrealizedPL:   bp.UnrealizedPL,
		UnrealizedPLPC: bp.UnrealizedPLPC,
		CurrentPrice:   bp.CurrentPrice,
		LastUpdated:    now,
		Asset:          asset,
	}
}

// List returns stored positions by market value, largest first.
func (s *PositionService) List(ctx context.Context) (*PositionList, error) {
	positions, err := s.positions.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	sortByMarketValue(positions)
	if positions == nil {
		positions = []*domain.Position{}
	}
	return &PositionList{Positions: positions, Summary: ComputePositionSummary(positions)}, nil
}

func (s *PositionService) Get(ctx context.Context, symbol string) (*domain.Position, error) {
	return s.positions.GetPosition(ctx, strings.ToUpper(strings.TrimSpace(symbol)))
}

// PortfolioSummary fails when the broker account cannot be read.
func (s *PositionService) PortfolioSummary(ctx context.Context) (*PortfolioSummary, error) {
	account, err := s.broker.GetAccount(ctx)
	if err != nil {
		s.logger.Error("Failed to fetch account", zap.Error(err))
		return nil, err
	}
	positions, err := s.positions.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	if positions == nil {
		positions = []*domain.Position{}
	}

	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.UnrealizedPL)
	}
	return &PortfolioSummary{
		Account:           *account,
		Positions:         positions,
		TotalPositions:    len(positions),
		TotalUnrealizedPL: total,
	}, nil
}
