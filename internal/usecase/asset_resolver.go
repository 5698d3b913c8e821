package usecase

import (
	"context"
	"strings"

	"github.com/vitos/brokerage_gateway/internal/domain"
	"go.uber.org/zap"
)

// AssetResolver finds reference data for a symbol: the local ledger first,
// then the broker, then a minimal stub. It never fails.
type AssetResolver struct {
	assets domain.AssetRepository
	broker domain.Broker
	logger *zap.Logger
}

func NewAssetResolver(assets domain.AssetRepository, broker domain.Broker, logger *zap.Logger) *AssetResolver {
	return &AssetResolver{assets: assets, broker: broker, logger: logger}
}

// Resolve returns a stored asset (ID set) or an unsaved one (ID zero) that
// the caller persists in its own transaction.
func (r *AssetResolver) Resolve(ctx context.Context, symbol string) *domain.Asset {
	asset, err := r.assets.GetAssetBySymbol(ctx, symbol)
	if err == nil {
		return asset
	}
	if !domain.IsNotFound(err) {
		r.logger.Warn("Asset lookup failed", zap.String("symbol", symbol), zap.Error(err))
	}

	remote, err := r.broker.GetAsset(ctx, symbol)
	if err != nil {
		r.logger.Info("Broker has no asset data, using stub", zap.String("symbol", symbol), zap.Error(err))
		return domain.StubAsset(symbol)
	}
	remote.ID = 0
	remote.Symbol = symbol
	if strings.TrimSpace(remote.Name) == "" {
		remote.Name = symbol
	}
	return remote
}
