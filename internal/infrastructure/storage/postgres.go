package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/brokerage_gateway/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"

	// positionsLockKey is the advisory lock id held while positions are replaced.
	positionsLockKey = 7_305_001
)

// PostgresOption defines connection options for PostgreSQL.
type PostgresOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
}

func (opt PostgresOption) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// PostgresStore implements domain.LedgerStore on PostgreSQL through gorm.
type PostgresStore struct {
	db        *gorm.DB
	replaceMu sync.Mutex
}

func NewPostgresStore(opt PostgresOption) (*PostgresStore, error) {
	config := opt.Config
	if config == nil {
		config = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	}

	db, err := gorm.Open(postgres.Open(opt.dsn()), config)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.AutoMigrate(&assetRow{}, &tradeRow{}, &positionRow{}, &marketDataRow{}, &inconsistencyRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// rows

type assetRow struct {
	ID                int64               `gorm:"primaryKey"`
	Symbol            string              `gorm:"size:10;uniqueIndex;not null"`
	Name              string              `gorm:"not null"`
	AssetClass        string              `gorm:"size:20;not null;index:idx_assets_class_tradable"`
	Tradable          bool                `gorm:"not null;default:true;index:idx_assets_class_tradable"`
	Marginable        bool                `gorm:"not null;default:false"`
	Shortable         bool                `gorm:"not null;default:false"`
	MinOrderSize      decimal.NullDecimal `gorm:"type:numeric(20,8)"`
	MinTradeIncrement decimal.NullDecimal `gorm:"type:numeric(20,8)"`
	CreatedAt         time.Time           `gorm:"not null"`
}

func (assetRow) TableName() string { return "assets" }

type tradeRow struct {
	ID             int64               `gorm:"primaryKey"`
	ClientOrderID  string              `gorm:"size:64;uniqueIndex;not null"`
	ExternalID     *string             `gorm:"size:100;uniqueIndex"`
	AssetID        int64               `gorm:"not null"`
	Symbol         string              `gorm:"size:10;not null;index:idx_trades_symbol_status"`
	Side           string              `gorm:"size:10;not null"`
	Type           string              `gorm:"size:20;not null"`
	TimeInForce    string              `gorm:"size:10;not null;default:day"`
	Quantity       decimal.Decimal     `gorm:"type:numeric(20,8);not null"`
	Price          decimal.NullDecimal `gorm:"type:numeric(20,8)"`
	StopPrice      decimal.NullDecimal `gorm:"type:numeric(20,8)"`
	FilledQuantity decimal.Decimal     `gorm:"type:numeric(20,8);not null;default:0"`
	FilledAvgPrice decimal.NullDecimal `gorm:"type:numeric(20,8)"`
	Status         string              `gorm:"size:20;not null;index:idx_trades_symbol_status;index:idx_trades_status_created"`
	SubmittedAt    *time.Time
	FilledAt       *time.Time
	CanceledAt     *time.Time
	ExpiredAt      *time.Time
	Metadata       []byte    `gorm:"type:jsonb"`
	CreatedAt      time.Time `gorm:"not null;index:idx_trades_status_created"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (tradeRow) TableName() string { return "trades" }

type positionRow struct {
	ID             int64           `gorm:"primaryKey"`
	AssetID        *int64          `gorm:"index"`
	Symbol         string          `gorm:"size:10;uniqueIndex;not null"`
	Quantity       decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Side           string          `gorm:"size:10;not null"`
	AvgEntryPrice  decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	MarketValue    decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	CostBasis      decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	UnrealizedPL   decimal.Decimal `gorm:"column:unrealized_pl;type:numeric(20,8);not null"`
	UnrealizedPLPC decimal.Decimal `gorm:"column:unrealized_plpc;type:numeric(20,8);not null"`
	CurrentPrice   decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	LastUpdated    time.Time
	CreatedAt      time.Time `gorm:"not null"`
	Asset          *assetRow `gorm:"foreignKey:AssetID"`
}

func (positionRow) TableName() string { return "positions" }

type marketDataRow struct {
	ID              int64               `gorm:"primaryKey"`
	Symbol          string              `gorm:"size:10;not null;index:idx_market_data_symbol_type_ts"`
	DataType        string              `gorm:"size:20;not null;index:idx_market_data_symbol_type_ts"`
	Price           decimal.NullDecimal `gorm:"type:numeric(20,8)"`
	BidPrice        decimal.NullDecimal `gorm:"type:numeric(20,8)"`
	AskPrice        decimal.NullDecimal `gorm:"type:numeric(20,8)"`
	BidSize         int64
	AskSize         int64
	MarketTimestamp time.Time `gorm:"not null;index:idx_market_data_symbol_type_ts"`
	RawData         []byte    `gorm:"type:jsonb"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (marketDataRow) TableName() string { return "market_data" }

type inconsistencyRow struct {
	ID            int64  `gorm:"primaryKey"`
	ClientOrderID string `gorm:"size:64;not null"`
	ExternalID    string `gorm:"size:100;not null"`
	Symbol        string `gorm:"size:10;not null"`
	Reason        string `gorm:"not null"`
	Payload       []byte `gorm:"type:jsonb"`
	DetectedAt    time.Time
	ResolvedAt    *time.Time `gorm:"index"`
}

func (inconsistencyRow) TableName() string { return "inconsistencies" }

// AssetRepository Implementation

func (s *PostgresStore) GetAssetBySymbol(ctx context.Context, symbol string) (*domain.Asset, error) {
	var row assetRow
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "asset", Key: symbol}
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func pgSaveAsset(db *gorm.DB, a *domain.Asset) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	row := assetRow{
		Symbol:            a.Symbol,
		Name:              a.Name,
		AssetClass:        string(a.Class),
		Tradable:          a.Tradable,
		Marginable:        a.Marginable,
		Shortable:         a.Shortable,
		MinOrderSize:      a.MinOrderSize,
		MinTradeIncrement: a.MinTradeIncrement,
		CreatedAt:         a.CreatedAt.UTC(),
	}
	if err := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "symbol"}}, DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save asset %s: %w", a.Symbol, err)
	}
	var stored assetRow
	if err := db.Where("symbol = ?", a.Symbol).First(&stored).Error; err != nil {
		return err
	}
	a.ID = stored.ID
	a.CreatedAt = stored.CreatedAt
	return nil
}

func (r *assetRow) toDomain() *domain.Asset {
	return &domain.Asset{
		ID:                r.ID,
		Symbol:            r.Symbol,
		Name:              r.Name,
		Class:             domain.AssetClass(r.AssetClass),
		Tradable:          r.Tradable,
		Marginable:        r.Marginable,
		Shortable:         r.Shortable,
		MinOrderSize:      r.MinOrderSize,
		MinTradeIncrement: r.MinTradeIncrement,
		CreatedAt:         r.CreatedAt,
	}
}

// OrderRepository Implementation

func (s *PostgresStore) CreateOrder(ctx context.Context, asset *domain.Asset, order *domain.Order) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if asset.ID == 0 {
			if err := pgSaveAsset(tx, asset); err != nil {
				return err
			}
		}
		order.AssetID = asset.ID

		now := time.Now().UTC()
		if order.CreatedAt.IsZero() {
			order.CreatedAt = now
		}
		order.UpdatedAt = now

		row, err := newTradeRow(order)
		if err != nil {
			return err
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
		order.ID = row.ID
		return nil
	})
}

func (s *PostgresStore) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return s.getOrderWhere(ctx, "id = ?", id, strconv.FormatInt(id, 10))
}

func (s *PostgresStore) GetOrderByClientID(ctx context.Context, clientOrderID string) (*domain.Order, error) {
	return s.getOrderWhere(ctx, "client_order_id = ?", clientOrderID, clientOrderID)
}

func (s *PostgresStore) GetOrderByExternalID(ctx context.Context, externalID string) (*domain.Order, error) {
	return s.getOrderWhere(ctx, "external_id = ?", externalID, externalID)
}

func (s *PostgresStore) getOrderWhere(ctx context.Context, cond string, arg any, key string) (*domain.Order, error) {
	var row tradeRow
	err := s.db.WithContext(ctx).Where(cond, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "order", Key: key}
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (s *PostgresStore) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, int, error) {
	filter = filter.Normalize()

	q := s.db.WithContext(ctx).Model(&tradeRow{})
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Side != "" {
		q = q.Where("side = ?", string(filter.Side))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []tradeRow
	err := q.Order("created_at DESC").Order("id DESC").
		Limit(filter.PerPage).Offset((filter.Page - 1) * filter.PerPage).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	orders, err := tradeRowsToDomain(rows)
	return orders, int(total), err
}

func (s *PostgresStore) ListOrdersBetween(ctx context.Context, from, to time.Time) ([]*domain.Order, error) {
	var rows []tradeRow
	err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return tradeRowsToDomain(rows)
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, order *domain.Order) error {
	meta, err := json.Marshal(order.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	order.UpdatedAt = time.Now().UTC()

	res := s.db.WithContext(ctx).Model(&tradeRow{}).Where("id = ?", order.ID).Updates(map[string]any{
		"external_id":      optionalString(order.ExternalID),
		"filled_quantity":  order.FilledQuantity,
		"filled_avg_price": order.FilledAvgPrice,
		"status":           string(order.Status),
		"submitted_at":     order.SubmittedAt,
		"filled_at":        order.FilledAt,
		"canceled_at":      order.CanceledAt,
		"expired_at":       order.ExpiredAt,
		"metadata":         meta,
		"updated_at":       order.UpdatedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update order %d: %w", order.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Resource: "order", Key: strconv.FormatInt(order.ID, 10)}
	}
	return nil
}

func newTradeRow(o *domain.Order) (*tradeRow, error) {
	meta, err := json.Marshal(o.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return &tradeRow{
		ClientOrderID:  o.ClientOrderID,
		ExternalID:     optionalString(o.ExternalID),
		AssetID:        o.AssetID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		TimeInForce:    string(o.TimeInForce),
		Quantity:       o.Quantity,
		Price:          o.Price,
		StopPrice:      o.StopPrice,
		FilledQuantity: o.FilledQuantity,
		FilledAvgPrice: o.FilledAvgPrice,
		Status:         string(o.Status),
		SubmittedAt:    o.SubmittedAt,
		FilledAt:       o.FilledAt,
		CanceledAt:     o.CanceledAt,
		ExpiredAt:      o.ExpiredAt,
		Metadata:       meta,
		CreatedAt:      o.CreatedAt.UTC(),
		UpdatedAt:      o.UpdatedAt.UTC(),
	}, nil
}

func (r *tradeRow) toDomain() (*domain.Order, error) {
	o := &domain.Order{
		ID:             r.ID,
		ClientOrderID:  r.ClientOrderID,
		AssetID:        r.AssetID,
		Symbol:         r.Symbol,
		Side:           domain.OrderSide(r.Side),
		Type:           domain.OrderType(r.Type),
		TimeInForce:    domain.TimeInForce(r.TimeInForce),
		Quantity:       r.Quantity,
		Price:          r.Price,
		StopPrice:      r.StopPrice,
		FilledQuantity: r.FilledQuantity,
		FilledAvgPrice: r.FilledAvgPrice,
		Status:         domain.OrderStatus(r.Status),
		SubmittedAt:    r.SubmittedAt,
		FilledAt:       r.FilledAt,
		CanceledAt:     r.CanceledAt,
		ExpiredAt:      r.ExpiredAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.ExternalID != nil {
		o.ExternalID = *r.ExternalID
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &o.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of order %d: %w", r.ID, err)
		}
	}
	return o, nil
}

func tradeRowsToDomain(rows []tradeRow) ([]*domain.Order, error) {
	orders := make([]*domain.Order, 0, len(rows))
	for i := range rows {
		o, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// PositionRepository Implementation

func (s *PostgresStore) ListPositions(ctx context.Context) ([]*domain.Position, error) {
	var rows []positionRow
	if err := s.db.WithContext(ctx).Preload("Asset").Order("symbol").Find(&rows).Error; err != nil {
		return nil, err
	}
	positions := make([]*domain.Position, 0, len(rows))
	for i := range rows {
		positions = append(positions, rows[i].toDomain())
	}
	return positions, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	var row positionRow
	err := s.db.WithContext(ctx).Preload("Asset").Where("symbol = ?", symbol).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "position", Key: symbol}
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) ReplacePositions(ctx context.Context, positions []*domain.Position) error {
	s.replaceMu.Lock()
	defer s.replaceMu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serializes replacements across every process sharing the database.
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", positionsLockKey).Error; err != nil {
			return fmt.Errorf("failed to acquire positions lock: %w", err)
		}

		now := time.Now().UTC()
		symbols := make([]string, 0, len(positions))
		for _, p := range positions {
			if p.Asset != nil {
				if p.Asset.ID == 0 {
					if err := pgSaveAsset(tx, p.Asset); err != nil {
						return err
					}
				}
				p.AssetID = p.Asset.ID
			}
			if p.LastUpdated.IsZero() {
				p.LastUpdated = now
			}

			row := positionRow{
				Symbol:         p.Symbol,
				Quantity:       p.Quantity,
				Side:           string(p.Side),
				AvgEntryPrice:  p.AvgEntryPrice,
				MarketValue:    p.MarketValue,
				CostBasis:      p.CostBasis,
				UnrealizedPL:   p.UnrealizedPL,
				UnrealizedPLPC: p.UnrealizedPLPC,
				CurrentPrice:   p.CurrentPrice,
				LastUpdated:    p.LastUpdated.UTC(),
				CreatedAt:      now,
			}
			if p.AssetID != 0 {
				id := p.AssetID
				row.AssetID = &id
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "symbol"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"asset_id", "quantity", "side", "avg_entry_price", "market_value", "cost_basis",
					"unrealized_pl", "unrealized_plpc", "current_price", "last_updated",
				}),
			}).Omit("Asset").Create(&row).Error
			if err != nil {
				return fmt.Errorf("failed to upsert position %s: %w", p.Symbol, err)
			}
			symbols = append(symbols, p.Symbol)
		}

		del := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if len(symbols) > 0 {
			del = del.Where("symbol NOT IN ?", symbols)
		}
		if err := del.Delete(&positionRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete stale positions: %w", err)
		}
		return nil
	})
}

func (r *positionRow) toDomain() *domain.Position {
	p := &domain.Position{
		ID:             r.ID,
		Symbol:         r.Symbol,
		Quantity:       r.Quantity,
		Side:           domain.PositionSide(r.Side),
		AvgEntryPrice:  r.AvgEntryPrice,
		MarketValue:    r.MarketValue,
		CostBasis:      r.CostBasis,
		UnrealizedPL:   r.UnrealizedPL,
		UnrealizedPLPC: r.UnrealizedPLPC,
		CurrentPrice:   r.CurrentPrice,
		LastUpdated:    r.LastUpdated,
	}
	if r.AssetID != nil {
		p.AssetID = *r.AssetID
	}
	if r.Asset != nil {
		p.Asset = r.Asset.toDomain()
	}
	return p
}

// InconsistencyRepository Implementation

func (s *PostgresStore) RecordInconsistency(ctx context.Context, issue *domain.Inconsistency) error {
	if issue.DetectedAt.IsZero() {
		issue.DetectedAt = time.Now().UTC()
	}
	row := inconsistencyRow{
		ClientOrderID: issue.ClientOrderID,
		ExternalID:    issue.ExternalID,
		Symbol:        issue.Symbol,
		Reason:        issue.Reason,
		Payload:       issue.Payload,
		DetectedAt:    issue.DetectedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record inconsistency: %w", err)
	}
	issue.ID = row.ID
	return nil
}

func (s *PostgresStore) ListUnresolvedInconsistencies(ctx context.Context) ([]*domain.Inconsistency, error) {
	var rows []inconsistencyRow
	if err := s.db.WithContext(ctx).Where("resolved_at IS NULL").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	issues := make([]*domain.Inconsistency, 0, len(rows))
	for _, r := range rows {
		issues = append(issues, &domain.Inconsistency{
			ID:            r.ID,
			ClientOrderID: r.ClientOrderID,
			ExternalID:    r.ExternalID,
			Symbol:        r.Symbol,
			Reason:        r.Reason,
			Payload:       r.Payload,
			DetectedAt:    r.DetectedAt,
		})
	}
	return issues, nil
}

func (s *PostgresStore) ResolveInconsistency(ctx context.Context, id int64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&inconsistencyRow{}).Where("id = ?", id).Update("resolved_at", at.UTC()).Error
}

// MarketDataRepository Implementation

func (s *PostgresStore) SaveMarketSnapshot(ctx context.Context, snap *domain.MarketSnapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	row := marketDataRow{
		Symbol:          snap.Symbol,
		DataType:        string(snap.DataType),
		Price:           snap.Price,
		BidPrice:        snap.BidPrice,
		AskPrice:        snap.AskPrice,
		BidSize:         snap.BidSize,
		AskSize:         snap.AskSize,
		MarketTimestamp: snap.MarketTimestamp.UTC(),
		RawData:         snap.RawData,
		CreatedAt:       snap.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save market snapshot: %w", err)
	}
	snap.ID = row.ID
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
