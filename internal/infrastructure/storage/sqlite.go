package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/brokerage_gateway/internal/domain"
)

// SQLiteStore implements domain.LedgerStore on a single SQLite file.
// Transactions start with BEGIN IMMEDIATE so concurrent writers (including
// other processes sharing the file) are serialized by SQLite itself.
type SQLiteStore struct {
	db *sql.DB

	// replaceMu keeps in-process position mirrors from queueing on the
	// SQLite busy handler.
	replaceMu sync.Mutex
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS assets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			asset_class TEXT NOT NULL,
			tradable BOOLEAN NOT NULL DEFAULT 1,
			marginable BOOLEAN NOT NULL DEFAULT 0,
			shortable BOOLEAN NOT NULL DEFAULT 0,
			min_order_size TEXT,
			min_trade_increment TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_class_tradable ON assets(asset_class, tradable);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_order_id TEXT NOT NULL UNIQUE,
			external_id TEXT UNIQUE,
			asset_id INTEGER NOT NULL REFERENCES assets(id),
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			time_in_force TEXT NOT NULL DEFAULT 'day',
			quantity TEXT NOT NULL,
			price TEXT,
			stop_price TEXT,
			filled_quantity TEXT NOT NULL DEFAULT '0',
			filled_avg_price TEXT,
			status TEXT NOT NULL DEFAULT 'new',
			submitted_at DATETIME,
			filled_at DATETIME,
			canceled_at DATETIME,
			expired_at DATETIME,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades(symbol, status);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status_created ON trades(status, created_at);`,
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			asset_id INTEGER REFERENCES assets(id),
			symbol TEXT NOT NULL UNIQUE,
			quantity TEXT NOT NULL,
			side TEXT NOT NULL,
			avg_entry_price TEXT NOT NULL,
			market_value TEXT NOT NULL,
			cost_basis TEXT NOT NULL,
			unrealized_pl TEXT NOT NULL,
			unrealized_plpc TEXT NOT NULL,
			current_price TEXT NOT NULL,
			last_updated DATETIME,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS market_data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			data_type TEXT NOT NULL,
			price TEXT,
			bid_price TEXT,
			ask_price TEXT,
			bid_size INTEGER,
			ask_size INTEGER,
			market_timestamp DATETIME NOT NULL,
			raw_data TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_market_data_symbol_type_ts ON market_data(symbol, data_type, market_timestamp);`,
		`CREATE TABLE IF NOT EXISTS inconsistencies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_order_id TEXT NOT NULL,
			external_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			reason TEXT NOT NULL,
			payload TEXT,
			detected_at DATETIME NOT NULL,
			resolved_at DATETIME
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// AssetRepository Implementation

func (s *SQLiteStore) GetAssetBySymbol(ctx context.Context, symbol string) (*domain.Asset, error) {
	query := `SELECT id, symbol, name, asset_class, tradable, marginable, shortable, min_order_size, min_trade_increment, created_at FROM assets WHERE symbol = ?`
	var a domain.Asset
	err := s.db.QueryRowContext(ctx, query, symbol).Scan(&a.ID, &a.Symbol, &a.Name, &a.Class, &a.Tradable, &a.Marginable, &a.Shortable, &a.MinOrderSize, &a.MinTradeIncrement, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "asset", Key: symbol}
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// saveAsset inserts the asset unless its symbol is already known and loads
// the stored id back into asset.
func saveAsset(ctx context.Context, q execQuerier, a *domain.Asset) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO assets (symbol, name, asset_class, tradable, marginable, shortable, min_order_size, min_trade_increment, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(symbol) DO NOTHING`
	if _, err := q.ExecContext(ctx, query,
		a.Symbol, a.Name, a.Class, a.Tradable, a.Marginable, a.Shortable, a.MinOrderSize, a.MinTradeIncrement, a.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save asset %s: %w", a.Symbol, err)
	}
	return q.QueryRowContext(ctx, `SELECT id, created_at FROM assets WHERE symbol = ?`, a.Symbol).Scan(&a.ID, &a.CreatedAt)
}

// OrderRepository Implementation

const orderColumns = `id, client_order_id, external_id, asset_id, symbol, side, type, time_in_force, quantity, price, stop_price,
	filled_quantity, filled_avg_price, status, submitted_at, filled_at, canceled_at, expired_at, metadata, created_at, updated_at`

func (s *SQLiteStore) CreateOrder(ctx context.Context, asset *domain.Asset, order *domain.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if asset.ID == 0 {
		if err := saveAsset(ctx, tx, asset); err != nil {
			return err
		}
	}
	order.AssetID = asset.ID

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	meta, err := json.Marshal(order.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `INSERT INTO trades (client_order_id, external_id, asset_id, symbol, side, type, time_in_force, quantity, price, stop_price,
			  filled_quantity, filled_avg_price, status, submitted_at, filled_at, canceled_at, expired_at, metadata, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, query,
		order.ClientOrderID, nullString(order.ExternalID), order.AssetID, order.Symbol, order.Side, order.Type, order.TimeInForce,
		order.Quantity, order.Price, order.StopPrice, order.FilledQuantity, order.FilledAvgPrice, order.Status,
		nullTime(order.SubmittedAt), nullTime(order.FilledAt), nullTime(order.CanceledAt), nullTime(order.ExpiredAt),
		string(meta), order.CreatedAt.UTC(), order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	order.ID = id
	return nil
}

func (s *SQLiteStore) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return s.getOrderWhere(ctx, "id = ?", id, strconv.FormatInt(id, 10))
}

func (s *SQLiteStore) GetOrderByClientID(ctx context.Context, clientOrderID string) (*domain.Order, error) {
	return s.getOrderWhere(ctx, "client_order_id = ?", clientOrderID, clientOrderID)
}

func (s *SQLiteStore) GetOrderByExternalID(ctx context.Context, externalID string) (*domain.Order, error) {
	return s.getOrderWhere(ctx, "external_id = ?", externalID, externalID)
}

func (s *SQLiteStore) getOrderWhere(ctx context.Context, cond string, arg any, key string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM trades WHERE `+cond, arg)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "order", Key: key}
	}
	return o, err
}

func (s *SQLiteStore) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, int, error) {
	filter = filter.Normalize()

	var conds []string
	var args []any
	if filter.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Side != "" {
		conds = append(conds, "side = ?")
		args = append(args, filter.Side)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + orderColumns + ` FROM trades` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	pageArgs := append(append([]any{}, args...), filter.PerPage, (filter.Page-1)*filter.PerPage)
	orders, err := s.queryOrders(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (s *SQLiteStore) ListOrdersBetween(ctx context.Context, from, to time.Time) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM trades WHERE created_at >= ? AND created_at < ? ORDER BY created_at ASC, id ASC`
	return s.queryOrders(ctx, query, from.UTC(), to.UTC())
}

func (s *SQLiteStore) queryOrders(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) UpdateOrder(ctx context.Context, order *domain.Order) error {
	meta, err := json.Marshal(order.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	order.UpdatedAt = time.Now().UTC()

	query := `UPDATE trades SET external_id = ?, filled_quantity = ?, filled_avg_price = ?, status = ?,
			  submitted_at = ?, filled_at = ?, canceled_at = ?, expired_at = ?, metadata = ?, updated_at = ?
			  WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		nullString(order.ExternalID), order.FilledQuantity, order.FilledAvgPrice, order.Status,
		nullTime(order.SubmittedAt), nullTime(order.FilledAt), nullTime(order.CanceledAt), nullTime(order.ExpiredAt),
		string(meta), order.UpdatedAt, order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", order.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &domain.NotFoundError{Resource: "order", Key: strconv.FormatInt(order.ID, 10)}
	}
	return nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                                          domain.Order
		externalID, meta                           sql.NullString
		submittedAt, filledAt, canceledAt, expired sql.NullTime
	)
	err := row.Scan(&o.ID, &o.ClientOrderID, &externalID, &o.AssetID, &o.Symbol, &o.Side, &o.Type, &o.TimeInForce,
		&o.Quantity, &o.Price, &o.StopPrice, &o.FilledQuantity, &o.FilledAvgPrice, &o.Status,
		&submittedAt, &filledAt, &canceledAt, &expired, &meta, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.ExternalID = externalID.String
	o.SubmittedAt = timePtr(submittedAt)
	o.FilledAt = timePtr(filledAt)
	o.CanceledAt = timePtr(canceledAt)
	o.ExpiredAt = timePtr(expired)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &o.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of order %d: %w", o.ID, err)
		}
	}
	return &o, nil
}

// PositionRepository Implementation

const positionSelect = `SELECT p.id, p.asset_id, p.symbol, p.quantity, p.side, p.avg_entry_price, p.market_value, p.cost_basis,
	p.unrealized_pl, p.unrealized_plpc, p.current_price, p.last_updated,
	a.id, a.name, a.asset_class, a.tradable, a.marginable, a.shortable
	FROM positions p LEFT JOIN assets a ON a.id = p.asset_id`

func (s *SQLiteStore) ListPositions(ctx context.Context) ([]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, positionSelect+` ORDER BY p.symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	p, err := scanPosition(s.db.QueryRowContext(ctx, positionSelect+` WHERE p.symbol = ?`, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "position", Key: symbol}
	}
	return p, err
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var (
		p                               domain.Position
		assetRef, assetID               sql.NullInt64
		lastUpdated                     sql.NullTime
		name, class                     sql.NullString
		tradable, marginable, shortable sql.NullBool
	)
	err := row.Scan(&p.ID, &assetRef, &p.Symbol, &p.Quantity, &p.Side, &p.AvgEntryPrice, &p.MarketValue, &p.CostBasis,
		&p.UnrealizedPL, &p.UnrealizedPLPC, &p.CurrentPrice, &lastUpdated,
		&assetID, &name, &class, &tradable, &marginable, &shortable)
	if err != nil {
		return nil, err
	}
	p.AssetID = assetRef.Int64
	if lastUpdated.Valid {
		p.LastUpdated = lastUpdated.Time
	}
	if assetID.Valid {
		p.Asset = &domain.Asset{
			ID:         assetID.Int64,
			Symbol:     p.Symbol,
			Name:       name.String,
			Class:      domain.AssetClass(class.String),
			Tradable:   tradable.Bool,
			Marginable: marginable.Bool,
			Shortable:  shortable.Bool,
		}
	}
	return &p, nil
}

func (s *SQLiteStore) ReplacePositions(ctx context.Context, positions []*domain.Position) error {
	s.replaceMu.Lock()
	defer s.replaceMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	upsert := `INSERT INTO positions (asset_id, symbol, quantity, side, avg_entry_price, market_value, cost_basis,
			   unrealized_pl, unrealized_plpc, current_price, last_updated, created_at)
			   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			   ON CONFLICT(symbol) DO UPDATE SET
			   asset_id=excluded.asset_id,
			   quantity=excluded.quantity,
			   side=excluded.side,
			   avg_entry_price=excluded.avg_entry_price,
			   market_value=excluded.market_value,
			   cost_basis=excluded.cost_basis,
			   unrealized_pl=excluded.unrealized_pl,
			   unrealized_plpc=excluded.unrealized_plpc,
			   current_price=excluded.current_price,
			   last_updated=excluded.last_updated`

	symbols := make([]any, 0, len(positions))
	for _, p := range positions {
		if p.Asset != nil {
			if p.Asset.ID == 0 {
				if err := saveAsset(ctx, tx, p.Asset); err != nil {
					return err
				}
			}
			p.AssetID = p.Asset.ID
		}
		if p.LastUpdated.IsZero() {
			p.LastUpdated = now
		}
		if _, err := tx.ExecContext(ctx, upsert,
			nullInt64(p.AssetID), p.Symbol, p.Quantity, p.Side, p.AvgEntryPrice, p.MarketValue, p.CostBasis,
			p.UnrealizedPL, p.UnrealizedPLPC, p.CurrentPrice, p.LastUpdated.UTC(), now); err != nil {
			return fmt.Errorf("failed to upsert position %s: %w", p.Symbol, err)
		}
		symbols = append(symbols, p.Symbol)
	}

	del := `DELETE FROM positions`
	if len(symbols) > 0 {
		del += ` WHERE symbol NOT IN (` + placeholders(len(symbols)) + `)`
	}
	if _, err := tx.ExecContext(ctx, del, symbols...); err != nil {
		return fmt.Errorf("failed to delete stale positions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InconsistencyRepository Implementation

func (s *SQLiteStore) RecordInconsistency(ctx context.Context, issue *domain.Inconsistency) error {
	if issue.DetectedAt.IsZero() {
		issue.DetectedAt = time.Now().UTC()
	}
	query := `INSERT INTO inconsistencies (client_order_id, external_id, symbol, reason, payload, detected_at)
			  VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		issue.ClientOrderID, issue.ExternalID, issue.Symbol, issue.Reason, string(issue.Payload), issue.DetectedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record inconsistency: %w", err)
	}
	issue.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) ListUnresolvedInconsistencies(ctx context.Context) ([]*domain.Inconsistency, error) {
	query := `SELECT id, client_order_id, external_id, symbol, reason, payload, detected_at FROM inconsistencies WHERE resolved_at IS NULL ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []*domain.Inconsistency
	for rows.Next() {
		var (
			i       domain.Inconsistency
			payload sql.NullString
		)
		if err := rows.Scan(&i.ID, &i.ClientOrderID, &i.ExternalID, &i.Symbol, &i.Reason, &payload, &i.DetectedAt); err != nil {
			return nil, err
		}
		if payload.String != "" {
			i.Payload = json.RawMessage(payload.String)
		}
		issues = append(issues, &i)
	}
	return issues, rows.Err()
}

func (s *SQLiteStore) ResolveInconsistency(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE inconsistencies SET resolved_at = ? WHERE id = ?`, at.UTC(), id)
	return err
}

// MarketDataRepository Implementation

func (s *SQLiteStore) SaveMarketSnapshot(ctx context.Context, snap *domain.MarketSnapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO market_data (symbol, data_type, price, bid_price, ask_price, bid_size, ask_size, market_timestamp, raw_data, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		snap.Symbol, snap.DataType, snap.Price, snap.BidPrice, snap.AskPrice, snap.BidSize, snap.AskSize,
		snap.MarketTimestamp.UTC(), string(snap.RawData), snap.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save market snapshot: %w", err)
	}
	snap.ID, err = res.LastInsertId()
	return err
}

// helpers

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
