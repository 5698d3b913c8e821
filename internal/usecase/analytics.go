package usecase

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/brokerage_gateway/internal/domain"
)

const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"

	highConcentrationPct   = 25
	mediumConcentrationPct = 15
	mediumTop5Pct          = 60

	WinRateNote = "win rate needs per-trade realized P&L, which the ledger does not track"
)

var hundred = decimal.NewFromInt(100)

// sectorBySymbol is a fixed lookup; symbols outside it count as "Other".
var sectorBySymbol = map[string]string{
	"AAPL":  "Technology",
	"MSFT":  "Technology",
	"GOOGL": "Technology",
	"TSLA":  "Consumer Discretionary",
	"AMZN":  "Consumer Discretionary",
	"JPM":   "Financials",
	"JNJ":   "Healthcare",
	"PG":    "Consumer Staples",
	"XOM":   "Energy",
}

func SectorOf(symbol string) string {
	if s, ok := sectorBySymbol[symbol]; ok {
		return s
	}
	return "Other"
}

// percentOf returns part/total*100, or zero when total is not positive.
func percentOf(part, total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	return part.Div(total).Mul(hundred)
}

func sortByMarketValue(positions []*domain.Position) {
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].MarketValue.GreaterThan(positions[j].MarketValue)
	})
}

func totalMarketValue(positions []*domain.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.MarketValue)
	}
	return total
}

// ConcentrationRisk buckets the largest position's share of the portfolio.
// Both thresholds are exclusive.
func ConcentrationRisk(largestPct, top5Pct decimal.Decimal) string {
	switch {
	case largestPct.GreaterThan(decimal.NewFromInt(highConcentrationPct)):
		return RiskHigh
	case largestPct.GreaterThan(decimal.NewFromInt(mediumConcentrationPct)),
		top5Pct.GreaterThan(decimal.NewFromInt(mediumTop5Pct)):
		return RiskMedium
	default:
		return RiskLow
	}
}

func ComputePositionSummary(positions []*domain.Position) PositionSummary {
	value, pl := decimal.Zero, decimal.Zero
	for _, p := range positions {
		value = value.Add(p.MarketValue)
		pl = pl.Add(p.UnrealizedPL)
	}
	return PositionSummary{
		TotalPositions:           len(positions),
		TotalValue:               value,
		TotalUnrealizedPL:        pl,
		TotalUnrealizedPLPercent: percentOf(pl, value.Sub(pl)).Round(2),
	}
}

type AllocationEntry struct {
	AssetClass     string          `json:"asset_class"`
	Value          decimal.Decimal `json:"value"`
	Percentage     decimal.Decimal `json:"percentage"`
	PositionsCount int             `json:"positions_count"`
}

func computeAllocation(positions []*domain.Position, total decimal.Decimal) []AllocationEntry {
	byClass := map[string]*AllocationEntry{}
	var classes []string
	for _, p := range positions {
		class := string(p.AssetClass())
		entry, ok := byClass[class]
		if !ok {
			entry = &AllocationEntry{AssetClass: class, Value: decimal.Zero}
			byClass[class] = entry
			classes = append(classes, class)
		}
		entry.Value = entry.Value.Add(p.MarketValue)
		entry.PositionsCount++
	}
	sort.Strings(classes)

	out := make([]AllocationEntry, 0, len(classes))
	for _, c := range classes {
		e := byClass[c]
		e.Percentage = percentOf(e.Value, total).Round(2)
		out = append(out, *e)
	}
	return out
}

type Performance struct {
	CurrentValue       decimal.Decimal    `json:"current_value"`
	TotalCostBasis     decimal.Decimal    `json:"total_cost_basis"`
	TotalUnrealizedPL  decimal.Decimal    `json:"total_unrealized_pl"`
	TotalReturnPercent decimal.Decimal    `json:"total_return_percent"`
	PositionsCount     int                `json:"positions_count"`
	TopPerformers      []*domain.Position `json:"top_performers"`
	WorstPerformers    []*domain.Position `json:"worst_performers"`
	AssetAllocation    []AllocationEntry  `json:"asset_allocation"`
	PeriodDays         int                `json:"period_days"`
}

// ComputePerformance summarizes current holdings. Empty input gives zeros.
func ComputePerformance(positions []*domain.Position, days int) Performance {
	perf := Performance{
		CurrentValue:       decimal.Zero,
		TotalCostBasis:     decimal.Zero,
		TotalUnrealizedPL:  decimal.Zero,
		TotalReturnPercent: decimal.Zero,
		TopPerformers:      []*domain.Position{},
		WorstPerformers:    []*domain.Position{},
		AssetAllocation:    []AllocationEntry{},
		PeriodDays:         days,
	}
	for _, p := range positions {
		perf.CurrentValue = perf.CurrentValue.Add(p.MarketValue)
		perf.TotalCostBasis = perf.TotalCostBasis.Add(p.CostBasis)
		perf.TotalUnrealizedPL = perf.TotalUnrealizedPL.Add(p.UnrealizedPL)
	}
	perf.PositionsCount = len(positions)
	perf.TotalReturnPercent = percentOf(perf.TotalUnrealizedPL, perf.TotalCostBasis).Round(2)

	byReturn := append([]*domain.Position{}, positions...)
	sort.SliceStable(byReturn, func(i, j int) bool {
		return byReturn[i].UnrealizedPLPC.GreaterThan(byReturn[j].UnrealizedPLPC)
	})
	n := min(5, len(byReturn))
	perf.TopPerformers = append(perf.TopPerformers, byReturn[:n]...)
	for i := len(byReturn) - 1; i >= len(byReturn)-n; i-- {
		perf.WorstPerformers = append(perf.WorstPerformers, byReturn[i])
	}

	if perf.CurrentValue.IsPositive() {
		perf.AssetAllocation = computeAllocation(positions, perf.CurrentValue)
	}
	return perf
}

type PositionWeight struct {
	Symbol     string          `json:"symbol"`
	Value      decimal.Decimal `json:"value"`
	Percentage decimal.Decimal `json:"percentage"`
}

type Diversification struct {
	TotalPositions         int               `json:"total_positions"`
	ConcentrationRisk      string            `json:"concentration_risk"`
	LargestPositionPercent decimal.Decimal   `json:"largest_position_percent"`
	Top5Concentration      decimal.Decimal   `json:"top_5_concentration"`
	AssetClasses           []AllocationEntry `json:"asset_classes"`
	PositionWeights        []PositionWeight  `json:"position_weights"`
}

// ComputeDiversification measures how concentrated the holdings are.
func ComputeDiversification(positions []*domain.Position) Diversification {
	div := Diversification{
		ConcentrationRisk:      RiskLow,
		LargestPositionPercent: decimal.Zero,
		Top5Concentration:      decimal.Zero,
		AssetClasses:           []AllocationEntry{},
		PositionWeights:        []PositionWeight{},
	}
	if len(positions) == 0 {
		return div
	}

	sorted := append([]*domain.Position{}, positions...)
	sortByMarketValue(sorted)
	total := totalMarketValue(sorted)

	largest := percentOf(sorted[0].MarketValue, total)
	top5 := totalMarketValue(sorted[:min(5, len(sorted))])
	top5Pct := percentOf(top5, total)

	div.TotalPositions = len(positions)
	div.ConcentrationRisk = ConcentrationRisk(largest, top5Pct)
	div.LargestPositionPercent = largest.Round(2)
	div.Top5Concentration = top5Pct.Round(2)
	div.AssetClasses = computeAllocation(sorted, total)
	for _, p := range sorted[:min(10, len(sorted))] {
		div.PositionWeights = append(div.PositionWeights, PositionWeight{
			Symbol:     p.Symbol,
			Value:      p.MarketValue,
			Percentage: percentOf(p.MarketValue, total).Round(2),
		})
	}
	return div
}

type SymbolActivity struct {
	Symbol        string          `json:"symbol"`
	TradeCount    int             `json:"trade_count"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
}

type Period struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type TradingStats struct {
	TotalTrades       int              `json:"total_trades"`
	FilledTrades      int              `json:"filled_trades"`
	CanceledTrades    int              `json:"canceled_trades"`
	TotalVolume       decimal.Decimal  `json:"total_volume"`
	FilledNotional    decimal.Decimal  `json:"filled_notional"`
	BuyOrders         int              `json:"buy_orders"`
	SellOrders        int              `json:"sell_orders"`
	MostTradedSymbols []SymbolActivity `json:"most_traded_symbols"`
	Period            Period           `json:"period"`
}

// ComputeTradingStats counts ledger activity for orders created in the window.
func ComputeTradingStats(orders []*domain.Order, from, to time.Time) TradingStats {
	stats := TradingStats{
		TotalVolume:       decimal.Zero,
		FilledNotional:    decimal.Zero,
		MostTradedSymbols: []SymbolActivity{},
		Period:            Period{From: from.Format(time.DateOnly), To: to.Format(time.DateOnly)},
	}

	bySymbol := map[string]*SymbolActivity{}
	for _, o := range orders {
		stats.TotalTrades++
		switch o.Status {
		case domain.OrderStatusFilled:
			stats.FilledTrades++
			stats.TotalVolume = stats.TotalVolume.Add(o.FilledQuantity)
			stats.FilledNotional = stats.FilledNotional.Add(o.FilledValue())
		case domain.OrderStatusCanceled:
			stats.CanceledTrades++
		}
		switch o.Side {
		case domain.OrderSideBuy:
			stats.BuyOrders++
		case domain.OrderSideSell:
			stats.SellOrders++
		}

		a, ok := bySymbol[o.Symbol]
		if !ok {
			a = &SymbolActivity{Symbol: o.Symbol, TotalQuantity: decimal.Zero}
			bySymbol[o.Symbol] = a
		}
		a.TradeCount++
		a.TotalQuantity = a.TotalQuantity.Add(o.FilledQuantity)
	}

	for _, a := range bySymbol {
		stats.MostTradedSymbols = append(stats.MostTradedSymbols, *a)
	}
	sort.Slice(stats.MostTradedSymbols, func(i, j int) bool {
		a, b := stats.MostTradedSymbols[i], stats.MostTradedSymbols[j]
		if a.TradeCount != b.TradeCount {
			return a.TradeCount > b.TradeCount
		}
		return a.Symbol < b.Symbol
	})
	if len(stats.MostTradedSymbols) > 10 {
		stats.MostTradedSymbols = stats.MostTradedSymbols[:10]
	}
	return stats
}

type DailyVolume struct {
	Date   string          `json:"date"`
	Volume decimal.Decimal `json:"volume"`
}

type VolumeAnalytics struct {
	DailyVolume    []DailyVolume   `json:"daily_volume"`
	TotalVolume    decimal.Decimal `json:"total_volume"`
	AvgDailyVolume decimal.Decimal `json:"avg_daily_volume"`
}

// ComputeDailyVolume sums filled quantity of filled orders per UTC day.
func ComputeDailyVolume(orders []*domain.Order) VolumeAnalytics {
	va := VolumeAnalytics{DailyVolume: []DailyVolume{}, TotalVolume: decimal.Zero, AvgDailyVolume: decimal.Zero}

	byDay := map[string]decimal.Decimal{}
	for _, o := range orders {
		if o.Status != domain.OrderStatusFilled {
			continue
		}
		day := o.CreatedAt.UTC().Format(time.DateOnly)
		byDay[day] = byDay[day].Add(o.FilledQuantity)
		va.TotalVolume = va.TotalVolume.Add(o.FilledQuantity)
	}

	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		va.DailyVolume = append(va.DailyVolume, DailyVolume{Date: d, Volume: byDay[d]})
	}
	if len(days) > 0 {
		va.AvgDailyVolume = va.TotalVolume.Div(decimal.NewFromInt(int64(len(days)))).Round(4)
	}
	return va
}

type SectorWeight struct {
	Value      decimal.Decimal `json:"value"`
	Percentage decimal.Decimal `json:"percentage"`
}

func ComputeSectorAllocation(positions []*domain.Position) map[string]SectorWeight {
	total := totalMarketValue(positions)
	sectors := map[string]SectorWeight{}
	for _, p := range positions {
		sector := SectorOf(p.Symbol)
		w := sectors[sector]
		w.Value = w.Value.Add(p.MarketValue)
		sectors[sector] = w
	}
	for name, w := range sectors {
		w.Percentage = percentOf(w.Value, total).Round(2)
		sectors[name] = w
	}
	return sectors
}

type RiskMetrics struct {
	ConcentrationRisk      string          `json:"concentration_risk"`
	LargestPositionPercent decimal.Decimal `json:"largest_position_percent"`
}

// ComputeRiskMetrics buckets on the largest position alone.
func ComputeRiskMetrics(positions []*domain.Position) RiskMetrics {
	rm := RiskMetrics{ConcentrationRisk: RiskLow, LargestPositionPercent: decimal.Zero}
	if len(positions) == 0 {
		return rm
	}
	total := totalMarketValue(positions)
	largest := positions[0].MarketValue
	for _, p := range positions[1:] {
		largest = decimal.Max(largest, p.MarketValue)
	}
	pct := percentOf(largest, total)
	rm.ConcentrationRisk = ConcentrationRisk(pct, decimal.Zero)
	rm.LargestPositionPercent = pct.Round(2)
	return rm
}

type MonthlyActivity struct {
	Month  string `json:"month"`
	Trades int    `json:"trades"`
}

// ComputeMonthlyActivity counts orders per calendar month for the six
// months ending with now's month, oldest first.
func ComputeMonthlyActivity(orders []*domain.Order, now time.Time) []MonthlyActivity {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	out := make([]MonthlyActivity, 0, 6)
	index := map[string]int{}
	for i := 5; i >= 0; i-- {
		m := first.AddDate(0, -i, 0).Format("2006-01")
		index[m] = len(out)
		out = append(out, MonthlyActivity{Month: m})
	}
	for _, o := range orders {
		if i, ok := index[o.CreatedAt.UTC().Format("2006-01")]; ok {
			out[i].Trades++
		}
	}
	return out
}

type Analytics struct {
	TradingVolume    VolumeAnalytics         `json:"trading_volume"`
	WinRate          *decimal.Decimal        `json:"win_rate"`
	WinRateNote      string                  `json:"win_rate_note"`
	SectorAllocation map[string]SectorWeight `json:"sector_allocation"`
	RiskMetrics      RiskMetrics             `json:"risk_metrics"`
	MonthlyActivity  []MonthlyActivity       `json:"monthly_activity"`
}
