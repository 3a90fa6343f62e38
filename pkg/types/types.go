// Package types provides the shared data model for backtestlab: bars,
// signals, positions, trades and backtest configuration/results. Every
// price, pip and currency field is a decimal.Decimal — no float64 in the
// money path.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a signal or position.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Timeframe is a fixed bar cadence, carrying its minute-equivalent. Pip
// size depends on the symbol, not the timeframe (see PipSize).
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeM30 Timeframe = "M30"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
	TimeframeW1  Timeframe = "W1"
	TimeframeMN1 Timeframe = "MN1"
)

// Minutes returns the timeframe's minute-equivalent cadence.
func (tf Timeframe) Minutes() int {
	switch tf {
	case TimeframeM1:
		return 1
	case TimeframeM5:
		return 5
	case TimeframeM15:
		return 15
	case TimeframeM30:
		return 30
	case TimeframeH1:
		return 60
	case TimeframeH4:
		return 240
	case TimeframeD1:
		return 1440
	case TimeframeW1:
		return 10080
	case TimeframeMN1:
		return 43200
	default:
		return 0
	}
}

// PipSize returns the default pip size for symbol. JPY-quoted pairs use
// 0.01; everything else, metals and indices included, gets 0.0001. There
// is no per-symbol pip-size override (BacktestConfig.PipValue sets the
// value of a pip, not its size).
func PipSize(symbol string) decimal.Decimal {
	if len(symbol) >= 3 && symbol[len(symbol)-3:] == "JPY" {
		return decimal.NewFromFloat(0.01)
	}
	return decimal.NewFromFloat(0.0001)
}

// Bar is an immutable OHLCV record. Bars in a series are strictly
// increasing in Time with no duplicates.
type Bar struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume uint64          `json:"volume"`
	Spread uint32          `json:"spread"`
}

// Signal is emitted by a Strategy for a single bar.
type Signal struct {
	Symbol     string          `json:"symbol"`
	Timeframe  Timeframe       `json:"timeframe"`
	Direction  Direction       `json:"direction"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`
	Time       time.Time       `json:"time"`
	Volume     decimal.Decimal `json:"volume,omitempty"`
	Comment    string          `json:"comment,omitempty"`
}

// RiskReward returns |tp-entry| / |entry-sl|, or 0 when sl == entry.
func (s Signal) RiskReward() decimal.Decimal {
	risk := s.EntryPrice.Sub(s.StopLoss).Abs()
	reward := s.TakeProfit.Sub(s.EntryPrice).Abs()
	if risk.IsZero() {
		return decimal.Zero
	}
	return reward.Div(risk)
}

// Valid reports whether the signal's SL/TP bracket the entry price in the
// direction required by Direction.
func (s Signal) Valid() bool {
	switch s.Direction {
	case DirectionBuy:
		return s.StopLoss.LessThan(s.EntryPrice) && s.EntryPrice.LessThan(s.TakeProfit)
	case DirectionSell:
		return s.TakeProfit.LessThan(s.EntryPrice) && s.EntryPrice.LessThan(s.StopLoss)
	default:
		return false
	}
}

// PositionStatus is the lifecycle state of a Position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// CloseReason records why a position (or partial closure) closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonPartial    CloseReason = "partial"
	CloseReasonEndOfTest  CloseReason = "end_of_test"
	CloseReasonManual     CloseReason = "manual"
)

// PartialClosure records one partial-close event against an open or
// since-closed position.
type PartialClosure struct {
	Level        int             `json:"level"`
	PipsLevel    decimal.Decimal `json:"pipsLevel"`
	Percent      decimal.Decimal `json:"percent"`
	VolumeClosed decimal.Decimal `json:"volumeClosed"`
	Price        decimal.Decimal `json:"price"`
	Time         time.Time       `json:"time"`
	RealizedPnL  decimal.Decimal `json:"realizedPnl"`
}

// TrailingConfig configures the trailing-stop step.
type TrailingConfig struct {
	Enabled      bool            `json:"enabled"`
	TrailingPips decimal.Decimal `json:"trailingPips"`
}

// BreakevenConfig configures the break-even promotion step.
type BreakevenConfig struct {
	Enabled       bool            `json:"enabled"`
	TriggerPips   decimal.Decimal `json:"triggerPips"`
	BreakevenPlus decimal.Decimal `json:"breakevenPlusPips"`
}

// PartialLevel is one configured (pips, percent) partial-close rung.
type PartialLevel struct {
	PipsLevel decimal.Decimal `json:"pipsLevel"`
	Percent   decimal.Decimal `json:"percent"`
}

// Position is a mutable record owned exclusively by the PositionManager
// for its lifetime. While open, only Volume, StopLoss, HighestPriceSeen,
// LowestPriceSeen, TrailingActive, BreakevenArmed, PartialClosuresDone,
// PartialClosures, Status and the Close* fields change; every other field
// is fixed at open. Once Status becomes PositionClosed no field ever
// changes again.
type Position struct {
	ID        int64           `json:"id"`
	Symbol    string          `json:"symbol"`
	Direction Direction       `json:"direction"`
	Volume    decimal.Decimal `json:"volume"`

	EntryPrice decimal.Decimal `json:"entryPrice"`
	OpenTime   time.Time       `json:"openTime"`

	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`

	HighestPriceSeen decimal.Decimal `json:"highestPriceSeen"`
	LowestPriceSeen  decimal.Decimal `json:"lowestPriceSeen"`

	TrailingActive bool `json:"trailingActive"`
	BreakevenArmed bool `json:"breakevenArmed"`

	PartialLevels       []PartialLevel   `json:"partialLevels,omitempty"`
	PartialClosuresDone []bool           `json:"-"`
	PartialClosures     []PartialClosure `json:"partialClosures,omitempty"`

	Trailing  TrailingConfig  `json:"-"`
	Breakeven BreakevenConfig `json:"-"`

	Status      PositionStatus  `json:"status"`
	ClosePrice  decimal.Decimal `json:"closePrice,omitempty"`
	CloseTime   time.Time       `json:"closeTime,omitempty"`
	CloseReason CloseReason     `json:"closeReason,omitempty"`
}

// TradeRecord is the public, immutable projection of a closed position.
type TradeRecord struct {
	PositionID      int64            `json:"positionId"`
	Symbol          string           `json:"symbol"`
	Direction       Direction        `json:"direction"`
	Volume          decimal.Decimal  `json:"volume"`
	EntryPrice      decimal.Decimal  `json:"entryPrice"`
	ClosePrice      decimal.Decimal  `json:"closePrice"`
	OpenTime        time.Time        `json:"openTime"`
	CloseTime       time.Time        `json:"closeTime"`
	CloseReason     CloseReason      `json:"closeReason"`
	ProfitCurrency  decimal.Decimal  `json:"profitCurrency"`
	ProfitPips      decimal.Decimal  `json:"profitPips"`
	PartialClosures []PartialClosure `json:"partialClosures,omitempty"`
}

// BacktestConfig is the immutable configuration for one backtest run.
type BacktestConfig struct {
	ID               string          `json:"id"`
	Symbol           string          `json:"symbol"`
	Timeframe        Timeframe       `json:"timeframe"`
	Start            time.Time       `json:"start"`
	End              time.Time       `json:"end"`
	InitialBalance   decimal.Decimal `json:"initialBalance"`
	PositionSizePct  decimal.Decimal `json:"positionSizePct"`
	Commission       decimal.Decimal `json:"commission"`
	Slippage         decimal.Decimal `json:"slippage"`
	SpreadUsage      bool            `json:"spreadUsage"`
	MinVolume        decimal.Decimal `json:"minVolume"`
	MaxVolume        decimal.Decimal `json:"maxVolume"`
	ContractSize     decimal.Decimal `json:"contractSize"`
	PipValue         decimal.Decimal `json:"pipValue"`
	StrategyParams   map[string]any  `json:"strategyParams,omitempty"`
	Trailing         TrailingConfig  `json:"trailing"`
	Breakeven        BreakevenConfig `json:"breakeven"`
	PartialLevels    []PartialLevel  `json:"partialLevels,omitempty"`
}

// Metrics is the scalar report produced by MetricsCalculator. See
// internal/metrics for the computation.
type Metrics struct {
	TotalTrades   int `json:"totalTrades"`
	WinningTrades int `json:"winningTrades"`
	LosingTrades  int `json:"losingTrades"`
	BuyTrades     int `json:"buyTrades"`
	SellTrades    int `json:"sellTrades"`

	NetProfit        decimal.Decimal `json:"netProfit"`
	NetProfitPercent decimal.Decimal `json:"netProfitPercent"`

	WinRate     decimal.Decimal `json:"winRate"`
	BuyWinRate  decimal.Decimal `json:"buyWinRate"`
	SellWinRate decimal.Decimal `json:"sellWinRate"`

	AvgProfit    decimal.Decimal `json:"avgProfit"`
	AvgLoss      decimal.Decimal `json:"avgLoss"`
	LargestWin   decimal.Decimal `json:"largestWin"`
	LargestLoss  decimal.Decimal `json:"largestLoss"`

	ProfitFactor    decimal.Decimal `json:"profitFactor"`
	RewardRiskRatio decimal.Decimal `json:"rewardRiskRatio"`

	MaxDrawdown decimal.Decimal `json:"maxDrawdown"`
	AvgDrawdown decimal.Decimal `json:"avgDrawdown"`

	SharpeRatio decimal.Decimal `json:"sharpeRatio"`

	AvgTradeDurationHours decimal.Decimal `json:"avgTradeDurationHours"`
	ExpectedValue         decimal.Decimal `json:"expectedValue"`
}

// BacktestResult is the output of a single engine run.
type BacktestResult struct {
	Config       BacktestConfig    `json:"config"`
	Trades       []TradeRecord     `json:"trades"`
	EquityCurve  []decimal.Decimal `json:"equityCurve"`
	Timestamps   []time.Time       `json:"timestamps"`
	FinalBalance decimal.Decimal   `json:"finalBalance"`
	Metrics      Metrics           `json:"metrics"`
	Drawdowns    []decimal.Decimal `json:"drawdowns"`
	Incomplete   bool              `json:"incomplete,omitempty"`
}

// BacktestProgress is the payload pushed to internal/progress subscribers,
// built from the engine's (processed, total) progress callback.
type BacktestProgress struct {
	RunID     string `json:"runId"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}
