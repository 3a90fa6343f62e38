// Package config loads a run's configuration (single backtest,
// optimizer sweep, or walk-forward test) from a YAML/JSON file via
// spf13/viper. One file selects the run mode and supplies the backtest
// parameters, the strategy kind and the optimizer/walk-forward windows.
package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/backtestlab/internal/strategy"
	"github.com/atlas-desktop/backtestlab/pkg/types"
)

// RunMode selects which of the three entrypoints cmd/backtestlab drives.
type RunMode string

const (
	ModeBacktest    RunMode = "backtest"
	ModeOptimize    RunMode = "optimize"
	ModeWalkForward RunMode = "walkforward"
)

// OptimizeSpace is the on-disk shape of a parameter sweep's search space:
// each entry names a parameter and its candidate values.
type OptimizeSpace map[string][]float64

// WalkForwardWindow is the on-disk shape of a walk-forward run's window
// parameters.
type WalkForwardWindow struct {
	TrainDays int    `mapstructure:"trainDays"`
	TestDays  int    `mapstructure:"testDays"`
	StepDays  int    `mapstructure:"stepDays"`
	Mode      string `mapstructure:"mode"`
}

// File is the full on-disk configuration schema, unmarshaled directly by
// viper from YAML or JSON.
type File struct {
	Mode RunMode `mapstructure:"mode"`

	DataDir string `mapstructure:"dataDir"`
	LogLevel string `mapstructure:"logLevel"`

	Symbol         string  `mapstructure:"symbol"`
	Timeframe      string  `mapstructure:"timeframe"`
	Start          string  `mapstructure:"start"`
	End            string  `mapstructure:"end"`
	InitialBalance float64 `mapstructure:"initialBalance"`

	PositionSizePct float64 `mapstructure:"positionSizePct"`
	Commission      float64 `mapstructure:"commission"`
	Slippage        float64 `mapstructure:"slippage"`
	SpreadUsage     bool    `mapstructure:"spreadUsage"`
	MinVolume       float64 `mapstructure:"minVolume"`
	MaxVolume       float64 `mapstructure:"maxVolume"`
	PipValue        float64 `mapstructure:"pipValue"`

	StrategyKind string `mapstructure:"strategyKind"`

	Optimize    OptimizeSpace     `mapstructure:"optimize"`
	WalkForward WalkForwardWindow `mapstructure:"walkForward"`
}

// Load reads and unmarshals path (YAML or JSON, detected by extension)
// into a File via viper.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("dataDir", "./data")
	v.SetDefault("logLevel", "info")
	v.SetDefault("mode", ModeBacktest)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	return &f, nil
}

// BacktestConfig converts the on-disk shape into a
// types.BacktestConfig. Start/End are date-only ("2006-01-02").
func (f *File) BacktestConfig() (types.BacktestConfig, error) {
	start, err := time.Parse("2006-01-02", f.Start)
	if err != nil {
		return types.BacktestConfig{}, fmt.Errorf("parse start: %w", err)
	}
	end, err := time.Parse("2006-01-02", f.End)
	if err != nil {
		return types.BacktestConfig{}, fmt.Errorf("parse end: %w", err)
	}

	return types.BacktestConfig{
		Symbol:          f.Symbol,
		Timeframe:       types.Timeframe(f.Timeframe),
		Start:           start,
		End:             end,
		InitialBalance:  decimal.NewFromFloat(f.InitialBalance),
		PositionSizePct: decimal.NewFromFloat(f.PositionSizePct),
		Commission:      decimal.NewFromFloat(f.Commission),
		Slippage:        decimal.NewFromFloat(f.Slippage),
		SpreadUsage:     f.SpreadUsage,
		MinVolume:       decimal.NewFromFloat(f.MinVolume),
		MaxVolume:       decimal.NewFromFloat(f.MaxVolume),
		PipValue:        decimal.NewFromFloat(f.PipValue),
	}, nil
}

// StrategyParams builds the default strategy.Params for f.StrategyKind
// with reasonable built-in periods; used as the base record a
// config-driven run or optimizer sweep starts from.
func (f *File) StrategyParams() strategy.Params {
	return strategy.Params{
		Kind:           strategy.Kind(f.StrategyKind),
		FastPeriod:     10,
		SlowPeriod:     30,
		SignalPeriod:   9,
		RSIPeriod:      14,
		Oversold:       decimal.NewFromInt(30),
		Overbought:     decimal.NewFromInt(70),
		BBPeriod:       20,
		BBStdDev:       decimal.NewFromInt(2),
		StopLossPips:   decimal.NewFromInt(50),
		TakeProfitPips: decimal.NewFromInt(100),
		WeightSMA:      decimal.NewFromInt(1),
		WeightRSI:      decimal.NewFromInt(1),
		WeightBB:       decimal.NewFromInt(1),
		WeightMACD:     decimal.NewFromInt(1),
		VoteThreshold:  decimal.NewFromInt(2),
	}
}

// OptimizeSpaceValues returns the on-disk search space as a plain
// map[string][]float64; cmd/backtestlab converts it to an
// optimizer.ParamSpace.
func (f *File) OptimizeSpaceValues() map[string][]float64 {
	return f.Optimize
}
