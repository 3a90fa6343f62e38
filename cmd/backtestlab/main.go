// Package main is the entry point for backtestlab: given a single
// `-config` file, it drives one of three run modes (a single backtest,
// a parameter-optimizer sweep, or a walk-forward test) and prints the
// resulting JSON to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/backtestlab/internal/backtest"
	"github.com/atlas-desktop/backtestlab/internal/cache"
	"github.com/atlas-desktop/backtestlab/internal/config"
	"github.com/atlas-desktop/backtestlab/internal/optimizer"
	"github.com/atlas-desktop/backtestlab/internal/progress"
	"github.com/atlas-desktop/backtestlab/internal/strategy"
	"github.com/atlas-desktop/backtestlab/internal/walkforward"
	"github.com/atlas-desktop/backtestlab/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML/JSON run configuration file")
	progressAddr := flag.String("progress-addr", "", "optional address to serve a progress websocket on (e.g. :8090)")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: backtestlab -config run.yaml")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, cancelling run")
		cancel()
	}()

	var progSrv *progress.Server
	if *progressAddr != "" {
		progSrv = progress.New(logger, *progressAddr)
		go func() {
			if err := progSrv.Serve(); err != nil {
				logger.Debug("progress server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			progSrv.Shutdown(shutdownCtx)
		}()
	}

	btConfig, err := cfg.BacktestConfig()
	if err != nil {
		logger.Fatal("invalid backtest config", zap.Error(err))
	}
	btConfig.ID = uuid.NewString()

	dataCache, err := cache.New(logger, cfg.DataDir, nil)
	if err != nil {
		logger.Fatal("failed to initialize historical data cache", zap.Error(err))
	}

	slippage := backtest.FixedSlippage{Offset: btConfig.Slippage.Mul(types.PipSize(btConfig.Symbol))}
	engine := backtest.NewEngine(logger, dataCache, slippage)
	if progSrv != nil {
		engine.SetProgress(func(processed, total int) {
			progSrv.Publish(types.BacktestProgress{RunID: btConfig.ID, Processed: processed, Total: total})
		})
	}

	var result any
	switch cfg.Mode {
	case config.ModeBacktest:
		result, err = runBacktest(ctx, engine, btConfig, cfg)
	case config.ModeOptimize:
		result, err = runOptimize(ctx, logger, engine, btConfig, cfg)
	case config.ModeWalkForward:
		result, err = runWalkForward(ctx, logger, engine, btConfig, cfg)
	default:
		logger.Fatal("unknown run mode", zap.String("mode", string(cfg.Mode)))
	}
	if err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Fatal("failed to encode result", zap.Error(err))
	}
}

// runBacktest drives a single backtest of cfg.StrategyKind over
// btConfig's date range.
func runBacktest(ctx context.Context, engine *backtest.Engine, btConfig types.BacktestConfig, cfg *config.File) (*types.BacktestResult, error) {
	strat := strategy.New(cfg.StrategyParams())
	return engine.Run(ctx, btConfig, strat)
}

// runOptimize drives a grid sweep over cfg.Optimize, ranking by Sharpe
// ratio descending, and returns the ranked results.
func runOptimize(ctx context.Context, logger *zap.Logger, engine *backtest.Engine, btConfig types.BacktestConfig, cfg *config.File) ([]optimizer.EvalResult, error) {
	base := cfg.StrategyParams()
	opt := optimizer.New(logger, engine)
	return opt.Run(ctx, optimizer.Config{
		BaseConfig: btConfig,
		Space:      optimizer.ParamSpace(cfg.OptimizeSpaceValues()),
		Factory:    strategyFactory(base),
		Metric:     func(m types.Metrics) float64 { v, _ := m.SharpeRatio.Float64(); return v },
		Direction:  optimizer.Descending,
	})
}

// runWalkForward drives a walk-forward test per cfg.WalkForward, sliding
// the train/test window across btConfig's date range.
func runWalkForward(ctx context.Context, logger *zap.Logger, engine *backtest.Engine, btConfig types.BacktestConfig, cfg *config.File) (*walkforward.Result, error) {
	base := cfg.StrategyParams()
	mode := walkforward.Rolling
	if cfg.WalkForward.Mode == "anchored" {
		mode = walkforward.Anchored
	}

	tester := walkforward.New(logger, engine)
	return tester.Run(ctx, walkforward.Config{
		FullStart:  btConfig.Start,
		FullEnd:    btConfig.End,
		TrainDays:  cfg.WalkForward.TrainDays,
		TestDays:   cfg.WalkForward.TestDays,
		StepDays:   cfg.WalkForward.StepDays,
		Mode:       mode,
		BaseConfig: btConfig,
		Space:      optimizer.ParamSpace(cfg.OptimizeSpaceValues()),
		Factory:    strategyFactory(base),
		Metric:     func(m types.Metrics) float64 { v, _ := m.SharpeRatio.Float64(); return v },
		Direction:  optimizer.Descending,
	})
}

// strategyFactory builds an optimizer.StrategyFactory that overlays each
// candidate ParamSet's float values onto base by field name, so the
// optimizer's Cartesian product can tune any subset of the strategy's
// flat parameter record.
func strategyFactory(base strategy.Params) optimizer.StrategyFactory {
	return func(set optimizer.ParamSet) backtest.Strategy {
		p := base
		for name, v := range set {
			switch name {
			case "fastPeriod":
				p.FastPeriod = int(v)
			case "slowPeriod":
				p.SlowPeriod = int(v)
			case "signalPeriod":
				p.SignalPeriod = int(v)
			case "rsiPeriod":
				p.RSIPeriod = int(v)
			case "bbPeriod":
				p.BBPeriod = int(v)
			case "stopLossPips":
				p.StopLossPips = decimalFromFloat(v)
			case "takeProfitPips":
				p.TakeProfitPips = decimalFromFloat(v)
			case "voteThreshold":
				p.VoteThreshold = decimalFromFloat(v)
			}
		}
		return strategy.New(p)
	}
}

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
