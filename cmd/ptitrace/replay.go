package main

import (
	"fmt"
	"os"

	"github.com/common-nighthawk/go-figure"
	"github.com/mschilling0/pti-gpu/internal/aggregate"
	"github.com/mschilling0/pti-gpu/internal/clock"
	"github.com/mschilling0/pti-gpu/internal/config"
	"github.com/mschilling0/pti-gpu/internal/replay"
	"github.com/mschilling0/pti-gpu/internal/report"
	"github.com/mschilling0/pti-gpu/internal/tracebuf"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func replayCommand(cfg **config.Config, log **zap.Logger) *cli.Command {
	var traceOut string
	var rawOut string
	var quiet bool

	return &cli.Command{
		Name:      "replay",
		Usage:     "Replay a device event log and report per-kernel statistics",
		ArgsUsage: "<eventlog>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "trace-out",
				Usage:       "Chrome trace-event JSON output path (overrides config)",
				Destination: &traceOut,
			},
			&cli.StringFlag{
				Name:        "raw-out",
				Usage:       "Raw fixed-size record output path",
				Destination: &rawOut,
			},
			&cli.BoolFlag{
				Name:        "quiet",
				Usage:       "Suppress the banner",
				Destination: &quiet,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one event log path")
			}
			return runReplay(c.Args().First(), traceOut, rawOut, quiet, *cfg, *log)
		},
	}
}

func runReplay(logPath, traceOut, rawOut string, quiet bool, cfg *config.Config, log *zap.Logger) error {
	if !quiet {
		banner := figure.NewFigure("ptitrace", "", true)
		banner.Print()
		fmt.Println()
	}

	eventLog, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer eventLog.Close()

	var sink tracebuf.Sink
	var rawSink *tracebuf.FileSink
	if rawOut != "" {
		rawFile, err := os.Create(rawOut)
		if err != nil {
			return fmt.Errorf("failed to create raw trace file: %w", err)
		}
		defer rawFile.Close()
		rawSink = tracebuf.NewFileSink(rawFile, cfg.Trace.BufferRecords)
		sink = rawSink
	}

	runner := replay.NewRunner(replay.Options{
		Clock: clock.Meta{
			FrequencyHz: cfg.Clock.FrequencyHz,
			CounterBits: cfg.Clock.CounterBits,
		},
		Aggregate: aggregate.Options{
			WidthBuckets: cfg.Aggregate.WidthBuckets,
			Timeline:     cfg.Aggregate.Timeline,
		},
		Sink:   sink,
		Logger: log,
	})
	if err := runner.Run(eventLog); err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	col := runner.Collector()
	if pending := col.InFlight(); pending > 0 {
		log.Warn("launches never completed", zap.Int("count", pending))
	}
	if dropped := col.TraceDropped(); dropped > 0 {
		log.Warn("trace records dropped", zap.Uint64("count", dropped))
	}
	if rawSink != nil {
		if err := rawSink.Err(); err != nil {
			log.Warn("raw trace writes failed", zap.Error(err))
		} else {
			log.Info("raw trace written",
				zap.String("path", rawOut),
				zap.Uint64("records", rawSink.Records()))
		}
	}

	snap := col.Snapshot()
	if err := report.WriteTable(os.Stdout, report.BuildRows(snap)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if traceOut == "" {
		traceOut = cfg.Trace.Output
	}
	if traceOut != "" {
		traceFile, err := os.Create(traceOut)
		if err != nil {
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		defer traceFile.Close()
		if err := report.WriteChromeTrace(traceFile, snap, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write trace: %w", err)
		}
		log.Info("chrome trace written", zap.String("path", traceOut))
	}
	return nil
}
