//go:build integration
// +build integration

package integration

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/mschilling0/pti-gpu/fixtures"
	"github.com/mschilling0/pti-gpu/internal/aggregate"
	"github.com/mschilling0/pti-gpu/internal/clock"
	"github.com/mschilling0/pti-gpu/internal/config"
	"github.com/mschilling0/pti-gpu/internal/logger"
	"github.com/mschilling0/pti-gpu/internal/replay"
	"github.com/mschilling0/pti-gpu/internal/report"
	"github.com/mschilling0/pti-gpu/internal/tracebuf"
	"github.com/mschilling0/pti-gpu/pkg/trace"
)

// rawTrace captures the raw record stream the way a trace file would.
type rawTrace struct {
	bytes.Buffer
}

func TestReplaySession_EndToEnd(t *testing.T) {
	var runner *replay.Runner
	var raw *rawTrace

	app := fxtest.New(t,
		fx.Provide(
			config.Default,
			func(cfg *config.Config) (*zap.Logger, error) {
				return logger.New(cfg.Logger.Verbosity)
			},
			func() *rawTrace { return &rawTrace{} },
			func(cfg *config.Config, rt *rawTrace) *tracebuf.FileSink {
				return tracebuf.NewFileSink(rt, cfg.Trace.BufferRecords)
			},
			func(cfg *config.Config, sink *tracebuf.FileSink, log *zap.Logger) *replay.Runner {
				return replay.NewRunner(replay.Options{
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
			},
		),
		fx.Populate(&runner, &raw),
	)

	app.RequireStart()
	defer app.RequireStop()

	require.NoError(t, runner.Run(bytes.NewReader(fixtures.SampleEventLog)))

	col := runner.Collector()
	assert.Zero(t, col.InFlight())
	assert.Zero(t, col.TraceDropped())

	snap := col.Snapshot()
	gemm, ok := snap.Stats["gemm"]
	require.True(t, ok)
	assert.Equal(t, uint64(3), gemm.CallCount)
	assert.Equal(t, uint64(700), gemm.TotalTimeNS)
	assert.Equal(t, uint64(100), gemm.MinTimeNS)
	assert.Equal(t, uint64(400), gemm.MaxTimeNS)
	assert.Equal(t, uint32(512), gemm.MaxWidth)

	cp, ok := snap.Stats["copy"]
	require.True(t, ok)
	assert.Equal(t, uint64(1), cp.CallCount)
	assert.Equal(t, uint64(50), cp.TotalTimeNS)

	// Four retired launches, four raw records on the wire.
	records, err := trace.Parse(raw.Bytes())
	require.NoError(t, err)
	assert.Len(t, records, 4)
	names := col.KernelNames()
	for _, r := range records {
		require.Less(t, int(r.NameID), len(names))
		assert.Contains(t, []string{"gemm", "copy"}, names[r.NameID])
	}

	var table bytes.Buffer
	require.NoError(t, report.WriteTable(&table, report.BuildRows(snap)))
	assert.Contains(t, table.String(), "gemm")
	assert.Contains(t, table.String(), "copy")

	var chrome bytes.Buffer
	require.NoError(t, report.WriteChromeTrace(&chrome, snap, 1))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(chrome.Bytes(), &doc))
	events, ok := doc["traceEvents"].([]any)
	require.True(t, ok)
	assert.Len(t, events, 4)
}
