package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mschilling0/pti-gpu/internal/aggregate"
	"github.com/mschilling0/pti-gpu/pkg/events"
	"github.com/mschilling0/pti-gpu/pkg/trace"
)

type captureSink struct {
	capacity int
	regions  [][]byte
}

func (s *captureSink) Request() ([]byte, error) {
	return make([]byte, s.capacity), nil
}

func (s *captureSink) Return(buf []byte, written int) {
	region := make([]byte, written)
	copy(region, buf[:written])
	s.regions = append(s.regions, region)
}

func TestTraceStreaming(t *testing.T) {
	dev := newFakeDevice()
	sink := &captureSink{capacity: 2 * trace.RecordSize}
	c := New(Params{
		Source:    dev,
		Allocator: dev,
		Aggregate: aggregate.Options{Timeline: true},
		Sink:      sink,
		Logger:    zap.NewNop(),
	})

	require.NoError(t, c.ListCreated(1, 7, 3, false))
	for i := 1; i <= 5; i++ {
		require.NoError(t, c.Track(1, "gemm", 32, events.EventID(i)))
		dev.complete(events.EventID(i), uint64(i*100), uint64(i*100+50))
	}
	assert.Equal(t, 5, c.DrainReady())
	c.FlushTrace()

	var records []trace.Record
	for _, region := range sink.regions {
		require.Zero(t, len(region)%trace.RecordSize)
		for off := 0; off < len(region); off += trace.RecordSize {
			records = append(records, trace.Decode(region[off:]))
		}
	}
	require.Len(t, records, 5)

	names := c.KernelNames()
	seen := make(map[uint64]bool)
	for _, r := range records {
		assert.Equal(t, trace.KindKernel, r.Kind)
		assert.Equal(t, "gemm", names[r.NameID])
		assert.Equal(t, uint64(3), r.Device)
		assert.Equal(t, uint64(7), r.Context)
		assert.Less(t, r.StartNS, r.EndNS)
		assert.False(t, seen[r.KernelID], "kernel ids must be unique")
		seen[r.KernelID] = true
	}
	assert.Zero(t, c.TraceDropped())
}
