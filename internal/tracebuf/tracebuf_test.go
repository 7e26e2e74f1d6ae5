package tracebuf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mschilling0/pti-gpu/pkg/trace"
)

// memorySink collects handed-off regions and serves buffers of a fixed
// capacity until exhausted.
type memorySink struct {
	capacity  int
	remaining int
	returned  [][]byte
}

func newMemorySink(capacity, buffers int) *memorySink {
	return &memorySink{capacity: capacity, remaining: buffers}
}

func (s *memorySink) Request() ([]byte, error) {
	if s.remaining == 0 {
		return nil, errors.New("out of buffers")
	}
	s.remaining--
	return make([]byte, s.capacity), nil
}

func (s *memorySink) Return(buf []byte, written int) {
	region := make([]byte, written)
	copy(region, buf[:written])
	s.returned = append(s.returned, region)
}

func testRecord(id uint64) trace.Record {
	return trace.Record{
		Kind:     trace.KindKernel,
		NameID:   uint32(id % 3),
		KernelID: id,
		Device:   1,
		Context:  2,
		Width:    32,
		StartNS:  id * 100,
		EndNS:    id*100 + 50,
	}
}

func TestAppendAndFlush(t *testing.T) {
	sink := newMemorySink(4*trace.RecordSize, 10)
	e := NewExchange(sink, zap.NewNop())

	for i := uint64(0); i < 3; i++ {
		assert.NoError(t, e.Append(testRecord(i)))
	}
	assert.Equal(t, 3*trace.RecordSize, e.Written())

	e.Flush()
	require.Len(t, sink.returned, 1)
	assert.Equal(t, 3*trace.RecordSize, len(sink.returned[0]))
	assert.Equal(t, 0, e.Written())

	// Records round-trip intact and strictly sequentially.
	records, err := trace.Parse(sink.returned[0])
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, testRecord(uint64(i)), r)
	}
}

func TestAppendExhaustion(t *testing.T) {
	sink := newMemorySink(2*trace.RecordSize, 10)
	e := NewExchange(sink, zap.NewNop())

	assert.NoError(t, e.Append(testRecord(0)))
	assert.NoError(t, e.Append(testRecord(1)))
	assert.ErrorIs(t, e.Append(testRecord(2)), ErrBufferExhausted)

	// The full buffer is untouched by the failed append.
	assert.Equal(t, 2*trace.RecordSize, e.Written())
}

func TestWholeRecordsAcrossHandOffs(t *testing.T) {
	sink := newMemorySink(3*trace.RecordSize+trace.RecordSize/2, 10)
	e := NewExchange(sink, zap.NewNop())

	const total = 10
	for i := uint64(0); i < total; i++ {
		e.Emit(testRecord(i))
	}
	e.Flush()

	var records int
	for _, region := range sink.returned {
		// No record is ever split across a hand-off boundary.
		assert.Zero(t, len(region)%trace.RecordSize)
		records += len(region) / trace.RecordSize
	}
	assert.Equal(t, total, records)
	assert.Zero(t, e.Dropped())
}

func TestDropsWhenSinkExhausted(t *testing.T) {
	sink := newMemorySink(2*trace.RecordSize, 1)
	e := NewExchange(sink, zap.NewNop())

	for i := uint64(0); i < 5; i++ {
		e.Emit(testRecord(i))
	}

	// Two records fit the only buffer; the rest degrade to counted loss.
	assert.Equal(t, uint64(3), e.Dropped())
	require.Len(t, sink.returned, 1)
	assert.Equal(t, 2*trace.RecordSize, len(sink.returned[0]))
}

func TestSupplyBufferRecovers(t *testing.T) {
	sink := newMemorySink(2*trace.RecordSize, 1)
	e := NewExchange(sink, zap.NewNop())

	for i := uint64(0); i < 3; i++ {
		e.Emit(testRecord(i))
	}
	assert.Equal(t, uint64(1), e.Dropped())

	require.NoError(t, e.SupplyBuffer(make([]byte, 4*trace.RecordSize)))
	e.Emit(testRecord(3))
	e.Flush()

	assert.Equal(t, uint64(1), e.Dropped())
	last := sink.returned[len(sink.returned)-1]
	require.Equal(t, trace.RecordSize, len(last))
	assert.Equal(t, uint64(3), trace.Decode(last).KernelID)
}

func TestSupplyBufferTooSmall(t *testing.T) {
	e := NewExchange(newMemorySink(2*trace.RecordSize, 1), zap.NewNop())
	assert.ErrorIs(t, e.SupplyBuffer(make([]byte, trace.RecordSize-1)), ErrBufferExhausted)
}

func TestNoInitialBuffer(t *testing.T) {
	sink := newMemorySink(2*trace.RecordSize, 0)
	e := NewExchange(sink, zap.NewNop())

	assert.ErrorIs(t, e.Append(testRecord(0)), ErrBufferExhausted)
	e.Emit(testRecord(1))
	assert.Equal(t, uint64(1), e.Dropped())
}

type failingWriter struct {
	buf      []byte
	failFrom int
	writes   int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.failFrom > 0 && w.writes >= w.failFrom {
		return 0, errors.New("disk full")
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func TestFileSink(t *testing.T) {
	w := &failingWriter{}
	sink := NewFileSink(w, 2)
	e := NewExchange(sink, zap.NewNop())

	for i := uint64(0); i < 5; i++ {
		e.Emit(testRecord(i))
	}
	e.Flush()

	assert.Equal(t, uint64(5), sink.Records())
	assert.NoError(t, sink.Err())
	records, err := trace.Parse(w.buf)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, r := range records {
		assert.Equal(t, testRecord(uint64(i)), r)
	}
}

func TestFileSinkWriteFailure(t *testing.T) {
	w := &failingWriter{failFrom: 2}
	sink := NewFileSink(w, 2)
	e := NewExchange(sink, zap.NewNop())

	for i := uint64(0); i < 6; i++ {
		e.Emit(testRecord(i))
	}

	// The first region lands, the second fails, everything after is a
	// counted drop rather than a lost write.
	assert.Error(t, sink.Err())
	assert.Equal(t, uint64(2), sink.Records())
	assert.NotZero(t, e.Dropped())
}

func TestBank(t *testing.T) {
	b := NewBank()
	gemm := b.ID("gemm")
	copyID := b.ID("copy")
	assert.Equal(t, gemm, b.ID("gemm"))
	assert.NotEqual(t, gemm, copyID)

	name, ok := b.Name(gemm)
	assert.True(t, ok)
	assert.Equal(t, "gemm", name)

	_, ok = b.Name(99)
	assert.False(t, ok)

	assert.Equal(t, []string{"gemm", "copy"}, b.Names())
}
