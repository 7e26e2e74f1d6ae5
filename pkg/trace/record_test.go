package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	r := Record{
		Kind:     KindKernel,
		NameID:   3,
		KernelID: 42,
		Device:   7,
		Context:  9,
		Width:    32,
		StartNS:  1_000_000,
		EndNS:    1_000_500,
	}
	buf := make([]byte, RecordSize)
	r.Encode(buf)
	assert.Equal(t, r, Decode(buf))
}

func TestParse(t *testing.T) {
	t.Run("SequentialRecords", func(t *testing.T) {
		region := make([]byte, 3*RecordSize)
		for i := 0; i < 3; i++ {
			Record{Kind: KindKernel, KernelID: uint64(i)}.Encode(region[i*RecordSize:])
		}

		records, err := Parse(region)
		require.NoError(t, err)
		require.Len(t, records, 3)
		for i, r := range records {
			assert.Equal(t, uint64(i), r.KernelID)
		}
	})

	t.Run("EmptyRegion", func(t *testing.T) {
		records, err := Parse(nil)
		assert.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("TornRegion", func(t *testing.T) {
		_, err := Parse(make([]byte, RecordSize+1))
		assert.Error(t, err)
	})
}
