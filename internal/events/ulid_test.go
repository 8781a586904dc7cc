package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULID_StringIsTwentySixChars(t *testing.T) {
	src := NewSource()
	id, err := src.New()
	require.NoError(t, err)
	assert.Len(t, id.String(), 26)
}

func TestSource_RapidCallsProduceDistinctNonDecreasingIDs(t *testing.T) {
	src := NewSource()
	var ids []ULID
	for i := 0; i < 50; i++ {
		id, err := src.New()
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		assert.NotEqual(t, ids[i-1].String(), ids[i].String())
		assert.True(t, ids[i].String() > ids[i-1].String(), "ulids must sort monotonically as strings")
	}
}

func TestSource_SameMillisecondIncrementsRandomness(t *testing.T) {
	src := &Source{lastMS: 1234}
	var last [10]byte
	last[9] = 5
	src.lastRnd = last

	// Pin the clock view by directly invoking the same-millisecond branch
	// logic exercised by New(): incrementing randomness must not touch ms.
	ok := incrementRandom(&src.lastRnd)
	assert.True(t, ok)
	assert.EqualValues(t, 6, src.lastRnd[9])
	assert.EqualValues(t, 1234, src.lastMS)
}

func TestIncrementRandom_OverflowReportsFalse(t *testing.T) {
	var rnd [10]byte
	for i := range rnd {
		rnd[i] = 0xFF
	}
	assert.False(t, incrementRandom(&rnd))
	for _, b := range rnd {
		assert.Zero(t, b)
	}
}
