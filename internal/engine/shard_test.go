package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionFor_Deterministic(t *testing.T) {
	keys := []string{"ingest", "corr-7f3a", "billing", "auth", "corr-0195c0de"}
	for _, key := range keys {
		for workers := 1; workers <= 10; workers++ {
			first := partitionFor(key, workers)
			second := partitionFor(key, workers)
			assert.Equal(t, first, second, "key %q workers %d", key, workers)
		}
	}
}

func TestPartitionFor_InRange(t *testing.T) {
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("source-%d", i)
		for workers := 1; workers <= 16; workers++ {
			got := partitionFor(key, workers)
			require.GreaterOrEqual(t, got, 0)
			require.Less(t, got, workers)
		}
	}
}

func TestPartitionFor_SingleWorker(t *testing.T) {
	for i := 0; i < 100; i++ {
		assert.Equal(t, 0, partitionFor(fmt.Sprintf("key-%d", i), 1))
	}
}

func TestPartitionFor_SpreadsKeys(t *testing.T) {
	const workers = 4
	counts := make([]int, workers)
	for i := 0; i < 4000; i++ {
		counts[partitionFor(fmt.Sprintf("corr-%d", i), workers)]++
	}
	// Jump hash is close to uniform; no worker should sit far off the
	// thousand-key average.
	for w, n := range counts {
		assert.Greater(t, n, 700, "worker %d starved with %d keys", w, n)
		assert.Less(t, n, 1300, "worker %d overloaded with %d keys", w, n)
	}
}

func TestPartitionFor_PanicsWithoutWorkers(t *testing.T) {
	assert.Panics(t, func() { partitionFor("ingest", 0) })
	assert.Panics(t, func() { partitionFor("ingest", -1) })
}
