package events

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, historySize int) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(filepath.Join(t.TempDir(), "coordinator.db"), historySize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCoordinator_ObserveTracksActiveThenHistory(t *testing.T) {
	c := newTestCoordinator(t, 0)
	now := time.Now().UTC()

	require.NoError(t, c.Observe(Event{RunID: "run-1", Node: "n1", Kind: "run_started", Timestamp: now}))
	assert.Len(t, c.ActiveRuns(), 1)

	require.NoError(t, c.Observe(Event{RunID: "run-1", Node: "n1", Kind: "run_completed", Timestamp: now.Add(time.Second)}))
	assert.Empty(t, c.ActiveRuns())

	history, err := c.History("", "", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "completed", history[0].Status)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Completed)
	assert.EqualValues(t, 0, stats.Failed)
}

func TestCoordinator_HistoryRingEvictsOldest(t *testing.T) {
	c := newTestCoordinator(t, 2)
	for i := 0; i < 3; i++ {
		runID := string(rune('a' + i))
		require.NoError(t, c.Observe(Event{RunID: runID, Node: "n1", Kind: "run_started", Timestamp: time.Now()}))
		require.NoError(t, c.Observe(Event{RunID: runID, Node: "n1", Kind: "run_completed", Timestamp: time.Now()}))
	}
	history, err := c.History("", "", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2, "history ring should be bounded to historySize")
}

func TestCoordinator_ByIDAndConnectedNodes(t *testing.T) {
	c := newTestCoordinator(t, 0)
	require.NoError(t, c.Observe(Event{RunID: "run-1", Node: "n1", Kind: "run_started", Timestamp: time.Now()}))
	require.NoError(t, c.Observe(Event{RunID: "run-1", Node: "n1", Kind: "run_failed", Timestamp: time.Now()}))

	summary, found, err := c.ByID("run-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "failed", summary.Status)

	nodes := c.ConnectedNodes(time.Now().Add(-time.Minute))
	assert.Contains(t, nodes, "n1")
}
