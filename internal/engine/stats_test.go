package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats_RunningAverage(t *testing.T) {
	s := NewStats()

	s.Record(StatAPI, "openai", true, 100*time.Millisecond, 0)
	s.Record(StatAPI, "openai", false, 300*time.Millisecond, 2)

	api, _ := s.snapshotMaps()
	st, ok := api["openai"]
	require.True(t, ok)
	assert.Equal(t, int64(2), st.Count)
	assert.Equal(t, int64(1), st.Success)
	assert.Equal(t, int64(1), st.Failure)
	assert.Equal(t, int64(2), st.Retries)
	assert.Equal(t, 400.0, st.TotalTimeMs)
	assert.Equal(t, 200.0, st.AverageTimeMs)
}

func TestStats_KindsAreSeparate(t *testing.T) {
	s := NewStats()
	s.Record(StatAPI, "openai", true, time.Millisecond, 0)
	s.Record(StatTool, "embed", true, time.Millisecond, 0)
	s.Record(StatTool, "summarize", false, time.Millisecond, 0)

	api, tool := s.snapshotMaps()
	assert.Len(t, api, 1)
	assert.Len(t, tool, 2)
}

func TestStats_SnapshotIsDetachedCopy(t *testing.T) {
	s := NewStats()
	s.Record(StatAPI, "openai", true, 100*time.Millisecond, 0)

	first, _ := s.snapshotMaps()
	second, _ := s.snapshotMaps()
	assert.Equal(t, first, second, "reading the snapshot twice must observe identical state")

	// Mutating a returned map must not leak back into the collector.
	entry := first["openai"]
	entry.Count = 999
	first["openai"] = entry
	third, _ := s.snapshotMaps()
	assert.Equal(t, int64(1), third["openai"].Count)
}
