package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScorer_UnseenUserReadsBaseline(t *testing.T) {
	s := NewScorer()
	assert.Equal(t, RelationshipBaseline, s.GetScore("nobody"))
	assert.Equal(t, 0, s.Count())
}

func TestScorer_WeightsAndClamp(t *testing.T) {
	now := time.Now()
	s := NewScorer()

	s.RecordInteraction("u1", InteractionMessage, now)
	assert.Equal(t, 50.5, s.GetScore("u1"))
	s.RecordInteraction("u1", InteractionReaction, now)
	assert.Equal(t, 51.5, s.GetScore("u1"))
	s.RecordInteraction("u1", InteractionReply, now)
	assert.Equal(t, 54.5, s.GetScore("u1"))
	s.RecordInteraction("u1", InteractionMention, now)
	assert.Equal(t, 59.5, s.GetScore("u1"))

	// The score saturates at 100 no matter how many interactions land.
	for i := 0; i < 50; i++ {
		s.RecordInteraction("u1", InteractionMention, now)
	}
	assert.Equal(t, 100.0, s.GetScore("u1"))

	assert.Equal(t, int64(1), s.TrackedReactions())
}

func TestScorer_DecayNeverOvershootsBaseline(t *testing.T) {
	start := time.Now()
	s := NewScorer()

	for i := 0; i < 4; i++ {
		s.RecordInteraction("u1", InteractionMention, start) // 70
	}
	require.Equal(t, 70.0, s.GetScore("u1"))

	// Idle shorter than the grace period: no decay.
	s.DecayTick(start.Add(5 * time.Minute))
	assert.Equal(t, 70.0, s.GetScore("u1"))

	// Past the grace period decay moves toward baseline.
	s.DecayTick(start.Add(30 * time.Minute))
	decayed := s.GetScore("u1")
	assert.Less(t, decayed, 70.0)
	assert.GreaterOrEqual(t, decayed, RelationshipBaseline)

	// Even a huge idle gap converges exactly to the baseline.
	s.DecayTick(start.Add(48 * time.Hour))
	assert.Equal(t, RelationshipBaseline, s.GetScore("u1"))
}

func TestScorer_DecayRisesTowardBaselineFromBelow(t *testing.T) {
	start := time.Now()
	s := NewScorer()
	s.Import(map[string]UserRelationship{
		"u1": {Score: 10, LastUpdatedAt: start},
	})

	s.DecayTick(start.Add(48 * time.Hour))
	assert.Equal(t, RelationshipBaseline, s.GetScore("u1"))
}

func TestScorer_ExportImportRoundtrip(t *testing.T) {
	now := time.Now()
	s := NewScorer()
	s.RecordInteraction("u1", InteractionMention, now)
	s.RecordInteraction("u2", InteractionMessage, now)

	out := s.Export()
	require.Len(t, out, 2)

	restored := NewScorer()
	restored.Import(out)
	assert.Equal(t, s.GetScore("u1"), restored.GetScore("u1"))
	assert.Equal(t, s.GetScore("u2"), restored.GetScore("u2"))
}

func TestScorer_ImportClampsCorruptScores(t *testing.T) {
	s := NewScorer()
	s.Import(map[string]UserRelationship{
		"high": {Score: 900},
		"low":  {Score: -5},
	})
	assert.Equal(t, 100.0, s.GetScore("high"))
	assert.Equal(t, 0.0, s.GetScore("low"))
}
