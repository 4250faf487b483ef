package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngineOptions() Options {
	return Options{
		Tracker:  TrackerOptions{RecomputeN: 1000, RecomputeAge: time.Hour},
		Triggers: testTriggerConfig(),
		Dispatch: DispatcherOptions{Model: "test-model", CallTimeout: time.Second, MaxRetries: 1},

		TickInterval:       15 * time.Second,
		MoodEvolveInterval: 5 * time.Minute,
		ActiveWindow:       30 * time.Minute,
		Interests:          []string{"games"},
		Rand:               func() float64 { return 0.0 },
	}
}

func newTestEngine(t *testing.T, opts Options, gen *fakeGen, sender *fakeSender) *Engine {
	t.Helper()
	e := New(opts, gen, nil, nil, zerolog.Nop())
	if sender != nil {
		e.SetSender(sender)
	}
	return e
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestEngine_TickFiresAtMostOncePerChannel(t *testing.T) {
	gen := &fakeGen{replies: []string{"so quiet in here"}}
	sender := &fakeSender{}
	e := newTestEngine(t, testEngineOptions(), gen, sender)

	now := time.Now()
	e.Ingest(MessageEvent{
		MessageID: "m1", ChannelID: "c1", AuthorID: "u1",
		Content: "hello", Timestamp: now.Add(-200 * time.Second),
	})
	// A fresh summary keeps the background refresh out of this test.
	e.memory.PutSummary(ConversationSummary{ChannelID: "c1", Text: "prior chat", GeneratedAt: now})

	// Lull is eligible and rng always draws 0, so the first tick fires.
	e.tick(context.Background(), now)
	waitFor(t, func() bool { return sender.sentCount() == 1 })

	// The optimistic agent timestamp makes an immediate second tick a no-op.
	e.tick(context.Background(), now.Add(time.Second))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sender.sentCount())
	assert.Equal(t, 1, gen.callCount())
}

func TestEngine_FailedGenerationStillAdvancesAgentTimestamp(t *testing.T) {
	gen := &fakeGen{errs: []error{assert.AnError}}
	sender := &fakeSender{}
	e := newTestEngine(t, testEngineOptions(), gen, sender)

	now := time.Now()
	e.Ingest(MessageEvent{
		MessageID: "m1", ChannelID: "c1", AuthorID: "u1",
		Content: "hello", Timestamp: now.Add(-200 * time.Second),
	})
	e.memory.PutSummary(ConversationSummary{ChannelID: "c1", Text: "prior chat", GeneratedAt: now})

	e.tick(context.Background(), now)
	waitFor(t, func() bool { return gen.callCount() == 1 })

	// The failure is silent and the timestamp is not rolled back, so the
	// next tick does not immediately re-fire.
	e.tick(context.Background(), now.Add(time.Second))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, gen.callCount())
	assert.Equal(t, 0, sender.sentCount())
}

func TestEngine_HumanMessageCancelsInFlightGeneration(t *testing.T) {
	gen := &fakeGen{block: make(chan struct{})}
	sender := &fakeSender{}
	e := newTestEngine(t, testEngineOptions(), gen, sender)

	now := time.Now()
	e.Ingest(MessageEvent{
		MessageID: "m1", ChannelID: "c1", AuthorID: "u1",
		Content: "hello", Timestamp: now.Add(-200 * time.Second),
	})
	e.memory.PutSummary(ConversationSummary{ChannelID: "c1", Text: "prior chat", GeneratedAt: now})

	e.tick(context.Background(), now)
	waitFor(t, func() bool { return gen.callCount() == 1 })

	// A human message lands while the model is still generating.
	e.Ingest(MessageEvent{
		MessageID: "m2", ChannelID: "c1", AuthorID: "u1",
		Content: "actually never mind", Timestamp: time.Now(),
	})

	waitFor(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.flights) == 0
	})
	assert.Equal(t, 0, sender.sentCount(), "stale reply must be discarded")
}

func TestEngine_IngestFeedsRelationshipScore(t *testing.T) {
	e := newTestEngine(t, testEngineOptions(), &fakeGen{}, nil)
	now := time.Now()

	e.Ingest(MessageEvent{MessageID: "m1", ChannelID: "c1", AuthorID: "u1", Content: "hi", Timestamp: now, Mentioned: true})
	assert.Equal(t, 55.0, e.scorer.GetScore("u1"))

	e.Ingest(MessageEvent{MessageID: "m2", ChannelID: "c1", AuthorID: "u1", Content: "again", Timestamp: now, IsReply: true})
	assert.Equal(t, 58.0, e.scorer.GetScore("u1"))

	e.RecordReaction("u1", now)
	assert.Equal(t, 59.0, e.scorer.GetScore("u1"))

	// The agent's own messages never move scores.
	e.Ingest(MessageEvent{MessageID: "m3", ChannelID: "c1", AuthorID: "bot", Content: "yo", Timestamp: now, IsAgent: true})
	assert.Equal(t, RelationshipBaseline, e.scorer.GetScore("bot"))
}

func TestEngine_SnapshotShape(t *testing.T) {
	opts := testEngineOptions()
	opts.GenKeySet = true
	e := newTestEngine(t, opts, &fakeGen{}, nil)
	now := time.Now()

	e.Ingest(MessageEvent{MessageID: "m1", ChannelID: "c1", AuthorID: "u1", Content: "hi", Timestamp: now})
	e.Memory().UpsertFact(Fact{Scope: "u1", Text: "likes games", Confidence: 0.8})

	snap := e.Snapshot()
	assert.True(t, ValidMood(Mood(snap.Mood)))
	assert.False(t, snap.BackgroundTasksRunning, "scheduler not running yet")
	assert.Equal(t, 1, snap.Channels.ConversationHistoryChannels)
	assert.Equal(t, 1, snap.Channels.RelationshipPairs)
	assert.Equal(t, 1, snap.Channels.ActiveConversations)
	assert.Equal(t, 1, snap.Memory.UserFacts)
	assert.NotEmpty(t, snap.Memory.PersonalityTraits)
	require.Len(t, snap.Memory.TopInterests, 1)
	assert.Equal(t, "games", snap.Memory.TopInterests[0].Name)
	assert.Equal(t, 180.0, snap.Config.LullThresholdSec)
	assert.True(t, snap.Config.GenKeySet)
	assert.False(t, snap.Config.EmbedKeySet)

	// Snapshot must be read-only: taking it twice observes the same state.
	assert.Equal(t, snap.Channels, e.Snapshot().Channels)
	assert.Equal(t, snap.Memory, e.Snapshot().Memory)
}

func TestEngine_RunStopsOnContextCancel(t *testing.T) {
	opts := testEngineOptions()
	opts.TickInterval = 10 * time.Millisecond
	opts.MoodEvolveInterval = 10 * time.Millisecond
	e := newTestEngine(t, opts, &fakeGen{}, &fakeSender{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, func() bool { return e.Alive() })
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	waitFor(t, func() bool { return !e.Alive() })
}

func TestEngine_LoadsPersistedRelationships(t *testing.T) {
	persist := &stubPersister{rels: map[string]UserRelationship{
		"u1": {Score: 80, LastUpdatedAt: time.Now()},
	}}
	e := New(testEngineOptions(), &fakeGen{}, nil, persist, zerolog.Nop())
	assert.Equal(t, 80.0, e.scorer.GetScore("u1"))
}
