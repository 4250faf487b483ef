package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(opts TrackerOptions) *Tracker {
	return NewTracker(opts, zerolog.Nop())
}

func humanMsg(channel, author, text string, at time.Time) MessageEvent {
	return MessageEvent{
		MessageID: fmt.Sprintf("m-%d", at.UnixNano()),
		ChannelID: channel,
		AuthorID:  author,
		Content:   text,
		Timestamp: at,
	}
}

func TestTracker_BufferIsFIFOBounded(t *testing.T) {
	tr := newTestTracker(TrackerOptions{BufferCap: 3, RecomputeN: 1000, RecomputeAge: time.Hour})
	now := time.Now()

	for i := 0; i < 5; i++ {
		ev := humanMsg("c1", "u1", fmt.Sprintf("msg %d", i), now.Add(time.Duration(i)*time.Second))
		ev.MessageID = fmt.Sprintf("m%d", i)
		tr.Ingest(ev)
	}

	snap, ok := tr.Snapshot("c1", time.Hour, now)
	require.True(t, ok)
	require.Len(t, snap.Buffer, 3)
	assert.Equal(t, "m2", snap.Buffer[0].ID)
	assert.Equal(t, "m4", snap.Buffer[2].ID)
}

func TestTracker_DropsMalformedEvents(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	now := time.Now()

	tr.Ingest(MessageEvent{AuthorID: "u1", Content: "no channel", Timestamp: now})
	tr.Ingest(MessageEvent{ChannelID: "c1", Content: "no author", Timestamp: now})
	tr.Ingest(MessageEvent{ChannelID: "c1", AuthorID: "u1", Content: "no timestamp"})

	channels, _, _, _, global, _, _, _ := tr.Counts(time.Hour, now)
	assert.Equal(t, 0, channels)
	assert.Equal(t, 0, global)
}

func TestTracker_ThreadMessagesKeepSeparateHistory(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	now := time.Now()

	ev := humanMsg("c1", "u1", "in thread", now)
	ev.ThreadID = "t1"
	tr.Ingest(ev)

	snap, ok := tr.Snapshot("c1", time.Hour, now)
	require.True(t, ok)
	assert.Empty(t, snap.Buffer, "thread messages must not land in the channel buffer")

	_, threads, _, _, global, _, _, _ := tr.Counts(time.Hour, now)
	assert.Equal(t, 1, threads)
	assert.Equal(t, 1, global, "thread messages still feed the global cache")
}

func TestTracker_TimestampsAndActiveUsers(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	now := time.Now()

	tr.Ingest(humanMsg("c1", "u1", "hi", now.Add(-45*time.Minute)))
	tr.Ingest(humanMsg("c1", "u2", "hello", now.Add(-5*time.Minute)))
	agent := humanMsg("c1", "bot", "hey", now.Add(-2*time.Minute))
	agent.IsAgent = true
	tr.Ingest(agent)

	snap, ok := tr.Snapshot("c1", 30*time.Minute, now)
	require.True(t, ok)
	assert.Equal(t, now.Add(-5*time.Minute).Unix(), snap.LastHumanAt.Unix())
	assert.Equal(t, now.Add(-2*time.Minute).Unix(), snap.LastAgentAt.Unix())
	// u1 fell out of the 30 minute active window.
	assert.Equal(t, []string{"u2"}, snap.ActiveUsers)
}

func TestTracker_MarkAgentSpokeAdvancesWithoutMessage(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	now := time.Now()
	tr.Ingest(humanMsg("c1", "u1", "hi", now.Add(-10*time.Minute)))

	tr.MarkAgentSpoke("c1", now)
	snap, _ := tr.Snapshot("c1", time.Hour, now)
	assert.Equal(t, now, snap.LastAgentAt)
}

func TestTracker_TopicEmbeddingSwapOnReady(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	now := time.Now()
	tr.Ingest(humanMsg("c1", "u1", "talking about games", now))

	tr.SetTopicEmbedding("c1", []float32{1, 2}, now)
	snap, _ := tr.Snapshot("c1", time.Hour, now)
	assert.Equal(t, []float32{1, 2}, snap.TopicEmbedding)

	// An empty result never clears a served embedding.
	tr.SetTopicEmbedding("c1", nil, now.Add(time.Minute))
	snap, _ = tr.Snapshot("c1", time.Hour, now)
	assert.Equal(t, []float32{1, 2}, snap.TopicEmbedding)
}

func TestTracker_RequestsTopicRecompute(t *testing.T) {
	tr := newTestTracker(TrackerOptions{RecomputeN: 3, RecomputeAge: time.Hour})
	var requests []string
	tr.SetTopicRecomputeFunc(func(channelID, text string) {
		requests = append(requests, text)
	})
	now := time.Now()

	// First message: no cache yet, the age path requests a recompute.
	tr.Ingest(humanMsg("c1", "u1", "one", now))
	require.Len(t, requests, 1)
	tr.SetTopicEmbedding("c1", []float32{1}, now)

	// Count path: every third message after that.
	tr.Ingest(humanMsg("c1", "u1", "two", now.Add(1*time.Second)))
	tr.Ingest(humanMsg("c1", "u1", "three", now.Add(2*time.Second)))
	require.Len(t, requests, 1)
	tr.Ingest(humanMsg("c1", "u1", "four", now.Add(3*time.Second)))
	require.Len(t, requests, 2)
	assert.Contains(t, requests[1], "four")
}

func TestTracker_SentimentTally(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	now := time.Now()

	tr.Ingest(humanMsg("c1", "u1", "thanks, love it", now))
	tr.Ingest(humanMsg("c1", "u1", "this is stupid", now))
	tr.Ingest(humanMsg("c1", "u1", "ok", now))

	_, _, _, _, _, _, _, sentimentChannels := tr.Counts(time.Hour, now)
	assert.Equal(t, 1, sentimentChannels)
}

func TestTracker_RecentVolume(t *testing.T) {
	tr := newTestTracker(TrackerOptions{GlobalCap: 10})
	now := time.Now()

	for i := 0; i < 5; i++ {
		tr.Ingest(humanMsg("c1", "u1", "x", now.Add(-time.Duration(i)*time.Minute)))
	}
	tr.Ingest(humanMsg("c1", "u1", "old", now.Add(-2*time.Hour)))

	assert.InDelta(t, 0.5, tr.RecentVolume(10*time.Minute, now), 1e-9)
	assert.InDelta(t, 0.6, tr.RecentVolume(3*time.Hour, now), 1e-9)
}

func TestTracker_ActiveChannels(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	now := time.Now()

	tr.Ingest(humanMsg("c1", "u1", "recent", now.Add(-5*time.Minute)))
	tr.Ingest(humanMsg("c2", "u2", "stale", now.Add(-2*time.Hour)))

	active := tr.ActiveChannels(30*time.Minute, now)
	assert.Equal(t, []string{"c1"}, active)
}
