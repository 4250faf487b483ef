package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SentimentTally counts classified messages for one channel.
type SentimentTally struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

type channelState struct {
	id              string
	buffer          []MessageRecord
	lastHumanAt     time.Time
	lastAgentAt     time.Time
	topicEmbedding  []float32
	topicComputedAt time.Time
	msgsSinceTopic  int
	activeUsers     map[string]time.Time
}

// Tracker maintains bounded per-channel, per-thread and global message
// state. Ingest is in-memory and never blocks on embedding work; topic
// recomputes are requested through a callback that runs detached.
type Tracker struct {
	mu        sync.RWMutex
	channels  map[string]*channelState
	threads   map[string][]MessageRecord
	global    []MessageRecord
	mentioned []MessageRecord
	sentiment map[string]*SentimentTally

	bufferCap    int
	threadCap    int
	globalCap    int
	mentionCap   int
	recomputeN   int
	recomputeAge time.Duration

	// requestTopicRecompute is invoked (already under no lock) when a
	// channel's topic cache is due. May be nil in tests.
	requestTopicRecompute func(channelID, text string)

	log zerolog.Logger
}

// TrackerOptions bounds the tracker's caches.
type TrackerOptions struct {
	BufferCap    int
	ThreadCap    int
	GlobalCap    int
	MentionCap   int
	RecomputeN   int           // recompute topic every N ingested messages...
	RecomputeAge time.Duration // ...or when the cache is older than this
}

func NewTracker(opts TrackerOptions, log zerolog.Logger) *Tracker {
	if opts.BufferCap <= 0 {
		opts.BufferCap = 50
	}
	if opts.ThreadCap <= 0 {
		opts.ThreadCap = 30
	}
	if opts.GlobalCap <= 0 {
		opts.GlobalCap = 200
	}
	if opts.MentionCap <= 0 {
		opts.MentionCap = 50
	}
	if opts.RecomputeN <= 0 {
		opts.RecomputeN = 10
	}
	if opts.RecomputeAge <= 0 {
		opts.RecomputeAge = 2 * time.Minute
	}
	return &Tracker{
		channels:     make(map[string]*channelState),
		threads:      make(map[string][]MessageRecord),
		sentiment:    make(map[string]*SentimentTally),
		bufferCap:    opts.BufferCap,
		threadCap:    opts.ThreadCap,
		globalCap:    opts.GlobalCap,
		mentionCap:   opts.MentionCap,
		recomputeN:   opts.RecomputeN,
		recomputeAge: opts.RecomputeAge,
		log:          log.With().Str("component", "tracker").Logger(),
	}
}

// SetTopicRecomputeFunc wires the detached topic-embedding recompute.
func (t *Tracker) SetTopicRecomputeFunc(fn func(channelID, text string)) {
	t.mu.Lock()
	t.requestTopicRecompute = fn
	t.mu.Unlock()
}

// Ingest records an observed message. Malformed events are dropped with a
// warning; Ingest never returns an error and never blocks on slow work.
func (t *Tracker) Ingest(ev MessageEvent) {
	if ev.ChannelID == "" || ev.AuthorID == "" || ev.Timestamp.IsZero() {
		t.log.Warn().
			Str("channel", ev.ChannelID).
			Str("author", ev.AuthorID).
			Msg("dropping malformed message event")
		return
	}

	rec := MessageRecord{
		ID:         ev.MessageID,
		AuthorID:   ev.AuthorID,
		AuthorName: ev.AuthorName,
		Text:       ev.Content,
		Timestamp:  ev.Timestamp,
		IsAgent:    ev.IsAgent,
	}

	var needRecompute bool
	var recomputeText string
	var recomputeFn func(channelID, text string)

	t.mu.Lock()
	cs := t.channels[ev.ChannelID]
	if cs == nil {
		cs = &channelState{id: ev.ChannelID, activeUsers: make(map[string]time.Time)}
		t.channels[ev.ChannelID] = cs
	}

	if ev.ThreadID != "" {
		t.threads[ev.ThreadID] = appendBounded(t.threads[ev.ThreadID], rec, t.threadCap)
	} else {
		cs.buffer = appendBounded(cs.buffer, rec, t.bufferCap)
	}
	t.global = appendBounded(t.global, rec, t.globalCap)
	if ev.Mentioned {
		t.mentioned = appendBounded(t.mentioned, rec, t.mentionCap)
	}

	if ev.IsAgent {
		cs.lastAgentAt = ev.Timestamp
	} else {
		cs.lastHumanAt = ev.Timestamp
		cs.activeUsers[ev.AuthorID] = ev.Timestamp

		tally := t.sentiment[ev.ChannelID]
		if tally == nil {
			tally = &SentimentTally{}
			t.sentiment[ev.ChannelID] = tally
		}
		switch classifySentiment(ev.Content) {
		case sentimentPositive:
			tally.Positive++
		case sentimentNegative:
			tally.Negative++
		default:
			tally.Neutral++
		}
	}

	cs.msgsSinceTopic++
	if ev.ThreadID == "" && len(cs.buffer) > 0 &&
		(cs.msgsSinceTopic >= t.recomputeN || ev.Timestamp.Sub(cs.topicComputedAt) >= t.recomputeAge) {
		needRecompute = true
		cs.msgsSinceTopic = 0
		recomputeText = joinRecentText(cs.buffer)
		recomputeFn = t.requestTopicRecompute
	}
	t.mu.Unlock()

	if needRecompute && recomputeFn != nil {
		recomputeFn(ev.ChannelID, recomputeText)
	}
}

// SetTopicEmbedding installs a freshly computed topic embedding. The
// previous embedding stays served until this call, so a recompute in
// flight never leaves the cache empty.
func (t *Tracker) SetTopicEmbedding(channelID string, vec []float32, at time.Time) {
	if len(vec) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.channels[channelID]
	if cs == nil {
		return
	}
	cs.topicEmbedding = vec
	cs.topicComputedAt = at
}

// TopicEmbedding returns the cached topic embedding, or nil.
func (t *Tracker) TopicEmbedding(channelID string) []float32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cs := t.channels[channelID]
	if cs == nil {
		return nil
	}
	return cs.topicEmbedding
}

// MarkAgentSpoke optimistically advances last-agent-at. Used on trigger
// fire, before generation completes, and never rolled back.
func (t *Tracker) MarkAgentSpoke(channelID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cs := t.channels[channelID]; cs != nil {
		cs.lastAgentAt = at
	}
}

// Snapshot returns a copy of one channel's state, or ok=false.
func (t *Tracker) Snapshot(channelID string, activeWindow time.Duration, now time.Time) (ChannelSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cs := t.channels[channelID]
	if cs == nil {
		return ChannelSnapshot{}, false
	}
	snap := ChannelSnapshot{
		ChannelID:       channelID,
		Buffer:          append([]MessageRecord(nil), cs.buffer...),
		LastHumanAt:     cs.lastHumanAt,
		LastAgentAt:     cs.lastAgentAt,
		TopicEmbedding:  cs.topicEmbedding,
		TopicComputedAt: cs.topicComputedAt,
	}
	cutoff := now.Add(-activeWindow)
	for uid, at := range cs.activeUsers {
		if at.After(cutoff) {
			snap.ActiveUsers = append(snap.ActiveUsers, uid)
		}
	}
	return snap, true
}

// ActiveChannels lists channels with human activity inside the window.
func (t *Tracker) ActiveChannels(window time.Duration, now time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cutoff := now.Add(-window)
	var out []string
	for id, cs := range t.channels {
		if cs.lastHumanAt.After(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// RecentVolume reports the share of the global cache written inside the
// window, normalized to [0,1]. Feeds mood evolution.
func (t *Tracker) RecentVolume(window time.Duration, now time.Time) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.globalCap == 0 {
		return 0
	}
	cutoff := now.Add(-window)
	recent := 0
	for _, m := range t.global {
		if m.Timestamp.After(cutoff) {
			recent++
		}
	}
	v := float64(recent) / float64(t.globalCap)
	if v > 1 {
		v = 1
	}
	return v
}

// Counts reports cache sizes for the telemetry snapshot.
func (t *Tracker) Counts(activeWindow time.Duration, now time.Time) (channels, threads, topics, freshTopics, global, mentioned, active, sentimentChannels int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	channels = len(t.channels)
	threads = len(t.threads)
	global = len(t.global)
	mentioned = len(t.mentioned)
	sentimentChannels = len(t.sentiment)
	cutoff := now.Add(-activeWindow)
	for _, cs := range t.channels {
		if len(cs.topicEmbedding) > 0 {
			topics++
			if cs.topicComputedAt.After(now.Add(-t.recomputeAge * 2)) {
				freshTopics++
			}
		}
		if cs.lastHumanAt.After(cutoff) {
			active++
		}
	}
	return
}

func appendBounded(buf []MessageRecord, rec MessageRecord, limit int) []MessageRecord {
	buf = append(buf, rec)
	if len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	return buf
}

func joinRecentText(buf []MessageRecord) string {
	var b strings.Builder
	for _, m := range buf {
		if m.IsAgent {
			continue
		}
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	return b.String()
}

type sentiment int

const (
	sentimentNeutral sentiment = iota
	sentimentPositive
	sentimentNegative
)

// classifySentiment is a cheap content heuristic (caps, punctuation, a few
// marker words). No model call.
func classifySentiment(content string) sentiment {
	content = strings.TrimSpace(content)
	if content == "" {
		return sentimentNeutral
	}
	lower := strings.ToLower(content)
	if strings.Contains(lower, "thank") || strings.Contains(lower, "love") ||
		strings.Contains(lower, "nice") || strings.Contains(lower, "lol") {
		return sentimentPositive
	}
	if strings.Contains(lower, "hate") || strings.Contains(lower, "stupid") ||
		strings.Contains(lower, "shut up") {
		return sentimentNegative
	}
	upper, total := 0, 0
	for _, r := range content {
		total++
		if r >= 'A' && r <= 'Z' {
			upper++
		}
	}
	if total > 3 && upper*100/total > 60 {
		return sentimentNegative
	}
	return sentimentNeutral
}
