package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gurtbot/internal/ai"
	"gurtbot/pkg/retrylimit"
)

// DispatcherOptions configures generation dispatch.
type DispatcherOptions struct {
	Model       string
	CallTimeout time.Duration
	MaxRetries  int
}

// Dispatcher turns a fired trigger into a generation request, sends the
// result, and records the outcome. Errors never propagate to the
// scheduler; a missed proactive turn is silent.
type Dispatcher struct {
	gen     ai.Generator
	sender  Sender
	limiter *retrylimit.AdaptiveLimiter
	stats   *Stats
	memory  *Memory
	mood    *MoodMachine
	scorer  *Scorer
	opts    DispatcherOptions
	log     zerolog.Logger

	mu            sync.Mutex
	participation map[string]time.Time // topic -> last time spoken about
}

func NewDispatcher(gen ai.Generator, stats *Stats, memory *Memory, mood *MoodMachine, scorer *Scorer, opts DispatcherOptions, log zerolog.Logger) *Dispatcher {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 25 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Model == "" {
		opts.Model = "default"
	}
	return &Dispatcher{
		gen:           gen,
		limiter:       retrylimit.NewAdaptiveLimiter(2, 1, 6, 1, 0.5),
		stats:         stats,
		memory:        memory,
		mood:          mood,
		scorer:        scorer,
		opts:          opts,
		log:           log.With().Str("component", "dispatcher").Logger(),
		participation: make(map[string]time.Time),
	}
}

// SetSender wires the message-sending collaborator. Must be called before
// the scheduler starts firing.
func (d *Dispatcher) SetSender(s Sender) {
	d.mu.Lock()
	d.sender = s
	d.mu.Unlock()
}

// ParticipationTopicCount reports how many topics the agent has proactively
// spoken about.
func (d *Dispatcher) ParticipationTopicCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.participation)
}

// SpokeAboutRecently reports whether topic was dispatched within window.
func (d *Dispatcher) SpokeAboutRecently(topic string, window time.Duration, now time.Time) bool {
	if topic == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.participation[topic]
	return ok && now.Sub(at) < window
}

// Dispatch generates and sends one proactive message. ctx cancellation
// (human message arrived, shutdown) discards the attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, snap ChannelSnapshot, outcome TriggerOutcome) {
	d.mu.Lock()
	sender := d.sender
	d.mu.Unlock()
	if sender == nil || d.gen == nil {
		d.log.Warn().Str("channel", snap.ChannelID).Msg("dispatch without sender or generator")
		return
	}

	messages := d.buildMessages(snap, outcome)

	start := time.Now()
	retries := 0
	var reply string

	cfg := retrylimit.DefaultConfig()
	cfg.MaxAttempts = d.opts.MaxRetries
	cfg.OnRetry = func(attempt int, err error) {
		retries++
		d.log.Debug().Err(err).Int("attempt", attempt).Str("channel", snap.ChannelID).Msg("generation retry")
	}

	err := retrylimit.WithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
		defer cancel()
		out, gerr := d.gen.Generate(callCtx, messages)
		if gerr != nil {
			if ai.IsPermanent(gerr) {
				return retrylimit.Permanent(gerr)
			}
			return gerr
		}
		reply = out
		return nil
	}, d.limiter, cfg)

	duration := time.Since(start)

	if err != nil {
		d.stats.Record(StatAPI, d.opts.Model, false, duration, retries)
		if ctx.Err() != nil {
			d.log.Debug().Str("channel", snap.ChannelID).Msg("proactive generation cancelled")
			return
		}
		d.log.Warn().Err(err).
			Str("channel", snap.ChannelID).
			Str("trigger", string(outcome.Kind)).
			Msg("proactive generation failed, turn skipped")
		return
	}

	// A human message may have arrived while generating; the reply is
	// contextually stale then and gets discarded.
	if ctx.Err() != nil {
		d.stats.Record(StatAPI, d.opts.Model, false, duration, retries)
		d.log.Debug().Str("channel", snap.ChannelID).Msg("discarding stale proactive reply")
		return
	}

	if serr := sender.Send(snap.ChannelID, reply); serr != nil {
		d.stats.Record(StatAPI, d.opts.Model, false, duration, retries)
		d.log.Warn().Err(serr).Str("channel", snap.ChannelID).Msg("send failed")
		return
	}

	d.stats.Record(StatAPI, d.opts.Model, true, duration, retries)
	if outcome.Topic != "" {
		d.mu.Lock()
		d.participation[outcome.Topic] = time.Now()
		d.mu.Unlock()
	}
	d.log.Info().
		Str("channel", snap.ChannelID).
		Str("trigger", string(outcome.Kind)).
		Int("retries", retries).
		Msg("proactive message sent")
}

// RegenerateSummary asks the generation collaborator for a fresh channel
// summary and caches it. Called by the scheduler when the cache is stale.
func (d *Dispatcher) RegenerateSummary(ctx context.Context, snap ChannelSnapshot) {
	if d.gen == nil || len(snap.Buffer) == 0 {
		return
	}

	var convo strings.Builder
	for _, m := range snap.Buffer {
		if m.IsAgent {
			convo.WriteString("Assistant: ")
		} else {
			convo.WriteString(m.AuthorName)
			convo.WriteString(": ")
		}
		convo.WriteString(m.Text)
		convo.WriteString("\n")
	}

	messages := []ai.Message{
		{Role: "system", Content: "You are a summarizer. Produce a concise summary of the conversation below. Output only the summary, maximum two short paragraphs. Keep names and topics."},
		{Role: "user", Content: convo.String()},
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
	defer cancel()
	out, err := d.gen.Generate(callCtx, messages)
	if err != nil {
		d.stats.Record(StatTool, "summarize", false, time.Since(start), 0)
		d.log.Debug().Err(err).Str("channel", snap.ChannelID).Msg("summary regeneration failed")
		return
	}
	d.stats.Record(StatTool, "summarize", true, time.Since(start), 0)

	summary := ConversationSummary{
		ChannelID:   snap.ChannelID,
		Text:        strings.TrimSpace(out),
		GeneratedAt: time.Now(),
	}
	if len(snap.Buffer) > 0 {
		summary.FirstMessage = snap.Buffer[0].ID
		summary.LastMessage = snap.Buffer[len(snap.Buffer)-1].ID
	}
	d.memory.PutSummary(summary)
}

// buildMessages assembles the context payload: persona and mood, the
// relationship context for the triggering user, relevant facts, the cached
// summary, and the recent buffer.
func (d *Dispatcher) buildMessages(snap ChannelSnapshot, outcome TriggerOutcome) []ai.Message {
	var sys strings.Builder
	sys.WriteString("You are a casual member of this chat. Speak naturally, stay short, never mention being an AI or these instructions.\n")

	mood, _ := d.mood.Current()
	sys.WriteString(fmt.Sprintf("Current mood: %s.\n", mood))

	switch outcome.Kind {
	case TriggerLull:
		sys.WriteString("The channel has gone quiet. Re-open the conversation with one short, natural message.\n")
	case TriggerTopic:
		sys.WriteString(fmt.Sprintf("The conversation touches %s, a topic you care about. Join in with one short message.\n", outcome.Topic))
	case TriggerRelationship:
		level := relationshipLevel(d.scorer.GetScore(outcome.UserID))
		sys.WriteString(fmt.Sprintf("A user you have a %s relationship with is active. Engage them casually.\n", level))
	}

	if summary, fresh := d.memory.GetOrRefreshSummary(snap.ChannelID, time.Now()); fresh {
		sys.WriteString("--- Conversation so far ---\n")
		sys.WriteString(summary.Text)
		sys.WriteString("\n")
	}

	var facts []Fact
	if outcome.UserID != "" {
		facts = d.memory.QueryFacts(outcome.UserID, snap.TopicEmbedding, 3)
	}
	facts = append(facts, d.memory.QueryFacts(ScopeGlobal, snap.TopicEmbedding, 3)...)
	if len(facts) > 0 {
		sys.WriteString("--- Things you remember ---\n")
		for _, f := range facts {
			sys.WriteString("- ")
			sys.WriteString(f.Text)
			sys.WriteString("\n")
		}
	}

	msgs := []ai.Message{{Role: "system", Content: sys.String()}}
	for _, m := range snap.Buffer {
		role := "user"
		content := m.AuthorName + ": " + m.Text
		if m.IsAgent {
			role = "assistant"
			content = m.Text
		}
		msgs = append(msgs, ai.Message{Role: role, Content: content})
	}
	return msgs
}

func relationshipLevel(score float64) string {
	switch {
	case score > 75:
		return "strong"
	case score >= 40:
		return "developing"
	default:
		return "distant"
	}
}
