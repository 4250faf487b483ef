package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gurtbot/internal/ai"
	"gurtbot/pkg/jobmgr"
)

// Job names used by the engine's background loops.
const (
	jobScheduler     = "scheduler"
	jobMoodEvolution = "mood-evolution"
	jobPersist       = "persist-relationships"
	jobWarmup        = "interest-warmup"
)

// Options bundles all engine configuration, mapped from internal/config at
// startup. The engine never reads the environment itself.
type Options struct {
	Tracker  TrackerOptions
	Memory   MemoryOptions
	Triggers TriggerConfig
	Dispatch DispatcherOptions

	TickInterval       time.Duration
	MoodEvolveInterval time.Duration
	ActiveWindow       time.Duration
	EmbedTimeout       time.Duration

	Interests []string
	Traits    map[string]float64

	GenKeySet   bool
	EmbedKeySet bool

	// Rand is the random source for trigger draws and mood evolution.
	// nil = math/rand. Injected in tests for determinism.
	Rand func() float64
}

// Engine is the proactive engagement core: one instance per process,
// constructed once at startup and injected into the gateway adapter.
type Engine struct {
	opts Options
	log  zerolog.Logger

	tracker     *Tracker
	scorer      *Scorer
	memory      *Memory
	mood        *MoodMachine
	personality *Personality
	stats       *Stats
	dispatcher  *Dispatcher
	triggers    []Trigger

	embedder ai.Embedder
	persist  Persister
	jobs     *jobmgr.Manager
	rng      func() float64

	mu         sync.Mutex
	flights    map[string]*flight // in-flight generation per channel
	evaluating map[string]bool    // one evaluation in flight per channel
	tickBusy   bool
	runCtx     context.Context
}

// flight is one cancellable proactive generation.
type flight struct {
	cancel context.CancelFunc
}

// New builds the engine. gen and emb are the external collaborators;
// either may be nil (the corresponding paths then stay inactive).
func New(opts Options, gen ai.Generator, emb ai.Embedder, persist Persister, log zerolog.Logger) *Engine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 15 * time.Second
	}
	if opts.MoodEvolveInterval <= 0 {
		opts.MoodEvolveInterval = 5 * time.Minute
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = 30 * time.Minute
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = 15 * time.Second
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.Float64
	}

	elog := log.With().Str("component", "engine").Logger()
	now := time.Now()

	sim := Cosine{}
	stats := NewStats()
	scorer := NewScorer()
	memory := NewMemory(opts.Memory, sim, persist, log)
	mood := NewMoodMachine(WeightedMoodPolicy{}, now)
	personality := NewPersonality(opts.Traits, opts.Interests)
	tracker := NewTracker(opts.Tracker, log)
	dispatcher := NewDispatcher(gen, stats, memory, mood, scorer, opts.Dispatch, log)

	e := &Engine{
		opts:        opts,
		log:         elog,
		tracker:     tracker,
		scorer:      scorer,
		memory:      memory,
		mood:        mood,
		personality: personality,
		stats:       stats,
		dispatcher:  dispatcher,
		triggers:    newTriggers(opts.Triggers, personality, scorer, sim),
		embedder:    emb,
		persist:     persist,
		rng:         rng,
		flights:     make(map[string]*flight),
		evaluating:  make(map[string]bool),
	}
	e.jobs = jobmgr.NewManager(func(msg string) {
		elog.Debug().Str("job", msg).Msg("background job event")
	})

	if persist != nil {
		if rels, ok, err := persist.LoadRelationships(); err != nil {
			elog.Warn().Err(err).Msg("loading relationships failed, starting empty")
		} else if ok {
			scorer.Import(rels)
		}
	}

	tracker.SetTopicRecomputeFunc(e.recomputeTopic)
	return e
}

// Memory exposes the fact/summary store to command-layer collaborators.
func (e *Engine) Memory() *Memory { return e.memory }

// Mood exposes the mood machine (telemetry, explicit overrides).
func (e *Engine) Mood() *MoodMachine { return e.mood }

// SetSender wires the message-sending collaborator.
func (e *Engine) SetSender(s Sender) { e.dispatcher.SetSender(s) }

// Ingest records an observed message. Non-blocking: embedding recompute
// and generation never run on this path. A human message cancels any
// in-flight proactive generation for its channel.
func (e *Engine) Ingest(ev MessageEvent) {
	e.tracker.Ingest(ev)
	if ev.IsAgent {
		return
	}

	kind := InteractionMessage
	switch {
	case ev.Mentioned:
		kind = InteractionMention
	case ev.IsReply:
		kind = InteractionReply
	}
	e.scorer.RecordInteraction(ev.AuthorID, kind, ev.Timestamp)

	e.mu.Lock()
	fl := e.flights[ev.ChannelID]
	e.mu.Unlock()
	if fl != nil {
		e.log.Debug().Str("channel", ev.ChannelID).Msg("human message arrived, cancelling in-flight generation")
		fl.cancel()
	}
}

// RecordReaction feeds a reaction event into the relationship score.
func (e *Engine) RecordReaction(userID string, at time.Time) {
	e.scorer.RecordInteraction(userID, InteractionReaction, at)
}

// Run starts the background loops and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.runCtx = ctx
	e.mu.Unlock()

	if e.embedder != nil {
		_ = e.jobs.StartAsync(ctx, jobWarmup, e.warmupInterests)
	}
	_ = e.jobs.StartAsync(ctx, jobMoodEvolution, e.runMoodEvolution)
	if e.persist != nil {
		_ = e.jobs.StartAsync(ctx, jobPersist, e.runRelationshipPersist)
	}
	_ = e.jobs.StartAsync(ctx, jobScheduler, e.runScheduler)

	<-ctx.Done()
	e.jobs.StopAll()
	return nil
}

// Alive reports whether the scheduler loop is running.
func (e *Engine) Alive() bool { return e.jobs.Running(jobScheduler) }

// Snapshot assembles the read-only telemetry view.
func (e *Engine) Snapshot() Snapshot {
	now := time.Now()
	mood, changedAt := e.mood.Current()
	channels, threads, topics, freshTopics, global, mentioned, active, sentimentChannels :=
		e.tracker.Counts(e.opts.ActiveWindow, now)
	userFacts, generalFacts, userEmb, generalEmb, summaries := e.memory.Counts()
	api, tool := e.stats.snapshotMaps()

	return Snapshot{
		Mood:                   string(mood),
		MoodChangedAt:          changedAt,
		BackgroundTasksRunning: e.Alive(),
		Channels: ChannelCounts{
			ActiveTopicCaches:           freshTopics,
			ConversationHistoryChannels: channels,
			ThreadHistoryThreads:        threads,
			RelationshipPairs:           e.scorer.Count(),
			CachedSummaries:             summaries,
			CachedTopics:                topics,
			GlobalMessageCacheSize:      global,
			MentionedMessageCacheSize:   mentioned,
			ActiveConversations:         active,
			SentimentChannels:           sentimentChannels,
			ParticipationTopics:         e.dispatcher.ParticipationTopicCount(),
			TrackedReactions:            int(e.scorer.TrackedReactions()),
		},
		Memory: MemoryCounts{
			UserFacts:         userFacts,
			GeneralFacts:      generalFacts,
			UserEmbeddings:    userEmb,
			GeneralEmbeddings: generalEmb,
			PersonalityTraits: e.personality.Traits(),
			TopInterests:      e.personality.TopInterests(),
		},
		APIStats:  api,
		ToolStats: tool,
		Config: ConfigOverview{
			TickIntervalSec:            e.opts.TickInterval.Seconds(),
			LullThresholdSec:           e.opts.Triggers.LullThreshold.Seconds(),
			BotSilenceThresholdSec:     e.opts.Triggers.BotSilenceThreshold.Seconds(),
			LullChance:                 e.opts.Triggers.LullChance,
			TopicRelevanceThreshold:    e.opts.Triggers.TopicRelevanceThreshold,
			TopicChance:                e.opts.Triggers.TopicChance,
			RelationshipScoreThreshold: e.opts.Triggers.RelationshipScoreThreshold,
			RelationshipChance:         e.opts.Triggers.RelationshipChance,
			GenKeySet:                  e.opts.GenKeySet,
			EmbedKeySet:                e.opts.EmbedKeySet,
		},
	}
}

// recomputeTopic runs the detached topic-embedding refresh. The jobmgr
// name dedupes concurrent recomputes for the same channel; the old
// embedding keeps being served until the new one lands.
func (e *Engine) recomputeTopic(channelID, text string) {
	if e.embedder == nil || text == "" {
		return
	}
	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()
	if ctx == nil {
		return
	}

	_ = e.jobs.StartAsync(ctx, "topic:"+channelID, func(jctx context.Context) error {
		callCtx, cancel := context.WithTimeout(jctx, e.opts.EmbedTimeout)
		defer cancel()
		start := time.Now()
		vec, err := e.embedder.Embed(callCtx, text)
		if err != nil {
			e.stats.Record(StatTool, "embed", false, time.Since(start), 0)
			e.log.Debug().Err(err).Str("channel", channelID).Msg("topic recompute failed")
			return nil
		}
		e.stats.Record(StatTool, "embed", true, time.Since(start), 0)
		e.tracker.SetTopicEmbedding(channelID, vec, time.Now())
		return nil
	})
}

// warmupInterests embeds the configured interest names once at startup.
func (e *Engine) warmupInterests(ctx context.Context) error {
	for _, name := range e.personality.InterestNames() {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.EmbedTimeout)
		start := time.Now()
		vec, err := e.embedder.Embed(callCtx, name)
		cancel()
		if err != nil {
			e.stats.Record(StatTool, "embed", false, time.Since(start), 0)
			e.log.Warn().Err(err).Str("interest", name).Msg("interest embedding failed")
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		e.stats.Record(StatTool, "embed", true, time.Since(start), 0)
		e.personality.SetInterestEmbedding(name, vec)
	}
	e.log.Info().Int("interests", len(e.personality.InterestNames())).Msg("interest embeddings warmed up")
	return nil
}

// runMoodEvolution drives periodic mood transitions from recent
// interaction volume and trait weights.
func (e *Engine) runMoodEvolution(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.MoodEvolveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := time.Now()
			in := MoodInputs{
				InteractionVolume: e.tracker.RecentVolume(e.opts.MoodEvolveInterval, now),
				Traits:            e.personality.Traits(),
				Draw:              e.rng(),
			}
			mood := e.mood.Evolve(in, now)
			e.log.Debug().Str("mood", string(mood)).Float64("volume", in.InteractionVolume).Msg("mood evolution tick")
		}
	}
}

// runRelationshipPersist writes scores durably once a minute. One retry,
// then the write is dropped with a warning.
func (e *Engine) runRelationshipPersist(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rels := e.scorer.Export()
			if err := e.persist.SaveRelationships(rels); err != nil {
				if err2 := e.persist.SaveRelationships(rels); err2 != nil {
					e.log.Warn().Err(err2).Msg("relationship persist dropped after retry")
				}
			}
		}
	}
}
