package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MemoryOptions bounds the fact store and summary cache.
type MemoryOptions struct {
	FactsPerScope   int
	ConfidenceFloor float64
	SummaryTTL      time.Duration
}

// Memory is the bounded fact and summary store. The in-memory view is
// authoritative; the Persister is write-behind and may fail without
// affecting reads.
type Memory struct {
	mu        sync.RWMutex
	facts     map[string][]Fact
	summaries map[string]ConversationSummary

	sim     Similarity
	persist Persister
	opts    MemoryOptions
	log     zerolog.Logger
}

func NewMemory(opts MemoryOptions, sim Similarity, persist Persister, log zerolog.Logger) *Memory {
	if opts.FactsPerScope <= 0 {
		opts.FactsPerScope = 100
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = 10 * time.Minute
	}
	if sim == nil {
		sim = Cosine{}
	}
	m := &Memory{
		facts:     make(map[string][]Fact),
		summaries: make(map[string]ConversationSummary),
		sim:       sim,
		persist:   persist,
		opts:      opts,
		log:       log.With().Str("component", "memory").Logger(),
	}
	m.load()
	return m
}

func (m *Memory) load() {
	if m.persist == nil {
		return
	}
	rec, ok, err := m.persist.LoadMemory()
	if err != nil {
		m.log.Warn().Err(err).Msg("loading durable memory failed, starting empty")
		return
	}
	if !ok {
		return
	}
	if rec.Facts != nil {
		m.facts = rec.Facts
	}
	if rec.Summaries != nil {
		m.summaries = rec.Summaries
	}
}

// UpsertFact inserts or updates a fact (same scope+text = update). When a
// scope exceeds its cap, the lowest-confidence fact is evicted; ties break
// toward the oldest created_at.
func (m *Memory) UpsertFact(f Fact) {
	if f.Scope == "" || f.Text == "" {
		return
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	m.mu.Lock()
	scoped := m.facts[f.Scope]
	replaced := false
	for i := range scoped {
		if scoped[i].Text == f.Text {
			f.CreatedAt = scoped[i].CreatedAt
			scoped[i] = f
			replaced = true
			break
		}
	}
	if !replaced {
		scoped = append(scoped, f)
		for len(scoped) > m.opts.FactsPerScope {
			scoped = evictWeakest(scoped)
		}
	}
	m.facts[f.Scope] = scoped
	m.mu.Unlock()

	m.flush()
}

// evictWeakest removes the lowest-confidence fact, oldest first on ties.
func evictWeakest(scoped []Fact) []Fact {
	weakest := 0
	for i := 1; i < len(scoped); i++ {
		if scoped[i].Confidence < scoped[weakest].Confidence ||
			(scoped[i].Confidence == scoped[weakest].Confidence &&
				scoped[i].CreatedAt.Before(scoped[weakest].CreatedAt)) {
			weakest = i
		}
	}
	return append(scoped[:weakest], scoped[weakest+1:]...)
}

// QueryFacts returns up to topK facts in scope by descending similarity to
// the query embedding, restricted to confidence above the floor.
func (m *Memory) QueryFacts(scope string, embedding []float32, topK int) []Fact {
	if topK <= 0 {
		return nil
	}
	m.mu.RLock()
	scoped := m.facts[scope]
	type scored struct {
		fact Fact
		sim  float64
	}
	candidates := make([]scored, 0, len(scoped))
	for _, f := range scoped {
		if f.Confidence < m.opts.ConfidenceFloor {
			continue
		}
		candidates = append(candidates, scored{fact: f, sim: m.sim.Score(embedding, f.Embedding)})
	}
	m.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].sim > candidates[j].sim
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	out := make([]Fact, len(candidates))
	for i, c := range candidates {
		out[i] = c.fact
	}
	return out
}

// GetOrRefreshSummary returns the cached summary and whether it is fresh.
// fresh=false tells the caller a regeneration is needed; the store only
// caches what the generation collaborator produces.
func (m *Memory) GetOrRefreshSummary(channelID string, now time.Time) (ConversationSummary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[channelID]
	if !ok {
		return ConversationSummary{ChannelID: channelID}, false
	}
	return s, now.Sub(s.GeneratedAt) <= m.opts.SummaryTTL
}

// PutSummary caches a freshly generated summary.
func (m *Memory) PutSummary(s ConversationSummary) {
	if s.ChannelID == "" || s.Text == "" {
		return
	}
	if s.GeneratedAt.IsZero() {
		s.GeneratedAt = time.Now()
	}
	m.mu.Lock()
	m.summaries[s.ChannelID] = s
	m.mu.Unlock()

	m.flush()
}

// Counts reports fact/summary sizes for the telemetry snapshot. Embedding
// counts are facts that actually carry a vector.
func (m *Memory) Counts() (userFacts, generalFacts, userEmbeddings, generalEmbeddings, summaries int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for scope, scoped := range m.facts {
		for _, f := range scoped {
			if scope == ScopeGlobal {
				generalFacts++
				if len(f.Embedding) > 0 {
					generalEmbeddings++
				}
			} else {
				userFacts++
				if len(f.Embedding) > 0 {
					userEmbeddings++
				}
			}
		}
	}
	summaries = len(m.summaries)
	return
}

// flush writes the current record durably: one retry, then the write is
// dropped with a warning and the in-memory view stays authoritative.
func (m *Memory) flush() {
	if m.persist == nil {
		return
	}
	m.mu.RLock()
	rec := MemoryRecord{
		Facts:     make(map[string][]Fact, len(m.facts)),
		Summaries: make(map[string]ConversationSummary, len(m.summaries)),
	}
	for k, v := range m.facts {
		rec.Facts[k] = append([]Fact(nil), v...)
	}
	for k, v := range m.summaries {
		rec.Summaries[k] = v
	}
	m.mu.RUnlock()

	if err := m.persist.SaveMemory(rec); err != nil {
		if err2 := m.persist.SaveMemory(rec); err2 != nil {
			m.log.Warn().Err(err2).Msg("durable memory write dropped after retry")
		}
	}
}
