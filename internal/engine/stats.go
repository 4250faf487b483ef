package engine

import (
	"sync"
	"time"
)

// StatKind separates model calls from tool calls in the snapshot.
type StatKind string

const (
	StatAPI  StatKind = "api"
	StatTool StatKind = "tool"
)

// CallStat accumulates counters for one model or tool key. Counters only
// grow; they reset on process restart.
type CallStat struct {
	Count         int64   `json:"count"`
	Success       int64   `json:"success"`
	Failure       int64   `json:"failure"`
	Retries       int64   `json:"retries"`
	TotalTimeMs   float64 `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
}

// Stats aggregates call counters shared across all channel evaluations.
type Stats struct {
	mu   sync.RWMutex
	api  map[string]*CallStat
	tool map[string]*CallStat
}

func NewStats() *Stats {
	return &Stats{
		api:  make(map[string]*CallStat),
		tool: make(map[string]*CallStat),
	}
}

// Record updates the counters for key. average_time is a running mean over
// every recorded call, successful or not.
func (s *Stats) Record(kind StatKind, key string, success bool, duration time.Duration, retries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.api
	if kind == StatTool {
		m = s.tool
	}
	st := m[key]
	if st == nil {
		st = &CallStat{}
		m[key] = st
	}
	st.Count++
	if success {
		st.Success++
	} else {
		st.Failure++
	}
	st.Retries += int64(retries)
	ms := float64(duration.Milliseconds())
	st.TotalTimeMs += ms
	st.AverageTimeMs = st.TotalTimeMs / float64(st.Count)
}

// snapshotMaps returns immutable copies of both counter maps.
func (s *Stats) snapshotMaps() (api, tool map[string]CallStat) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	api = make(map[string]CallStat, len(s.api))
	for k, v := range s.api {
		api[k] = *v
	}
	tool = make(map[string]CallStat, len(s.tool))
	for k, v := range s.tool {
		tool[k] = *v
	}
	return
}

// ChannelCounts is the per-channel/per-user count block of the snapshot.
type ChannelCounts struct {
	ActiveTopicCaches           int `json:"active_topic_caches"`
	ConversationHistoryChannels int `json:"conversation_history_channels"`
	ThreadHistoryThreads        int `json:"thread_history_threads"`
	RelationshipPairs           int `json:"relationship_pairs"`
	CachedSummaries             int `json:"cached_summaries"`
	CachedTopics                int `json:"cached_topics"`
	GlobalMessageCacheSize      int `json:"global_message_cache_size"`
	MentionedMessageCacheSize   int `json:"mentioned_message_cache_size"`
	ActiveConversations         int `json:"active_conversations"`
	SentimentChannels           int `json:"sentiment_channels"`
	ParticipationTopics         int `json:"participation_topics"`
	TrackedReactions            int `json:"tracked_reactions"`
}

// MemoryCounts is the memory block of the snapshot.
type MemoryCounts struct {
	UserFacts         int                `json:"user_facts"`
	GeneralFacts      int                `json:"general_facts"`
	UserEmbeddings    int                `json:"user_embeddings"`
	GeneralEmbeddings int                `json:"general_embeddings"`
	PersonalityTraits map[string]float64 `json:"personality_traits"`
	TopInterests      []InterestScore    `json:"top_interests"`
}

// ConfigOverview echoes the active thresholds and which external service
// keys are present.
type ConfigOverview struct {
	TickIntervalSec            float64 `json:"tick_interval_sec"`
	LullThresholdSec           float64 `json:"lull_threshold_sec"`
	BotSilenceThresholdSec     float64 `json:"bot_silence_threshold_sec"`
	LullChance                 float64 `json:"lull_chance"`
	TopicRelevanceThreshold    float64 `json:"topic_relevance_threshold"`
	TopicChance                float64 `json:"topic_chance"`
	RelationshipScoreThreshold float64 `json:"relationship_score_threshold"`
	RelationshipChance         float64 `json:"relationship_chance"`
	GenKeySet                  bool    `json:"gen_key_set"`
	EmbedKeySet                bool    `json:"embed_key_set"`
}

// Snapshot is the read-only telemetry view at the boundary.
type Snapshot struct {
	Mood                   string              `json:"mood"`
	MoodChangedAt          time.Time           `json:"mood_changed_at"`
	BackgroundTasksRunning bool                `json:"background_tasks_running"`
	Channels               ChannelCounts       `json:"channels"`
	Memory                 MemoryCounts        `json:"memory"`
	APIStats               map[string]CallStat `json:"api_stats"`
	ToolStats              map[string]CallStat `json:"tool_stats"`
	Config                 ConfigOverview      `json:"config"`
}
