// Package engine implements the proactive engagement core: per-channel
// activity tracking, relationship scoring, bounded memory, mood, and the
// trigger evaluation loop that decides when the agent speaks unprompted.
package engine

import "time"

// MessageEvent is the observed-message input from the gateway collaborator.
// ThreadID is set when the message happened inside a thread; ChannelID then
// refers to the parent channel.
type MessageEvent struct {
	MessageID  string
	ChannelID  string
	ThreadID   string
	AuthorID   string
	AuthorName string
	Content    string
	Timestamp  time.Time
	IsAgent    bool
	Mentioned  bool
	IsReply    bool
}

// MessageRecord is one entry in a bounded message buffer.
type MessageRecord struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	IsAgent    bool      `json:"is_agent"`
}

// TriggerKind names a proactive trigger. The set is closed.
type TriggerKind string

const (
	TriggerLull         TriggerKind = "lull"
	TriggerTopic        TriggerKind = "topic"
	TriggerRelationship TriggerKind = "relationship"
)

// TriggerOutcome is the result of one trigger evaluation for one channel.
// Ephemeral: kept only for the dispatch that follows and for stats.
type TriggerOutcome struct {
	ChannelID string
	Kind      TriggerKind
	Score     float64 // condition strength (similarity, relationship score, idle ratio)
	Draw      float64
	Fired     bool
	Topic     string // interest name for topic triggers, empty otherwise
	UserID    string // highest-scoring user for relationship triggers
	At        time.Time
}

// ChannelSnapshot is a consistent copy of per-channel state handed to
// trigger evaluation and dispatch. Mutating it has no effect on the tracker.
type ChannelSnapshot struct {
	ChannelID       string
	Buffer          []MessageRecord
	LastHumanAt     time.Time
	LastAgentAt     time.Time
	TopicEmbedding  []float32
	TopicComputedAt time.Time
	ActiveUsers     []string
}

// Fact is one stored piece of knowledge. Scope is a user ID or ScopeGlobal.
type Fact struct {
	Scope           string    `json:"scope"`
	Text            string    `json:"text"`
	Embedding       []float32 `json:"embedding,omitempty"`
	Confidence      float64   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
	SourceMessageID string    `json:"source_message_id,omitempty"`
}

// ScopeGlobal is the scope of facts not tied to a user.
const ScopeGlobal = "global"

// ConversationSummary is a cached channel summary. Stale once older than
// the configured TTL.
type ConversationSummary struct {
	ChannelID    string    `json:"channel_id"`
	Text         string    `json:"text"`
	GeneratedAt  time.Time `json:"generated_at"`
	FirstMessage string    `json:"first_message_id,omitempty"`
	LastMessage  string    `json:"last_message_id,omitempty"`
}

// UserRelationship is the persisted form of a relationship score.
type UserRelationship struct {
	Score         float64   `json:"score"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// MemoryRecord is the durable form of the memory store.
type MemoryRecord struct {
	Facts     map[string][]Fact              `json:"facts"`
	Summaries map[string]ConversationSummary `json:"summaries"`
}

// Persister is the durable storage collaborator. Failures are tolerated:
// the in-memory view stays authoritative for the process lifetime.
type Persister interface {
	SaveMemory(MemoryRecord) error
	LoadMemory() (MemoryRecord, bool, error)
	SaveRelationships(map[string]UserRelationship) error
	LoadRelationships() (map[string]UserRelationship, bool, error)
}

// Sender is the external message-sending collaborator.
type Sender interface {
	Send(channelID, text string) error
}
