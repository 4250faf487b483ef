package engine

import (
	"sync"
	"time"
)

// InteractionKind classifies how a user interacted with the agent.
type InteractionKind int

const (
	InteractionMessage InteractionKind = iota
	InteractionReaction
	InteractionReply
	InteractionMention
)

// Interaction weights: mention > reply > reaction > plain message.
const (
	weightMention  = 5.0
	weightReply    = 3.0
	weightReaction = 1.0
	weightMessage  = 0.5
)

const (
	// RelationshipBaseline is the neutral score decay converges to.
	RelationshipBaseline = 50.0

	// decayIdle is how long a user must be silent before decay starts.
	decayIdle = 10 * time.Minute

	// decayPerSecond is the decay rate toward baseline, per idle second.
	decayPerSecond = 0.005
)

type userScore struct {
	score         float64
	lastUpdatedAt time.Time
	lastEventAt   time.Time
}

// Scorer maintains a decaying interaction score per user, clamped to
// [0,100]. Unseen users read as the neutral baseline.
type Scorer struct {
	mu        sync.RWMutex
	users     map[string]*userScore
	reactions int64
}

func NewScorer() *Scorer {
	return &Scorer{users: make(map[string]*userScore)}
}

// RecordInteraction applies the kind's weighted increment at now.
func (s *Scorer) RecordInteraction(userID string, kind InteractionKind, now time.Time) {
	if userID == "" {
		return
	}
	var w float64
	switch kind {
	case InteractionMention:
		w = weightMention
	case InteractionReply:
		w = weightReply
	case InteractionReaction:
		w = weightReaction
	default:
		w = weightMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == InteractionReaction {
		s.reactions++
	}
	u := s.users[userID]
	if u == nil {
		u = &userScore{score: RelationshipBaseline}
		s.users[userID] = u
	}
	u.score = clampScore(u.score + w)
	u.lastUpdatedAt = now
	u.lastEventAt = now
}

// DecayTick moves idle users toward the baseline, proportionally to idle
// time and never overshooting. Called once per scheduler cycle.
func (s *Scorer) DecayTick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		idle := now.Sub(u.lastEventAt)
		if idle < decayIdle {
			continue
		}
		elapsed := now.Sub(u.lastUpdatedAt).Seconds()
		if elapsed <= 0 {
			continue
		}
		step := decayPerSecond * elapsed
		switch {
		case u.score > RelationshipBaseline:
			u.score = maxFloat(RelationshipBaseline, u.score-step)
		case u.score < RelationshipBaseline:
			u.score = minFloat(RelationshipBaseline, u.score+step)
		}
		u.lastUpdatedAt = now
	}
}

// GetScore returns the user's current score, baseline for unseen users.
func (s *Scorer) GetScore(userID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u := s.users[userID]; u != nil {
		return u.score
	}
	return RelationshipBaseline
}

// Count returns the number of tracked relationship pairs.
func (s *Scorer) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// TrackedReactions returns the lifetime reaction counter.
func (s *Scorer) TrackedReactions() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reactions
}

// Export returns the persistable view of all scores.
func (s *Scorer) Export() map[string]UserRelationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]UserRelationship, len(s.users))
	for id, u := range s.users {
		out[id] = UserRelationship{Score: u.score, LastUpdatedAt: u.lastUpdatedAt}
	}
	return out
}

// Import restores previously persisted scores, clamping defensively.
func (s *Scorer) Import(m map[string]UserRelationship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range m {
		s.users[id] = &userScore{
			score:         clampScore(r.Score),
			lastUpdatedAt: r.LastUpdatedAt,
			lastEventAt:   r.LastUpdatedAt,
		}
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
