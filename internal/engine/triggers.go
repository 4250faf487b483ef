package engine

import "time"

// TriggerConfig carries the decision thresholds. Loaded once at startup.
type TriggerConfig struct {
	LullThreshold              time.Duration
	BotSilenceThreshold        time.Duration
	LullChance                 float64
	TopicRelevanceThreshold    float64
	TopicChance                float64
	RelationshipScoreThreshold float64
	RelationshipChance         float64
}

// Trigger is one named proactive condition. Implementations are pure:
// state comes in via the snapshot, randomness via draw.
type Trigger interface {
	Kind() TriggerKind
	// Evaluate returns the outcome and whether the trigger fired. An
	// outcome with Fired=false may still carry a score for telemetry.
	Evaluate(snap ChannelSnapshot, now time.Time, draw float64) TriggerOutcome
}

// lullTrigger fires on channel inactivity plus agent silence.
type lullTrigger struct {
	cfg TriggerConfig
}

func (t *lullTrigger) Kind() TriggerKind { return TriggerLull }

func (t *lullTrigger) Evaluate(snap ChannelSnapshot, now time.Time, draw float64) TriggerOutcome {
	out := TriggerOutcome{ChannelID: snap.ChannelID, Kind: TriggerLull, Draw: draw, At: now}
	if snap.LastHumanAt.IsZero() {
		return out
	}
	humanIdle := now.Sub(snap.LastHumanAt)
	agentIdle := now.Sub(snap.LastAgentAt)
	if snap.LastAgentAt.IsZero() {
		agentIdle = t.cfg.BotSilenceThreshold // never spoke counts as silent
	}
	if humanIdle < t.cfg.LullThreshold || agentIdle < t.cfg.BotSilenceThreshold {
		return out
	}
	out.Score = humanIdle.Seconds() / t.cfg.LullThreshold.Seconds()
	out.Fired = draw < t.cfg.LullChance
	return out
}

// topicTrigger fires when the channel's topic embedding is close enough to
// one of the agent's interests.
type topicTrigger struct {
	cfg         TriggerConfig
	personality *Personality
	sim         Similarity
}

func (t *topicTrigger) Kind() TriggerKind { return TriggerTopic }

func (t *topicTrigger) Evaluate(snap ChannelSnapshot, now time.Time, draw float64) TriggerOutcome {
	out := TriggerOutcome{ChannelID: snap.ChannelID, Kind: TriggerTopic, Draw: draw, At: now}
	name, score, ok := t.personality.BestInterestMatch(snap.TopicEmbedding, t.sim)
	if !ok {
		return out
	}
	out.Score = score
	out.Topic = name
	if score < t.cfg.TopicRelevanceThreshold {
		return out
	}
	out.Fired = draw < t.cfg.TopicChance
	if out.Fired {
		t.personality.RecordInterestMatch(name, score)
	}
	return out
}

// relationshipTrigger fires when a currently-active user's relationship
// score is high enough.
type relationshipTrigger struct {
	cfg    TriggerConfig
	scorer *Scorer
}

func (t *relationshipTrigger) Kind() TriggerKind { return TriggerRelationship }

func (t *relationshipTrigger) Evaluate(snap ChannelSnapshot, now time.Time, draw float64) TriggerOutcome {
	out := TriggerOutcome{ChannelID: snap.ChannelID, Kind: TriggerRelationship, Draw: draw, At: now}
	for _, uid := range snap.ActiveUsers {
		if s := t.scorer.GetScore(uid); s > out.Score {
			out.Score = s
			out.UserID = uid
		}
	}
	if out.UserID == "" || out.Score < t.cfg.RelationshipScoreThreshold {
		return out
	}
	out.Fired = draw < t.cfg.RelationshipChance
	return out
}

// newTriggers builds the closed registry in fixed priority order:
// lull, topic, relationship. Evaluation short-circuits on the first fire,
// so at most one trigger fires per channel per cycle.
func newTriggers(cfg TriggerConfig, personality *Personality, scorer *Scorer, sim Similarity) []Trigger {
	return []Trigger{
		&lullTrigger{cfg: cfg},
		&topicTrigger{cfg: cfg, personality: personality, sim: sim},
		&relationshipTrigger{cfg: cfg, scorer: scorer},
	}
}
