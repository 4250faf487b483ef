package engine

import (
	"sort"
	"sync"
)

// InterestScore is one ranked entry in the telemetry snapshot.
type InterestScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

type interest struct {
	name      string
	embedding []float32
	matched   float64
}

// Personality holds the agent's fixed trait weights and its interest list.
// Interest embeddings are installed at startup by the warmup job; until
// then topic matching returns no hit.
type Personality struct {
	mu        sync.RWMutex
	traits    map[string]float64
	interests []*interest
}

// DefaultTraits are the trait weights the mood policy consumes.
func DefaultTraits() map[string]float64 {
	return map[string]float64{
		"chattiness":   0.6,
		"curiosity":    0.7,
		"energy":       0.6,
		"irritability": 0.2,
	}
}

func NewPersonality(traits map[string]float64, interestNames []string) *Personality {
	if traits == nil {
		traits = DefaultTraits()
	}
	p := &Personality{traits: traits}
	for _, name := range interestNames {
		if name == "" {
			continue
		}
		p.interests = append(p.interests, &interest{name: name})
	}
	return p
}

// Traits returns a copy of the trait map.
func (p *Personality) Traits() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.traits))
	for k, v := range p.traits {
		out[k] = v
	}
	return out
}

// InterestNames lists interests still missing an embedding.
func (p *Personality) InterestNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.interests))
	for _, in := range p.interests {
		out = append(out, in.name)
	}
	return out
}

// SetInterestEmbedding installs the vector for a named interest.
func (p *Personality) SetInterestEmbedding(name string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, in := range p.interests {
		if in.name == name {
			in.embedding = vec
			return
		}
	}
}

// BestInterestMatch returns the interest closest to the topic embedding
// and its similarity. ok=false when no interest has an embedding yet.
func (p *Personality) BestInterestMatch(topic []float32, sim Similarity) (name string, score float64, ok bool) {
	if len(topic) == 0 {
		return "", 0, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, in := range p.interests {
		if len(in.embedding) == 0 {
			continue
		}
		s := sim.Score(topic, in.embedding)
		if !ok || s > score {
			name, score, ok = in.name, s, true
		}
	}
	return
}

// RecordInterestMatch accumulates a match score for the ranked list.
func (p *Personality) RecordInterestMatch(name string, score float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, in := range p.interests {
		if in.name == name {
			in.matched += score
			return
		}
	}
}

// TopInterests returns interests ranked by accumulated match score.
func (p *Personality) TopInterests() []InterestScore {
	p.mu.RLock()
	out := make([]InterestScore, 0, len(p.interests))
	for _, in := range p.interests {
		out = append(out, InterestScore{Name: in.name, Score: in.matched})
	}
	p.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
