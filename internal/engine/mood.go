package engine

import (
	"fmt"
	"sync"
	"time"
)

// Mood is the single process-wide mood value.
type Mood string

const (
	MoodNeutral   Mood = "neutral"
	MoodCurious   Mood = "curious"
	MoodPlayful   Mood = "playful"
	MoodExcited   Mood = "excited"
	MoodBored     Mood = "bored"
	MoodIrritated Mood = "irritated"
)

// AllMoods is the closed enumeration; no transition may leave it.
var AllMoods = []Mood{MoodNeutral, MoodCurious, MoodPlayful, MoodExcited, MoodBored, MoodIrritated}

// ValidMood reports membership in the enumeration.
func ValidMood(m Mood) bool {
	for _, v := range AllMoods {
		if v == m {
			return true
		}
	}
	return false
}

// MoodInputs feed one evolution step.
type MoodInputs struct {
	InteractionVolume float64 // recent message volume, normalized to [0,1]
	Traits            map[string]float64
	Draw              float64 // random in [0,1)
}

// MoodPolicy computes the next mood. Implementations must only return
// members of AllMoods. The exact weighting is pluggable; WeightedMoodPolicy
// is the default.
type MoodPolicy interface {
	Next(current Mood, in MoodInputs) Mood
}

// WeightedMoodPolicy is the default transition policy: an activation level
// from interaction volume, the energy/curiosity traits and a bounded random
// component selects a mood band, with irritability able to flip high
// activation into irritation.
//
//	activation = 0.5*volume + 0.2*energy + 0.1*curiosity + 0.2*draw
type WeightedMoodPolicy struct{}

func (WeightedMoodPolicy) Next(current Mood, in MoodInputs) Mood {
	energy := in.Traits["energy"]
	curiosity := in.Traits["curiosity"]
	irritability := in.Traits["irritability"]

	activation := 0.5*in.InteractionVolume + 0.2*energy + 0.1*curiosity + 0.2*in.Draw
	if activation < 0 {
		activation = 0
	}
	if activation > 1 {
		activation = 1
	}

	if activation > 0.6 && in.Draw < irritability*0.5 {
		return MoodIrritated
	}
	switch {
	case activation < 0.15:
		return MoodBored
	case activation < 0.35:
		return MoodNeutral
	case activation < 0.55:
		return MoodCurious
	case activation < 0.8:
		return MoodPlayful
	default:
		return MoodExcited
	}
}

// MoodMachine owns the process-wide mood. All transitions are serialized;
// a transition to the same value is a no-op that keeps the old timestamp.
type MoodMachine struct {
	mu        sync.RWMutex
	current   Mood
	changedAt time.Time
	policy    MoodPolicy
}

func NewMoodMachine(policy MoodPolicy, now time.Time) *MoodMachine {
	if policy == nil {
		policy = WeightedMoodPolicy{}
	}
	return &MoodMachine{current: MoodNeutral, changedAt: now, policy: policy}
}

// Current returns the mood and when it last changed.
func (m *MoodMachine) Current() (Mood, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.changedAt
}

// Evolve runs one evolution step. Returns the mood after the step.
func (m *MoodMachine) Evolve(in MoodInputs, now time.Time) Mood {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.policy.Next(m.current, in)
	if !ValidMood(next) {
		// A policy bug must not corrupt the enumeration invariant.
		next = MoodNeutral
	}
	if next != m.current {
		m.current = next
		m.changedAt = now
	}
	return m.current
}

// Override forces a mood; still only values inside the enumeration land.
func (m *MoodMachine) Override(next Mood, now time.Time) error {
	if !ValidMood(next) {
		return fmt.Errorf("invalid mood %q", next)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if next != m.current {
		m.current = next
		m.changedAt = now
	}
	return nil
}
