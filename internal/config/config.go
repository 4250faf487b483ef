package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything loaded at startup. The engine never re-reads the
// environment after New.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN"`
	StoragePath  string `env:"STORAGE_PATH" envDefault:"data/gurt.json"`
	LogFile      string `env:"LOG_FILE"`
	Debug        bool   `env:"DEBUG" envDefault:"false"`

	// Generation / embedding collaborators.
	GenAPIURL    string        `env:"GEN_API_URL" envDefault:"https://text.pollinations.ai/openai"`
	GenAPIKey    string        `env:"GEN_API_KEY"`
	GenModel     string        `env:"GEN_MODEL" envDefault:"openai"`
	GenTimeout   time.Duration `env:"GEN_TIMEOUT" envDefault:"25s"`
	EmbedAPIURL  string        `env:"EMBED_API_URL"`
	EmbedAPIKey  string        `env:"EMBED_API_KEY"`
	EmbedTimeout time.Duration `env:"EMBED_TIMEOUT" envDefault:"15s"`

	// Proactive trigger thresholds.
	TickInterval               time.Duration `env:"TICK_INTERVAL" envDefault:"15s"`
	LullThreshold              time.Duration `env:"LULL_THRESHOLD" envDefault:"180s"`
	BotSilenceThreshold        time.Duration `env:"BOT_SILENCE_THRESHOLD" envDefault:"600s"`
	LullChance                 float64       `env:"LULL_CHANCE" envDefault:"0.3"`
	TopicRelevanceThreshold    float64       `env:"TOPIC_RELEVANCE_THRESHOLD" envDefault:"0.6"`
	TopicChance                float64       `env:"TOPIC_CHANCE" envDefault:"0.4"`
	RelationshipScoreThreshold float64       `env:"RELATIONSHIP_SCORE_THRESHOLD" envDefault:"75"`
	RelationshipChance         float64       `env:"RELATIONSHIP_CHANCE" envDefault:"0.25"`

	// Memory and cache bounds.
	ChannelBufferCap     int           `env:"CHANNEL_BUFFER_CAP" envDefault:"50"`
	GlobalCacheCap       int           `env:"GLOBAL_CACHE_CAP" envDefault:"200"`
	MentionCacheCap      int           `env:"MENTION_CACHE_CAP" envDefault:"50"`
	ThreadBufferCap      int           `env:"THREAD_BUFFER_CAP" envDefault:"30"`
	FactsPerScopeMax     int           `env:"FACTS_PER_SCOPE_MAX" envDefault:"100"`
	FactConfidenceFloor  float64       `env:"FACT_CONFIDENCE_FLOOR" envDefault:"0.3"`
	SummaryTTL           time.Duration `env:"SUMMARY_TTL" envDefault:"10m"`
	TopicRecomputeEvery  int           `env:"TOPIC_RECOMPUTE_EVERY" envDefault:"10"`
	TopicRecomputeMaxAge time.Duration `env:"TOPIC_RECOMPUTE_MAX_AGE" envDefault:"120s"`
	ActiveWindow         time.Duration `env:"ACTIVE_WINDOW" envDefault:"30m"`

	// Dispatch.
	DispatchMaxRetries int `env:"DISPATCH_MAX_RETRIES" envDefault:"3"`

	// Mood.
	MoodEvolveInterval time.Duration `env:"MOOD_EVOLVE_INTERVAL" envDefault:"5m"`

	// Interest names; embeddings are computed at startup.
	Interests []string `env:"INTERESTS" envSeparator:"," envDefault:"games,music,technology,food,memes"`
}

// New loads .env (if present) and the process environment.
func New() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	for name, v := range map[string]float64{
		"LULL_CHANCE":         c.LullChance,
		"TOPIC_CHANCE":        c.TopicChance,
		"RELATIONSHIP_CHANCE": c.RelationshipChance,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if c.TopicRelevanceThreshold < -1 || c.TopicRelevanceThreshold > 1 {
		return fmt.Errorf("TOPIC_RELEVANCE_THRESHOLD must be in [-1,1], got %v", c.TopicRelevanceThreshold)
	}
	if c.RelationshipScoreThreshold < 0 || c.RelationshipScoreThreshold > 100 {
		return fmt.Errorf("RELATIONSHIP_SCORE_THRESHOLD must be in [0,100], got %v", c.RelationshipScoreThreshold)
	}
	for name, d := range map[string]time.Duration{
		"TICK_INTERVAL":         c.TickInterval,
		"LULL_THRESHOLD":        c.LullThreshold,
		"BOT_SILENCE_THRESHOLD": c.BotSilenceThreshold,
		"SUMMARY_TTL":           c.SummaryTTL,
		"GEN_TIMEOUT":           c.GenTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.ChannelBufferCap <= 0 || c.FactsPerScopeMax <= 0 {
		return fmt.Errorf("buffer and fact caps must be positive")
	}
	return nil
}
