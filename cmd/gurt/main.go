package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gurtbot/internal/ai"
	"gurtbot/internal/config"
	"gurtbot/internal/discord"
	"gurtbot/internal/engine"
	"gurtbot/internal/storage"
	v "gurtbot/internal/version"
	"gurtbot/pkg/log"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.New()
	if err != nil {
		os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, logCleanup := log.NewContextWithLogger(ctx, log.Options{
		Debug:    cfg.Debug,
		FilePath: cfg.LogFile,
	})
	defer logCleanup()
	logger := log.FromCtx(ctx)
	logger.Info().Str("version", v.Version).Msgf("starting %s", v.AppName)

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage init failed")
	}
	defer store.Close()

	provider := ai.NewPollinationsProvider(ai.ProviderOptions{
		GenURL:   cfg.GenAPIURL,
		EmbedURL: cfg.EmbedAPIURL,
		Model:    cfg.GenModel,
		APIKey:   cfg.GenAPIKey,
		Timeout:  cfg.GenTimeout,
	})
	var embedder ai.Embedder
	if provider.HasEmbedder() {
		embedder = provider
	}

	eng := engine.New(engine.Options{
		Tracker: engine.TrackerOptions{
			BufferCap:    cfg.ChannelBufferCap,
			ThreadCap:    cfg.ThreadBufferCap,
			GlobalCap:    cfg.GlobalCacheCap,
			MentionCap:   cfg.MentionCacheCap,
			RecomputeN:   cfg.TopicRecomputeEvery,
			RecomputeAge: cfg.TopicRecomputeMaxAge,
		},
		Memory: engine.MemoryOptions{
			FactsPerScope:   cfg.FactsPerScopeMax,
			ConfidenceFloor: cfg.FactConfidenceFloor,
			SummaryTTL:      cfg.SummaryTTL,
		},
		Triggers: engine.TriggerConfig{
			LullThreshold:              cfg.LullThreshold,
			BotSilenceThreshold:        cfg.BotSilenceThreshold,
			LullChance:                 cfg.LullChance,
			TopicRelevanceThreshold:    cfg.TopicRelevanceThreshold,
			TopicChance:                cfg.TopicChance,
			RelationshipScoreThreshold: cfg.RelationshipScoreThreshold,
			RelationshipChance:         cfg.RelationshipChance,
		},
		Dispatch: engine.DispatcherOptions{
			Model:       cfg.GenModel,
			CallTimeout: cfg.GenTimeout,
			MaxRetries:  cfg.DispatchMaxRetries,
		},
		TickInterval:       cfg.TickInterval,
		MoodEvolveInterval: cfg.MoodEvolveInterval,
		ActiveWindow:       cfg.ActiveWindow,
		EmbedTimeout:       cfg.EmbedTimeout,
		Interests:          cfg.Interests,
		GenKeySet:          cfg.GenAPIKey != "",
		EmbedKeySet:        cfg.EmbedAPIKey != "",
	}, provider, embedder, store, *logger)

	errCh := make(chan error, 2)
	go func() {
		errCh <- eng.Run(ctx)
	}()
	go func() {
		errCh <- discord.StartBot(ctx, cfg, eng)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
		cancel()
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("runtime error")
		}
		cancel()
	}

	if err := store.Flush(); err != nil {
		logger.Warn().Err(err).Msg("final flush failed")
	}
	logger.Info().Msg("exited cleanly")
}
