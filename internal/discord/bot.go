package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"gurtbot/internal/config"
	"gurtbot/internal/engine"
	"gurtbot/pkg/log"
)

// Bot bridges the Discord gateway and the engagement engine. Inbound
// events become engine.MessageEvent; outbound replies go through Send.
type Bot struct {
	dg     *discordgo.Session
	cfg    *config.Config
	engine *engine.Engine
	log    zerolog.Logger
}

// StartBot opens the gateway session and blocks until ctx is done.
func StartBot(ctx context.Context, cfg *config.Config, eng *engine.Engine) error {
	b := &Bot{
		cfg:    cfg,
		engine: eng,
		log:    log.FromCtx(ctx).With().Str("component", "discord").Logger(),
	}
	if err := b.run(ctx, cfg.DiscordToken); err != nil {
		return fmt.Errorf("bot run error: %w", err)
	}
	return nil
}

func (b *Bot) run(ctx context.Context, token string) error {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	b.dg = dg

	b.configureIntents()
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onMessageCreate)
	dg.AddHandler(b.onMessageReactionAdd)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer dg.Close()

	b.engine.SetSender(b)

	<-ctx.Done()
	b.log.Info().Msg("shutdown signal received, closing gateway")
	return nil
}

func (b *Bot) configureIntents() {
	b.dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentMessageContent
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info().
		Str("username", r.User.Username).
		Int("guilds", len(r.Guilds)).
		Msg("gateway session ready")
}

// onMessageCreate forwards every observed message to the engine. The
// bot's own messages are ingested too (they advance the agent timestamp)
// but never scored.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot && m.Author.ID != s.State.User.ID {
		return
	}

	channelID, threadID := b.resolveChannel(s, m.ChannelID)

	ev := engine.MessageEvent{
		MessageID:  m.ID,
		ChannelID:  channelID,
		ThreadID:   threadID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
		IsAgent:    m.Author.ID == s.State.User.ID,
		Mentioned:  isMentioned(m.Mentions, s.State.User.ID),
		IsReply:    isReplyTo(m, s.State.User.ID),
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.engine.Ingest(ev)
}

// onMessageReactionAdd counts reactions on the bot's messages toward the
// reacting user's relationship score.
func (b *Bot) onMessageReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.UserID == s.State.User.ID {
		return
	}
	msg, err := s.State.Message(r.ChannelID, r.MessageID)
	if err != nil || msg == nil || msg.Author == nil {
		return
	}
	if msg.Author.ID != s.State.User.ID {
		return
	}
	b.engine.RecordReaction(r.UserID, time.Now())
}

// resolveChannel maps a thread channel back to its parent so activity is
// tracked per parent channel with a separate thread history.
func (b *Bot) resolveChannel(s *discordgo.Session, channelID string) (parent, thread string) {
	ch, err := s.State.Channel(channelID)
	if err != nil || ch == nil {
		return channelID, ""
	}
	switch ch.Type {
	case discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		if ch.ParentID != "" {
			return ch.ParentID, ch.ID
		}
	}
	return channelID, ""
}

// Send delivers a reply, chunked to Discord's message length limit. It
// implements engine.Sender.
func (b *Bot) Send(channelID, text string) error {
	for _, chunk := range splitMessage(text, 2000) {
		if _, err := b.dg.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("send failed for channel %s: %w", channelID, err)
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil
}

func isMentioned(mentions []*discordgo.User, botID string) bool {
	for _, u := range mentions {
		if u.ID == botID {
			return true
		}
	}
	return false
}

func isReplyTo(m *discordgo.MessageCreate, botID string) bool {
	if m.ReferencedMessage == nil || m.ReferencedMessage.Author == nil {
		return false
	}
	return m.ReferencedMessage.Author.ID == botID
}

func splitMessage(msg string, limit int) []string {
	var result []string
	for len(msg) > limit {
		cut := strings.LastIndex(msg[:limit], "\n")
		if cut == -1 {
			cut = limit
		}
		result = append(result, strings.TrimSpace(msg[:cut]))
		msg = strings.TrimSpace(msg[cut:])
	}
	if msg != "" {
		result = append(result, msg)
	}
	return result
}
