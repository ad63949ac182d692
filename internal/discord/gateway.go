// Package discord adapts the bot to the Discord gateway: it feeds chat
// messages into the spawn engine, routes interactions to the handler
// registry, and renders spawns and negotiation panels.
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/carfigo/server/internal/config"
	"github.com/carfigo/server/internal/handler"
	"github.com/carfigo/server/internal/spawn"
)

// Gateway owns the discordgo session and the event fan-out.
type Gateway struct {
	cfg     *config.Config
	log     *zap.Logger
	sess    *discordgo.Session
	spawner *spawn.Manager
	reg     *handler.Registry
}

// NewGateway builds the session; the spawn manager and interaction registry
// are bound afterwards since they need the gateway as their messenger.
func NewGateway(cfg *config.Config, log *zap.Logger) (*Gateway, error) {
	sess, err := discordgo.New("Bot " + cfg.Server.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	g := &Gateway{cfg: cfg, log: log, sess: sess}
	sess.AddHandler(g.onMessageCreate)
	sess.AddHandler(g.onInteractionCreate)
	return g, nil
}

// Bind wires the event consumers. Must happen before Open.
func (g *Gateway) Bind(spawner *spawn.Manager, reg *handler.Registry) {
	g.spawner = spawner
	g.reg = reg
}

// Open connects to the gateway and registers the slash commands.
func (g *Gateway) Open(ctx context.Context) error {
	if err := g.sess.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	if _, err := g.sess.ApplicationCommandBulkOverwrite(
		g.sess.State.User.ID, "", commandDefinitions()); err != nil {
		g.sess.Close()
		return fmt.Errorf("register commands: %w", err)
	}
	g.log.Info("gateway connected",
		zap.String("user", g.sess.State.User.Username))
	return nil
}

func (g *Gateway) Close() error {
	return g.sess.Close()
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if g.spawner == nil || m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	members := 0
	if guild, err := s.State.Guild(m.GuildID); err == nil {
		members = guild.MemberCount
	}
	created, _ := discordgo.SnowflakeTimestamp(m.Author.ID)

	g.spawner.HandleMessage(context.Background(), spawn.Message{
		GuildID:       m.GuildID,
		ChannelID:     m.ChannelID,
		AuthorID:      m.Author.ID,
		Content:       m.Content,
		AuthorCreated: created,
		GuildMembers:  members,
		SentAt:        m.Timestamp,
	})
}

func (g *Gateway) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if g.reg != nil {
		g.reg.Dispatch(s, i)
	}
}

// asChannelGone maps the REST errors that mean "this channel cannot be
// posted to anymore" onto spawn.ErrChannelGone so the manager drops the route.
func asChannelGone(err error) error {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Message != nil {
		switch rerr.Message.Code {
		case discordgo.ErrCodeUnknownChannel,
			discordgo.ErrCodeMissingAccess,
			discordgo.ErrCodeMissingPermissions:
			return fmt.Errorf("%w: %v", spawn.ErrChannelGone, err)
		}
	}
	return err
}
