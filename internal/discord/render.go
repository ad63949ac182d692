package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/carfigo/server/internal/session"
	"github.com/carfigo/server/internal/spawn"
)

// SendSpawn posts the spawn prompt. Implements spawn.Messenger.
func (g *Gateway) SendSpawn(ctx context.Context, channelID string, sp *spawn.Spawned) (string, error) {
	title := "A wild carfigure appeared!"
	if sp.Event != nil {
		title = fmt.Sprintf("A wild carfigure appeared! — %s", sp.Event.Name)
	}
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: "Press the button or use `/catch <name>`!",
	}
	if sp.Figure.Image != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: sp.Figure.Image}
	}
	if sp.Event != nil && sp.Event.Banner != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: sp.Event.Banner}
	}

	msg, err := g.sess.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Catch me!",
					Style:    discordgo.PrimaryButton,
					CustomID: "catch:btn",
				},
			}},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", asChannelGone(err)
	}
	return msg.ID, nil
}

// SendPanel posts a negotiation panel. Implements session.Messenger.
func (g *Gateway) SendPanel(ctx context.Context, channelID string, v session.View) (string, error) {
	embed, components := renderPanel(v)
	msg, err := g.sess.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// EditPanel refreshes an existing negotiation panel in place.
func (g *Gateway) EditPanel(ctx context.Context, channelID, messageID string, v session.View) error {
	embed, components := renderPanel(v)
	_, err := g.sess.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    channelID,
		ID:         messageID,
		Embeds:     &[]*discordgo.MessageEmbed{embed},
		Components: &components,
	}, discordgo.WithContext(ctx))
	return err
}

func renderPanel(v session.View) (*discordgo.MessageEmbed, []discordgo.MessageComponent) {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("%s — %s", strings.ToUpper(v.Kind[:1])+v.Kind[1:], v.State),
	}
	for _, p := range v.Parties {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   partyHeading(p),
			Value:  proposalLines(p.Proposal),
			Inline: true,
		})
	}
	if v.Reason != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: v.Reason}
	}
	return embed, []discordgo.MessageComponent{panelButtons(v)}
}

func partyHeading(p session.PartyView) string {
	marks := ""
	if p.Locked {
		marks += " 🔒"
	}
	if p.Accepted {
		marks += " ✅"
	}
	return fmt.Sprintf("<@%s>%s", p.UserID, marks)
}

func proposalLines(proposal []session.Instance) string {
	if len(proposal) == 0 {
		return "*nothing staged*"
	}
	var b strings.Builder
	for _, inst := range proposal {
		fmt.Fprintf(&b, "`#%d` %s — %d hp / %d kg\n",
			inst.ID, inst.Name, inst.Horsepower, inst.Weight)
	}
	return b.String()
}

func panelButtons(v session.View) discordgo.MessageComponent {
	disabled := v.Controls == session.ControlsNone
	var buttons []discordgo.MessageComponent
	if v.Controls == session.ControlsConfirm {
		buttons = append(buttons, discordgo.Button{
			Label:    "Confirm",
			Style:    discordgo.SuccessButton,
			CustomID: "xchg:confirm",
			Disabled: disabled,
		})
	} else {
		buttons = append(buttons, discordgo.Button{
			Label:    "Lock proposal",
			Style:    discordgo.PrimaryButton,
			CustomID: "xchg:lock",
			Disabled: disabled,
		})
	}
	buttons = append(buttons, discordgo.Button{
		Label:    "Cancel",
		Style:    discordgo.DangerButton,
		CustomID: "xchg:cancel",
		Disabled: disabled,
	})
	return discordgo.ActionsRow{Components: buttons}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "catch",
			Description: "Catch the carfigure that just appeared",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "name",
				Description: "Your guess at its name",
				Required:    true,
			}},
		},
		{
			Name:        "garage",
			Description: "List your carfigure collection",
		},
		{
			Name:        "favorite",
			Description: "Mark or unmark a carfigure as a favorite",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionInteger,
					Name:         "id",
					Description:  "Carfigure instance id",
					Required:     true,
					Autocomplete: true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "flag",
					Description: "Favorite on or off (default on)",
				},
			},
		},
		{
			Name:        "history",
			Description: "Your recent trades and battles",
		},
		{
			Name:        "trade",
			Description: "Open a trade with another member",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "member",
				Description: "Who to trade with",
				Required:    true,
			}},
		},
		{
			Name:        "battle",
			Description: "Open a wager battle with another member",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "member",
				Description: "Who to battle",
				Required:    true,
			}},
		},
		{
			Name:        "add",
			Description: "Stage one of your carfigures into the open negotiation",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:         discordgo.ApplicationCommandOptionInteger,
				Name:         "id",
				Description:  "Carfigure instance id",
				Required:     true,
				Autocomplete: true,
			}},
		},
		{
			Name:        "remove",
			Description: "Unstage a carfigure from the open negotiation",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:         discordgo.ApplicationCommandOptionInteger,
				Name:         "id",
				Description:  "Carfigure instance id",
				Required:     true,
				Autocomplete: true,
			}},
		},
		{
			Name:        "spawnchannel",
			Description: "Route this server's spawns to a channel (admin)",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionChannel,
				Name:        "channel",
				Description: "Channel where carfigures appear",
				Required:    true,
			}},
		},
	}
}
