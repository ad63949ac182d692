package handler

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// HandleSpawnChannel processes /spawnchannel <channel> — route the guild's
// spawns. Takes effect immediately, no restart.
func HandleSpawnChannel(s *discordgo.Session, i *discordgo.InteractionCreate, deps *Deps) {
	if i.Member == nil || i.Member.Permissions&discordgo.PermissionManageServer == 0 {
		reply(s, i, "You need the Manage Server permission for that.")
		return
	}
	ch := i.ApplicationCommandData().Options[0].ChannelValue(s)
	if ch == nil || ch.Type != discordgo.ChannelTypeGuildText {
		reply(s, i, "Pick a text channel.")
		return
	}

	deps.Spawner.SetRoute(i.GuildID, ch.ID)
	deps.Log.Info("spawn route updated",
		zap.String("guild", i.GuildID), zap.String("channel", ch.ID))
	reply(s, i, fmt.Sprintf("Carfigures will now appear in <#%s>.", ch.ID))
}
